package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/agent"
	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/dollyzn/whaticket-cero/internal/whatsapp"
	"github.com/google/uuid"
)

// Event is one notification captured by FakeNotifier. Broadcasts have an
// empty Room.
type Event struct {
	Room  string
	Event string
	Data  interface{}
}

type FakeNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *FakeNotifier) Emit(room, event string, data interface{}) {
	n.mu.Lock()
	n.events = append(n.events, Event{Room: room, Event: event, Data: data})
	n.mu.Unlock()
}

func (n *FakeNotifier) Broadcast(event string, data interface{}) {
	n.Emit("", event, data)
}

func (n *FakeNotifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.events...)
}

// Count returns how many events named event were sent to room
func (n *FakeNotifier) Count(room, event string) int {
	c := 0
	for _, e := range n.Events() {
		if e.Room == room && e.Event == event {
			c++
		}
	}
	return c
}

// FakeCache is a JSON cache held in a map
type FakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	Hits int
	Sets int
}

func NewFakeCache() *FakeCache {
	return &FakeCache{data: map[string][]byte{}}
}

func (c *FakeCache) GetJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	raw, ok := c.data[key]
	if ok {
		c.Hits++
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (c *FakeCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.data[key] = raw
	c.Sets++
	c.mu.Unlock()
	return nil
}

func (c *FakeCache) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.data, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *FakeCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

// Sent is one outbound call made on FakeClient
type Sent struct {
	Kind      string // text, buttons, list, media, reaction, presence
	To        string
	Body      string
	Buttons   *whatsapp.Buttons
	List      *whatsapp.List
	Media     *whatsapp.Media
	Options   whatsapp.MediaOptions
	MessageID string
	Presence  whatsapp.Presence
}

var ErrInteractiveUnsupported = errors.New("interactive messages are not supported")

// FakeClient records every send. Interactive sends fail when FailButtons or
// FailLists is set.
type FakeClient struct {
	ID          uuid.UUID
	FailButtons bool
	FailLists   bool
	FailText    error
	DownloadErr error

	mu       sync.Mutex
	seq      int
	calls    []Sent
	rejected []string
}

func NewFakeClient() *FakeClient {
	return &FakeClient{ID: uuid.New()}
}

func (c *FakeClient) ChannelID() uuid.UUID { return c.ID }

func (c *FakeClient) record(s Sent) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *FakeClient) reply(to, msgType, body string) *whatsapp.IncomingMessage {
	c.mu.Lock()
	c.seq++
	id := fmt.Sprintf("SENT%03d", c.seq)
	c.mu.Unlock()
	chat := to
	if !strings.Contains(chat, "@") {
		chat += "@s.whatsapp.net"
	}
	return &whatsapp.IncomingMessage{
		ID:        id,
		Type:      msgType,
		Body:      body,
		FromMe:    true,
		Chat:      chat,
		Timestamp: time.Now(),
	}
}

func (c *FakeClient) SendText(ctx context.Context, to, body string) (*whatsapp.IncomingMessage, error) {
	if c.FailText != nil {
		return nil, c.FailText
	}
	c.record(Sent{Kind: "text", To: to, Body: body})
	return c.reply(to, whatsapp.MessageTypeChat, body), nil
}

func (c *FakeClient) SendButtons(ctx context.Context, to string, b whatsapp.Buttons) (*whatsapp.IncomingMessage, error) {
	if c.FailButtons {
		return nil, ErrInteractiveUnsupported
	}
	c.record(Sent{Kind: "buttons", To: to, Body: b.Body, Buttons: &b})
	return c.reply(to, whatsapp.MessageTypeChat, b.Body), nil
}

func (c *FakeClient) SendList(ctx context.Context, to string, l whatsapp.List) (*whatsapp.IncomingMessage, error) {
	if c.FailLists {
		return nil, ErrInteractiveUnsupported
	}
	c.record(Sent{Kind: "list", To: to, Body: l.Body, List: &l})
	return c.reply(to, whatsapp.MessageTypeList, l.Body), nil
}

func (c *FakeClient) SendMedia(ctx context.Context, to string, media *whatsapp.Media, opts whatsapp.MediaOptions) (*whatsapp.IncomingMessage, error) {
	c.record(Sent{Kind: "media", To: to, Body: opts.Caption, Media: media, Options: opts})
	kind := strings.SplitN(media.Mimetype, "/", 2)[0]
	if opts.VoiceNote {
		kind = whatsapp.MessageTypePTT
	}
	out := c.reply(to, kind, opts.Caption)
	out.HasMedia = true
	out.Media = media
	return out, nil
}

func (c *FakeClient) SendReaction(ctx context.Context, to, messageID string, fromMe bool, emoji string) error {
	c.record(Sent{Kind: "reaction", To: to, Body: emoji, MessageID: messageID})
	return nil
}

func (c *FakeClient) SendPresence(ctx context.Context, to string, p whatsapp.Presence) error {
	c.record(Sent{Kind: "presence", To: to, Presence: p})
	return nil
}

func (c *FakeClient) RejectCall(ctx context.Context, from, callID string) error {
	c.mu.Lock()
	c.rejected = append(c.rejected, callID)
	c.mu.Unlock()
	return nil
}

func (c *FakeClient) Download(ctx context.Context, msg *whatsapp.IncomingMessage) (*whatsapp.Media, error) {
	if c.DownloadErr != nil {
		return nil, c.DownloadErr
	}
	if msg.Media == nil {
		return nil, fmt.Errorf("message %s has no media", msg.ID)
	}
	return msg.Media, nil
}

// Calls returns every recorded call in order
func (c *FakeClient) Calls() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.calls...)
}

// Sends returns the recorded calls of the given kinds, or every
// non-presence call when no kind is given
func (c *FakeClient) Sends(kinds ...string) []Sent {
	var out []Sent
	for _, s := range c.Calls() {
		if len(kinds) == 0 {
			if s.Kind != "presence" {
				out = append(out, s)
			}
			continue
		}
		for _, k := range kinds {
			if s.Kind == k {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func (c *FakeClient) Rejected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.rejected...)
}

// FakeClock advances virtual time on Sleep and queues AfterFunc callbacks
// until Fire is called
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	pending []func()
	delays  []time.Duration
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) {
	c.mu.Lock()
	c.pending = append(c.pending, f)
	c.delays = append(c.delays, d)
	c.mu.Unlock()
}

// Fire runs every queued callback and returns how many ran
func (c *FakeClock) Fire() int {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, f := range pending {
		f()
	}
	return len(pending)
}

// Slept is the sum of every Sleep call
func (c *FakeClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.sleeps {
		total += d
	}
	return total
}

// Delays returns the delays passed to AfterFunc
func (c *FakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// Debouncer runs every scheduled action at once and remembers the calls
type Debouncer struct {
	mu     sync.Mutex
	keys   []string
	delays []time.Duration
	Hold   bool
	held   []func()
}

func (d *Debouncer) Schedule(key string, delay time.Duration, action func()) {
	d.mu.Lock()
	d.keys = append(d.keys, key)
	d.delays = append(d.delays, delay)
	if d.Hold {
		d.held = append(d.held, action)
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	action()
}

// Release runs the actions kept while Hold was set
func (d *Debouncer) Release() {
	d.mu.Lock()
	held := d.held
	d.held = nil
	d.mu.Unlock()
	for _, f := range held {
		f()
	}
}

func (d *Debouncer) Keys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.keys...)
}

func (d *Debouncer) Delays() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.delays...)
}

// Reporter collects captured errors
type Reporter struct {
	mu        sync.Mutex
	errs      []error
	recovered []interface{}
}

func (r *Reporter) Capture(err error, tags map[string]string) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *Reporter) Recover(recovered interface{}, tags map[string]string) {
	r.mu.Lock()
	r.recovered = append(r.recovered, recovered)
	r.mu.Unlock()
}

func (r *Reporter) Flush(timeout time.Duration) {}

func (r *Reporter) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *Reporter) Recovered() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.recovered...)
}

// Upload is one object written to FakeStorage
type Upload struct {
	Folder      string
	Filename    string
	ContentType string
	Size        int
}

type FakeStorage struct {
	Err error

	mu      sync.Mutex
	uploads []Upload
}

func (s *FakeStorage) UploadFile(ctx context.Context, folder, filename string, data []byte, contentType string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	s.mu.Lock()
	s.uploads = append(s.uploads, Upload{folder, filename, contentType, len(data)})
	s.mu.Unlock()
	return "http://storage.local/whaticket/" + folder + "/" + filename, nil
}

func (s *FakeStorage) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// FakeAgent answers every query with Reply, or fails with Err
type FakeAgent struct {
	Reply *agent.Reply
	Err   error

	mu      sync.Mutex
	queries []agent.Query
}

func (a *FakeAgent) Detect(ctx context.Context, ag *domain.Agent, q agent.Query) (*agent.Reply, error) {
	a.mu.Lock()
	a.queries = append(a.queries, q)
	a.mu.Unlock()
	if a.Err != nil {
		return nil, a.Err
	}
	return a.Reply, nil
}

func (a *FakeAgent) Queries() []agent.Query {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]agent.Query(nil), a.queries...)
}
