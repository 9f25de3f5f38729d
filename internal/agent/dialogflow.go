package agent

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	dialogflow "cloud.google.com/go/dialogflow/apiv2"
	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultLanguage = "pt-BR"
	audioSampleRate = 16000
)

type sessionClient struct {
	client *dialogflow.SessionsClient
	creds  string
}

// Dialogflow detects intents with Dialogflow ES. One sessions client is kept
// per agent and rebuilt when the agent's credentials change.
type Dialogflow struct {
	mu      sync.Mutex
	clients map[uuid.UUID]*sessionClient
	log     zerolog.Logger
}

func NewDialogflow(logger zerolog.Logger) *Dialogflow {
	return &Dialogflow{
		clients: make(map[uuid.UUID]*sessionClient),
		log:     logger.With().Str("component", "agent").Logger(),
	}
}

func (d *Dialogflow) session(ctx context.Context, a *domain.Agent) (*dialogflow.SessionsClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sc, ok := d.clients[a.ID]; ok {
		if sc.creds == a.JSONContent {
			return sc.client, nil
		}
		sc.client.Close()
		delete(d.clients, a.ID)
	}

	client, err := dialogflow.NewSessionsClient(ctx, option.WithCredentialsJSON([]byte(a.JSONContent)))
	if err != nil {
		return nil, fmt.Errorf("failed to create dialogflow session for %s: %w", a.Name, err)
	}
	d.clients[a.ID] = &sessionClient{client: client, creds: a.JSONContent}
	d.log.Info().Str("agent", a.Name).Str("project", a.ProjectName).Msg("dialogflow session created")
	return client, nil
}

func (d *Dialogflow) Detect(ctx context.Context, a *domain.Agent, q Query) (*Reply, error) {
	client, err := d.session(ctx, a)
	if err != nil {
		return nil, err
	}
	resp, err := client.DetectIntent(ctx, buildRequest(a, q))
	if err != nil {
		return nil, fmt.Errorf("detect intent: %w", err)
	}
	return ParseResponse(resp), nil
}

// Close releases every cached sessions client
func (d *Dialogflow) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for id, sc := range d.clients {
		if err := sc.client.Close(); err != nil && first == nil {
			first = err
		}
		delete(d.clients, id)
	}
	return first
}

func buildRequest(a *domain.Agent, q Query) *dialogflowpb.DetectIntentRequest {
	lang := a.Language
	if lang == "" {
		lang = defaultLanguage
	}
	req := &dialogflowpb.DetectIntentRequest{
		Session: fmt.Sprintf("projects/%s/agent/sessions/%s", a.ProjectName, q.SessionID),
	}
	if len(q.Audio) > 0 {
		req.QueryInput = &dialogflowpb.QueryInput{
			Input: &dialogflowpb.QueryInput_AudioConfig{
				AudioConfig: &dialogflowpb.InputAudioConfig{
					AudioEncoding:   dialogflowpb.AudioEncoding_AUDIO_ENCODING_OGG_OPUS,
					SampleRateHertz: audioSampleRate,
					LanguageCode:    lang,
				},
			},
		}
		req.InputAudio = q.Audio
		return req
	}
	req.QueryInput = &dialogflowpb.QueryInput{
		Input: &dialogflowpb.QueryInput_Text{
			Text: &dialogflowpb.TextInput{Text: q.Text, LanguageCode: lang},
		},
	}
	return req
}

// ParseResponse extracts the text segments and directives of a detect intent
// response. It returns nil when the response carries no text.
func ParseResponse(resp *dialogflowpb.DetectIntentResponse) *Reply {
	result := resp.GetQueryResult()
	var segments []string
	for _, m := range result.GetFulfillmentMessages() {
		if texts := m.GetText().GetText(); len(texts) > 0 {
			segments = append(segments, texts[0])
		}
	}
	if len(segments) == 0 {
		return nil
	}

	reply := &Reply{Segments: segments}
	if v, ok := result.GetDiagnosticInfo().GetFields()["end_conversation"]; ok {
		reply.EndConversation = v.GetBoolValue()
	}

	params := result.GetParameters().GetFields()
	str := func(key string) string { return stringParam(params, key) }

	reply.Directives = Directives{
		ImageURL: str("image"),
		Reaction: str("react"),
		Buttons:  numbered(params, "button", maxButtons),
		List:     numbered(params, "option", maxOptions),
		Audio:    resp.GetOutputAudio(),
	}
	if step := str("booking"); step != "" {
		reply.Directives.Booking = &BookingIntent{
			Step:     step,
			Unit:     str("unity"),
			Service:  str("service"),
			Name:     str("name"),
			Email:    str("email"),
			Start:    str("start"),
			Previous: str("previous"),
			UnitName: str("unityName"),
		}
	}
	return reply
}

// stringParam reads a parameter as text; missing or empty values give ""
func stringParam(params map[string]*structpb.Value, key string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(k.NumberValue, 'f', -1, 64)
	}
	return ""
}

// numbered collects prefix1..prefixN, stopping at the first gap
func numbered(params map[string]*structpb.Value, prefix string, max int) []string {
	var out []string
	for i := 1; i <= max; i++ {
		v := stringParam(params, prefix+strconv.Itoa(i))
		if v == "" {
			break
		}
		out = append(out, v)
	}
	return out
}
