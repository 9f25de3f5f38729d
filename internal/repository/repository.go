package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dollyzn/whaticket-cero/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repositories struct {
	db      *pgxpool.Pool
	Channel *ChannelRepository
	Queue   *QueueRepository
	Contact *ContactRepository
	Ticket  *TicketRepository
	Message *MessageRepository
	Setting *SettingRepository
}

func NewRepositories(db *pgxpool.Pool) *Repositories {
	return &Repositories{
		db:      db,
		Channel: &ChannelRepository{db: db},
		Queue:   &QueueRepository{db: db},
		Contact: &ContactRepository{db: db},
		Ticket:  &TicketRepository{db: db},
		Message: &MessageRepository{db: db},
		Setting: &SettingRepository{db: db},
	}
}

// DB returns the underlying database pool.
func (r *Repositories) DB() *pgxpool.Pool {
	return r.db
}

// ChannelRepository handles channel data access
type ChannelRepository struct {
	db *pgxpool.Pool
}

const channelColumns = `id, name, number, session, qr_code, pairing_code, request_code, status, retries,
	greeting_message, farewell_message, out_of_service_message, feedback_message,
	opening_hours, closing_hours, use_out_of_service_message, is_default, created_at, updated_at`

func scanChannel(row pgx.Row) (*domain.Channel, error) {
	ch := &domain.Channel{}
	err := row.Scan(
		&ch.ID, &ch.Name, &ch.Number, &ch.Session, &ch.QRCode, &ch.PairingCode, &ch.RequestCode, &ch.Status, &ch.Retries,
		&ch.GreetingMessage, &ch.FarewellMessage, &ch.OutOfServiceMessage, &ch.FeedbackMessage,
		&ch.OpeningHours, &ch.ClosingHours, &ch.UseOutOfServiceMessage, &ch.IsDefault, &ch.CreatedAt, &ch.UpdatedAt,
	)
	return ch, err
}

func (r *ChannelRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Channel, error) {
	ch, err := scanChannel(r.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ch.Queues, err = r.GetQueues(ctx, ch.ID); err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *ChannelRepository) GetDefault(ctx context.Context) (*domain.Channel, error) {
	ch, err := scanChannel(r.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE is_default = TRUE LIMIT 1`))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ch.Queues, err = r.GetQueues(ctx, ch.ID); err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *ChannelRepository) GetAll(ctx context.Context) ([]*domain.Channel, error) {
	rows, err := r.db.Query(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []*domain.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return channels, nil
}

// GetQueues returns the queues of a channel in menu order, with their agents
func (r *ChannelRepository) GetQueues(ctx context.Context, channelID uuid.UUID) ([]*domain.Queue, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+queueColumns+`
		FROM channel_queues cq
		JOIN queues q ON q.id = cq.queue_id
		LEFT JOIN agents a ON a.id = q.agent_id
		WHERE cq.channel_id = $1
		ORDER BY cq.position, q.created_at
	`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queues []*domain.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

// UpdateSession writes the non-nil session fields and returns the fresh row
func (r *ChannelRepository) UpdateSession(ctx context.Context, id uuid.UUID, upd domain.ChannelSessionUpdate) (*domain.Channel, error) {
	_, err := r.db.Exec(ctx, `
		UPDATE channels SET
			status = COALESCE($2, status),
			qr_code = COALESCE($3, qr_code),
			pairing_code = COALESCE($4, pairing_code),
			retries = COALESCE($5, retries),
			session = COALESCE($6, session),
			number = COALESCE($7, number),
			updated_at = NOW()
		WHERE id = $1
	`, id, upd.Status, upd.QRCode, upd.PairingCode, upd.Retries, upd.Session, upd.Number)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// QueueRepository handles queue data access
type QueueRepository struct {
	db *pgxpool.Pool
}

const queueColumns = `q.id, q.name, q.menu_name, q.color, q.greeting_message, q.agent_id, q.created_at, q.updated_at,
	a.id, a.name, a.project_name, a.language, a.json_content, a.created_at, a.updated_at`

func scanQueue(row pgx.Row) (*domain.Queue, error) {
	q := &domain.Queue{}
	var (
		agentID                         *uuid.UUID
		agentName, project, lang, creds *string
		agentCreated, agentUpdated      *time.Time
	)
	err := row.Scan(
		&q.ID, &q.Name, &q.MenuName, &q.Color, &q.GreetingMessage, &q.AgentID, &q.CreatedAt, &q.UpdatedAt,
		&agentID, &agentName, &project, &lang, &creds, &agentCreated, &agentUpdated,
	)
	if err != nil {
		return nil, err
	}
	if agentID != nil {
		q.Agent = &domain.Agent{
			ID:          *agentID,
			Name:        deref(agentName),
			ProjectName: deref(project),
			Language:    deref(lang),
			JSONContent: deref(creds),
		}
		if agentCreated != nil {
			q.Agent.CreatedAt = *agentCreated
		}
		if agentUpdated != nil {
			q.Agent.UpdatedAt = *agentUpdated
		}
	}
	return q, nil
}

func (r *QueueRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Queue, error) {
	q, err := scanQueue(r.db.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queues q LEFT JOIN agents a ON a.id = q.agent_id
		WHERE q.id = $1
	`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return q, err
}

// ContactRepository handles contact data access
type ContactRepository struct {
	db *pgxpool.Pool
}

const contactColumns = `id, name, number, email, profile_pic_url, is_group, use_queues, use_agent, accept_audio_messages, created_at, updated_at`

func scanContact(row pgx.Row) (*domain.Contact, error) {
	c := &domain.Contact{}
	err := row.Scan(
		&c.ID, &c.Name, &c.Number, &c.Email, &c.ProfilePicURL, &c.IsGroup,
		&c.UseQueues, &c.UseAgent, &c.AcceptAudioMessages, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

func (r *ContactRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Contact, error) {
	c, err := scanContact(r.db.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *ContactRepository) GetByNumber(ctx context.Context, number string) (*domain.Contact, error) {
	c, err := scanContact(r.db.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE number = $1`, number))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// Upsert creates the contact or refreshes name and picture of the existing one
func (r *ContactRepository) Upsert(ctx context.Context, c *domain.Contact) (*domain.Contact, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return scanContact(r.db.QueryRow(ctx, `
		INSERT INTO contacts (id, name, number, email, profile_pic_url, is_group)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (number) DO UPDATE SET
			name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE contacts.name END,
			profile_pic_url = CASE WHEN EXCLUDED.profile_pic_url <> '' THEN EXCLUDED.profile_pic_url ELSE contacts.profile_pic_url END,
			updated_at = NOW()
		RETURNING `+contactColumns,
		c.ID, c.Name, c.Number, c.Email, c.ProfilePicURL, c.IsGroup,
	))
}

// CreateIfAbsent inserts a contact but never touches an existing one
func (r *ContactRepository) CreateIfAbsent(ctx context.Context, name, number string) (*domain.Contact, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO contacts (id, name, number) VALUES ($1, $2, $3)
		ON CONFLICT (number) DO NOTHING
	`, uuid.New(), name, number)
	if err != nil {
		return nil, err
	}
	return r.GetByNumber(ctx, number)
}

func (r *ContactRepository) SetUseAgent(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Contact, error) {
	c, err := scanContact(r.db.QueryRow(ctx, `
		UPDATE contacts SET use_agent = $2, updated_at = NOW() WHERE id = $1 RETURNING `+contactColumns,
		id, enabled))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *ContactRepository) SetAcceptAudio(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Contact, error) {
	c, err := scanContact(r.db.QueryRow(ctx, `
		UPDATE contacts SET accept_audio_messages = $2, updated_at = NOW() WHERE id = $1 RETURNING `+contactColumns,
		id, enabled))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// TicketRepository handles ticket data access
type TicketRepository struct {
	db *pgxpool.Pool
}

const ticketColumns = `id, status, last_message, unread_messages, is_group, contact_id, channel_id, queue_id, user_id, created_at, updated_at`

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	t := &domain.Ticket{}
	err := row.Scan(
		&t.ID, &t.Status, &t.LastMessage, &t.UnreadMessages, &t.IsGroup,
		&t.ContactID, &t.ChannelID, &t.QueueID, &t.UserID, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func (r *TicketRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	t, err := scanTicket(r.db.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (r *TicketRepository) FindActiveByContact(ctx context.Context, contactID uuid.UUID) (*domain.Ticket, error) {
	t, err := scanTicket(r.db.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE contact_id = $1 AND status IN ('pending', 'open')
		LIMIT 1
	`, contactID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// CreateActive inserts a pending ticket unless the contact already has an
// active one, in which case the existing ticket is returned.
func (r *TicketRepository) CreateActive(ctx context.Context, t *domain.Ticket) (*domain.Ticket, bool, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	created, err := scanTicket(r.db.QueryRow(ctx, `
		INSERT INTO tickets (id, status, unread_messages, is_group, contact_id, channel_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (contact_id) WHERE status IN ('pending', 'open') DO NOTHING
		RETURNING `+ticketColumns,
		t.ID, domain.TicketStatusPending, t.UnreadMessages, t.IsGroup, t.ContactID, t.ChannelID,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	existing, err := r.FindActiveByContact(ctx, t.ContactID)
	return existing, false, err
}

// Update writes the non-nil fields and returns the fresh row
func (r *TicketRepository) Update(ctx context.Context, id uuid.UUID, upd domain.TicketUpdate) (*domain.Ticket, error) {
	t, err := scanTicket(r.db.QueryRow(ctx, `
		UPDATE tickets SET
			status = COALESCE($2, status),
			queue_id = COALESCE($3, queue_id),
			user_id = COALESCE($4, user_id),
			last_message = COALESCE($5, last_message),
			unread_messages = COALESCE($6, unread_messages) + $7,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+ticketColumns,
		id, upd.Status, upd.QueueID, upd.UserID, upd.LastMessage, upd.UnreadMessages, upd.AddUnread,
	))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// MessageRepository handles message data access
type MessageRepository struct {
	db *pgxpool.Pool
}

const messageColumns = `id, from_me, ticket_id, contact_id, body, media_url, media_type, ack, read, quoted_msg_id, timestamp, created_at, updated_at`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	m := &domain.Message{}
	err := row.Scan(
		&m.ID, &m.FromMe, &m.TicketID, &m.ContactID, &m.Body, &m.MediaURL, &m.MediaType,
		&m.Ack, &m.Read, &m.QuotedMsgID, &m.Timestamp, &m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

// Create appends a message; created is false when (id, fromMe) already exists
func (r *MessageRepository) Create(ctx context.Context, m *domain.Message) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO messages (id, from_me, ticket_id, contact_id, body, media_url, media_type, ack, read, quoted_msg_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id, from_me) DO NOTHING
	`, m.ID, m.FromMe, m.TicketID, m.ContactID, m.Body, m.MediaURL, m.MediaType, m.Ack, m.Read, m.QuotedMsgID, m.Timestamp)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *MessageRepository) Get(ctx context.Context, id string, fromMe bool) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1 AND from_me = $2`, id, fromMe))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// FindByExternalID looks a message up by id alone, preferring the inbound copy
func (r *MessageRepository) FindByExternalID(ctx context.Context, id string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = $1 ORDER BY from_me LIMIT 1
	`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// UpdateAck raises the ack of an outbound message; acks never move backwards
func (r *MessageRepository) UpdateAck(ctx context.Context, id string, ack int) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRow(ctx, `
		UPDATE messages SET ack = $2, updated_at = NOW()
		WHERE id = $1 AND from_me = TRUE AND ack < $2
		RETURNING `+messageColumns,
		id, ack))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// SettingRepository handles key/value settings
type SettingRepository struct {
	db *pgxpool.Pool
}

func (r *SettingRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *SettingRepository) Set(ctx context.Context, key, value string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
