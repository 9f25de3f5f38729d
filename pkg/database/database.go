package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func Migrate(db *pgxpool.Pool) error {
	ctx := context.Background()

	migrations := []string{
		// Channels (WhatsApp connections)
		`CREATE TABLE IF NOT EXISTS channels (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) UNIQUE NOT NULL,
			number VARCHAR(50) DEFAULT '',
			session TEXT DEFAULT '',
			qr_code TEXT DEFAULT '',
			pairing_code VARCHAR(20) DEFAULT '',
			request_code BOOLEAN DEFAULT FALSE,
			status VARCHAR(50) DEFAULT 'DISCONNECTED',
			retries INT DEFAULT 0,
			greeting_message TEXT DEFAULT '',
			farewell_message TEXT DEFAULT '',
			out_of_service_message TEXT DEFAULT '',
			feedback_message TEXT DEFAULT '',
			opening_hours VARCHAR(8) DEFAULT '00:00:00',
			closing_hours VARCHAR(8) DEFAULT '23:59:59',
			use_out_of_service_message BOOLEAN DEFAULT FALSE,
			is_default BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_channels_default ON channels(is_default) WHERE is_default`,

		// Dialogue agents bound to queues
		`CREATE TABLE IF NOT EXISTS agents (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) UNIQUE NOT NULL,
			project_name VARCHAR(255) NOT NULL,
			language VARCHAR(20) NOT NULL DEFAULT 'pt-BR',
			json_content TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Queues
		`CREATE TABLE IF NOT EXISTS queues (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) UNIQUE NOT NULL,
			menu_name VARCHAR(255) DEFAULT '',
			color VARCHAR(20) NOT NULL DEFAULT '#7c7c7c',
			greeting_message TEXT DEFAULT '',
			agent_id UUID REFERENCES agents(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Channel <-> queue, ordered for the selection menu
		`CREATE TABLE IF NOT EXISTS channel_queues (
			channel_id UUID NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			queue_id UUID NOT NULL REFERENCES queues(id) ON DELETE CASCADE,
			position INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (channel_id, queue_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_channel_queues_position ON channel_queues(channel_id, position)`,

		// Contacts
		`CREATE TABLE IF NOT EXISTS contacts (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			number VARCHAR(50) UNIQUE NOT NULL,
			email VARCHAR(255) DEFAULT '',
			profile_pic_url TEXT DEFAULT '',
			is_group BOOLEAN DEFAULT FALSE,
			use_queues BOOLEAN DEFAULT TRUE,
			use_agent BOOLEAN DEFAULT TRUE,
			accept_audio_messages BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Tickets
		`CREATE TABLE IF NOT EXISTS tickets (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			last_message TEXT DEFAULT '',
			unread_messages INT DEFAULT 0,
			is_group BOOLEAN DEFAULT FALSE,
			contact_id UUID NOT NULL REFERENCES contacts(id) ON DELETE CASCADE,
			channel_id UUID NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			queue_id UUID REFERENCES queues(id) ON DELETE SET NULL,
			user_id UUID,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		// At most one active ticket per contact
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_active_contact ON tickets(contact_id) WHERE status IN ('pending', 'open')`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status)`,

		// Messages, keyed by the WhatsApp id plus direction
		`CREATE TABLE IF NOT EXISTS messages (
			id VARCHAR(255) NOT NULL,
			from_me BOOLEAN NOT NULL DEFAULT FALSE,
			ticket_id UUID NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			contact_id UUID REFERENCES contacts(id) ON DELETE SET NULL,
			body TEXT NOT NULL DEFAULT '',
			media_url TEXT,
			media_type VARCHAR(50) DEFAULT '',
			ack INT NOT NULL DEFAULT 0,
			read BOOLEAN DEFAULT FALSE,
			quoted_msg_id VARCHAR(255),
			timestamp TIMESTAMPTZ DEFAULT NOW(),
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (id, from_me)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_ticket ON messages(ticket_id, timestamp)`,

		// Settings
		`CREATE TABLE IF NOT EXISTS settings (
			key VARCHAR(100) PRIMARY KEY,
			value TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`INSERT INTO settings (key, value) VALUES ('call', 'enabled') ON CONFLICT (key) DO NOTHING`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}
