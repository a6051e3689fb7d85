package store

import (
	"context"
	"fmt"
)

// Migrate applies the schema. Statements are idempotent so startup can run
// them unconditionally; there is no down migration.
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate statement %d: %w", i, err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		total_points  BIGINT NOT NULL DEFAULT 0 CHECK (total_points >= 0),
		login_count   BIGINT NOT NULL DEFAULT 0,
		is_admin      BOOLEAN NOT NULL DEFAULT FALSE,
		last_checkin  DATE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS user_credentials (
		id            BIGSERIAL PRIMARY KEY,
		user_id       BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		provider_type TEXT NOT NULL,
		encrypted_key TEXT NOT NULL,
		base_url      TEXT NOT NULL DEFAULT '',
		model_id      TEXT NOT NULL DEFAULT '',
		model_ids     TEXT[] NOT NULL DEFAULT '{}',
		UNIQUE (user_id, provider_type)
	)`,

	`CREATE TABLE IF NOT EXISTS knowledge_bases (
		id          BIGSERIAL PRIMARY KEY,
		owner_id    BIGINT NOT NULL REFERENCES users(id),
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		access      TEXT NOT NULL DEFAULT 'private' CHECK (access IN ('private','public')),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS knowledge_base_folders (
		id         BIGSERIAL PRIMARY KEY,
		kb_id      BIGINT NOT NULL REFERENCES knowledge_bases(id),
		parent_id  BIGINT REFERENCES knowledge_base_folders(id),
		name       TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS knowledge_documents (
		id              BIGSERIAL PRIMARY KEY,
		kb_id           BIGINT NOT NULL REFERENCES knowledge_bases(id),
		owner_id        BIGINT NOT NULL REFERENCES users(id),
		folder_id       BIGINT REFERENCES knowledge_base_folders(id),
		file_name       TEXT NOT NULL,
		blob_key        TEXT NOT NULL,
		blob_public_url TEXT NOT NULL DEFAULT '',
		mime            TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending','processing','completed','failed')),
		status_message  TEXT NOT NULL DEFAULT '',
		total_chunks    INT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS knowledge_document_chunks (
		id          BIGSERIAL PRIMARY KEY,
		document_id BIGINT NOT NULL REFERENCES knowledge_documents(id),
		owner_id    BIGINT NOT NULL,
		kb_id       BIGINT NOT NULL,
		chunk_index INT NOT NULL,
		text        TEXT NOT NULL,
		embedding   REAL[] NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_owner ON knowledge_document_chunks (owner_id, kb_id)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_document ON knowledge_document_chunks (document_id)`,

	`CREATE TABLE IF NOT EXISTS knowledge_articles (
		id            BIGSERIAL PRIMARY KEY,
		kb_id         BIGINT NOT NULL REFERENCES knowledge_bases(id),
		owner_id      BIGINT NOT NULL REFERENCES users(id),
		folder_id     BIGINT REFERENCES knowledge_base_folders(id),
		title         TEXT NOT NULL,
		content       TEXT NOT NULL,
		combined_text TEXT NOT NULL DEFAULT '',
		embedding     REAL[] NOT NULL DEFAULT '{}',
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS ai_conversations (
		id           BIGSERIAL PRIMARY KEY,
		owner_id     BIGINT NOT NULL REFERENCES users(id),
		title        TEXT,
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS ai_conversation_messages (
		id              BIGSERIAL PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES ai_conversations(id),
		role            TEXT NOT NULL CHECK (role IN ('system','user','assistant','tool')),
		content         TEXT NOT NULL,
		tool_calls_json  JSONB,
		tool_output_json JSONB,
		llm_type_used   TEXT,
		llm_model_used  TEXT,
		sent_at         TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON ai_conversation_messages (conversation_id, sent_at)`,

	`CREATE TABLE IF NOT EXISTS ai_conversation_temp_files (
		id              BIGSERIAL PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES ai_conversations(id),
		blob_key        TEXT NOT NULL,
		mime            TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending','processing','completed','failed')),
		status_message  TEXT NOT NULL DEFAULT '',
		extracted_text  TEXT NOT NULL DEFAULT '',
		embedding       REAL[] NOT NULL DEFAULT '{}',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS point_transactions (
		id                  BIGSERIAL PRIMARY KEY,
		user_id             BIGINT NOT NULL REFERENCES users(id),
		amount              BIGINT NOT NULL,
		reason              TEXT NOT NULL,
		type                TEXT NOT NULL CHECK (type IN ('EARN','CONSUME','ADMIN_ADJUST')),
		related_entity_type TEXT,
		related_entity_id   BIGINT,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_point_tx_user ON point_transactions (user_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS achievements (
		id             BIGSERIAL PRIMARY KEY,
		name           TEXT NOT NULL UNIQUE,
		description    TEXT NOT NULL DEFAULT '',
		criteria_type  TEXT NOT NULL,
		criteria_value BIGINT NOT NULL,
		reward_points  BIGINT NOT NULL DEFAULT 0,
		is_active      BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS user_achievements (
		id             BIGSERIAL PRIMARY KEY,
		user_id        BIGINT NOT NULL REFERENCES users(id),
		achievement_id BIGINT NOT NULL REFERENCES achievements(id),
		earned_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		is_notified    BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (user_id, achievement_id)
	)`,

	`CREATE TABLE IF NOT EXISTS mcp_tools (
		id           BIGSERIAL PRIMARY KEY,
		user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name         TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		endpoint     TEXT NOT NULL,
		input_schema JSONB NOT NULL DEFAULT '{}',
		enabled      BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE (user_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS forum_topics (
		id         BIGSERIAL PRIMARY KEY,
		user_id    BIGINT NOT NULL REFERENCES users(id),
		title      TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
