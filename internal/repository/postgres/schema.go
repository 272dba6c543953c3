package postgres

import (
	"context"
	"fmt"
)

// Schema holds every table the repositories use.
const Schema = `
CREATE SCHEMA IF NOT EXISTS profiles;

CREATE TABLE IF NOT EXISTS profiles.sagas (
	correlation_id TEXT PRIMARY KEY,
	state          SMALLINT NOT NULL,
	command        TEXT NOT NULL,
	snapshot       JSONB NOT NULL,
	version        BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles.saga_outbox (
	id             TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	kind           TEXT NOT NULL,
	effect         JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS saga_outbox_created_at_idx ON profiles.saga_outbox (created_at, id);

CREATE TABLE IF NOT EXISTS profiles.profiles (
	id          TEXT NOT NULL,
	object_type TEXT NOT NULL,
	document    JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (object_type, id)
);

CREATE TABLE IF NOT EXISTS profiles.edges (
	parent_id   TEXT NOT NULL,
	parent_type TEXT NOT NULL,
	child_id    TEXT NOT NULL,
	child_type  TEXT NOT NULL,
	conditions  JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (parent_type, parent_id, child_type, child_id)
);
CREATE INDEX IF NOT EXISTS edges_child_idx ON profiles.edges (child_type, child_id);

CREATE TABLE IF NOT EXISTS profiles.functions (
	id         TEXT PRIMARY KEY,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles.client_settings (
	profile_id   TEXT NOT NULL,
	profile_type TEXT NOT NULL,
	settings     JSONB NOT NULL,
	PRIMARY KEY (profile_type, profile_id)
);

CREATE TABLE IF NOT EXISTS profiles.temporary_assignments (
	id         TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles.events (
	seq        BIGSERIAL PRIMARY KEY,
	event_id   TEXT NOT NULL UNIQUE,
	stream     TEXT NOT NULL,
	batch_id   TEXT,
	event_type TEXT NOT NULL,
	envelope   JSONB NOT NULL,
	command    TEXT,
	command_id TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS events_stream_idx ON profiles.events (stream, seq);
`

// EnsureSchema creates missing tables.
func EnsureSchema(ctx context.Context, db pgExecutor) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
