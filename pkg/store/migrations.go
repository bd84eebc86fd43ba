package store

import (
	"context"
	"fmt"
	"time"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS zot_channel (
		nickname VARCHAR(255) PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		channel_hash VARCHAR(128) NOT NULL UNIQUE,
		guid VARCHAR(128) NOT NULL,
		signature TEXT NOT NULL,
		private_key TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS zot_xchannel (
		channel_hash VARCHAR(128) PRIMARY KEY,
		nickname VARCHAR(255) NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		guid VARCHAR(128) NOT NULL,
		signature TEXT NOT NULL,
		public_key TEXT NOT NULL,
		address VARCHAR(512) NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		connections_url TEXT NOT NULL DEFAULT '',
		photo_mimetype VARCHAR(64) NOT NULL DEFAULT '',
		photo_url TEXT NOT NULL DEFAULT '',
		photo_updated VARCHAR(32) NOT NULL DEFAULT '',
		flags JSONB,
		local BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_xchannel_address ON zot_xchannel(address)`,
	`CREATE INDEX IF NOT EXISTS idx_xchannel_guid ON zot_xchannel(guid)`,

	`CREATE TABLE IF NOT EXISTS zot_hub (
		channel_hash VARCHAR(128) PRIMARY KEY,
		guid VARCHAR(128) NOT NULL,
		signature TEXT NOT NULL,
		site_key TEXT NOT NULL,
		host VARCHAR(255) NOT NULL DEFAULT '',
		address VARCHAR(512) NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		url_signature TEXT NOT NULL,
		callback TEXT NOT NULL,
		is_primary BOOLEAN NOT NULL DEFAULT TRUE,
		local BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_hub_url_callback ON zot_hub(url, callback)`,

	`CREATE TABLE IF NOT EXISTS zot_site (
		url TEXT PRIMARY KEY,
		register_policy VARCHAR(32) NOT NULL DEFAULT '',
		access_policy VARCHAR(32) NOT NULL DEFAULT '',
		directory_mode VARCHAR(32) NOT NULL DEFAULT '',
		directory_url TEXT NOT NULL DEFAULT '',
		version VARCHAR(64) NOT NULL DEFAULT '',
		admin_email VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS zot_item (
		message_id VARCHAR(512) PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		mimetype VARCHAR(64) NOT NULL DEFAULT 'text/bbcode',
		author_hash VARCHAR(128) NOT NULL DEFAULT '',
		owner_hash VARCHAR(128) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates any missing tables and indexes. It is safe to run on every start.
func (s *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for i, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
