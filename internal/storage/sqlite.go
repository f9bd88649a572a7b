package storage

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:    "sqlite",
	timeIn:  func(ph string) string { return ph },
	timeOut: func(col string) string { return col },
	rebind:  func(q string) string { return q },
}

// sqliteSchema is applied on open. Expiry columns hold epoch seconds.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS oauth_clients (client_id TEXT PRIMARY KEY, client_secret TEXT, redirect_uri TEXT, grant_types TEXT, scope TEXT, user_id TEXT);`,
	`CREATE TABLE IF NOT EXISTS oauth_access_tokens (access_token TEXT PRIMARY KEY, client_id TEXT NOT NULL, auth_id TEXT, expires INTEGER, scope TEXT);`,
	`CREATE TABLE IF NOT EXISTS oauth_refresh_tokens (refresh_token TEXT PRIMARY KEY, client_id TEXT NOT NULL, user_id TEXT, expires INTEGER, scope TEXT);`,
	`CREATE TABLE IF NOT EXISTS oauth_authorization_codes (authorization_code TEXT PRIMARY KEY, client_id TEXT NOT NULL, user_id TEXT, redirect_uri TEXT, expires INTEGER, scope TEXT, id_token TEXT);`,
	`CREATE TABLE IF NOT EXISTS auth (auth_id INTEGER PRIMARY KEY AUTOINCREMENT, auth_mobile TEXT NOT NULL UNIQUE, auth_password TEXT, auth_pay_password TEXT, user_id TEXT, scope TEXT, claims TEXT);`,
	`CREATE TABLE IF NOT EXISTS oauth_scopes (scope TEXT PRIMARY KEY, is_default BOOLEAN NOT NULL DEFAULT 0);`,
	`CREATE TABLE IF NOT EXISTS oauth_jwt (client_id TEXT NOT NULL, subject TEXT NOT NULL DEFAULT '', public_key TEXT NOT NULL, PRIMARY KEY (client_id, subject));`,
	`CREATE TABLE IF NOT EXISTS oauth_jti (issuer TEXT NOT NULL, subject TEXT NOT NULL DEFAULT '', audience TEXT NOT NULL DEFAULT '', expires INTEGER NOT NULL, jti TEXT NOT NULL, UNIQUE (issuer, subject, audience, expires, jti));`,
	`CREATE TABLE IF NOT EXISTS oauth_public_keys (client_id TEXT, public_key TEXT, private_key TEXT, encryption_algorithm TEXT NOT NULL DEFAULT 'RS256');`,
}

// NewSQLiteStore opens (and creates if needed) the database file at path.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLStore, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer keeps busy errors away under concurrent token requests
	d.SetMaxOpenConns(1)
	s := &SQLStore{db: d, d: sqliteDialect, opts: buildOptions(opts)}
	if err := s.init(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init(ctx context.Context) error {
	for _, q := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
