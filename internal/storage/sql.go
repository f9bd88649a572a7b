package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// dialect isolates the few places where SQLite and PostgreSQL differ.
// Queries are written with ? placeholders and rebound per dialect.
type dialect struct {
	name string
	// timeIn wraps a placeholder holding epoch seconds into the column's
	// native representation; timeOut converts a column back to epoch seconds.
	timeIn  func(ph string) string
	timeOut func(col string) string
	rebind  func(query string) string
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db   *sql.DB
	d    dialect
	opts options
}

var _ Store = (*SQLStore)(nil)

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLStore) Close() error                   { return s.db.Close() }

// DB exposes the underlying handle, e.g. for migrations.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) q(query string) string { return s.d.rebind(query) }

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func epochPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

// Clients

func (s *SQLStore) GetClientDetails(ctx context.Context, clientID string) (*Client, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT client_id,client_secret,redirect_uri,grant_types,scope,user_id FROM oauth_clients WHERE client_id = ?`), clientID)
	var c Client
	var secret, redirect, grants, scope, userID sql.NullString
	if err := row.Scan(&c.ID, &secret, &redirect, &grants, &scope, &userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.SecretHash = secret.String
	c.RedirectURI = redirect.String
	c.GrantTypes = splitSet(grants.String)
	c.Scope = scope.String
	c.UserID = userID.String
	return &c, nil
}

func (s *SQLStore) SetClientDetails(ctx context.Context, c Client) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO oauth_clients(client_id,client_secret,redirect_uri,grant_types,scope,user_id) VALUES(?,?,?,?,?,?)
		ON CONFLICT (client_id) DO UPDATE SET client_secret = excluded.client_secret, redirect_uri = excluded.redirect_uri,
		grant_types = excluded.grant_types, scope = excluded.scope, user_id = excluded.user_id`),
		c.ID, c.SecretHash, nullString(c.RedirectURI), nullString(joinSet(c.GrantTypes)), nullString(c.Scope), nullString(c.UserID))
	return err
}

func (s *SQLStore) CheckClientCredentials(ctx context.Context, clientID, secret string) (bool, error) {
	c, err := s.GetClientDetails(ctx, clientID)
	if err != nil {
		return false, err
	}
	return checkClientSecret(c, secret), nil
}

func (s *SQLStore) IsPublicClient(ctx context.Context, clientID string) (bool, error) {
	c, err := s.GetClientDetails(ctx, clientID)
	if err != nil || c == nil {
		return false, err
	}
	return c.SecretHash == "", nil
}

func (s *SQLStore) CheckRestrictedGrantType(ctx context.Context, clientID, grantType string) (bool, error) {
	c, err := s.GetClientDetails(ctx, clientID)
	if err != nil {
		return false, err
	}
	if c == nil || len(c.GrantTypes) == 0 {
		return true, nil
	}
	return contains(c.GrantTypes, grantType), nil
}

// Tokens

func (s *SQLStore) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	row := s.db.QueryRowContext(ctx, s.q(fmt.Sprintf(`SELECT access_token,client_id,auth_id,%s,scope FROM oauth_access_tokens WHERE access_token = ?`, s.d.timeOut("expires"))), token)
	var t AccessToken
	var authID, scope sql.NullString
	var expires sql.NullInt64
	if err := row.Scan(&t.Token, &t.ClientID, &authID, &expires, &scope); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.AuthID = authID.String
	t.Scope = scope.String
	t.Expires = epochPtr(expires)
	return &t, nil
}

func (s *SQLStore) SetAccessToken(ctx context.Context, t AccessToken) error {
	_, err := s.db.ExecContext(ctx, s.q(fmt.Sprintf(`INSERT INTO oauth_access_tokens(access_token,client_id,auth_id,expires,scope) VALUES(?,?,?,%s,?)
		ON CONFLICT (access_token) DO UPDATE SET client_id = excluded.client_id, auth_id = excluded.auth_id,
		expires = excluded.expires, scope = excluded.scope`, s.d.timeIn("?"))),
		t.Token, t.ClientID, nullString(t.AuthID), nullInt(t.Expires), nullString(t.Scope))
	return err
}

func (s *SQLStore) refreshColumns() string {
	return "refresh_token,client_id,user_id," + s.d.timeOut("expires") + ",scope"
}

func (s *SQLStore) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	return scanRefreshToken(s.db.QueryRowContext(ctx, s.q(`SELECT `+s.refreshColumns()+` FROM oauth_refresh_tokens WHERE refresh_token = ?`), token))
}

// ConsumeRefreshToken relies on DELETE … RETURNING, supported by PostgreSQL
// and SQLite 3.35+.
func (s *SQLStore) ConsumeRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	return scanRefreshToken(s.db.QueryRowContext(ctx, s.q(`DELETE FROM oauth_refresh_tokens WHERE refresh_token = ? RETURNING `+s.refreshColumns()), token))
}

func scanRefreshToken(row *sql.Row) (*RefreshToken, error) {
	var t RefreshToken
	var authID, scope sql.NullString
	var expires sql.NullInt64
	if err := row.Scan(&t.Token, &t.ClientID, &authID, &expires, &scope); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.AuthID = authID.String
	t.Scope = scope.String
	t.Expires = epochPtr(expires)
	return &t, nil
}

func (s *SQLStore) SetRefreshToken(ctx context.Context, t RefreshToken) error {
	_, err := s.db.ExecContext(ctx, s.q(fmt.Sprintf(`INSERT INTO oauth_refresh_tokens(refresh_token,client_id,user_id,expires,scope) VALUES(?,?,?,%s,?)`, s.d.timeIn("?"))),
		t.Token, t.ClientID, nullString(t.AuthID), nullInt(t.Expires), nullString(t.Scope))
	return err
}

func (s *SQLStore) UnsetRefreshToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM oauth_refresh_tokens WHERE refresh_token = ?`), token)
	return err
}

// Authorization codes

func (s *SQLStore) codeColumns() string {
	return fmt.Sprintf(`authorization_code,client_id,user_id,redirect_uri,%s,scope,id_token`, s.d.timeOut("expires"))
}

func scanCode(row *sql.Row) (*AuthorizationCode, error) {
	var c AuthorizationCode
	var userID, redirect, scope, idToken sql.NullString
	var expires sql.NullInt64
	if err := row.Scan(&c.Code, &c.ClientID, &userID, &redirect, &expires, &scope, &idToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.UserID = userID.String
	c.RedirectURI = redirect.String
	c.Expires = epochPtr(expires)
	c.Scope = scope.String
	c.IDToken = idToken.String
	return &c, nil
}

func (s *SQLStore) GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	return scanCode(s.db.QueryRowContext(ctx, s.q(`SELECT `+s.codeColumns()+` FROM oauth_authorization_codes WHERE authorization_code = ?`), code))
}

func (s *SQLStore) SetAuthorizationCode(ctx context.Context, c AuthorizationCode) error {
	_, err := s.db.ExecContext(ctx, s.q(fmt.Sprintf(`INSERT INTO oauth_authorization_codes(authorization_code,client_id,user_id,redirect_uri,expires,scope,id_token) VALUES(?,?,?,?,%s,?,?)
		ON CONFLICT (authorization_code) DO UPDATE SET client_id = excluded.client_id, user_id = excluded.user_id,
		redirect_uri = excluded.redirect_uri, expires = excluded.expires, scope = excluded.scope, id_token = excluded.id_token`, s.d.timeIn("?"))),
		c.Code, c.ClientID, nullString(c.UserID), nullString(c.RedirectURI), nullInt(c.Expires), nullString(c.Scope), nullString(c.IDToken))
	return err
}

func (s *SQLStore) ExpireAuthorizationCode(ctx context.Context, code string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM oauth_authorization_codes WHERE authorization_code = ?`), code)
	return err
}

func (s *SQLStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	return scanCode(s.db.QueryRowContext(ctx, s.q(`DELETE FROM oauth_authorization_codes WHERE authorization_code = ? RETURNING `+s.codeColumns()), code))
}

// Principals

func (s *SQLStore) getPrincipal(ctx context.Context, column, value string) (*Principal, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT auth_id,auth_mobile,auth_password,auth_pay_password,user_id,scope,claims FROM auth WHERE `+column+` = ?`), value)
	var p Principal
	var id int64
	var password, secondary, userID, scope, claims sql.NullString
	if err := row.Scan(&id, &p.Login, &password, &secondary, &userID, &scope, &claims); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.AuthID = strconv.FormatInt(id, 10)
	p.PasswordHash = password.String
	p.SecondaryHash = secondary.String
	p.UserID = userID.String
	p.Scope = scope.String
	if claims.String != "" {
		if err := json.Unmarshal([]byte(claims.String), &p.Claims); err != nil {
			return nil, fmt.Errorf("decode claims of principal %s: %w", p.AuthID, err)
		}
	}
	return &p, nil
}

func (s *SQLStore) CheckLogin(ctx context.Context, login string) (bool, error) {
	p, err := s.getPrincipal(ctx, "auth_mobile", login)
	return p != nil, err
}

func (s *SQLStore) GetDetails(ctx context.Context, login string) (Profile, error) {
	p, err := s.getPrincipal(ctx, "auth_mobile", login)
	if err != nil || p == nil {
		return nil, err
	}
	return p.Profile(), nil
}

func (s *SQLStore) CheckCredentials(ctx context.Context, login, secret string) (bool, error) {
	p, err := s.getPrincipal(ctx, "auth_mobile", login)
	if err != nil {
		return false, err
	}
	if p == nil {
		compareSecret("", secret)
		return false, nil
	}
	return compareSecret(p.PasswordHash, secret), nil
}

func (s *SQLStore) CheckSecondarySecret(ctx context.Context, login, secret string) (SecretCheck, error) {
	p, err := s.getPrincipal(ctx, "auth_mobile", login)
	if err != nil {
		return SecretMismatch, err
	}
	return checkSecondary(p, secret), nil
}

func (s *SQLStore) SetPrincipal(ctx context.Context, p Principal, secret string) (string, error) {
	hash, err := HashSecret(secret, s.opts.hashCost)
	if err != nil {
		return "", err
	}
	var claims sql.NullString
	if len(p.Claims) > 0 {
		raw, err := json.Marshal(p.Claims)
		if err != nil {
			return "", fmt.Errorf("encode claims: %w", err)
		}
		claims = sql.NullString{String: string(raw), Valid: true}
	}
	var id int64
	err = s.db.QueryRowContext(ctx, s.q(`INSERT INTO auth(auth_mobile,auth_password,user_id,scope,claims) VALUES(?,?,?,?,?)
		ON CONFLICT (auth_mobile) DO UPDATE SET auth_password = excluded.auth_password, user_id = excluded.user_id,
		scope = excluded.scope, claims = excluded.claims RETURNING auth_id`),
		p.Login, hash, nullString(p.UserID), nullString(p.Scope), claims).Scan(&id)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *SQLStore) SetSecondarySecret(ctx context.Context, login, secret string) error {
	hash, err := HashSecret(secret, s.opts.hashCost)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE auth SET auth_pay_password = ? WHERE auth_mobile = ?`), hash, login)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetUserClaims(ctx context.Context, authID, claims string) (map[string]any, error) {
	if _, err := strconv.ParseInt(authID, 10, 64); err != nil {
		return nil, nil
	}
	p, err := s.getPrincipal(ctx, "auth_id", authID)
	if err != nil || p == nil {
		return nil, err
	}
	return selectClaims(p.Profile(), claims), nil
}

// Scopes

func (s *SQLStore) ScopeExists(ctx context.Context, scope string) (bool, error) {
	requested := sortedCopy(splitSet(scope))
	if len(requested) == 0 {
		return false, nil
	}
	unique := requested[:0:0]
	args := make([]any, 0, len(requested))
	for i, r := range requested {
		if i > 0 && requested[i-1] == r {
			continue
		}
		unique = append(unique, r)
		args = append(args, r)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(unique)), ",")
	var count int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT count(scope) FROM oauth_scopes WHERE scope IN (`+placeholders+`)`), args...).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == len(unique), nil
}

func (s *SQLStore) GetDefaultScope(ctx context.Context, _ string) (string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT scope FROM oauth_scopes WHERE is_default = ? ORDER BY scope`), true)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var defaults []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		defaults = append(defaults, name)
	}
	return joinSet(defaults), rows.Err()
}

func (s *SQLStore) SetScope(ctx context.Context, sc Scope) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO oauth_scopes(scope,is_default) VALUES(?,?)
		ON CONFLICT (scope) DO UPDATE SET is_default = excluded.is_default`), sc.Name, sc.IsDefault)
	return err
}

// Assertions

func (s *SQLStore) GetClientKey(ctx context.Context, clientID, subject string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT public_key FROM oauth_jwt WHERE client_id = ? AND subject = ?`), clientID, subject).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return key, err
}

func (s *SQLStore) SetClientKey(ctx context.Context, clientID, subject, publicKey string) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO oauth_jwt(client_id,subject,public_key) VALUES(?,?,?)
		ON CONFLICT (client_id,subject) DO UPDATE SET public_key = excluded.public_key`), clientID, subject, publicKey)
	return err
}

func (s *SQLStore) GetClientScope(ctx context.Context, clientID string) (string, error) {
	c, err := s.GetClientDetails(ctx, clientID)
	if err != nil || c == nil {
		return "", err
	}
	return c.Scope, nil
}

func (s *SQLStore) GetJti(ctx context.Context, r JtiRecord) (*JtiRecord, error) {
	var out JtiRecord
	err := s.db.QueryRowContext(ctx, s.q(`SELECT issuer,subject,audience,expires,jti FROM oauth_jti
		WHERE issuer = ? AND subject = ? AND audience = ? AND expires = ? AND jti = ?`),
		r.Issuer, r.Subject, r.Audience, r.Expires, r.JTI).Scan(&out.Issuer, &out.Subject, &out.Audience, &out.Expires, &out.JTI)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SQLStore) SetJti(ctx context.Context, r JtiRecord) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO oauth_jti(issuer,subject,audience,expires,jti) VALUES(?,?,?,?,?)`),
		r.Issuer, r.Subject, r.Audience, r.Expires, r.JTI)
	return err
}

func (s *SQLStore) RegisterJti(ctx context.Context, r JtiRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO oauth_jti(issuer,subject,audience,expires,jti) VALUES(?,?,?,?,?) ON CONFLICT DO NOTHING`),
		r.Issuer, r.Subject, r.Audience, r.Expires, r.JTI)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Keys

func (s *SQLStore) keyColumn(ctx context.Context, column, clientID string) (string, bool, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(`SELECT `+column+` FROM oauth_public_keys WHERE client_id = ? OR client_id IS NULL
		ORDER BY client_id IS NOT NULL DESC LIMIT 1`), clientID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.String, true, nil
}

func (s *SQLStore) GetPublicKey(ctx context.Context, clientID string) (string, error) {
	v, _, err := s.keyColumn(ctx, "public_key", clientID)
	return v, err
}

func (s *SQLStore) GetPrivateKey(ctx context.Context, clientID string) (string, error) {
	v, _, err := s.keyColumn(ctx, "private_key", clientID)
	return v, err
}

func (s *SQLStore) GetEncryptionAlgorithm(ctx context.Context, clientID string) (string, error) {
	v, ok, err := s.keyColumn(ctx, "encryption_algorithm", clientID)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return DefaultEncryptionAlgorithm, nil
	}
	return v, nil
}

func (s *SQLStore) SetKeyPair(ctx context.Context, k KeyPair) error {
	if k.EncryptionAlgorithm == "" {
		k.EncryptionAlgorithm = DefaultEncryptionAlgorithm
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	del := `DELETE FROM oauth_public_keys WHERE client_id = ?`
	args := []any{k.ClientID}
	if k.ClientID == "" {
		del = `DELETE FROM oauth_public_keys WHERE client_id IS NULL`
		args = nil
	}
	if _, err := tx.ExecContext(ctx, s.q(del), args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO oauth_public_keys(client_id,public_key,private_key,encryption_algorithm) VALUES(?,?,?,?)`),
		nullString(k.ClientID), nullString(k.PublicKey), nullString(k.PrivateKey), k.EncryptionAlgorithm); err != nil {
		return err
	}
	return tx.Commit()
}
