package storage

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore keeps everything in process memory. A single mutex serializes
// access, which also makes code consumption and jti registration atomic.
type MemoryStore struct {
	mu sync.Mutex

	clients       map[string]Client
	accessTokens  map[string]AccessToken
	refreshTokens map[string]RefreshToken
	codes         map[string]AuthorizationCode
	principals    map[string]*Principal // by login
	scopes        map[string]Scope
	clientKeys    map[[2]string]string
	jtis          map[JtiRecord]struct{}
	keys          map[string]KeyPair // "" is the global default
	seq           int64

	opts options
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		clients:       map[string]Client{},
		accessTokens:  map[string]AccessToken{},
		refreshTokens: map[string]RefreshToken{},
		codes:         map[string]AuthorizationCode{},
		principals:    map[string]*Principal{},
		scopes:        map[string]Scope{},
		clientKeys:    map[[2]string]string{},
		jtis:          map[JtiRecord]struct{}{},
		keys:          map[string]KeyPair{},
		seq:           1,
		opts:          buildOptions(opts),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

// Clients

func (m *MemoryStore) GetClientDetails(_ context.Context, clientID string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[clientID]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *MemoryStore) SetClientDetails(_ context.Context, c Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.GrantTypes = append([]string(nil), c.GrantTypes...)
	m.clients[c.ID] = c
	return nil
}

func (m *MemoryStore) CheckClientCredentials(ctx context.Context, clientID, secret string) (bool, error) {
	c, err := m.GetClientDetails(ctx, clientID)
	if err != nil {
		return false, err
	}
	return checkClientSecret(c, secret), nil
}

func (m *MemoryStore) IsPublicClient(ctx context.Context, clientID string) (bool, error) {
	c, err := m.GetClientDetails(ctx, clientID)
	if err != nil || c == nil {
		return false, err
	}
	return c.SecretHash == "", nil
}

func (m *MemoryStore) CheckRestrictedGrantType(ctx context.Context, clientID, grantType string) (bool, error) {
	c, err := m.GetClientDetails(ctx, clientID)
	if err != nil {
		return false, err
	}
	if c == nil || len(c.GrantTypes) == 0 {
		return true, nil
	}
	return contains(c.GrantTypes, grantType), nil
}

// Tokens

func (m *MemoryStore) GetAccessToken(_ context.Context, token string) (*AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.accessTokens[token]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *MemoryStore) SetAccessToken(_ context.Context, t AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessTokens[t.Token] = t
	return nil
}

func (m *MemoryStore) GetRefreshToken(_ context.Context, token string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.refreshTokens[token]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *MemoryStore) SetRefreshToken(_ context.Context, t RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.refreshTokens[t.Token]; ok {
		return ErrDuplicate
	}
	m.refreshTokens[t.Token] = t
	return nil
}

func (m *MemoryStore) UnsetRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refreshTokens, token)
	return nil
}

func (m *MemoryStore) ConsumeRefreshToken(_ context.Context, token string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refreshTokens[token]
	if !ok {
		return nil, nil
	}
	delete(m.refreshTokens, token)
	return &t, nil
}

// Authorization codes

func (m *MemoryStore) GetAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.codes[code]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *MemoryStore) SetAuthorizationCode(_ context.Context, c AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[c.Code] = c
	return nil
}

func (m *MemoryStore) ExpireAuthorizationCode(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, code)
	return nil
}

func (m *MemoryStore) ConsumeAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return nil, nil
	}
	delete(m.codes, code)
	return &c, nil
}

// Principals

func (m *MemoryStore) principal(login string) *Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[login]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (m *MemoryStore) CheckLogin(_ context.Context, login string) (bool, error) {
	return m.principal(login) != nil, nil
}

func (m *MemoryStore) GetDetails(_ context.Context, login string) (Profile, error) {
	p := m.principal(login)
	if p == nil {
		return nil, nil
	}
	return p.Profile(), nil
}

func (m *MemoryStore) CheckCredentials(_ context.Context, login, secret string) (bool, error) {
	p := m.principal(login)
	if p == nil {
		compareSecret("", secret)
		return false, nil
	}
	return compareSecret(p.PasswordHash, secret), nil
}

func (m *MemoryStore) CheckSecondarySecret(_ context.Context, login, secret string) (SecretCheck, error) {
	return checkSecondary(m.principal(login), secret), nil
}

func (m *MemoryStore) SetPrincipal(_ context.Context, p Principal, secret string) (string, error) {
	hash, err := HashSecret(secret, m.opts.hashCost)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.principals[p.Login]; ok {
		existing.PasswordHash = hash
		existing.UserID = p.UserID
		existing.Scope = p.Scope
		existing.Claims = p.Claims
		return existing.AuthID, nil
	}
	p.AuthID = strconv.FormatInt(m.seq, 10)
	m.seq++
	p.PasswordHash = hash
	p.SecondaryHash = ""
	m.principals[p.Login] = &p
	return p.AuthID, nil
}

func (m *MemoryStore) SetSecondarySecret(_ context.Context, login, secret string) error {
	hash, err := HashSecret(secret, m.opts.hashCost)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[login]
	if !ok {
		return ErrNotFound
	}
	p.SecondaryHash = hash
	return nil
}

func (m *MemoryStore) GetUserClaims(_ context.Context, authID, claims string) (map[string]any, error) {
	m.mu.Lock()
	var found *Principal
	for _, p := range m.principals {
		if p.AuthID == authID {
			cp := *p
			found = &cp
			break
		}
	}
	m.mu.Unlock()
	if found == nil {
		return nil, nil
	}
	return selectClaims(found.Profile(), claims), nil
}

// Scopes

func (m *MemoryStore) ScopeExists(_ context.Context, scope string) (bool, error) {
	requested := splitSet(scope)
	if len(requested) == 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range requested {
		if _, ok := m.scopes[s]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (m *MemoryStore) GetDefaultScope(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var defaults []string
	for _, s := range m.scopes {
		if s.IsDefault {
			defaults = append(defaults, s.Name)
		}
	}
	return joinSet(sortedCopy(defaults)), nil
}

func (m *MemoryStore) SetScope(_ context.Context, s Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[s.Name] = s
	return nil
}

// Assertions

func (m *MemoryStore) GetClientKey(_ context.Context, clientID, subject string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientKeys[[2]string{clientID, subject}], nil
}

func (m *MemoryStore) SetClientKey(_ context.Context, clientID, subject, publicKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientKeys[[2]string{clientID, subject}] = publicKey
	return nil
}

func (m *MemoryStore) GetClientScope(ctx context.Context, clientID string) (string, error) {
	c, err := m.GetClientDetails(ctx, clientID)
	if err != nil || c == nil {
		return "", err
	}
	return c.Scope, nil
}

func (m *MemoryStore) GetJti(_ context.Context, r JtiRecord) (*JtiRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jtis[r]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *MemoryStore) SetJti(_ context.Context, r JtiRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jtis[r]; ok {
		return ErrDuplicate
	}
	m.jtis[r] = struct{}{}
	return nil
}

func (m *MemoryStore) RegisterJti(_ context.Context, r JtiRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jtis[r]; ok {
		return false, nil
	}
	m.jtis[r] = struct{}{}
	return true, nil
}

// Keys

func (m *MemoryStore) keyPair(clientID string) (KeyPair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[clientID]; ok && clientID != "" {
		return k, true
	}
	k, ok := m.keys[""]
	return k, ok
}

func (m *MemoryStore) GetPublicKey(_ context.Context, clientID string) (string, error) {
	k, _ := m.keyPair(clientID)
	return k.PublicKey, nil
}

func (m *MemoryStore) GetPrivateKey(_ context.Context, clientID string) (string, error) {
	k, _ := m.keyPair(clientID)
	return k.PrivateKey, nil
}

func (m *MemoryStore) GetEncryptionAlgorithm(_ context.Context, clientID string) (string, error) {
	k, ok := m.keyPair(clientID)
	if !ok || k.EncryptionAlgorithm == "" {
		return DefaultEncryptionAlgorithm, nil
	}
	return k.EncryptionAlgorithm, nil
}

func (m *MemoryStore) SetKeyPair(_ context.Context, k KeyPair) error {
	if k.EncryptionAlgorithm == "" {
		k.EncryptionAlgorithm = DefaultEncryptionAlgorithm
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.ClientID] = k
	return nil
}
