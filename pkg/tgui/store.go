package tgui

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"
)

const (
	defaultTokenTTL = 15 * time.Minute
	defaultTokenMax = 5000
	tokenBytes      = 6
)

// TokenStore parks callback payloads too large for callback_data. The
// button carries a "~xxxxxxxx" token and the payload lives here until the
// TTL passes or the store fills up.
type TokenStore struct {
	mu  sync.Mutex
	ttl time.Duration
	max int
	now func() time.Time

	vals map[string]parked
	// order is insertion order, which is also expiry order.
	order []string
}

type parked struct {
	data    []byte
	expires time.Time
}

func NewTokenStore() *TokenStore {
	return &TokenStore{ttl: defaultTokenTTL, max: defaultTokenMax, now: time.Now, vals: map[string]parked{}}
}

func newToken() string {
	var raw [tokenBytes]byte
	_, _ = rand.Read(raw[:])
	return "~" + base64.RawURLEncoding.EncodeToString(raw[:])
}

// PutBytes keeps a copy of b. A nil store returns "".
func (s *TokenStore) PutBytes(b []byte) string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)
	tok := newToken()
	for _, dup := s.vals[tok]; dup; _, dup = s.vals[tok] {
		tok = newToken()
	}
	s.vals[tok] = parked{data: append([]byte(nil), b...), expires: now.Add(s.ttl)}
	s.order = append(s.order, tok)
	return tok
}

func (s *TokenStore) PutJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return s.PutBytes(b), nil
}

func (s *TokenStore) GetBytes(tok string) ([]byte, bool) {
	if s == nil || tok == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.vals[tok]
	if !ok || s.now().After(p.expires) {
		return nil, false
	}
	return append([]byte(nil), p.data...), true
}

// evictLocked pops expired tokens from the front, then the oldest live ones
// until there is room for one more.
func (s *TokenStore) evictLocked(now time.Time) {
	n := 0
	for _, tok := range s.order {
		p, ok := s.vals[tok]
		if ok && !now.After(p.expires) && len(s.order)-n < s.max {
			break
		}
		delete(s.vals, tok)
		n++
	}
	s.order = s.order[n:]
}
