package server

import (
	"sync"
	"time"
)

// tokenMap is the default TokenStore. Tokens don't survive a restart and
// aren't shared between instances, so it is only suitable for development
// and tests.
type tokenMap struct {
	tokens map[string]*Token
	mutex  sync.Mutex
}

func newTokenMap() *tokenMap {
	return &tokenMap{tokens: make(map[string]*Token)}
}

func (m *tokenMap) Find(f TokenFilter) ([]*Token, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	t, ok := m.tokens[f.Value]
	if !ok || t.Type != f.Type || t.Valid != f.Valid {
		return nil, nil
	}
	c := *t
	return []*Token{&c}, nil
}

func (m *tokenMap) Create(t *Token) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.tokens[t.Value]; ok {
		return ErrDuplicateToken
	}
	c := *t
	m.tokens[t.Value] = &c
	return nil
}

func (m *tokenMap) Save(t *Token) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c := *t
	m.tokens[t.Value] = &c
	return nil
}

func (m *tokenMap) Consume(value string, now time.Time) (*Token, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	t, ok := m.tokens[value]
	if !ok {
		return nil, ErrTokenNotFound
	}
	if t.LastAccess != nil {
		return nil, ErrCodeConsumed
	}
	access := now
	t.LastAccess = &access
	c := *t
	return &c, nil
}
