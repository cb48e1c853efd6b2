package server

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
	"time"
)

// StateKeeper is implemented by storage engines and used to park
// authorization requests across the interactive login step. A keeper must
// hand out each key at most once.
type StateKeeper interface {
	Persist(key string, data string, lifetime time.Duration) error
	Restore(key string) (string, error)
}

// authorizationState is a suspended /authorize request, replayed after the
// resource owner has logged in.
type authorizationState struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scopes       []string
	State        string
}

type stateStorage struct {
	engine      StateKeeper
	maxLifetime time.Duration
}

func newStateStorage(engine StateKeeper, lifetime time.Duration) *stateStorage {
	return &stateStorage{engine, lifetime}
}

func (store *stateStorage) restore(key string, e interface{}) error {
	encoded, err := store.engine.Restore(key)
	if err != nil {
		return err
	}
	data := bytes.NewBufferString(encoded)
	dec := gob.NewDecoder(data)
	return dec.Decode(e)
}

func (store *stateStorage) persist(key string, data interface{}) error {
	var encoded bytes.Buffer
	enc := gob.NewEncoder(&encoded)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return store.engine.Persist(key, encoded.String(), store.maxLifetime)
}

// stateMap is the default StateKeeper.
type stateMap struct {
	values   map[string]string
	expiries map[string]time.Time
	mutex    sync.Mutex
}

func newStateMap() *stateMap {
	return &stateMap{
		values:   make(map[string]string),
		expiries: make(map[string]time.Time),
	}
}

func (s *stateMap) Persist(key string, value string, lifetime time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	exp := time.Now().Add(lifetime)
	s.values[key] = value
	s.expiries[key] = exp
	return nil
}

func (s *stateMap) Restore(key string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	val, valOk := s.values[key]
	exp, expOk := s.expiries[key]
	if expOk {
		delete(s.expiries, key)
	}
	if valOk {
		delete(s.values, key)
	}
	if !valOk || !expOk || time.Now().After(exp) {
		return "", fmt.Errorf("key %s not found", key)
	}
	return val, nil
}
