package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
	log "github.com/sirupsen/logrus"

	"github.com/nvdnkpr/oauth2/server"
)

const (
	tokenKeyPrefix = "oauth2:token:"
	stateKeyPrefix = "oauth2:state:"
	// usedKeySuffix marks a token's first use under a separate key, so that
	// consumption is a single SET NX instead of a decode-rewrite of the
	// record.
	usedKeySuffix = ":used"
)

// redisStore is Redis-backed token and transient state storage. It
// implements server.TokenStore and server.StateKeeper.
type redisStore struct {
	pool *redis.Pool
}

// consumeScript records a token's first use, failing if it was used before.
// The SET NX on the marker key is the guard: of two concurrent exchanges of
// one code only one can create it, also across server instances. No record
// fields are rewritten here; Find folds the marker back into the record.
var consumeScript = redis.NewScript(2, `
local raw = redis.call("GET", KEYS[1])
if not raw then
  return redis.error_reply("token not found")
end
if not redis.call("SET", KEYS[2], ARGV[1], "NX") then
  return redis.error_reply("token consumed")
end
return raw
`)

func newRedisStore(address string, password string) *redisStore {
	// Create a Redis connectionpool
	pool := &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		// Dial creates a connection and authenticates
		Dial: func() (redis.Conn, error) {
			c, err := redis.Dial("tcp", address)
			if err != nil {
				return nil, err
			}
			if password != "" {
				if _, err := c.Do("AUTH", password); err != nil {
					c.Close()
					return nil, err
				}
			}
			return c, nil
		},
		// Ping a connection to see whether it's still alive
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	log.Println("INFO: Using Redis token and state storage")
	return &redisStore{pool}
}

// Find implements server.TokenStore.
func (s *redisStore) Find(f server.TokenFilter) ([]*server.Token, error) {
	conn := s.pool.Get()
	defer conn.Close()
	key := tokenKeyPrefix + f.Value
	values, err := redis.Values(conn.Do("MGET", key, key+usedKeySuffix))
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	if values[0] == nil {
		return nil, nil
	}
	raw, err := redis.Bytes(values[0], nil)
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	t, err := decodeToken(raw)
	if err != nil {
		return nil, err
	}
	if values[1] != nil {
		used, err := redis.String(values[1], nil)
		if err != nil {
			return nil, fmt.Errorf("redis mget: %w", err)
		}
		if err := foldUsedMarker(t, used); err != nil {
			return nil, err
		}
	}
	if t.Type != f.Type || t.Valid != f.Valid {
		return nil, nil
	}
	return []*server.Token{t}, nil
}

// Create implements server.TokenStore.
func (s *redisStore) Create(t *server.Token) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	conn := s.pool.Get()
	defer conn.Close()
	reply, err := conn.Do("SET", tokenKeyPrefix+t.Value, raw, "NX")
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	if reply == nil {
		return server.ErrDuplicateToken
	}
	return nil
}

// Save implements server.TokenStore. The used marker is kept in sync with
// the record's last access, so that clearing it gives a code back.
func (s *redisStore) Save(t *server.Token) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	conn := s.pool.Get()
	defer conn.Close()
	key := tokenKeyPrefix + t.Value
	if err := conn.Send("MULTI"); err != nil {
		return err
	}
	if err := conn.Send("SET", key, raw); err != nil {
		return err
	}
	if t.LastAccess == nil {
		err = conn.Send("DEL", key+usedKeySuffix)
	} else {
		err = conn.Send("SET", key+usedKeySuffix, t.LastAccess.UTC().Format(time.RFC3339Nano))
	}
	if err != nil {
		return err
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("redis exec: %w", err)
	}
	return nil
}

// Consume implements server.TokenStore.
func (s *redisStore) Consume(value string, now time.Time) (*server.Token, error) {
	conn := s.pool.Get()
	defer conn.Close()
	key := tokenKeyPrefix + value
	raw, err := redis.Bytes(consumeScript.Do(
		conn, key, key+usedKeySuffix, now.UTC().Format(time.RFC3339Nano),
	))
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "token consumed"):
			return nil, server.ErrCodeConsumed
		case strings.Contains(err.Error(), "token not found"):
			return nil, server.ErrTokenNotFound
		}
		return nil, fmt.Errorf("redis eval: %w", err)
	}
	t, err := decodeToken(raw)
	if err != nil {
		return nil, err
	}
	access := now
	t.LastAccess = &access
	return t, nil
}

// Persist implements server.StateKeeper.
func (s *redisStore) Persist(key string, value string, timeout time.Duration) error {
	conn := s.pool.Get()
	defer conn.Close()
	_, err := conn.Do("SET", stateKeyPrefix+key, value, "EX", int(timeout.Seconds()))
	return err
}

// Restore implements server.StateKeeper. A key is handed out at most once.
func (s *redisStore) Restore(key string) (string, error) {
	conn := s.pool.Get()
	defer conn.Close()
	if err := conn.Send("MULTI"); err != nil {
		return "", err
	}
	if err := conn.Send("GET", stateKeyPrefix+key); err != nil {
		return "", err
	}
	if err := conn.Send("DEL", stateKeyPrefix+key); err != nil {
		return "", err
	}
	vals, err := redis.Values(conn.Do("EXEC"))
	if err != nil {
		return "", err
	}
	if vals[0] == nil {
		return "", errors.New("key doesnt exist")
	}
	return redis.String(vals[0], nil)
}

func decodeToken(raw []byte) (*server.Token, error) {
	var t server.Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return &t, nil
}

// foldUsedMarker applies a consumption marker to the decoded record.
func foldUsedMarker(t *server.Token, used string) error {
	if t.LastAccess != nil {
		return nil
	}
	at, err := time.Parse(time.RFC3339Nano, used)
	if err != nil {
		return fmt.Errorf("decoding used marker: %w", err)
	}
	t.LastAccess = &at
	return nil
}
