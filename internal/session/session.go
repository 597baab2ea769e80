// Package session holds the state of authenticated connections. Sessions live in
// either redis or the database; both backends sit behind the same Cache interface
// and are chosen once at startup by Open.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/realm/internal/core"
	"github.com/dcrodman/realm/internal/core/data"
)

// KeySize is the number of random bytes in a session key before encoding.
const KeySize = 24

// Attempts made at generating a key that isn't already in use.
const maxKeyAttempts = 8

var (
	// ErrNotBound is returned when an endpoint has no session key registered.
	ErrNotBound = errors.New("endpoint has no session")
	// ErrNotFound is returned when a session key has no stored session.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyBound is returned by RegisterKey when the endpoint or the key is
	// already part of a binding.
	ErrAlreadyBound = errors.New("endpoint or session key already bound")
)

// Session is one authenticated connection's state. CharacterID and ZoneID are
// zero until the player selects a character and enters a zone.
type Session struct {
	Key         string
	UserID      int64
	CharacterID int64
	ZoneID      data.ZoneID
}

// Cache stores sessions and tracks which connected endpoint owns which session.
// Endpoint bindings are local to the process; sessions are shared through the
// backend.
type Cache interface {
	// CreateSession stores a new session for userID and returns its key.
	CreateSession(ctx context.Context, userID int64) (string, error)
	// RegisterKey binds an endpoint to a session key. An endpoint holds at most
	// one key and a key belongs to at most one endpoint.
	RegisterKey(endpoint, key string) error
	// IsKey reports whether a session exists for key.
	IsKey(ctx context.Context, key string) (bool, error)
	SetCharacter(ctx context.Context, endpoint string, characterID int64) error
	SetZone(ctx context.Context, endpoint string, zone data.ZoneID) error
	GetSession(ctx context.Context, endpoint string) (*Session, error)
	// DeleteSession destroys the endpoint's session and removes its binding.
	DeleteSession(ctx context.Context, endpoint string) error
	// Bindings returns the number of endpoints currently bound to a session.
	Bindings() int
	Close() error
}

// store is implemented by each backend. Methods return ErrNotFound when the
// session doesn't exist.
type store interface {
	// insert adds session unless its key is taken, reporting whether it was added.
	insert(ctx context.Context, session *Session) (bool, error)
	exists(ctx context.Context, key string) (bool, error)
	load(ctx context.Context, key string) (*Session, error)
	setCharacter(ctx context.Context, key string, characterID int64) error
	setZone(ctx context.Context, key string, zone data.ZoneID) error
	remove(ctx context.Context, key string) error
	close() error
}

type keyedCache struct {
	store store

	// mu keeps bindings and owners consistent with each other.
	mu sync.Mutex
	// endpoint -> key
	bindings *gocache.Cache
	// key -> endpoint
	owners *gocache.Cache
}

func newKeyedCache(s store) *keyedCache {
	return &keyedCache{
		store: s,
		// Bindings are removed explicitly on disconnect, never by expiry.
		bindings: gocache.New(gocache.NoExpiration, 0),
		owners:   gocache.New(gocache.NoExpiration, 0),
	}
}

// GenerateKey returns a random URL-safe session key.
func GenerateKey() (string, error) {
	b := make([]byte, KeySize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("error generating session key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (c *keyedCache) CreateSession(ctx context.Context, userID int64) (string, error) {
	for i := 0; i < maxKeyAttempts; i++ {
		key, err := GenerateKey()
		if err != nil {
			return "", err
		}

		added, err := c.store.insert(ctx, &Session{Key: key, UserID: userID})
		if err != nil {
			return "", fmt.Errorf("error creating session: %w", err)
		}
		if added {
			return key, nil
		}
	}
	return "", fmt.Errorf("error creating session: no unused key after %d attempts", maxKeyAttempts)
}

func (c *keyedCache) RegisterKey(endpoint, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if owner, ok := c.owners.Get(key); ok {
		return fmt.Errorf("%w: key is bound to %s", ErrAlreadyBound, owner)
	}
	if err := c.bindings.Add(endpoint, key, gocache.NoExpiration); err != nil {
		return fmt.Errorf("%w: %s already has a session", ErrAlreadyBound, endpoint)
	}
	c.owners.Set(key, endpoint, gocache.NoExpiration)
	return nil
}

func (c *keyedCache) IsKey(ctx context.Context, key string) (bool, error) {
	return c.store.exists(ctx, key)
}

func (c *keyedCache) keyFor(endpoint string) (string, error) {
	key, ok := c.bindings.Get(endpoint)
	if !ok {
		return "", ErrNotBound
	}
	return key.(string), nil
}

func (c *keyedCache) SetCharacter(ctx context.Context, endpoint string, characterID int64) error {
	key, err := c.keyFor(endpoint)
	if err != nil {
		return err
	}
	return c.store.setCharacter(ctx, key, characterID)
}

func (c *keyedCache) SetZone(ctx context.Context, endpoint string, zone data.ZoneID) error {
	key, err := c.keyFor(endpoint)
	if err != nil {
		return err
	}
	return c.store.setZone(ctx, key, zone)
}

func (c *keyedCache) GetSession(ctx context.Context, endpoint string) (*Session, error) {
	key, err := c.keyFor(endpoint)
	if err != nil {
		return nil, err
	}
	return c.store.load(ctx, key)
}

func (c *keyedCache) DeleteSession(ctx context.Context, endpoint string) error {
	key, err := c.keyFor(endpoint)
	if err != nil {
		return err
	}
	// The binding is kept when the session can't be removed so that the
	// delete can be retried.
	if err := c.store.remove(ctx, key); err != nil {
		return fmt.Errorf("error deleting session: %w", err)
	}

	c.mu.Lock()
	c.bindings.Delete(endpoint)
	c.owners.Delete(key)
	c.mu.Unlock()
	return nil
}

func (c *keyedCache) Bindings() int {
	return c.bindings.ItemCount()
}

func (c *keyedCache) Close() error {
	c.mu.Lock()
	c.bindings.Flush()
	c.owners.Flush()
	c.mu.Unlock()
	return c.store.close()
}

// Open returns the redis backed cache when redis is configured and reachable and
// the database backed cache otherwise. An unreachable redis is not fatal.
func Open(ctx context.Context, cfg *core.Config, db *gorm.DB, logger logrus.FieldLogger) (Cache, error) {
	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Errorf("unable to reach redis at %s, falling back to the database session cache: %v", cfg.Redis.Address, err)
			_ = client.Close()
		} else {
			logger.Infof("using redis session cache at %s", cfg.Redis.Address)
			return NewRedisCache(client, cfg.Redis.KeyPrefix, cfg.Redis.SessionTTL), nil
		}
	}

	if db == nil {
		return nil, errors.New("no database available for the session cache")
	}
	logger.Info("using database session cache")
	return NewDatabaseCache(db), nil
}
