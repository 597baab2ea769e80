package session

import (
	"context"
	"hash/fnv"
	"sync"

	"gorm.io/gorm"

	"github.com/dcrodman/realm/internal/core/data"
)

const lockStripes = 64

type databaseStore struct {
	db *gorm.DB
	// Read-modify-write of a session row holds the stripe for its key.
	locks [lockStripes]sync.Mutex
}

// NewDatabaseCache returns a Cache that keeps sessions in the sessions table.
func NewDatabaseCache(db *gorm.DB) Cache {
	return newKeyedCache(&databaseStore{db: db})
}

func (s *databaseStore) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (s *databaseStore) insert(ctx context.Context, session *Session) (bool, error) {
	defer s.lock(session.Key)()

	added := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := data.SessionExists(tx, session.Key)
		if err != nil || exists {
			return err
		}
		if err := data.CreateSession(tx, &data.Session{
			Key:         session.Key,
			UserID:      session.UserID,
			CharacterID: session.CharacterID,
			ZoneID:      session.ZoneID,
		}); err != nil {
			return err
		}
		added = true
		return nil
	})
	return added, err
}

func (s *databaseStore) exists(ctx context.Context, key string) (bool, error) {
	return data.SessionExists(s.db.WithContext(ctx), key)
}

func (s *databaseStore) load(ctx context.Context, key string) (*Session, error) {
	row, err := data.FindSession(s.db.WithContext(ctx), key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return &Session{
		Key:         row.Key,
		UserID:      row.UserID,
		CharacterID: row.CharacterID,
		ZoneID:      row.ZoneID,
	}, nil
}

func (s *databaseStore) update(ctx context.Context, key string, mutate func(*data.Session)) error {
	defer s.lock(key)()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := data.FindSession(tx, key)
		if err != nil {
			return err
		}
		if row == nil {
			return ErrNotFound
		}
		mutate(row)
		return data.SaveSession(tx, row)
	})
}

func (s *databaseStore) setCharacter(ctx context.Context, key string, characterID int64) error {
	return s.update(ctx, key, func(row *data.Session) { row.CharacterID = characterID })
}

func (s *databaseStore) setZone(ctx context.Context, key string, zone data.ZoneID) error {
	return s.update(ctx, key, func(row *data.Session) { row.ZoneID = zone })
}

func (s *databaseStore) remove(ctx context.Context, key string) error {
	defer s.lock(key)()
	return data.DeleteSession(s.db.WithContext(ctx), key)
}

// The database handle is owned by the server.
func (s *databaseStore) close() error {
	return nil
}
