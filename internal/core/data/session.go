package data

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ZoneID identifies a logical partition of the game world. Zero means no zone.
type ZoneID uint32

// Session is the persisted state of one authenticated connection.
type Session struct {
	Key         string `gorm:"primaryKey; column:session_key"`
	UserID      int64  `gorm:"index; not null"`
	CharacterID int64
	ZoneID      ZoneID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// FindSession returns the Session with the given key or nil if there is no match.
func FindSession(db *gorm.DB, key string) (*Session, error) {
	var session Session
	err := db.Where("session_key = ?", key).First(&session).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &session, nil
}

// SessionExists reports whether a Session row with key exists.
func SessionExists(db *gorm.DB, key string) (bool, error) {
	var count int64
	if err := db.Model(&Session{}).Where("session_key = ?", key).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateSession persists the Session record to the database.
func CreateSession(db *gorm.DB, session *Session) error {
	return db.Create(session).Error
}

// SaveSession writes every field of session back to its row.
func SaveSession(db *gorm.DB, session *Session) error {
	return db.Save(session).Error
}

// DeleteSession permanently removes the Session with key.
func DeleteSession(db *gorm.DB, key string) error {
	return db.Where("session_key = ?", key).Delete(&Session{}).Error
}
