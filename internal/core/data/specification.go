package data

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ServerType is the role a server process plays in the cluster.
type ServerType int

const (
	ServerTypeAuthentication ServerType = iota
	ServerTypeCharacter
	ServerTypeWorld
	ServerTypeChat
)

func (t ServerType) String() string {
	switch t {
	case ServerTypeAuthentication:
		return "Authentication"
	case ServerTypeCharacter:
		return "Character"
	case ServerTypeWorld:
		return "World"
	case ServerTypeChat:
		return "Chat"
	default:
		return fmt.Sprintf("ServerType(%d)", int(t))
	}
}

// ParseServerType is the inverse of ServerType.String, ignoring case.
func ParseServerType(s string) (ServerType, error) {
	for _, t := range []ServerType{ServerTypeAuthentication, ServerTypeCharacter, ServerTypeWorld, ServerTypeChat} {
		if strings.EqualFold(t.String(), s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown server type: %s", s)
}

// ServerSpecification describes a running or pending server process. World
// servers are dedicated to a single zone.
type ServerSpecification struct {
	ID         string     `gorm:"primaryKey"`
	ServerType ServerType `gorm:"index"`
	Port       int
	ZoneID     ZoneID

	ActiveUserCount int
	MaxUserCount    int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BeforeCreate assigns a random ID to specifications created without one.
func (s *ServerSpecification) BeforeCreate(*gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// HasCapacity reports whether another user can join the server.
func (s *ServerSpecification) HasCapacity() bool {
	return s.ActiveUserCount < s.MaxUserCount
}

// FindSpecification returns the ServerSpecification with id or nil if none exists.
func FindSpecification(db *gorm.DB, id string) (*ServerSpecification, error) {
	var spec ServerSpecification
	err := db.Where("id = ?", id).First(&spec).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &spec, nil
}

// FindSpecificationsByType returns every specification with the given role.
func FindSpecificationsByType(db *gorm.DB, serverType ServerType) ([]ServerSpecification, error) {
	var specs []ServerSpecification
	err := db.Where("server_type = ?", serverType).Order("created_at").Find(&specs).Error
	if err != nil {
		return nil, err
	}
	return specs, nil
}

// CreateSpecification persists spec, assigning it an ID if it doesn't have one.
func CreateSpecification(db *gorm.DB, spec *ServerSpecification) error {
	return db.Create(spec).Error
}

// UpdateActiveUserCount records the number of users connected to the server with id.
func UpdateActiveUserCount(db *gorm.DB, id string, count int) error {
	return db.Model(&ServerSpecification{}).Where("id = ?", id).Update("active_user_count", count).Error
}

// DeleteSpecification permanently removes the ServerSpecification with id.
func DeleteSpecification(db *gorm.DB, id string) error {
	return db.Where("id = ?", id).Delete(&ServerSpecification{}).Error
}
