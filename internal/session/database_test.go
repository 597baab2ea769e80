package session_test

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dcrodman/realm/internal/core/data"
	"github.com/dcrodman/realm/internal/session"
	"github.com/dcrodman/realm/internal/session/sessiontest"
)

func setUpDatabase(t *testing.T) *gorm.DB {
	testDBFile := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(testDBFile), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("error initializing test database: %s", err)
	}

	if err = db.AutoMigrate(data.Models()...); err != nil {
		t.Fatalf("error auto migrating db: %s", err)
	}
	t.Cleanup(func() { _ = data.Close(db) })
	return db
}

func TestDatabaseCache(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) session.Cache {
		return session.NewDatabaseCache(setUpDatabase(t))
	})
}
