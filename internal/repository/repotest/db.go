// Package repotest opens isolated in-memory SQLite stores for tests.
package repotest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"gorm.io/gorm"

	"github.com/trailhead/trailimport/internal/config"
	"github.com/trailhead/trailimport/internal/logger"
	"github.com/trailhead/trailimport/internal/repository"
)

var seq atomic.Int64

// NewDB returns a migrated in-memory database private to the test. The pool
// is limited to one connection so concurrent writers serialize the way a
// single SQLite file would.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         dsn,
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	}, logger.NewDiscard())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
