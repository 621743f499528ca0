package data

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/page-village/onpage/src/types"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	initOnce sync.Once
	initErr  error
)

// Connect opens the ledger store. MYSQL_DSN selects the MySQL backend;
// otherwise a SQLite file at SQLITE_PATH (default onpage.db) is used.
func Connect() (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		db, err := gorm.Open(mysql.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("mysql: %w", err)
		}
		return db, nil
	}
	path := os.Getenv("SQLITE_PATH")
	if path == "" {
		path = "onpage.db"
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return db, nil
}

// MustConnect is Connect with a fatal on failure, for main.
func MustConnect() *gorm.DB {
	db, err := Connect()
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	return db
}

// Init migrates the schema. Safe to call from every component; the work
// runs once per process no matter how many callers race.
func Init(db *gorm.DB) error {
	initOnce.Do(func() {
		initErr = db.AutoMigrate(types.All()...)
	})
	return initErr
}

var memSeq int64

// OpenMemory opens a private in-memory store with the full schema, for
// tests. Each call gets its own database; cache=shared only spans the
// connections of one gorm pool.
func OpenMemory() (*gorm.DB, error) {
	name := fmt.Sprintf("file:mem%d?mode=memory&cache=shared", atomic.AddInt64(&memSeq, 1))
	db, err := gorm.Open(sqlite.Open(name),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(types.All()...); err != nil {
		return nil, err
	}
	return db, nil
}
