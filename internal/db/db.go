package db

import (
	"strings"
	"time"

	"github.com/K3NXXX/social-network-backend/internal/chat"
	"github.com/K3NXXX/social-network-backend/internal/logger"
	"github.com/K3NXXX/social-network-backend/internal/models"
	"github.com/K3NXXX/social-network-backend/internal/notify"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const sqlitePrefix = "sqlite:"

// Open picks the driver from the DSN: "sqlite:<path>" opens the embedded
// driver, anything else is a MySQL DSN.
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, sqlitePrefix) {
		dialector = gormsqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix))
	} else {
		dialector = mysql.Open(dsn)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "database handle")
	}
	if strings.HasPrefix(dsn, sqlitePrefix) {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return gdb, nil
}

// Connect is Open plus Migrate; it exits the process on failure.
func Connect(dsn string) *gorm.DB {
	gdb, err := Open(dsn)
	if err != nil {
		logger.Fatalf("db connect failed: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		logger.Fatalf("db migrate failed: %v", err)
	}
	return gdb
}

func Migrate(gdb *gorm.DB) error {
	return errors.Wrap(gdb.AutoMigrate(
		&models.User{},
		&chat.Chat{},
		&chat.Participant{},
		&chat.Message{},
		&notify.Notification{},
	), "automigrate")
}
