package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Options select and configure the persistence backend.
type Options struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN is the driver-specific connection string. For sqlite it is the
	// database file path (":memory:" for an ephemeral database).
	DSN string `yaml:"dsn" env:"DSN"`
}

// Open creates the store named by the options.
func Open(opts Options, logger *zap.Logger) (Store, error) {
	switch opts.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverSQLite, DriverPostgres, DriverMySQL:
		db, err := openGorm(opts)
		if err != nil {
			return nil, err
		}
		return NewGormStore(db, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

func openGorm(opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch opts.Driver {
	case DriverSQLite:
		return gorm.Open(sqlite.Open(opts.DSN), cfg)
	case DriverPostgres:
		return gorm.Open(postgres.Open(opts.DSN), cfg)
	case DriverMySQL:
		return gorm.Open(mysql.Open(opts.DSN), cfg)
	}
	return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
}
