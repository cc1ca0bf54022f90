package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ETAnderson/catalogsync/internal/db"
)

type FactoryConfig struct {
	Backend string
	DSN     string
}

type FactoryResult struct {
	Store   Store
	DB      *sql.DB // nil for memory
	Dialect Dialect // empty for memory
}

func NewStore(ctx context.Context, cfg FactoryConfig) (FactoryResult, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "memory"
	}

	switch backend {
	case "memory":
		return FactoryResult{Store: NewMemoryStore()}, nil

	case "mysql", "postgres":
		if strings.TrimSpace(cfg.DSN) == "" {
			return FactoryResult{}, fmt.Errorf("DB_DSN is required when STATE_BACKEND=%s", backend)
		}

		sqlDB, err := db.Open(db.Config{Driver: backend, DSN: cfg.DSN})
		if err != nil {
			return FactoryResult{}, err
		}

		c, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := sqlDB.PingContext(c); err != nil {
			_ = sqlDB.Close()
			return FactoryResult{}, err
		}

		if backend == "postgres" {
			return FactoryResult{Store: NewPostgresStore(sqlDB), DB: sqlDB, Dialect: DialectPostgres}, nil
		}
		return FactoryResult{Store: NewMySQLStore(sqlDB), DB: sqlDB, Dialect: DialectMySQL}, nil

	default:
		return FactoryResult{}, errors.New("unknown STATE_BACKEND (use memory, mysql or postgres)")
	}
}
