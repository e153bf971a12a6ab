package postgres

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// Open opens and verifies a connection pool. Schema is managed by the
// migrations directory; nothing is created at runtime.
func Open(config DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		config.Host,
		config.Port,
		config.Database,
		config.User,
		config.Password,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.WithField("database", config.Database).Info("connected to postgres")
	return db, nil
}

// Gateway is the typed query/update surface over the relational state.
// It carries the owner id and the legacy informed toggle so selection
// queries are scoped consistently everywhere.
type Gateway struct {
	DB          *sql.DB
	OwnerID     int64
	UseInformed bool
}

func NewGateway(db *sql.DB, ownerID int64, useInformed bool) *Gateway {
	return &Gateway{DB: db, OwnerID: ownerID, UseInformed: useInformed}
}
