// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository persists transactions, fitted artifacts, and risk labels.
// Every method takes a tenantID; rows never cross tenants.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	SaveTransactions(ctx context.Context, tenantID string, txs []*Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context, tenantID string) ([]*Transaction, error)
	GetTransactionsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*Transaction, error)

	// Artifact operations (fitted pipeline bundles, classifier coefficients)
	SaveArtifact(ctx context.Context, tenantID string, artifact *Artifact) error
	GetLatestArtifact(ctx context.Context, tenantID string, kind string) (*Artifact, error)

	// Risk label operations
	SaveRiskLabels(ctx context.Context, tenantID string, labels []*RiskLabel) error
	GetRiskLabel(ctx context.Context, tenantID string, customerID string) (*RiskLabel, error)
	ListRiskLabels(ctx context.Context, tenantID string) ([]*RiskLabel, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig selects and tunes the database driver.
type RepositoryConfig struct {
	// Driver is "sqlite" (Community) or "postgres" (Pro).
	Driver string

	// SQLite settings.
	SQLitePath string

	// PostgreSQL settings.
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
