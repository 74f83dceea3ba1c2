// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require projectID for strict project isolation; the engine
// never crosses project boundaries within one evaluation.
type Repository interface {
	// Transaction operations. The engine treats records as read-only.
	SaveTransaction(ctx context.Context, projectID string, tx *TransactionRecord) error
	QueryTransactions(ctx context.Context, projectID string, filter TransactionFilter) ([]*TransactionRecord, error)

	// Alert definition operations
	SaveAlertDefinition(ctx context.Context, projectID string, def *AlertDefinition) error
	GetAlertDefinition(ctx context.Context, projectID string, defID string) (*AlertDefinition, error)
	ListAlertDefinitions(ctx context.Context, projectID string, category DefinitionCategory) ([]*AlertDefinition, error)
	ListProjectIDs(ctx context.Context) ([]string, error)

	// Alert operations. CreateAlertIfAbsent is the atomic
	// insert-if-no-open-alert step; created=false means an open alert
	// for the same (definition, subject) already exists.
	CreateAlertIfAbsent(ctx context.Context, projectID string, alert *Alert) (created bool, err error)
	GetAlert(ctx context.Context, projectID string, alertID string) (*Alert, error)
	FindAlerts(ctx context.Context, projectID string, filter AlertFilter) ([]*Alert, error)
	UpdateAlertsAssignee(ctx context.Context, projectID string, alertIDs []string, assigneeID string) ([]*Alert, error)
	UpdateAlertsDecision(ctx context.Context, projectID string, alertIDs []string, decision AlertDecision) ([]*Alert, error)

	// Business and report operations
	SaveBusiness(ctx context.Context, projectID string, business *Business) error
	GetBusiness(ctx context.Context, projectID string, businessID string) (*Business, error)
	SaveBusinessReport(ctx context.Context, projectID string, report *BusinessReport) error
	GetBusinessReport(ctx context.Context, projectID string, reportID string) (*BusinessReport, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
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
