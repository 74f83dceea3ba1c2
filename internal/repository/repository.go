// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction record with project isolation.
// Re-saving an id is a no-op, so bus redelivery is safe.
func (r *SQLRepository) SaveTransaction(ctx context.Context, projectID string, tx *domain.TransactionRecord) error {
	if projectID == "" {
		return fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, project_id, date, amount, currency, base_amount, base_currency,
			direction, payment_method, type,
			counterparty_originator_id, counterparty_beneficiary_id,
			originator_business_id, beneficiary_business_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, projectID, tx.Date,
		tx.Amount, tx.Currency, tx.BaseAmount, tx.BaseCurrency,
		tx.Direction, tx.PaymentMethod, tx.Type,
		tx.CounterpartyOriginatorID, tx.CounterpartyBeneficiaryID,
		tx.OriginatorBusinessID, tx.BeneficiaryBusinessID,
		tx.CreatedAt,
	)
	return err
}

// QueryTransactions retrieves transactions matching the filter, oldest
// first. Amount bounds are half-open: MinAmount inclusive, MaxAmount
// exclusive.
func (r *SQLRepository) QueryTransactions(ctx context.Context, projectID string, filter domain.TransactionFilter) ([]*domain.TransactionRecord, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, project_id, date, amount, currency, base_amount, base_currency,
			   direction, payment_method, type,
			   counterparty_originator_id, counterparty_beneficiary_id,
			   originator_business_id, beneficiary_business_id, created_at
		FROM transactions
		WHERE project_id = ?
	`)
	args := []any{projectID}

	if !filter.Since.IsZero() {
		sb.WriteString(" AND date >= ?")
		args = append(args, filter.Since)
	}
	if filter.Direction != "" {
		sb.WriteString(" AND direction = ?")
		args = append(args, filter.Direction)
	}
	if len(filter.PaymentMethods) > 0 {
		if filter.ExcludePaymentMethods {
			sb.WriteString(" AND payment_method NOT IN (" + placeholders(len(filter.PaymentMethods)) + ")")
		} else {
			sb.WriteString(" AND payment_method IN (" + placeholders(len(filter.PaymentMethods)) + ")")
		}
		for _, method := range filter.PaymentMethods {
			args = append(args, method)
		}
	}
	if len(filter.Types) > 0 {
		sb.WriteString(" AND type IN (" + placeholders(len(filter.Types)) + ")")
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}
	if filter.MinAmount != nil {
		sb.WriteString(" AND base_amount >= ?")
		args = append(args, *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		sb.WriteString(" AND base_amount < ?")
		args = append(args, *filter.MaxAmount)
	}
	if filter.CounterpartyID != "" {
		sb.WriteString(" AND (counterparty_originator_id = ? OR counterparty_beneficiary_id = ?)")
		args = append(args, filter.CounterpartyID, filter.CounterpartyID)
	}

	sb.WriteString(" ORDER BY date ASC")

	rows, err := r.db.QueryContext(ctx, r.rebind(sb.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.TransactionRecord
	for rows.Next() {
		var tx domain.TransactionRecord
		if err := rows.Scan(
			&tx.ID, &tx.ProjectID, &tx.Date,
			&tx.Amount, &tx.Currency, &tx.BaseAmount, &tx.BaseCurrency,
			&tx.Direction, &tx.PaymentMethod, &tx.Type,
			&tx.CounterpartyOriginatorID, &tx.CounterpartyBeneficiaryID,
			&tx.OriginatorBusinessID, &tx.BeneficiaryBusinessID,
			&tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// SaveAlertDefinition stores or updates an alert definition.
func (r *SQLRepository) SaveAlertDefinition(ctx context.Context, projectID string, def *domain.AlertDefinition) error {
	if projectID == "" {
		return fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}

	rule, err := json.Marshal(def.Rule)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}

	enabled := 0
	if def.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	query := `
		INSERT INTO alert_definitions (
			id, project_id, name, description, category, rule,
			default_severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			rule = excluded.rule,
			default_severity = excluded.default_severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		def.ID, projectID, def.Name, def.Description, def.Category,
		string(rule), def.DefaultSeverity, enabled,
		def.CreatedAt, def.UpdatedAt,
	)
	return err
}

// GetAlertDefinition retrieves an alert definition with project isolation.
func (r *SQLRepository) GetAlertDefinition(ctx context.Context, projectID string, defID string) (*domain.AlertDefinition, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, project_id, name, description, category, rule,
			   default_severity, enabled, created_at, updated_at
		FROM alert_definitions
		WHERE project_id = ? AND id = ?
	`

	return r.scanDefinition(r.db.QueryRowContext(ctx, r.rebind(query), projectID, defID))
}

// ListAlertDefinitions retrieves active definitions for a project,
// optionally narrowed to one category, in creation order. Creation
// order is the tie-breaker when two definitions of equal severity
// match the same subject.
func (r *SQLRepository) ListAlertDefinitions(ctx context.Context, projectID string, category domain.DefinitionCategory) ([]*domain.AlertDefinition, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, project_id, name, description, category, rule,
			   default_severity, enabled, created_at, updated_at
		FROM alert_definitions
		WHERE project_id = ? AND enabled = 1
	`
	args := []any{projectID}

	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY created_at ASC, name ASC"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*domain.AlertDefinition
	for rows.Next() {
		def, err := r.scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	return defs, rows.Err()
}

// ListProjectIDs returns every project that has at least one alert
// definition. The sweep iterates this set.
func (r *SQLRepository) ListProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT project_id FROM alert_definitions ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanDefinition(row rowScanner) (*domain.AlertDefinition, error) {
	var def domain.AlertDefinition
	var rule string
	var enabled int

	err := row.Scan(
		&def.ID, &def.ProjectID, &def.Name, &def.Description, &def.Category,
		&rule, &def.DefaultSeverity, &enabled,
		&def.CreatedAt, &def.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	def.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(rule), &def.Rule); err != nil {
		return nil, fmt.Errorf("failed to parse rule for definition %s: %w", def.ID, err)
	}

	return &def, nil
}

// CreateAlertIfAbsent inserts an alert unless an open alert for the
// same (definition, counterparty, business) tuple already exists. The
// partial unique index makes this atomic under concurrent sweeps;
// created=false means the insert hit an existing open alert.
func (r *SQLRepository) CreateAlertIfAbsent(ctx context.Context, projectID string, alert *domain.Alert) (bool, error) {
	if projectID == "" {
		return false, fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}

	var details, info sql.NullString
	var err error
	if alert.ExecutionDetails != nil {
		if details, err = encodeJSON(alert.ExecutionDetails); err != nil {
			return false, fmt.Errorf("failed to encode execution details: %w", err)
		}
	}
	if len(alert.AdditionalInfo) > 0 {
		if info, err = encodeJSON(alert.AdditionalInfo); err != nil {
			return false, fmt.Errorf("failed to encode additional info: %w", err)
		}
	}

	query := `
		INSERT INTO alerts (
			id, project_id, alert_definition_id, counterparty_id, business_id,
			severity, status, decision, execution_details, additional_info,
			assignee_id, created_at, updated_at, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (project_id, alert_definition_id, counterparty_id, business_id)
			WHERE decided_at IS NULL
		DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, projectID, alert.AlertDefinitionID,
		alert.CounterpartyID, alert.BusinessID,
		alert.Severity, alert.Status, alert.Decision,
		details, info, alert.AssigneeID,
		alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetAlert retrieves an alert by ID with project isolation.
func (r *SQLRepository) GetAlert(ctx context.Context, projectID string, alertID string) (*domain.Alert, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}

	query := alertSelect + ` WHERE project_id = ? AND id = ?`
	return r.scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), projectID, alertID))
}

// FindAlerts retrieves alerts matching the filter, newest first.
func (r *SQLRepository) FindAlerts(ctx context.Context, projectID string, filter domain.AlertFilter) ([]*domain.Alert, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}

	var sb strings.Builder
	sb.WriteString(alertSelect)
	sb.WriteString(" WHERE project_id = ?")
	args := []any{projectID}

	if filter.AlertDefinitionID != "" {
		sb.WriteString(" AND alert_definition_id = ?")
		args = append(args, filter.AlertDefinitionID)
	}
	if filter.CounterpartyID != "" {
		sb.WriteString(" AND counterparty_id = ?")
		args = append(args, filter.CounterpartyID)
	}
	if filter.BusinessID != "" {
		sb.WriteString(" AND business_id = ?")
		args = append(args, filter.BusinessID)
	}
	if len(filter.Statuses) > 0 {
		sb.WriteString(" AND status IN (" + placeholders(len(filter.Statuses)) + ")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.OpenOnly {
		sb.WriteString(" AND decided_at IS NULL")
	}
	if filter.AssigneeID != "" {
		sb.WriteString(" AND assignee_id = ?")
		args = append(args, filter.AssigneeID)
	}

	sb.WriteString(" ORDER BY created_at DESC")

	rows, err := r.db.QueryContext(ctx, r.rebind(sb.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := r.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

// UpdateAlertsAssignee assigns (or unassigns) a batch of alerts in one
// statement and returns the rows actually updated. IDs missing from
// the result were not found in the project.
func (r *SQLRepository) UpdateAlertsAssignee(ctx context.Context, projectID string, alertIDs []string, assigneeID string) ([]*domain.Alert, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}
	if len(alertIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one alert id is required", ErrInvalidInput)
	}

	query := `
		UPDATE alerts
		SET assignee_id = ?, updated_at = ?
		WHERE project_id = ? AND id IN (` + placeholders(len(alertIDs)) + `)
		RETURNING ` + alertColumns

	args := []any{assigneeID, time.Now().UTC(), projectID}
	for _, id := range alertIDs {
		args = append(args, id)
	}

	return r.queryAlerts(ctx, query, args...)
}

// UpdateAlertsDecision finalizes a batch of alerts in one statement:
// status becomes completed, decided_at is stamped, and each alert
// drops out of the open-alert dedup scope. Returns the rows actually
// updated.
func (r *SQLRepository) UpdateAlertsDecision(ctx context.Context, projectID string, alertIDs []string, decision domain.AlertDecision) ([]*domain.Alert, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}
	if len(alertIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one alert id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	query := `
		UPDATE alerts
		SET decision = ?, status = ?, decided_at = ?, updated_at = ?
		WHERE project_id = ? AND id IN (` + placeholders(len(alertIDs)) + `)
		RETURNING ` + alertColumns

	args := []any{decision, domain.AlertStatusCompleted, now, now, projectID}
	for _, id := range alertIDs {
		args = append(args, id)
	}

	return r.queryAlerts(ctx, query, args...)
}

const alertColumns = `id, project_id, alert_definition_id, counterparty_id, business_id,
		severity, status, decision, execution_details, additional_info,
		assignee_id, created_at, updated_at, decided_at`

const alertSelect = `SELECT ` + alertColumns + ` FROM alerts`

func (r *SQLRepository) queryAlerts(ctx context.Context, query string, args ...any) ([]*domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := r.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

func (r *SQLRepository) scanAlert(row rowScanner) (*domain.Alert, error) {
	var alert domain.Alert
	var details, info sql.NullString
	var decidedAt sql.NullTime

	err := row.Scan(
		&alert.ID, &alert.ProjectID, &alert.AlertDefinitionID,
		&alert.CounterpartyID, &alert.BusinessID,
		&alert.Severity, &alert.Status, &alert.Decision,
		&details, &info, &alert.AssigneeID,
		&alert.CreatedAt, &alert.UpdatedAt, &decidedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if details.Valid && details.String != "" {
		alert.ExecutionDetails = &domain.ExecutionDetails{}
		if err := json.Unmarshal([]byte(details.String), alert.ExecutionDetails); err != nil {
			return nil, fmt.Errorf("failed to parse execution details for alert %s: %w", alert.ID, err)
		}
	}
	if info.Valid && info.String != "" {
		if err := json.Unmarshal([]byte(info.String), &alert.AdditionalInfo); err != nil {
			return nil, fmt.Errorf("failed to parse additional info for alert %s: %w", alert.ID, err)
		}
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		alert.DecidedAt = &t
	}

	return &alert, nil
}

// SaveBusiness stores or updates a business with project isolation.
func (r *SQLRepository) SaveBusiness(ctx context.Context, projectID string, business *domain.Business) error {
	if projectID == "" {
		return fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO businesses (id, project_id, company_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET company_name = excluded.company_name
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		business.ID, projectID, business.CompanyName, business.CreatedAt,
	)
	return err
}

// GetBusiness retrieves a business by ID with project isolation.
func (r *SQLRepository) GetBusiness(ctx context.Context, projectID string, businessID string) (*domain.Business, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, project_id, company_name, created_at
		FROM businesses
		WHERE project_id = ? AND id = ?
	`

	var b domain.Business
	err := r.db.QueryRowContext(ctx, r.rebind(query), projectID, businessID).Scan(
		&b.ID, &b.ProjectID, &b.CompanyName, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &b, nil
}

// SaveBusinessReport stores a business report with project isolation.
// Re-saving an id is a no-op, so bus redelivery is safe.
func (r *SQLRepository) SaveBusinessReport(ctx context.Context, projectID string, report *domain.BusinessReport) error {
	if projectID == "" {
		return fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(report.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode report payload: %w", err)
	}

	query := `
		INSERT INTO business_reports (
			id, project_id, business_id, report_id, type, risk_score, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.ID, projectID, report.BusinessID, report.ReportID,
		report.Type, report.RiskScore, string(payload), report.CreatedAt,
	)
	return err
}

// GetBusinessReport retrieves a report by its row id or its external
// report id, whichever matches.
func (r *SQLRepository) GetBusinessReport(ctx context.Context, projectID string, reportID string) (*domain.BusinessReport, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: projectID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, project_id, business_id, report_id, type, risk_score, payload, created_at
		FROM business_reports
		WHERE project_id = ? AND (id = ? OR report_id = ?)
		LIMIT 1
	`

	var report domain.BusinessReport
	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), projectID, reportID, reportID).Scan(
		&report.ID, &report.ProjectID, &report.BusinessID, &report.ReportID,
		&report.Type, &report.RiskScore, &payload, &report.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payload), &report.Payload); err != nil {
		return nil, fmt.Errorf("failed to parse payload for report %s: %w", report.ID, err)
	}

	return &report, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
