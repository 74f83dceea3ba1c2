package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    date TIMESTAMP NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    base_amount REAL NOT NULL,
    base_currency TEXT NOT NULL,
    direction TEXT NOT NULL,
    payment_method TEXT NOT NULL,
    type TEXT NOT NULL,
    counterparty_originator_id TEXT NOT NULL DEFAULT '',
    counterparty_beneficiary_id TEXT NOT NULL DEFAULT '',
    originator_business_id TEXT NOT NULL DEFAULT '',
    beneficiary_business_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_project ON transactions(project_id);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(project_id, date);
CREATE INDEX IF NOT EXISTS idx_transactions_originator ON transactions(project_id, counterparty_originator_id);
CREATE INDEX IF NOT EXISTS idx_transactions_beneficiary ON transactions(project_id, counterparty_beneficiary_id);
`

const schemaAlertDefinitions = `
CREATE TABLE IF NOT EXISTS alert_definitions (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    category TEXT NOT NULL,
    rule TEXT NOT NULL,
    default_severity TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_alert_definitions_name ON alert_definitions(project_id, name);
CREATE INDEX IF NOT EXISTS idx_alert_definitions_category ON alert_definitions(project_id, category, enabled);
`

// schemaAlerts enforces the dedup invariant in the database: the
// partial unique index allows at most one open alert per
// (project, definition, counterparty, business) tuple. Decided alerts
// fall out of the index, so a definition can fire again afterwards.
const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    alert_definition_id TEXT NOT NULL,
    counterparty_id TEXT NOT NULL DEFAULT '',
    business_id TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    decision TEXT NOT NULL DEFAULT '',
    execution_details TEXT,
    additional_info TEXT,
    assignee_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    decided_at TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_dedup
    ON alerts(project_id, alert_definition_id, counterparty_id, business_id)
    WHERE decided_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_alerts_project ON alerts(project_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(project_id, status);
CREATE INDEX IF NOT EXISTS idx_alerts_assignee ON alerts(project_id, assignee_id);
`

const schemaBusinesses = `
CREATE TABLE IF NOT EXISTS businesses (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    company_name TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_businesses_project ON businesses(project_id);
`

const schemaBusinessReports = `
CREATE TABLE IF NOT EXISTS business_reports (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    business_id TEXT NOT NULL,
    report_id TEXT NOT NULL,
    type TEXT NOT NULL,
    risk_score REAL NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_business_reports_project ON business_reports(project_id);
CREATE INDEX IF NOT EXISTS idx_business_reports_report ON business_reports(project_id, report_id);
CREATE INDEX IF NOT EXISTS idx_business_reports_business ON business_reports(project_id, business_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAlertDefinitions,
		schemaAlerts,
		schemaBusinesses,
		schemaBusinessReports,
	}
}
