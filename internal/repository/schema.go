package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    batch_id TEXT NOT NULL,
    subscription_id TEXT NOT NULL,
    amount REAL NOT NULL,
    value REAL NOT NULL,
    currency_code TEXT NOT NULL,
    country_code TEXT NOT NULL,
    provider_id TEXT NOT NULL,
    channel_id TEXT NOT NULL,
    product_id TEXT NOT NULL,
    product_category TEXT NOT NULL,
    pricing_strategy TEXT NOT NULL,
    fraud_result INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_transactions_started ON transactions(tenant_id, started_at);
`

const schemaArtifacts = `
CREATE TABLE IF NOT EXISTS artifacts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    version TEXT NOT NULL,
    payload BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_tenant_kind ON artifacts(tenant_id, kind, created_at);
`

const schemaRiskLabels = `
CREATE TABLE IF NOT EXISTS risk_labels (
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    high_risk INTEGER NOT NULL DEFAULT 0,
    segment INTEGER NOT NULL,
    segment_score REAL NOT NULL,
    bundle_version TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, customer_id)
);

CREATE INDEX IF NOT EXISTS idx_risk_labels_high ON risk_labels(tenant_id, high_risk);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaArtifacts,
		schemaRiskLabels,
	}
}
