// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
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

const insertTransaction = `
	INSERT INTO transactions (
		id, tenant_id, customer_id, account_id, batch_id, subscription_id,
		amount, value, currency_code, country_code,
		provider_id, channel_id, product_id, product_category, pricing_strategy,
		fraud_result, started_at, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const selectTransaction = `
	SELECT id, tenant_id, customer_id, account_id, batch_id, subscription_id,
		   amount, value, currency_code, country_code,
		   provider_id, channel_id, product_id, product_category, pricing_strategy,
		   fraud_result, started_at, created_at
	FROM transactions
`

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	_, err := r.db.ExecContext(ctx, r.rebind(insertTransaction), txArgs(tenantID, tx)...)
	return err
}

// SaveTransactions stores a batch in one database transaction.
func (r *SQLRepository) SaveTransactions(ctx context.Context, tenantID string, txs []*domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(txs) == 0 {
		return nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(insertTransaction))
	if err != nil {
		dbTx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, tx := range txs {
		if _, err := stmt.ExecContext(ctx, txArgs(tenantID, tx)...); err != nil {
			dbTx.Rollback()
			return fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
		}
	}

	return dbTx.Commit()
}

func txArgs(tenantID string, tx *domain.Transaction) []any {
	var startedAt any
	if !tx.StartedAt.IsZero() {
		startedAt = tx.StartedAt
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []any{
		tx.ID, tenantID, tx.CustomerID, tx.AccountID, tx.BatchID, tx.SubscriptionID,
		tx.Amount, tx.Value, tx.CurrencyCode, tx.CountryCode,
		tx.ProviderID, tx.ChannelID, tx.ProductID, tx.ProductCategory, tx.PricingStrategy,
		tx.FraudResult, startedAt, createdAt,
	}
}

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var tx domain.Transaction
	var startedAt sql.NullTime

	err := row.Scan(
		&tx.ID, &tx.TenantID, &tx.CustomerID, &tx.AccountID, &tx.BatchID, &tx.SubscriptionID,
		&tx.Amount, &tx.Value, &tx.CurrencyCode, &tx.CountryCode,
		&tx.ProviderID, &tx.ChannelID, &tx.ProductID, &tx.ProductCategory, &tx.PricingStrategy,
		&tx.FraudResult, &startedAt, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		tx.StartedAt = startedAt.Time
	}
	return &tx, nil
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := selectTransaction + ` WHERE tenant_id = ? AND id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListTransactions retrieves the full transaction table for a tenant in
// insertion order.
func (r *SQLRepository) ListTransactions(ctx context.Context, tenantID string) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := selectTransaction + ` WHERE tenant_id = ? ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// GetTransactionsByCustomer retrieves a customer's transactions with tenant
// isolation, newest first. A zero since means no time filter; rows whose
// started_at is NULL (unparseable ingest timestamps) are only excluded when
// an explicit since is given.
func (r *SQLRepository) GetTransactionsByCustomer(ctx context.Context, tenantID string, customerID string, since time.Time) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := selectTransaction + `
		WHERE tenant_id = ?
		  AND customer_id = ?
		ORDER BY started_at DESC
	`
	args := []any{tenantID, customerID}

	if !since.IsZero() {
		query = selectTransaction + `
		WHERE tenant_id = ?
		  AND customer_id = ?
		  AND started_at >= ?
		ORDER BY started_at DESC
	`
		args = append(args, since)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// SaveArtifact stores a versioned artifact with tenant isolation.
func (r *SQLRepository) SaveArtifact(ctx context.Context, tenantID string, artifact *domain.Artifact) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO artifacts (id, tenant_id, kind, version, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		artifact.ID, tenantID, artifact.Kind, artifact.Version,
		artifact.Payload, createdAt,
	)
	return err
}

// GetLatestArtifact retrieves the newest artifact of a kind, or ErrNotFound.
func (r *SQLRepository) GetLatestArtifact(ctx context.Context, tenantID string, kind string) (*domain.Artifact, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, kind, version, payload, created_at
		FROM artifacts
		WHERE tenant_id = ? AND kind = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	var artifact domain.Artifact
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, kind).Scan(
		&artifact.ID, &artifact.TenantID, &artifact.Kind, &artifact.Version,
		&artifact.Payload, &artifact.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// SaveRiskLabels upserts one labeling run's output. A customer keeps only
// their latest label.
func (r *SQLRepository) SaveRiskLabels(ctx context.Context, tenantID string, labels []*domain.RiskLabel) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(labels) == 0 {
		return nil
	}

	query := `
		INSERT INTO risk_labels (
			tenant_id, customer_id, high_risk, segment, segment_score, bundle_version, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, customer_id) DO UPDATE SET
			high_risk = excluded.high_risk,
			segment = excluded.segment,
			segment_score = excluded.segment_score,
			bundle_version = excluded.bundle_version,
			created_at = excluded.created_at
	`

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		dbTx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, label := range labels {
		highRisk := 0
		if label.HighRisk {
			highRisk = 1
		}
		createdAt := label.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			tenantID, label.CustomerID, highRisk, label.Segment,
			label.SegmentScore, label.BundleVersion, createdAt,
		); err != nil {
			dbTx.Rollback()
			return fmt.Errorf("failed to upsert label for %s: %w", label.CustomerID, err)
		}
	}

	return dbTx.Commit()
}

// GetRiskLabel retrieves a customer's label with tenant isolation.
func (r *SQLRepository) GetRiskLabel(ctx context.Context, tenantID string, customerID string) (*domain.RiskLabel, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, customer_id, high_risk, segment, segment_score, bundle_version, created_at
		FROM risk_labels
		WHERE tenant_id = ? AND customer_id = ?
	`

	var label domain.RiskLabel
	var highRisk int
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, customerID).Scan(
		&label.TenantID, &label.CustomerID, &highRisk, &label.Segment,
		&label.SegmentScore, &label.BundleVersion, &label.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	label.HighRisk = highRisk == 1
	return &label, nil
}

// ListRiskLabels retrieves every label for a tenant ordered by customer.
func (r *SQLRepository) ListRiskLabels(ctx context.Context, tenantID string) ([]*domain.RiskLabel, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, customer_id, high_risk, segment, segment_score, bundle_version, created_at
		FROM risk_labels
		WHERE tenant_id = ?
		ORDER BY customer_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []*domain.RiskLabel
	for rows.Next() {
		var label domain.RiskLabel
		var highRisk int
		if err := rows.Scan(
			&label.TenantID, &label.CustomerID, &highRisk, &label.Segment,
			&label.SegmentScore, &label.BundleVersion, &label.CreatedAt,
		); err != nil {
			return nil, err
		}
		label.HighRisk = highRisk == 1
		labels = append(labels, &label)
	}
	return labels, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
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
