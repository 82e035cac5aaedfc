package managed

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/rankpilot/rankpilot/internal/agency"
	"github.com/rankpilot/rankpilot/internal/catalog"
)

// PostgresStore persists engagements in PostgreSQL. Partial unique indexes
// on (agency_id, client_id) for PENDING and for ACTIVE rows resolve races
// between concurrent requests: the losing insert fails with a uniqueness
// violation and surfaces as ErrEngagementExists.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed engagement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const engagementColumns = `id, agency_id, client_id, package, status,
	package_name, monthly_price_cents, commission_percent,
	monthly_commission_cents, stripe_item_id, requested_at, activated_at,
	canceled_at, end_date, created_at, updated_at`

func (p *PostgresStore) CreateEngagement(ctx context.Context, e *Engagement, audit *RequestRecord, c *agency.Client) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO managed_services (`+engagementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.AgencyID, e.ClientID, string(e.Package), string(e.Status),
		e.PackageName, e.MonthlyPriceCents, e.CommissionPercent,
		e.MonthlyCommissionCents, nullString(e.StripeItemID), e.RequestedAt,
		e.ActivatedAt, e.CanceledAt, e.EndDate, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrEngagementExists
		}
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO managed_service_requests (id, engagement_id, agency_id, client_id, package, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		audit.ID, audit.EngagementID, audit.AgencyID, audit.ClientID,
		string(audit.Package), nullString(audit.Notes), audit.CreatedAt,
	)
	if err != nil {
		return err
	}

	if err := agency.UpdateClientTx(ctx, tx, c); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) UpdateEngagement(ctx context.Context, e *Engagement, c *agency.Client) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE managed_services SET status = $1, stripe_item_id = $2,
			activated_at = $3, canceled_at = $4, end_date = $5, updated_at = $6
		WHERE id = $7`,
		string(e.Status), nullString(e.StripeItemID),
		e.ActivatedAt, e.CanceledAt, e.EndDate, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	if err := agency.UpdateClientTx(ctx, tx, c); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Engagement, error) {
	return scanEngagement(p.db.QueryRowContext(ctx, `
		SELECT `+engagementColumns+` FROM managed_services WHERE id = $1`, id))
}

func (p *PostgresStore) ListByAgency(ctx context.Context, agencyID string) ([]*Engagement, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+engagementColumns+` FROM managed_services
		WHERE agency_id = $1 ORDER BY created_at`, agencyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListRequests(ctx context.Context, agencyID string) ([]*RequestRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, engagement_id, agency_id, client_id, package, notes, created_at
		FROM managed_service_requests
		WHERE agency_id = $1 ORDER BY created_at`, agencyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*RequestRecord
	for rows.Next() {
		r := &RequestRecord{}
		var pkg string
		var notes sql.NullString
		if err := rows.Scan(&r.ID, &r.EngagementID, &r.AgencyID, &r.ClientID, &pkg, &notes, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Package = catalog.PackageID(pkg)
		r.Notes = notes.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountActiveClients(ctx context.Context, agencyID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT client_id) FROM managed_services
		WHERE agency_id = $1 AND status = 'ACTIVE'`, agencyID).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEngagement(row rowScanner) (*Engagement, error) {
	e := &Engagement{}
	var (
		pkg, status sql.NullString
		itemID      sql.NullString
		activatedAt sql.NullTime
		canceledAt  sql.NullTime
		endDate     sql.NullTime
	)
	err := row.Scan(&e.ID, &e.AgencyID, &e.ClientID, &pkg, &status,
		&e.PackageName, &e.MonthlyPriceCents, &e.CommissionPercent,
		&e.MonthlyCommissionCents, &itemID, &e.RequestedAt, &activatedAt,
		&canceledAt, &endDate, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Package = catalog.PackageID(pkg.String)
	e.Status = Status(status.String)
	e.StripeItemID = itemID.String
	e.ActivatedAt = nullTimePtr(activatedAt)
	e.CanceledAt = nullTimePtr(canceledAt)
	e.EndDate = nullTimePtr(endDate)
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	tt := t.Time
	return &tt
}

var _ Store = (*PostgresStore)(nil)
