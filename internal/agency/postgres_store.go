package agency

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/rankpilot/rankpilot/internal/catalog"
)

// PostgresStore persists agencies, users, and clients in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed agency store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const agencyColumns = `id, name, slug, billing_email, tier, billing_type,
	stripe_customer_id, stripe_subscription_id, trial_ends_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, a *Agency) error {
	if err := a.validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO agencies (`+agencyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.Name, a.Slug, a.BillingEmail, nullString(string(a.Tier)), string(a.BillingType),
		nullString(a.StripeCustomerID), nullString(a.StripeSubscriptionID),
		a.TrialEndsAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrSlugTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Agency, error) {
	return p.scanAgency(p.db.QueryRowContext(ctx, `
		SELECT `+agencyColumns+` FROM agencies WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Agency, error) {
	return p.scanAgency(p.db.QueryRowContext(ctx, `
		SELECT `+agencyColumns+` FROM agencies WHERE slug = $1`, slug))
}

func (p *PostgresStore) Update(ctx context.Context, a *Agency) error {
	if err := a.validate(); err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE agencies SET name = $1, billing_email = $2, tier = $3, billing_type = $4,
			stripe_customer_id = $5, stripe_subscription_id = $6, trial_ends_at = $7, updated_at = $8
		WHERE id = $9`,
		a.Name, a.BillingEmail, nullString(string(a.Tier)), string(a.BillingType),
		nullString(a.StripeCustomerID), nullString(a.StripeSubscriptionID),
		a.TrialEndsAt, a.UpdatedAt, a.ID,
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
	return nil
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, agency_id, email, name, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.AgencyID, u.Email, u.Name, u.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	u := &User{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, agency_id, email, name, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.AgencyID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

const clientColumns = `id, user_id, name, domain, status, managed_status,
	managed_package, managed_price_cents, requested_at, activated_at,
	canceled_at, end_date, created_at, updated_at`

func (p *PostgresStore) CreateClient(ctx context.Context, c *Client) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.UserID, c.Name, c.Domain, string(c.Status), string(c.ManagedStatus),
		nullString(string(c.ManagedPackage)), c.ManagedPriceCents,
		c.RequestedAt, c.ActivatedAt, c.CanceledAt, c.EndDate, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetClient(ctx context.Context, id string) (*Client, error) {
	return scanClient(p.db.QueryRowContext(ctx, `
		SELECT `+clientColumns+` FROM clients WHERE id = $1`, id))
}

func (p *PostgresStore) UpdateClient(ctx context.Context, c *Client) error {
	result, err := p.db.ExecContext(ctx, updateClientSQL, clientUpdateArgs(c)...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrClientNotFound
	}
	return nil
}

// updateClientSQL is shared with the managed-service store, which updates the
// client row inside the same transaction as the engagement transition.
const updateClientSQL = `
	UPDATE clients SET name = $1, domain = $2, status = $3, managed_status = $4,
		managed_package = $5, managed_price_cents = $6, requested_at = $7,
		activated_at = $8, canceled_at = $9, end_date = $10, updated_at = $11
	WHERE id = $12`

func clientUpdateArgs(c *Client) []interface{} {
	return []interface{}{
		c.Name, c.Domain, string(c.Status), string(c.ManagedStatus),
		nullString(string(c.ManagedPackage)), c.ManagedPriceCents,
		c.RequestedAt, c.ActivatedAt, c.CanceledAt, c.EndDate, c.UpdatedAt, c.ID,
	}
}

// UpdateClientTx applies a client update within an existing transaction.
func UpdateClientTx(ctx context.Context, tx *sql.Tx, c *Client) error {
	result, err := tx.ExecContext(ctx, updateClientSQL, clientUpdateArgs(c)...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrClientNotFound
	}
	return nil
}

func (p *PostgresStore) ListClients(ctx context.Context, agencyID string) ([]*Client, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.user_id, c.name, c.domain, c.status, c.managed_status,
			c.managed_package, c.managed_price_cents, c.requested_at, c.activated_at,
			c.canceled_at, c.end_date, c.created_at, c.updated_at
		FROM clients c
		JOIN users u ON u.id = c.user_id
		WHERE u.agency_id = $1
		ORDER BY c.created_at`, agencyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountClients(ctx context.Context, agencyID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM clients c
		JOIN users u ON u.id = c.user_id
		WHERE u.agency_id = $1`, agencyID).Scan(&count)
	return count, err
}

func (p *PostgresStore) ClientAgency(ctx context.Context, clientID string) (string, error) {
	var agencyID string
	err := p.db.QueryRowContext(ctx, `
		SELECT u.agency_id FROM clients c
		JOIN users u ON u.id = c.user_id
		WHERE c.id = $1`, clientID).Scan(&agencyID)
	if err == sql.ErrNoRows {
		return "", ErrClientNotFound
	}
	return agencyID, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (p *PostgresStore) scanAgency(row rowScanner) (*Agency, error) {
	a := &Agency{}
	var (
		tier, billingType  sql.NullString
		customerID, subID  sql.NullString
		trialEndsAt        sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Name, &a.Slug, &a.BillingEmail, &tier, &billingType,
		&customerID, &subID, &trialEndsAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Tier = catalog.Tier(tier.String)
	a.BillingType = BillingType(billingType.String)
	a.StripeCustomerID = customerID.String
	a.StripeSubscriptionID = subID.String
	if trialEndsAt.Valid {
		t := trialEndsAt.Time
		a.TrialEndsAt = &t
	}
	return a, nil
}

func scanClient(row rowScanner) (*Client, error) {
	c := &Client{}
	var (
		status, managedStatus, managedPackage sql.NullString
		requestedAt, activatedAt              sql.NullTime
		canceledAt, endDate                   sql.NullTime
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Domain, &status, &managedStatus,
		&managedPackage, &c.ManagedPriceCents, &requestedAt, &activatedAt,
		&canceledAt, &endDate, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = ClientStatus(status.String)
	c.ManagedStatus = ManagedStatus(managedStatus.String)
	c.ManagedPackage = catalog.PackageID(managedPackage.String)
	c.RequestedAt = nullTimePtr(requestedAt)
	c.ActivatedAt = nullTimePtr(activatedAt)
	c.CanceledAt = nullTimePtr(canceledAt)
	c.EndDate = nullTimePtr(endDate)
	return c, nil
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
