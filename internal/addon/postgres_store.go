package addon

import (
	"context"
	"database/sql"

	"github.com/rankpilot/rankpilot/internal/catalog"
)

// PostgresStore persists the add-on ledger in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed add-on store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const addOnColumns = `id, agency_id, type, option, label, price_cents, interval, stripe_item_id, created_at`

func (p *PostgresStore) Create(ctx context.Context, a *AddOn) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO agency_add_ons (`+addOnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.AgencyID, string(a.Type), a.Option, a.Label, a.PriceCents,
		a.Interval, nullString(a.StripeItemID), a.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*AddOn, error) {
	return scanAddOn(p.db.QueryRowContext(ctx, `
		SELECT `+addOnColumns+` FROM agency_add_ons WHERE id = $1`, id))
}

func (p *PostgresStore) ListByAgency(ctx context.Context, agencyID string) ([]*AddOn, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+addOnColumns+` FROM agency_add_ons
		WHERE agency_id = $1 ORDER BY created_at`, agencyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*AddOn
	for rows.Next() {
		a, err := scanAddOn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM agency_add_ons WHERE id = $1`, id)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAddOn(row rowScanner) (*AddOn, error) {
	a := &AddOn{}
	var typ string
	var itemID sql.NullString
	err := row.Scan(&a.ID, &a.AgencyID, &typ, &a.Option, &a.Label, &a.PriceCents, &a.Interval, &itemID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Type = catalog.AddOnType(typ)
	a.StripeItemID = itemID.String
	return a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*PostgresStore)(nil)
