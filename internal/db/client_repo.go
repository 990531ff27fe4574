package db

import (
	"context"
	"encoding/json"

	"saloncore/internal/types"
)

// ClientRecord is a salon client as stored in the clients table. Clients are
// keyed by (tenant, phone) or (tenant, email), whichever is present.
type ClientRecord struct {
	TenantID  string
	Phone     string
	Email     string
	FirstName string
	LastName  string
	Metadata  map[string]any
}

// ClientRepository provides best-effort client upserts. Booking orchestration
// records the client after a successful provider call; a failure here never
// fails the booking.
type ClientRepository struct {
	db DBTX
}

// NewClientRepository creates a repository backed by the given database
// connection (pool or transaction).
func NewClientRepository(db DBTX) *ClientRepository {
	return &ClientRepository{db: db}
}

// Upsert records the client, merging metadata into any existing row matched
// by phone or email.
func (r *ClientRepository) Upsert(ctx context.Context, c ClientRecord) error {
	if c.Phone == "" && c.Email == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "client needs a phone or email", nil)
	}
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode client metadata", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO clients (tenant_id, phone, email, first_name, last_name, metadata)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6)
		ON CONFLICT (tenant_id, contact_key) DO UPDATE
		SET phone = COALESCE(EXCLUDED.phone, clients.phone),
		    email = COALESCE(EXCLUDED.email, clients.email),
		    first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), clients.first_name),
		    last_name = COALESCE(NULLIF(EXCLUDED.last_name, ''), clients.last_name),
		    metadata = clients.metadata || EXCLUDED.metadata,
		    updated_at = now()`,
		c.TenantID, c.Phone, c.Email, c.FirstName, c.LastName, meta)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert client", err)
	}
	return nil
}

// UpsertClient is the flattened form used by the booking and webhook flows.
func (r *ClientRepository) UpsertClient(ctx context.Context, tenantID, phone, email, firstName, lastName string, metadata map[string]any) error {
	return r.Upsert(ctx, ClientRecord{
		TenantID:  tenantID,
		Phone:     phone,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Metadata:  metadata,
	})
}
