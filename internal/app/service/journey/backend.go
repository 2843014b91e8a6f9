package journey

import (
	"context"

	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/types"
)

// Tx is the locked view of a single purchase intent. Implementations hold the
// per-intent lock for the lifetime of the Tx and commit atomically when the
// callback passed to Backend.Update returns nil.
type Tx interface {
	Intent() *models.PurchaseIntent
	SaveIntent(intent *models.PurchaseIntent) error
	// Attempts returns the intent's attempts ordered by Seq.
	Attempts() ([]*models.Attempt, error)
	InsertAttempt(a *models.Attempt) error
	UpdateAttempt(a *models.Attempt) error
	// InsertEvents assigns Seq and appends.
	InsertEvents(events ...*models.AttemptEvent) error
}

// Backend persists purchase journeys.
type Backend interface {
	// InsertIntent stores a new intent with its first attempt and events.
	// It reports false without writing when the intent reference already exists.
	InsertIntent(ctx context.Context, intent *models.PurchaseIntent, attempt *models.Attempt, events []*models.AttemptEvent) (bool, error)
	// Update runs fn under the per-intent lock.
	Update(ctx context.Context, intentRef string, fn func(tx Tx) error) error

	GetIntent(ctx context.Context, intentRef string) (*models.PurchaseIntent, error)
	GetAttempt(ctx context.Context, attemptRef string) (*models.Attempt, error)
	ListAttempts(ctx context.Context, intentRef string) ([]*models.Attempt, error)
	ListEvents(ctx context.Context, intentRef string) ([]*models.AttemptEvent, error)
	ScanIntents(ctx context.Context, req *ScanRequest) (*ScanResponse, error)

	GrantStore
	DeliveryStore
}

// GrantStore persists fulfillment grants.
type GrantStore interface {
	// InsertGrant stores g unless a grant exists for the intent, in which case
	// the existing grant is returned with false.
	InsertGrant(ctx context.Context, g *models.DownloadGrant) (*models.DownloadGrant, bool, error)
	GetGrant(ctx context.Context, intentRef string) (*models.DownloadGrant, error)
}

// DeliveryStore deduplicates webhook deliveries by (rail, provider event id).
type DeliveryStore interface {
	// ClaimDelivery records d as received. It returns false with the stored
	// delivery when another delivery with the same key was handled or is in flight.
	ClaimDelivery(ctx context.Context, d *models.WebhookDelivery) (*models.WebhookDelivery, bool, error)
	FinishDelivery(ctx context.Context, d *models.WebhookDelivery) error
}

type ScanRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanResponse struct {
	Items []*models.PurchaseIntent `json:"items"`
	Total int64                    `json:"total"`
}

func (r *ScanRequest) normalize() error {
	if r.Size <= 0 {
		r.Size = 10
	}
	if r.Size > 200 {
		r.Size = 200
	}
	if r.From < 0 {
		r.From = 0
	}
	if r.SortBy == "" {
		r.SortBy = "created_at"
	}
	if !types.IntentFilterFields[r.SortBy] {
		return errInvalidSort(r.SortBy)
	}
	for _, f := range r.Filters {
		if f == nil {
			continue
		}
		if err := f.Validate(types.IntentFilterFields); err != nil {
			return errInvalidFilter(err)
		}
	}
	return nil
}
