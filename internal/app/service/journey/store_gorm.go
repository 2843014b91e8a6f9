package journey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatflowers/settle/internal/app/service/apperr"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// deliveryLease is how long a received webhook delivery blocks redeliveries
// before it is considered abandoned and may be claimed again.
const deliveryLease = 2 * time.Minute

// GormBackend stores journeys in postgres or mysql. The per-intent lock is a
// SELECT ... FOR UPDATE on the intent row.
type GormBackend struct {
	db *gorm.DB
}

func NewGormBackend(db *gorm.DB) *GormBackend {
	return &GormBackend{db: db}
}

func mapGormErr(err error, resource, key string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(resource, key)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Conflict("%s %q already exists", resource, key)
	}
	return err
}

func (b *GormBackend) InsertIntent(ctx context.Context, intent *models.PurchaseIntent, attempt *models.Attempt, events []*models.AttemptEvent) (bool, error) {
	created := false
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "intent_reference"}}, DoNothing: true}).Create(intent)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Create(attempt).Error; err != nil {
			return mapGormErr(err, "attempt", attempt.AttemptReference)
		}
		if err := (&gormTx{db: tx, intent: intent}).InsertEvents(events...); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("insert intent: %w", err)
	}
	return created, nil
}

func (b *GormBackend) Update(ctx context.Context, intentRef string, fn func(tx Tx) error) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var intent models.PurchaseIntent
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("intent_reference = ?", intentRef).
			First(&intent).Error
		if err != nil {
			return mapGormErr(err, "intent", intentRef)
		}
		return fn(&gormTx{db: tx, intent: &intent})
	})
}

func (b *GormBackend) GetIntent(ctx context.Context, intentRef string) (*models.PurchaseIntent, error) {
	var intent models.PurchaseIntent
	if err := b.db.WithContext(ctx).Where("intent_reference = ?", intentRef).First(&intent).Error; err != nil {
		return nil, mapGormErr(err, "intent", intentRef)
	}
	return &intent, nil
}

func (b *GormBackend) GetAttempt(ctx context.Context, attemptRef string) (*models.Attempt, error) {
	var a models.Attempt
	if err := b.db.WithContext(ctx).Where("attempt_reference = ?", attemptRef).First(&a).Error; err != nil {
		return nil, mapGormErr(err, "attempt", attemptRef)
	}
	return &a, nil
}

func (b *GormBackend) ListAttempts(ctx context.Context, intentRef string) ([]*models.Attempt, error) {
	var rows []*models.Attempt
	if err := b.db.WithContext(ctx).Where("intent_reference = ?", intentRef).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return rows, nil
}

func (b *GormBackend) ListEvents(ctx context.Context, intentRef string) ([]*models.AttemptEvent, error) {
	var rows []*models.AttemptEvent
	if err := b.db.WithContext(ctx).Where("intent_reference = ?", intentRef).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return rows, nil
}

// ScanIntents implements paginated/admin listing with filters
func (b *GormBackend) ScanIntents(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := req.normalize(); err != nil {
		return nil, err
	}

	tx := b.db.WithContext(ctx).Model(&models.PurchaseIntent{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd(req.Filters)}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count intents: %w", err)
	}

	var rows []*models.PurchaseIntent
	q := tx.Limit(req.Size).Offset(req.From).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	return &ScanResponse{Items: rows, Total: total}, nil
}

func (b *GormBackend) InsertGrant(ctx context.Context, g *models.DownloadGrant) (*models.DownloadGrant, bool, error) {
	res := b.db.WithContext(ctx).Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "intent_reference"}}, DoNothing: true}).Create(g)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert grant: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return g, true, nil
	}
	existing, err := b.GetGrant(ctx, g.IntentReference)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (b *GormBackend) GetGrant(ctx context.Context, intentRef string) (*models.DownloadGrant, error) {
	var g models.DownloadGrant
	if err := b.db.WithContext(ctx).Where("intent_reference = ?", intentRef).First(&g).Error; err != nil {
		return nil, mapGormErr(err, "grant", intentRef)
	}
	return &g, nil
}

func (b *GormBackend) ClaimDelivery(ctx context.Context, d *models.WebhookDelivery) (*models.WebhookDelivery, bool, error) {
	var out *models.WebhookDelivery
	claimed := false
	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "rail"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).Create(d)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			out, claimed = d, true
			return nil
		}
		var existing models.WebhookDelivery
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("rail = ? AND provider_event_id = ?", d.Rail, d.ProviderEventID).
			First(&existing).Error; err != nil {
			return err
		}
		out = &existing
		if !reclaimable(&existing, time.Now()) {
			return nil
		}
		existing.Status = models.WebhookDeliveryStatusReceived
		existing.Attempts++
		existing.TraceID = d.TraceID
		existing.Data = d.Data
		claimed = true
		return tx.Save(&existing).Error
	})
	if err != nil {
		return nil, false, fmt.Errorf("claim delivery: %w", err)
	}
	return out, claimed, nil
}

func (b *GormBackend) FinishDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	if err := b.db.WithContext(ctx).Save(d).Error; err != nil {
		return fmt.Errorf("finish delivery: %w", err)
	}
	return nil
}

// reclaimable reports whether a stored delivery may be processed again.
func reclaimable(d *models.WebhookDelivery, now time.Time) bool {
	switch d.Status {
	case models.WebhookDeliveryStatusHandleFailed:
		return true
	case models.WebhookDeliveryStatusReceived:
		return now.Sub(d.UpdatedAt) > deliveryLease
	}
	return false
}

type gormTx struct {
	db     *gorm.DB
	intent *models.PurchaseIntent
}

func (t *gormTx) Intent() *models.PurchaseIntent { return t.intent }

func (t *gormTx) SaveIntent(intent *models.PurchaseIntent) error {
	if err := t.db.Save(intent).Error; err != nil {
		return fmt.Errorf("save intent: %w", err)
	}
	t.intent = intent
	return nil
}

func (t *gormTx) Attempts() ([]*models.Attempt, error) {
	var rows []*models.Attempt
	if err := t.db.Where("intent_reference = ?", t.intent.IntentReference).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return rows, nil
}

func (t *gormTx) InsertAttempt(a *models.Attempt) error {
	return mapGormErr(t.db.Create(a).Error, "attempt", a.AttemptReference)
}

func (t *gormTx) UpdateAttempt(a *models.Attempt) error {
	if err := t.db.Save(a).Error; err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	return nil
}

func (t *gormTx) InsertEvents(events ...*models.AttemptEvent) error {
	if len(events) == 0 {
		return nil
	}
	var last int64
	if err := t.db.Model(&models.AttemptEvent{}).
		Where("intent_reference = ?", t.intent.IntentReference).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&last).Error; err != nil {
		return fmt.Errorf("next event seq: %w", err)
	}
	for _, ev := range events {
		last++
		ev.Seq = last
	}
	if err := t.db.Create(&events).Error; err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}
