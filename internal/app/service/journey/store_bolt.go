package journey

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/fatflowers/settle/internal/app/service/apperr"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/types"
)

var (
	bucketIntents        = []byte("intents")
	bucketAttempts       = []byte("attempts")
	bucketIntentAttempts = []byte("intent_attempts")
	bucketEvents         = []byte("events")
	bucketGrants         = []byte("grants")
	bucketDeliveries     = []byte("webhook_deliveries")

	allBuckets = [][]byte{bucketIntents, bucketAttempts, bucketIntentAttempts, bucketEvents, bucketGrants, bucketDeliveries}
)

// BoltBackend stores journeys in an embedded bolt file. Bolt allows a single
// writer at a time, so every Update is serialized and the per-intent lock
// follows from that.
type BoltBackend struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltBackend prepares the buckets in db.
func NewBoltBackend(db *bolt.DB) (*BoltBackend, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &BoltBackend{db: db, now: time.Now}, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func deliveryKey(rail types.Rail, eventID string) []byte {
	return []byte(string(rail) + "\x00" + eventID)
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	raw := b.Get(key)
	if raw == nil {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

func (b *BoltBackend) InsertIntent(ctx context.Context, intent *models.PurchaseIntent, attempt *models.Attempt, events []*models.AttemptEvent) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	created := false
	err := b.db.Update(func(btx *bolt.Tx) error {
		if btx.Bucket(bucketIntents).Get([]byte(intent.IntentReference)) != nil {
			return nil
		}
		t := &boltTx{tx: btx, intent: intent, now: b.now}
		if err := t.SaveIntent(intent); err != nil {
			return err
		}
		if err := t.InsertAttempt(attempt); err != nil {
			return err
		}
		if err := t.InsertEvents(events...); err != nil {
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

func (b *BoltBackend) Update(ctx context.Context, intentRef string, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(btx *bolt.Tx) error {
		var intent models.PurchaseIntent
		ok, err := getJSON(btx.Bucket(bucketIntents), []byte(intentRef), &intent)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("intent", intentRef)
		}
		return fn(&boltTx{tx: btx, intent: &intent, now: b.now})
	})
}

func (b *BoltBackend) GetIntent(ctx context.Context, intentRef string) (*models.PurchaseIntent, error) {
	var intent models.PurchaseIntent
	err := b.db.View(func(btx *bolt.Tx) error {
		ok, err := getJSON(btx.Bucket(bucketIntents), []byte(intentRef), &intent)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("intent", intentRef)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (b *BoltBackend) GetAttempt(ctx context.Context, attemptRef string) (*models.Attempt, error) {
	var a models.Attempt
	err := b.db.View(func(btx *bolt.Tx) error {
		ok, err := getJSON(btx.Bucket(bucketAttempts), []byte(attemptRef), &a)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("attempt", attemptRef)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (b *BoltBackend) ListAttempts(ctx context.Context, intentRef string) ([]*models.Attempt, error) {
	var rows []*models.Attempt
	err := b.db.View(func(btx *bolt.Tx) error {
		var err error
		rows, err = listAttempts(btx, intentRef)
		return err
	})
	return rows, err
}

func listAttempts(btx *bolt.Tx, intentRef string) ([]*models.Attempt, error) {
	idx := btx.Bucket(bucketIntentAttempts).Bucket([]byte(intentRef))
	if idx == nil {
		return nil, nil
	}
	all := btx.Bucket(bucketAttempts)
	var rows []*models.Attempt
	err := idx.ForEach(func(_, ref []byte) error {
		var a models.Attempt
		ok, err := getJSON(all, ref, &a)
		if err != nil {
			return err
		}
		if ok {
			rows = append(rows, &a)
		}
		return nil
	})
	return rows, err
}

func (b *BoltBackend) ListEvents(ctx context.Context, intentRef string) ([]*models.AttemptEvent, error) {
	var rows []*models.AttemptEvent
	err := b.db.View(func(btx *bolt.Tx) error {
		bkt := btx.Bucket(bucketEvents).Bucket([]byte(intentRef))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(_, v []byte) error {
			var ev models.AttemptEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			rows = append(rows, &ev)
			return nil
		})
	})
	return rows, err
}

// ScanIntents walks every intent. Only eq, not_eq and in filters are
// supported; ordering is by created_at or updated_at.
func (b *BoltBackend) ScanIntents(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := req.normalize(); err != nil {
		return nil, err
	}
	for _, f := range req.Filters {
		if f == nil {
			continue
		}
		switch f.Operator {
		case types.CommonFilterOperatorEq, types.CommonFilterOperatorNotEq, types.CommonFilterOperatorIn:
		default:
			return nil, apperr.Validation("filters", fmt.Sprintf("operator %s is not supported by the bolt store", f.Operator))
		}
	}

	var matched []*models.PurchaseIntent
	err := b.db.View(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketIntents).ForEach(func(_, v []byte) error {
			var intent models.PurchaseIntent
			if err := json.Unmarshal(v, &intent); err != nil {
				return err
			}
			if matchFilters(&intent, req.Filters) {
				matched = append(matched, &intent)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	desc := req.SortOrder != "asc"
	sort.SliceStable(matched, func(i, j int) bool {
		a, c := matched[i].CreatedAt, matched[j].CreatedAt
		if req.SortBy == "updated_at" {
			a, c = matched[i].UpdatedAt, matched[j].UpdatedAt
		}
		if desc {
			return a.After(c)
		}
		return a.Before(c)
	})

	total := int64(len(matched))
	if req.From >= len(matched) {
		return &ScanResponse{Items: []*models.PurchaseIntent{}, Total: total}, nil
	}
	end := req.From + req.Size
	if end > len(matched) {
		end = len(matched)
	}
	return &ScanResponse{Items: matched[req.From:end], Total: total}, nil
}

func intentField(p *models.PurchaseIntent, field string) string {
	switch field {
	case "intent_reference":
		return p.IntentReference
	case "customer_email":
		return p.Customer.Email
	case "file_id":
		return p.FileID
	case "rail":
		return string(p.Rail)
	case "status":
		return string(p.Status)
	case "currency":
		return p.Currency
	case "amount":
		return p.Amount.String()
	case "current_attempt_reference":
		return p.CurrentAttemptReference
	}
	return ""
}

func matchFilters(p *models.PurchaseIntent, filters []*types.CommonFilter) bool {
	for _, f := range filters {
		if f == nil {
			continue
		}
		got := intentField(p, f.Field)
		hit := false
		for _, v := range f.Values {
			if strings.EqualFold(fmt.Sprint(v), got) {
				hit = true
				break
			}
		}
		if f.Operator == types.CommonFilterOperatorEq {
			hit = strings.EqualFold(fmt.Sprint(f.Values[0]), got)
		}
		if f.Operator == types.CommonFilterOperatorNotEq {
			hit = !strings.EqualFold(fmt.Sprint(f.Values[0]), got)
		}
		if !hit {
			return false
		}
	}
	return true
}

func (b *BoltBackend) InsertGrant(ctx context.Context, g *models.DownloadGrant) (*models.DownloadGrant, bool, error) {
	out := g
	created := false
	err := b.db.Update(func(btx *bolt.Tx) error {
		bkt := btx.Bucket(bucketGrants)
		var existing models.DownloadGrant
		ok, err := getJSON(bkt, []byte(g.IntentReference), &existing)
		if err != nil {
			return err
		}
		if ok {
			out = &existing
			return nil
		}
		if g.CreatedAt.IsZero() {
			g.CreatedAt = b.now()
		}
		created = true
		return putJSON(bkt, []byte(g.IntentReference), g)
	})
	if err != nil {
		return nil, false, fmt.Errorf("insert grant: %w", err)
	}
	return out, created, nil
}

func (b *BoltBackend) GetGrant(ctx context.Context, intentRef string) (*models.DownloadGrant, error) {
	var g models.DownloadGrant
	err := b.db.View(func(btx *bolt.Tx) error {
		ok, err := getJSON(btx.Bucket(bucketGrants), []byte(intentRef), &g)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.NotFound("grant", intentRef)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (b *BoltBackend) ClaimDelivery(ctx context.Context, d *models.WebhookDelivery) (*models.WebhookDelivery, bool, error) {
	out := d
	claimed := false
	err := b.db.Update(func(btx *bolt.Tx) error {
		bkt := btx.Bucket(bucketDeliveries)
		key := deliveryKey(d.Rail, d.ProviderEventID)
		now := b.now()
		var existing models.WebhookDelivery
		ok, err := getJSON(bkt, key, &existing)
		if err != nil {
			return err
		}
		if !ok {
			d.CreatedAt, d.UpdatedAt = now, now
			if d.Attempts == 0 {
				d.Attempts = 1
			}
			claimed = true
			return putJSON(bkt, key, d)
		}
		out = &existing
		if !reclaimable(&existing, now) {
			return nil
		}
		existing.Status = models.WebhookDeliveryStatusReceived
		existing.Attempts++
		existing.TraceID = d.TraceID
		existing.Data = d.Data
		existing.UpdatedAt = now
		claimed = true
		return putJSON(bkt, key, &existing)
	})
	if err != nil {
		return nil, false, fmt.Errorf("claim delivery: %w", err)
	}
	return out, claimed, nil
}

func (b *BoltBackend) FinishDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	return b.db.Update(func(btx *bolt.Tx) error {
		d.UpdatedAt = b.now()
		return putJSON(btx.Bucket(bucketDeliveries), deliveryKey(d.Rail, d.ProviderEventID), d)
	})
}

type boltTx struct {
	tx     *bolt.Tx
	intent *models.PurchaseIntent
	now    func() time.Time
}

func (t *boltTx) Intent() *models.PurchaseIntent { return t.intent }

func (t *boltTx) SaveIntent(intent *models.PurchaseIntent) error {
	now := t.now()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now
	if err := putJSON(t.tx.Bucket(bucketIntents), []byte(intent.IntentReference), intent); err != nil {
		return fmt.Errorf("save intent: %w", err)
	}
	t.intent = intent
	return nil
}

func (t *boltTx) Attempts() ([]*models.Attempt, error) {
	return listAttempts(t.tx, t.intent.IntentReference)
}

func (t *boltTx) InsertAttempt(a *models.Attempt) error {
	all := t.tx.Bucket(bucketAttempts)
	if all.Get([]byte(a.AttemptReference)) != nil {
		return apperr.Conflict("attempt %q already exists", a.AttemptReference)
	}
	idx, err := t.tx.Bucket(bucketIntentAttempts).CreateBucketIfNotExists([]byte(a.IntentReference))
	if err != nil {
		return err
	}
	now := t.now()
	a.CreatedAt, a.UpdatedAt = now, now
	if err := putJSON(all, []byte(a.AttemptReference), a); err != nil {
		return err
	}
	return idx.Put(itob(uint64(a.Seq)), []byte(a.AttemptReference))
}

func (t *boltTx) UpdateAttempt(a *models.Attempt) error {
	all := t.tx.Bucket(bucketAttempts)
	if all.Get([]byte(a.AttemptReference)) == nil {
		return apperr.NotFound("attempt", a.AttemptReference)
	}
	a.UpdatedAt = t.now()
	return putJSON(all, []byte(a.AttemptReference), a)
}

func (t *boltTx) InsertEvents(events ...*models.AttemptEvent) error {
	if len(events) == 0 {
		return nil
	}
	bkt, err := t.tx.Bucket(bucketEvents).CreateBucketIfNotExists([]byte(t.intent.IntentReference))
	if err != nil {
		return err
	}
	for _, ev := range events {
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		ev.Seq = int64(seq)
		if err := putJSON(bkt, itob(seq), ev); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}
