package fulfillment

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatflowers/settle/internal/app/service/journey"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/internal/platform/boltdb"
	"github.com/fatflowers/settle/pkg/config"
	"github.com/fatflowers/settle/pkg/reference"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, cfg config.FulfillmentConfig) *Service {
	t.Helper()
	s, _ := newTestServiceWithJourney(t, cfg)
	return s
}

func newTestServiceWithJourney(t *testing.T, cfg config.FulfillmentConfig) (*Service, *journey.Journey) {
	t.Helper()
	db, err := boltdb.Open(filepath.Join(t.TempDir(), "grants.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	backend, err := journey.NewBoltBackend(db)
	require.NoError(t, err)
	j := journey.New(backend, zap.NewNop().Sugar())
	s, err := NewService(j, &config.Config{Fulfillment: cfg}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return s, j
}

func completedIntent() *models.PurchaseIntent {
	return &models.PurchaseIntent{
		IntentReference: "SET-20260101-ABCDEFGHJKMN",
		Customer:        models.Customer{Email: "Ada@Example.com"},
		FileID:          "ebook-1",
		Status:          types.PaymentStatusCompleted,
	}
}

func TestIssue_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, config.FulfillmentConfig{SigningKey: "k", GrantTTL: time.Hour})
	intent := completedIntent()

	first, err := s.Issue(ctx, intent)
	require.NoError(t, err)
	require.NotEmpty(t, first.Token)
	require.WithinDuration(t, time.Now().Add(time.Hour), first.ExpiresAt, time.Minute)

	second, err := s.Issue(ctx, intent)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Token, second.Token)

	got, err := s.Get(ctx, intent.IntentReference)
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)
}

func TestIssue_RequiresCompleted(t *testing.T) {
	s := newTestService(t, config.FulfillmentConfig{SigningKey: "k"})
	intent := completedIntent()
	intent.Status = types.PaymentStatusPending
	_, err := s.Issue(context.Background(), intent)
	require.ErrorIs(t, err, ErrNotCompleted)
}

func TestParseToken(t *testing.T) {
	s := newTestService(t, config.FulfillmentConfig{SigningKey: "k"})
	grant, err := s.Issue(context.Background(), completedIntent())
	require.NoError(t, err)

	claims, err := s.ParseToken(grant.Token)
	require.NoError(t, err)
	require.Equal(t, "SET-20260101-ABCDEFGHJKMN", claims.IntentReference)
	require.Equal(t, "ebook-1", claims.FileID)
	require.Equal(t, "ada@example.com", claims.Subject)

	_, err = s.ParseToken(grant.Token + "x")
	require.ErrorIs(t, err, ErrInvalidToken)

	other := newTestService(t, config.FulfillmentConfig{SigningKey: "other"})
	_, err = other.ParseToken(grant.Token)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired := newTestService(t, config.FulfillmentConfig{SigningKey: "k"})
	expired.now = func() time.Time { return time.Now().Add(-100 * time.Hour) }
	old, err := expired.Issue(context.Background(), completedIntent())
	require.NoError(t, err)
	_, err = s.ParseToken(old.Token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestEphemeralKeyAndDownloadURL(t *testing.T) {
	s := newTestService(t, config.FulfillmentConfig{DownloadBaseURL: "https://files.example/d/"})
	require.Len(t, s.key, 32)
	grant, err := s.Issue(context.Background(), completedIntent())
	require.NoError(t, err)
	u := s.DownloadURL(grant)
	require.True(t, strings.HasPrefix(u, "https://files.example/d/ebook-1?token="), u)

	s.downloadBaseURL = ""
	require.Empty(t, s.DownloadURL(grant))
}

func TestAuthorize_RefundRevokesToken(t *testing.T) {
	ctx := context.Background()
	s, j := newTestServiceWithJourney(t, config.FulfillmentConfig{SigningKey: "k"})
	sub := &journey.Submission{
		IntentReference:  reference.NewIntentReference(),
		AttemptReference: reference.NewAttemptReference(),
		Customer:         models.Customer{Name: "Ada", Email: "ada@example.com"},
		FileID:           "ebook-1",
		Amount:           decimal.NewFromInt(1000),
		Currency:         "NGN",
		Rail:             types.RailPaystack,
	}
	_, _, err := j.CreateIntent(ctx, sub)
	require.NoError(t, err)
	_, err = j.CommitTerminalStatus(ctx, sub.IntentReference, types.PaymentStatusCompleted, sub.AttemptReference)
	require.NoError(t, err)

	intent, err := j.Get(ctx, sub.IntentReference)
	require.NoError(t, err)
	grant, err := s.Issue(ctx, intent)
	require.NoError(t, err)

	claims, err := s.Authorize(ctx, grant.Token)
	require.NoError(t, err)
	require.Equal(t, sub.IntentReference, claims.IntentReference)

	_, err = j.CommitTerminalStatus(ctx, sub.IntentReference, types.PaymentStatusRefunded, sub.AttemptReference)
	require.NoError(t, err)

	_, err = s.Authorize(ctx, grant.Token)
	require.ErrorIs(t, err, ErrRevoked)
	// the signature itself is still good
	_, err = s.ParseToken(grant.Token)
	require.NoError(t, err)

	_, err = s.Authorize(ctx, grant.Token+"x")
	require.ErrorIs(t, err, ErrInvalidToken)
}
