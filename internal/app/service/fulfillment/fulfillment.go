// Package fulfillment issues the download grant for a completed purchase.
package fulfillment

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fatflowers/settle/internal/app/service/journey"
	"github.com/fatflowers/settle/internal/models"
	"github.com/fatflowers/settle/pkg/config"
	"github.com/fatflowers/settle/pkg/logctx"
	"github.com/fatflowers/settle/pkg/metrics"
	"github.com/fatflowers/settle/pkg/reference"
	"github.com/fatflowers/settle/pkg/types"
	"github.com/golang-jwt/jwt"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrNotCompleted = errors.New("intent is not completed")
	ErrInvalidToken = errors.New("invalid download token")
	ErrRevoked      = errors.New("download grant revoked")
)

// IntentReader loads the intent a token was issued for. *journey.Journey implements it.
type IntentReader interface {
	Get(ctx context.Context, intentRef string) (*models.PurchaseIntent, error)
}

// Claims is the payload of a download token.
type Claims struct {
	IntentReference string `json:"intent_reference"`
	FileID          string `json:"file_id"`
	jwt.StandardClaims
}

type Service struct {
	grants          journey.GrantStore
	intents         IntentReader
	key             []byte
	ttl             time.Duration
	downloadBaseURL string
	log             *zap.SugaredLogger
	now             func() time.Time
}

func NewService(j *journey.Journey, cfg *config.Config, log *zap.SugaredLogger) (*Service, error) {
	key := []byte(cfg.Fulfillment.SigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		log.Warnw("fulfillment signing key not configured, using an ephemeral key; tokens will not survive a restart")
	}
	ttl := cfg.Fulfillment.GrantTTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Service{
		grants:          j.Backend(),
		intents:         j,
		key:             key,
		ttl:             ttl,
		downloadBaseURL: cfg.Fulfillment.DownloadBaseURL,
		log:             log,
		now:             time.Now,
	}, nil
}

// Issue returns the intent's download grant, creating it on first call.
// Calling it again for the same intent returns the stored grant unchanged.
func (s *Service) Issue(ctx context.Context, intent *models.PurchaseIntent) (*models.DownloadGrant, error) {
	if intent.Status != types.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCompleted, intent.IntentReference, intent.Status)
	}
	now := s.now()
	expires := now.Add(s.ttl)
	token, err := s.sign(intent, now, expires)
	if err != nil {
		metrics.IncFulfillment("error")
		return nil, err
	}
	grant, created, err := s.grants.InsertGrant(ctx, &models.DownloadGrant{
		ID:              reference.NewID(),
		IntentReference: intent.IntentReference,
		FileID:          intent.FileID,
		CustomerEmail:   intent.Customer.Email,
		Token:           token,
		ExpiresAt:       expires,
		CreatedAt:       now,
	})
	if err != nil {
		metrics.IncFulfillment("error")
		return nil, fmt.Errorf("store grant: %w", err)
	}
	if created {
		metrics.IncFulfillment("issued")
		logctx.FromCtx(ctx, s.log).Infow("fulfillment_grant_issued",
			"intent_reference", intent.IntentReference, "file_id", intent.FileID, "expires_at", expires)
	} else {
		metrics.IncFulfillment("existing")
	}
	return grant, nil
}

func (s *Service) Get(ctx context.Context, intentRef string) (*models.DownloadGrant, error) {
	return s.grants.GetGrant(ctx, intentRef)
}

func (s *Service) sign(intent *models.PurchaseIntent, now, expires time.Time) (string, error) {
	claims := &Claims{
		IntentReference: intent.IntentReference,
		FileID:          intent.FileID,
		StandardClaims: jwt.StandardClaims{
			Id:        reference.NewID(),
			Subject:   strings.ToLower(intent.Customer.Email),
			IssuedAt:  now.Unix(),
			ExpiresAt: expires.Unix(),
			Issuer:    "settle",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}
	return token, nil
}

// ParseToken validates a download token and returns its claims.
func (s *Service) ParseToken(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Authorize validates a download token and checks that its purchase still
// stands. Refunding an intent revokes every token issued for it.
func (s *Service) Authorize(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.ParseToken(token)
	if err != nil {
		return nil, err
	}
	intent, err := s.intents.Get(ctx, claims.IntentReference)
	if err != nil {
		return nil, fmt.Errorf("load intent: %w", err)
	}
	if intent.Status != types.PaymentStatusCompleted {
		logctx.FromCtx(ctx, s.log).Infow("fulfillment_grant_revoked",
			"intent_reference", intent.IntentReference, "status", intent.Status)
		return nil, fmt.Errorf("%w: %s is %s", ErrRevoked, intent.IntentReference, intent.Status)
	}
	return claims, nil
}

// DownloadURL is where the file collaborator serves the grant, empty when
// no download base URL is configured.
func (s *Service) DownloadURL(grant *models.DownloadGrant) string {
	if s.downloadBaseURL == "" || grant == nil {
		return ""
	}
	return strings.TrimRight(s.downloadBaseURL, "/") + "/" + url.PathEscape(grant.FileID) + "?token=" + url.QueryEscape(grant.Token)
}

var Module = fx.Options(
	fx.Provide(NewService),
)
