package models

import (
	"time"

	"github.com/fatflowers/settle/pkg/types"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ClientSnapshot captures where an attempt came from.
type ClientSnapshot struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Device    string `json:"device,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Attempt is one gateway initiation within a purchase intent. Only
// ProviderReference and RedirectURL are written after insert, once.
type Attempt struct {
	ID               string          `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	AttemptReference string          `gorm:"column:attempt_reference;type:varchar(64);not null;uniqueIndex" json:"attempt_reference"`
	IntentReference  string          `gorm:"column:intent_reference;type:varchar(64);not null;index:idx_attempt_intent_seq,priority:1" json:"intent_reference"`
	Seq              int             `gorm:"column:seq;not null;index:idx_attempt_intent_seq,priority:2" json:"seq"`
	Rail             types.Rail      `gorm:"column:rail;type:varchar(32);not null" json:"rail"`
	Amount           decimal.Decimal `gorm:"column:amount;type:decimal(20,8);not null" json:"amount"`
	Currency         string          `gorm:"column:currency;type:varchar(16);not null" json:"currency"`

	Client            datatypes.JSONType[ClientSnapshot] `gorm:"column:client" json:"client"`
	ProviderReference *string                            `gorm:"column:provider_reference;type:varchar(128);index" json:"provider_reference"`
	RedirectURL       string                             `gorm:"column:redirect_url;type:text" json:"redirect_url"`
	StartedAt         time.Time                          `gorm:"column:started_at;not null" json:"started_at"`
	CreatedAt         time.Time                          `json:"created_at"`
	UpdatedAt         time.Time                          `json:"updated_at"`
}

func (Attempt) TableName() string { return "attempt" }

func (a *Attempt) Initiated() bool {
	return a != nil && a.ProviderReference != nil
}
