package models

import (
	"strings"
	"time"

	"github.com/fatflowers/settle/pkg/types"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Customer identifies the buyer of a purchase intent.
type Customer struct {
	Name  string `gorm:"column:name;type:varchar(255)" json:"name"`
	Email string `gorm:"column:email;type:varchar(255);not null;index" json:"email"`
	Phone string `gorm:"column:phone;type:varchar(64)" json:"phone"`
}

// SameIdentity reports whether two submissions belong to the same buyer.
// Name and phone may be corrected between retries.
func (c Customer) SameIdentity(o Customer) bool {
	return strings.EqualFold(strings.TrimSpace(c.Email), strings.TrimSpace(o.Email))
}

// PurchaseIntent 购买意图，同一结账会话的所有重试共用一条记录
type PurchaseIntent struct {
	ID              string              `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	IntentReference string              `gorm:"column:intent_reference;type:varchar(64);not null;uniqueIndex" json:"intent_reference"`
	Customer        Customer            `gorm:"embedded;embeddedPrefix:customer_" json:"customer"`
	FileID          string              `gorm:"column:file_id;type:varchar(128);not null;index" json:"file_id"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:decimal(20,8);not null" json:"amount"`
	Currency        string              `gorm:"column:currency;type:varchar(16);not null" json:"currency"`
	Rail            types.Rail          `gorm:"column:rail;type:varchar(32);not null" json:"rail"`
	Status          types.PaymentStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	// CurrentAttemptReference 最近一次网关调用
	CurrentAttemptReference string `gorm:"column:current_attempt_reference;type:varchar(64);not null" json:"current_attempt_reference"`
	RetryCount              int    `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	// ClientIPs 去重后的客户端 IP
	ClientIPs datatypes.JSONSlice[string] `gorm:"column:client_ips" json:"client_ips"`

	// Completion snapshot, written once on the first transition to completed.
	CompletedAmount           decimal.NullDecimal `gorm:"column:completed_amount;type:decimal(20,8)" json:"completed_amount"`
	CompletedAttemptReference *string             `gorm:"column:completed_attempt_reference;type:varchar(64)" json:"completed_attempt_reference"`
	CompletedAt               *time.Time          `gorm:"column:completed_at" json:"completed_at"`

	FulfilledAt *time.Time `gorm:"column:fulfilled_at" json:"fulfilled_at"`
	RefundedAt  *time.Time `gorm:"column:refunded_at" json:"refunded_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (PurchaseIntent) TableName() string { return "purchase_intent" }

// AddClientIP records ip once. It reports whether the set changed.
func (p *PurchaseIntent) AddClientIP(ip string) bool {
	if ip == "" {
		return false
	}
	for _, it := range p.ClientIPs {
		if it == ip {
			return false
		}
	}
	p.ClientIPs = append(p.ClientIPs, ip)
	return true
}

// NeedsFulfillment reports a completed intent whose grant was never recorded.
func (p *PurchaseIntent) NeedsFulfillment() bool {
	return p != nil && p.Status == types.PaymentStatusCompleted && p.FulfilledAt == nil
}
