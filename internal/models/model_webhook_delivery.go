package models

import (
	"time"

	"github.com/fatflowers/settle/pkg/types"
	"gorm.io/datatypes"
)

type WebhookDeliveryStatus string

const (
	WebhookDeliveryStatusReceived     WebhookDeliveryStatus = "received"
	WebhookDeliveryStatusHandled      WebhookDeliveryStatus = "handled"
	WebhookDeliveryStatusHandleFailed WebhookDeliveryStatus = "handle_failed"
)

// WebhookDelivery records every authenticated provider notification, keyed by
// the provider's own event id so redeliveries are recognised.
type WebhookDelivery struct {
	ID               string                `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	Rail             types.Rail            `gorm:"column:rail;type:varchar(32);not null;uniqueIndex:uniq_rail_provider_event,priority:1" json:"rail"`
	ProviderEventID  string                `gorm:"column:provider_event_id;type:varchar(128);not null;uniqueIndex:uniq_rail_provider_event,priority:2" json:"provider_event_id"`
	AttemptReference string                `gorm:"column:attempt_reference;type:varchar(64);index" json:"attempt_reference"`
	TraceID          string                `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	Data             datatypes.JSON        `gorm:"column:data" json:"data"`
	Result           *datatypes.JSON       `gorm:"column:result" json:"result"`
	Status           WebhookDeliveryStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Attempts         int                   `gorm:"column:attempts;not null;default:1" json:"attempts"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

func (WebhookDelivery) TableName() string { return "webhook_delivery" }
