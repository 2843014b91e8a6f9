package models

import (
	"time"

	"github.com/fatflowers/settle/pkg/types"
	"gorm.io/datatypes"
)

// AttemptEvent is an immutable fact in a purchase journey. Rows are only ever inserted.
type AttemptEvent struct {
	ID               string              `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	IntentReference  string              `gorm:"column:intent_reference;type:varchar(64);not null;index:idx_event_intent,priority:1" json:"intent_reference"`
	AttemptReference string              `gorm:"column:attempt_reference;type:varchar(64);not null;index" json:"attempt_reference"`
	Seq              int64               `gorm:"column:seq;not null;index:idx_event_intent,priority:2" json:"seq"`
	Type             types.EventType     `gorm:"column:type;type:varchar(64);not null" json:"type"`
	Source           types.EventSource   `gorm:"column:source;type:varchar(32);not null" json:"source"`
	Status           types.PaymentStatus `gorm:"column:status;type:varchar(32)" json:"status,omitempty"`
	ProviderEventID  string              `gorm:"column:provider_event_id;type:varchar(128)" json:"provider_event_id,omitempty"`
	TraceID          string              `gorm:"column:trace_id;type:varchar(128)" json:"trace_id,omitempty"`
	Detail           datatypes.JSONMap   `gorm:"column:detail" json:"detail,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

func (AttemptEvent) TableName() string { return "attempt_event" }
