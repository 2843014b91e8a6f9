package models

import "time"

// DownloadGrant is the fulfillment record of a completed intent. At most one per intent.
type DownloadGrant struct {
	ID              string    `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	IntentReference string    `gorm:"column:intent_reference;type:varchar(64);not null;uniqueIndex" json:"intent_reference"`
	FileID          string    `gorm:"column:file_id;type:varchar(128);not null" json:"file_id"`
	CustomerEmail   string    `gorm:"column:customer_email;type:varchar(255);not null" json:"customer_email"`
	Token           string    `gorm:"column:token;type:text;not null" json:"token"`
	ExpiresAt       time.Time `gorm:"column:expires_at;not null" json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
}

func (DownloadGrant) TableName() string { return "download_grant" }
