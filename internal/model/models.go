package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model fields shared by all models
type Base struct {
	UUID      string    `json:"uuid" gorm:"type:varchar(36);primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none was set
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.UUID == "" {
		b.UUID = uuid.New().String()
	}
	return nil
}

// AggregatePackage is a sealed logistics unit and the product codes packed in it
type AggregatePackage struct {
	Base
	TaskID    string           `json:"task_id" gorm:"column:task_id;index"`
	SSCC      string           `json:"sscc" gorm:"column:sscc;uniqueIndex;not null"`
	RawValue  string           `json:"raw_value" gorm:"column:raw_value"`
	Timestamp time.Time        `json:"timestamp"`
	Codes     []AggregatedCode `json:"codes" gorm:"foreignKey:PackageID;constraint:OnDelete:CASCADE"`
}

// AggregatedCode is one product code committed into a package
type AggregatedCode struct {
	Base
	PackageID    string `json:"package_id" gorm:"column:package_id;type:varchar(36);index"`
	Position     int    `json:"position"`
	FullCode     string `json:"full_code" gorm:"column:full_code;uniqueIndex;not null"`
	GTIN         string `json:"gtin" gorm:"column:gtin"`
	SerialNumber string `json:"serial_number" gorm:"column:serial_number"`
}

// ScannedCode is the persisted record of a code held in a session's scan buffer
type ScannedCode struct {
	Base
	SessionID   string    `json:"session_id" gorm:"column:session_id;uniqueIndex:idx_scanned_session_raw"`
	RawValue    string    `json:"raw_value" gorm:"column:raw_value;uniqueIndex:idx_scanned_session_raw"`
	Symbology   string    `json:"symbology"`
	ContentType string    `json:"content_type"`
	GS1Data     []byte    `json:"gs1_data"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// TaskRecord keeps the task of an open session so it can be restored
type TaskRecord struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Payload   []byte    `json:"payload"`
	StartedAt time.Time `json:"started_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All returns every model managed by migrations
func All() []interface{} {
	return []interface{}{
		&AggregatePackage{},
		&AggregatedCode{},
		&ScannedCode{},
		&TaskRecord{},
	}
}
