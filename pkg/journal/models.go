package journal

import (
	"time"

	"gorm.io/gorm"
)

// CallRecord represents one completed (or failed) fax call
type CallRecord struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	Station      string    `gorm:"index;size:40;not null" json:"station"`
	Direction    string    `gorm:"size:8;not null" json:"direction"` // send or receive
	LocalIdent   string    `gorm:"size:20" json:"local_ident"`
	FarIdent     string    `gorm:"index;size:20" json:"far_ident"`
	BitRate      int       `gorm:"not null" json:"bit_rate"`
	ECM          bool      `json:"ecm"`
	Pages        int       `gorm:"default:0" json:"pages"`
	Status       string    `gorm:"size:80" json:"status"`
	OK           bool      `gorm:"index" json:"ok"`
	StartTime    time.Time `gorm:"index;not null" json:"start_time"`
	EndTime      time.Time `gorm:"not null" json:"end_time"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName specifies the table name for CallRecord
func (CallRecord) TableName() string {
	return "calls"
}

// BeforeCreate hook to ensure timestamps are set
func (c *CallRecord) BeforeCreate(tx *gorm.DB) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.StartTime.IsZero() {
		c.StartTime = time.Now()
	}
	if c.EndTime.IsZero() {
		c.EndTime = time.Now()
	}
	return nil
}

// Duration returns the call duration in seconds
func (c *CallRecord) Duration() float64 {
	return c.EndTime.Sub(c.StartTime).Seconds()
}

// PageRecord represents one transferred page within a call
type PageRecord struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	CallID      uint      `gorm:"index;not null" json:"call_id"`
	PageNumber  int       `gorm:"not null" json:"page_number"`
	Width       int       `json:"width"`
	Rows        int       `json:"rows"`
	BadRows     int       `json:"bad_rows"`
	XResolution int       `json:"x_resolution"`
	YResolution int       `json:"y_resolution"`
	Quality     string    `gorm:"size:8" json:"quality"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for PageRecord
func (PageRecord) TableName() string {
	return "pages"
}
