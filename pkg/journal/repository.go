package journal

import (
	"time"

	"gorm.io/gorm"
)

// CallRepository handles call journal database operations
type CallRepository struct {
	db *gorm.DB
}

// NewCallRepository creates a new call repository
func NewCallRepository(db *gorm.DB) *CallRepository {
	return &CallRepository{db: db}
}

// Create adds a new call record
func (r *CallRepository) Create(call *CallRecord) error {
	return r.db.Create(call).Error
}

// AddPage attaches a page record to a call
func (r *CallRepository) AddPage(page *PageRecord) error {
	return r.db.Create(page).Error
}

// GetRecent retrieves the most recent N calls
func (r *CallRepository) GetRecent(limit int) ([]CallRecord, error) {
	var calls []CallRecord
	err := r.db.Order("start_time DESC").Limit(limit).Find(&calls).Error
	return calls, err
}

// GetRecentPaginated retrieves calls with pagination
func (r *CallRepository) GetRecentPaginated(page, perPage int) ([]CallRecord, int64, error) {
	var calls []CallRecord
	var total int64

	if err := r.db.Model(&CallRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	err := r.db.Order("start_time DESC").
		Offset(offset).
		Limit(perPage).
		Find(&calls).Error

	return calls, total, err
}

// GetByFarIdent retrieves calls exchanged with a specific remote station
func (r *CallRepository) GetByFarIdent(ident string, limit int) ([]CallRecord, error) {
	var calls []CallRecord
	err := r.db.Where("far_ident = ?", ident).
		Order("start_time DESC").
		Limit(limit).
		Find(&calls).Error
	return calls, err
}

// GetByTimeRange retrieves calls within a time range
func (r *CallRepository) GetByTimeRange(start, end time.Time, limit int) ([]CallRecord, error) {
	var calls []CallRecord
	err := r.db.Where("start_time BETWEEN ? AND ?", start, end).
		Order("start_time DESC").
		Limit(limit).
		Find(&calls).Error
	return calls, err
}

// GetPages retrieves the page records of a call
func (r *CallRepository) GetPages(callID uint) ([]PageRecord, error) {
	var pages []PageRecord
	err := r.db.Where("call_id = ?", callID).
		Order("page_number ASC").
		Find(&pages).Error
	return pages, err
}

// FailureCount counts failed calls since a point in time
func (r *CallRepository) FailureCount(since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&CallRecord{}).
		Where("ok = ? AND start_time >= ?", false, since).
		Count(&count).Error
	return count, err
}
