package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"birdwatch-go/internal/core/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository defines the database operations on capture metadata
type Repository interface {
	SaveCapture(record *models.CaptureRecord) error
	DeleteCapture(id uint) error
	GetCapture(captureID string) (*models.CaptureRecord, error)
	ListRecent(limit int) ([]models.CaptureRecord, error)
	Oldest(limit int) ([]models.CaptureRecord, error)
	OlderThan(cutoff time.Time) ([]models.CaptureRecord, error)
	Count() (int64, error)
	MaxSeq() (uint64, error)
	ImagePaths() (map[string]struct{}, error)
	ForEach(batchSize int, fn func(records []models.CaptureRecord) error) error

	// Transaction runs fn against a repository bound to one transaction
	Transaction(fn func(repo Repository) error) error
}

// SQLiteRepository implements Repository on top of GORM
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository creates a repository for the given connection
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Transaction runs fn inside a database transaction, rolling back on error
func (r *SQLiteRepository) Transaction(fn func(repo Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&SQLiteRepository{db: tx})
	})
}

// SaveCapture inserts a capture row together with its detections
func (r *SQLiteRepository) SaveCapture(record *models.CaptureRecord) error {
	return r.db.Create(record).Error
}

// DeleteCapture removes a capture row and its detections
func (r *SQLiteRepository) DeleteCapture(id uint) error {
	if err := r.db.Where("capture_record_id = ?", id).Delete(&models.DetectionRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete detections of capture %d: %w", id, err)
	}
	result := r.db.Delete(&models.CaptureRecord{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete capture %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("capture %d: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// GetCapture loads a capture by its public id, nil if it does not exist
func (r *SQLiteRepository) GetCapture(captureID string) (*models.CaptureRecord, error) {
	var record models.CaptureRecord
	result := r.db.Preload("Detections", orderByPosition).Where("capture_id = ?", captureID).First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &record, nil
}

// ListRecent returns up to limit captures, newest first
func (r *SQLiteRepository) ListRecent(limit int) ([]models.CaptureRecord, error) {
	var records []models.CaptureRecord
	result := r.db.Preload("Detections", orderByPosition).
		Order("created_at DESC").Order("seq DESC").
		Limit(limit).Find(&records)
	return records, result.Error
}

// Oldest returns up to limit captures, oldest first
func (r *SQLiteRepository) Oldest(limit int) ([]models.CaptureRecord, error) {
	var records []models.CaptureRecord
	result := r.db.Order("created_at ASC").Order("seq ASC").Limit(limit).Find(&records)
	return records, result.Error
}

// OlderThan returns all captures created before cutoff, oldest first
func (r *SQLiteRepository) OlderThan(cutoff time.Time) ([]models.CaptureRecord, error) {
	var records []models.CaptureRecord
	result := r.db.Where("created_at < ?", cutoff).Order("created_at ASC").Order("seq ASC").Find(&records)
	return records, result.Error
}

// Count returns the number of stored captures
func (r *SQLiteRepository) Count() (int64, error) {
	var total int64
	err := r.db.Model(&models.CaptureRecord{}).Count(&total).Error
	return total, err
}

// MaxSeq returns the highest sequence number in use, 0 for an empty store
func (r *SQLiteRepository) MaxSeq() (uint64, error) {
	var seq int64
	row := r.db.Model(&models.CaptureRecord{}).Select("COALESCE(MAX(seq), 0)").Row()
	if err := row.Scan(&seq); err != nil {
		return 0, err
	}
	return uint64(seq), nil
}

// ImagePaths returns the set of image files referenced by metadata
func (r *SQLiteRepository) ImagePaths() (map[string]struct{}, error) {
	var paths []string
	if err := r.db.Model(&models.CaptureRecord{}).Pluck("image_path", &paths).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set, nil
}

// ForEach walks all captures oldest first in batches. Pages are taken by
// offset because FindInBatches pages by primary key, which is insertion
// order and not capture time.
func (r *SQLiteRepository) ForEach(batchSize int, fn func(records []models.CaptureRecord) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	for offset := 0; ; offset += batchSize {
		var batch []models.CaptureRecord
		err := r.db.Preload("Detections", orderByPosition).
			Order("created_at ASC").Order("seq ASC").
			Offset(offset).Limit(batchSize).
			Find(&batch).Error
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}

func orderByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// ToRecord converts a capture into its metadata rows
func ToRecord(c *models.Capture, width, height int) (*models.CaptureRecord, error) {
	record := &models.CaptureRecord{
		CaptureID:      c.ID,
		Seq:            c.Seq,
		CreatedAt:      c.CreatedAt,
		ImagePath:      c.ImagePath,
		Width:          width,
		Height:         height,
		DetectionCount: len(c.Detections),
		Detections:     make([]models.DetectionRecord, 0, len(c.Detections)),
	}
	for i, d := range c.Detections {
		box, err := json.Marshal(d.Box)
		if err != nil {
			return nil, fmt.Errorf("failed to encode bounding box: %w", err)
		}
		record.Detections = append(record.Detections, models.DetectionRecord{
			Position:    i,
			Label:       string(d.Label),
			Confidence:  d.Confidence,
			Species:     d.Species,
			BoundingBox: datatypes.JSON(box),
		})
	}
	return record, nil
}

// ToCapture converts metadata rows back into a capture
func ToCapture(record *models.CaptureRecord) models.Capture {
	c := models.Capture{
		ID:         record.CaptureID,
		Seq:        record.Seq,
		CreatedAt:  record.CreatedAt,
		ImagePath:  record.ImagePath,
		Detections: make([]models.Detection, 0, len(record.Detections)),
	}
	for _, d := range record.Detections {
		var box models.Box
		if len(d.BoundingBox) > 0 {
			if err := json.Unmarshal(d.BoundingBox, &box); err != nil {
				log.WithError(err).Debugf("Ignoring corrupt bounding box of capture %s", record.CaptureID)
				box = models.Box{}
			}
		}
		c.Detections = append(c.Detections, models.Detection{
			Label:      models.Label(d.Label),
			Confidence: d.Confidence,
			Box:        box,
			Species:    d.Species,
		})
	}
	return c
}
