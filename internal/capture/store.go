// Package capture persists motion events as a JPEG image plus metadata rows
// and keeps the number of stored captures bounded.
package capture

import (
	"fmt"
	"image/jpeg"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"birdwatch-go/config"
	"birdwatch-go/internal/core/models"
	"birdwatch-go/internal/db/repository"
	"birdwatch-go/internal/errors"
	"birdwatch-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

const (
	tempPrefix  = ".capture-"
	evictPrefix = ".evict-"
	imageExt    = ".jpg"
)

// Store writes captures to a directory and their metadata to the repository.
//
// All mutations hold the write lock for the whole file + transaction sequence,
// readers hold the read lock, so a reader never sees an image without its
// metadata or metadata without its image.
type Store struct {
	dir         string
	repo        repository.Repository
	maxCaptures int
	quality     int

	mu  sync.RWMutex
	seq uint64
}

// NewStore opens the store in dir and resumes the id sequence from the repository
func NewStore(dir string, repo repository.Repository, cfg config.CaptureConfig) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storageError(err, "open").Build()
	}
	seq, err := repo.MaxSeq()
	if err != nil {
		return nil, storageError(fmt.Errorf("failed to read capture sequence: %w", err), "open").Build()
	}
	quality := cfg.JPEGQuality
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}
	log.WithFields(log.Fields{
		"dir":          dir,
		"max_captures": cfg.MaxCaptures,
		"next_seq":     seq + 1,
	}).Info("Capture store opened")

	return &Store{
		dir:         dir,
		repo:        repo,
		maxCaptures: cfg.MaxCaptures,
		quality:     quality,
		seq:         seq,
	}, nil
}

// Dir returns the directory holding the capture images
func (s *Store) Dir() string {
	return s.dir
}

// Record persists frame and detections as one capture and evicts the oldest
// captures if the store is over capacity. On error nothing is persisted.
func (s *Store) Record(frame models.Frame, detections []models.Detection, ts time.Time) (*models.Capture, error) {
	if frame.Image == nil {
		return nil, storageError(fmt.Errorf("frame has no image"), "record").Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := NewID(ts, s.seq)
	c := &models.Capture{
		ID:         id,
		Seq:        s.seq,
		CreatedAt:  ts.UTC(),
		ImagePath:  id + imageExt,
		Detections: append([]models.Detection(nil), detections...),
	}

	tmp, err := s.writeTemp(frame)
	if err != nil {
		return nil, storageError(err, "record").Context("capture_id", id).Build()
	}

	final := filepath.Join(s.dir, c.ImagePath)
	renamed := false
	err = s.repo.Transaction(func(tx repository.Repository) error {
		record, err := repository.ToRecord(c, frame.Width, frame.Height)
		if err != nil {
			return err
		}
		if err := tx.SaveCapture(record); err != nil {
			return fmt.Errorf("failed to save capture metadata: %w", err)
		}
		if err := os.Rename(tmp, final); err != nil {
			return fmt.Errorf("failed to move capture image into place: %w", err)
		}
		renamed = true
		return nil
	})
	if err != nil {
		removeQuietly(tmp)
		if renamed {
			removeQuietly(final)
		}
		return nil, storageError(err, "record").Context("capture_id", id).Build()
	}

	if _, err := s.evictLocked(); err != nil {
		log.WithError(err).Warn("Capture eviction failed, will retry after the next capture")
	}
	return c, nil
}

// ListRecent returns up to limit captures, most recent first
func (s *Store) ListRecent(limit int) ([]models.Capture, error) {
	if limit <= 0 {
		return []models.Capture{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.repo.ListRecent(limit)
	if err != nil {
		return nil, storageError(err, "list").Build()
	}
	captures := make([]models.Capture, 0, len(records))
	for i := range records {
		captures = append(captures, repository.ToCapture(&records[i]))
	}
	return captures, nil
}

// Get returns one capture, nil if it does not exist
func (s *Store) Get(id string) (*models.Capture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := s.repo.GetCapture(id)
	if err != nil {
		return nil, storageError(err, "get").Context("capture_id", id).Build()
	}
	if record == nil {
		return nil, nil
	}
	c := repository.ToCapture(record)
	return &c, nil
}

// Count returns the number of stored captures
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, err := s.repo.Count()
	if err != nil {
		return 0, storageError(err, "count").Build()
	}
	return int(n), nil
}

// ForEach calls fn for every stored capture, oldest first
func (s *Store) ForEach(fn func(c models.Capture) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.repo.ForEach(100, func(records []models.CaptureRecord) error {
		for i := range records {
			if err := fn(repository.ToCapture(&records[i])); err != nil {
				return err
			}
		}
		return nil
	})
}

// EvictIfOverCapacity deletes the oldest captures until at most the configured
// maximum remain. It returns the number of evicted captures.
func (s *Store) EvictIfOverCapacity() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked()
}

func (s *Store) evictLocked() (int, error) {
	count, err := s.repo.Count()
	if err != nil {
		return 0, storageError(err, "evict").Build()
	}
	excess := int(count) - s.maxCaptures
	if excess <= 0 {
		return 0, nil
	}

	oldest, err := s.repo.Oldest(excess)
	if err != nil {
		return 0, storageError(err, "evict").Build()
	}
	evicted := 0
	for _, record := range oldest {
		if err := s.deleteLocked(record); err != nil {
			return evicted, storageError(err, "evict").Context("capture_id", record.CaptureID).Build()
		}
		evicted++
	}
	log.Debugf("Evicted %d capture(s), store limit is %d", evicted, s.maxCaptures)
	return evicted, nil
}

// PurgeOlderThan deletes every capture created before cutoff
func (s *Store) PurgeOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.repo.OlderThan(cutoff.UTC())
	if err != nil {
		return 0, storageError(err, "purge").Build()
	}
	deleted := 0
	for _, record := range records {
		if err := s.deleteLocked(record); err != nil {
			return deleted, storageError(err, "purge").Context("capture_id", record.CaptureID).Build()
		}
		deleted++
	}
	return deleted, nil
}

// deleteLocked removes image and metadata of one capture. The image is moved
// aside first and restored if the metadata delete fails.
func (s *Store) deleteLocked(record models.CaptureRecord) error {
	path := filepath.Join(s.dir, record.ImagePath)
	aside := filepath.Join(s.dir, evictPrefix+record.ImagePath)

	moved := false
	if err := os.Rename(path, aside); err == nil {
		moved = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to move image %s aside: %w", record.ImagePath, err)
	}

	err := s.repo.Transaction(func(tx repository.Repository) error {
		return tx.DeleteCapture(record.ID)
	})
	if err != nil {
		if moved {
			if rerr := os.Rename(aside, path); rerr != nil {
				log.WithError(rerr).Errorf("Failed to restore image %s", record.ImagePath)
			}
		}
		return err
	}

	if moved {
		removeQuietly(aside)
	}
	log.WithField("capture_id", record.CaptureID).Debug("Capture deleted")
	return nil
}

// SweepOrphans removes image files without metadata, metadata without an image
// and leftovers of interrupted writes. It returns the number of removed items.
func (s *Store) SweepOrphans() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known, err := s.repo.ImagePaths()
	if err != nil {
		return 0, storageError(err, "sweep").Build()
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, storageError(err, "sweep").Build()
	}

	removed := 0
	onDisk := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, imageExt) {
			continue
		}
		if strings.HasPrefix(name, tempPrefix) || strings.HasPrefix(name, evictPrefix) {
			removeQuietly(filepath.Join(s.dir, name))
			removed++
			continue
		}
		if _, ok := known[name]; !ok {
			log.Infof("Removing orphan capture image %s", name)
			removeQuietly(filepath.Join(s.dir, name))
			removed++
			continue
		}
		onDisk[name] = struct{}{}
	}

	for name := range known {
		if _, ok := onDisk[name]; ok {
			continue
		}
		id := strings.TrimSuffix(name, imageExt)
		record, err := s.repo.GetCapture(id)
		if err != nil || record == nil {
			continue
		}
		log.Infof("Removing capture %s whose image is missing", id)
		if err := s.repo.Transaction(func(tx repository.Repository) error {
			return tx.DeleteCapture(record.ID)
		}); err != nil {
			return removed, storageError(err, "sweep").Context("capture_id", id).Build()
		}
		removed++
	}
	return removed, nil
}

// ImageFile returns the absolute path of the image of c
func (s *Store) ImageFile(c models.Capture) string {
	return filepath.Join(s.dir, c.ImagePath)
}

func (s *Store) writeTemp(frame models.Frame) (string, error) {
	f, err := os.CreateTemp(s.dir, tempPrefix+"*"+imageExt)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	name := f.Name()

	if err := jpeg.Encode(f, frame.Image, &jpeg.Options{Quality: s.quality}); err != nil {
		f.Close()
		removeQuietly(name)
		return "", fmt.Errorf("failed to encode capture image: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		removeQuietly(name)
		return "", fmt.Errorf("failed to sync capture image: %w", err)
	}
	if err := f.Close(); err != nil {
		removeQuietly(name)
		return "", fmt.Errorf("failed to close capture image: %w", err)
	}
	return name, nil
}

// NewID builds a capture id from the timestamp and the store sequence.
// The sequence keeps ids unique when several captures share a second.
func NewID(ts time.Time, seq uint64) string {
	return fmt.Sprintf("motion_%s_%06d", timezone.Format(ts, "20060102_150405"), seq)
}

func storageError(err error, op string) *errors.ErrorBuilder {
	return errors.New(err).Category(errors.CategoryStorage).Component("capture").Context("op", op)
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.WithError(err).Warnf("Failed to remove %s", path)
	}
}
