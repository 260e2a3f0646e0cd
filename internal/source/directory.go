package source

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"birdwatch-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// DirectorySource replays the jpg and png files of a directory in name order.
// Every Open starts from the first file again.
type DirectorySource struct {
	dir      string
	interval time.Duration
	now      func() time.Time
}

// NewDirectorySource creates a source that emits one image per interval
func NewDirectorySource(dir string, interval time.Duration) *DirectorySource {
	return &DirectorySource{dir: dir, interval: interval, now: time.Now}
}

// WithClock replaces the clock used to stamp frames
func (s *DirectorySource) WithClock(now func() time.Time) *DirectorySource {
	s.now = now
	return s
}

// Name implements Source
func (s *DirectorySource) Name() string {
	return "dir:" + s.dir
}

// Open implements Source
func (s *DirectorySource) Open(ctx context.Context) (Stream, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, Disconnected(s.Name(), err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, Disconnected(s.Name(), fmt.Errorf("no images in %s", s.dir))
	}
	log.Infof("Replaying %d images from %s", len(files), s.dir)
	return &dirStream{src: s, files: files}, nil
}

type dirStream struct {
	src   *DirectorySource
	files []string
	pos   int
}

func (d *dirStream) Next(ctx context.Context) (models.Frame, error) {
	if d.pos >= len(d.files) {
		return models.Frame{}, io.EOF
	}
	if d.pos > 0 && d.src.interval > 0 {
		timer := time.NewTimer(d.src.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.Frame{}, ctx.Err()
		case <-timer.C:
		}
	}

	path := d.files[d.pos]
	d.pos++

	f, err := os.Open(path)
	if err != nil {
		return models.Frame{}, CorruptFrame(err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return models.Frame{}, CorruptFrame(fmt.Errorf("%s: %w", filepath.Base(path), err))
	}
	return models.NewFrame(d.src.now(), img), nil
}

func (d *dirStream) Close() error {
	return nil
}
