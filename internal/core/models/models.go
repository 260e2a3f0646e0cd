package models

import (
	"image"
	"time"

	"gorm.io/datatypes"
)

// Label is the class name reported by a detection backend
type Label string

const (
	LabelPerson Label = "person"
	LabelDog    Label = "dog"
	LabelBird   Label = "bird"
)

// KnownLabels is the stable label set every counter map is seeded with
var KnownLabels = []Label{LabelPerson, LabelDog, LabelBird}

// Box is an axis-aligned bounding box in source pixel coordinates
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the box area in pixels
func (b Box) Area() int {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// BoxFromCorners builds a box from two opposite corners given in any order
func BoxFromCorners(x1, y1, x2, y2 int) Box {
	return Box{
		X:      min(x1, x2),
		Y:      min(y1, y2),
		Width:  max(x1, x2) - min(x1, x2),
		Height: max(y1, y2) - min(y1, y2),
	}
}

// Rect converts the box into an image.Rectangle
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Detection is one labelled object found in a frame
type Detection struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`        // 0..1
	Box        Box     `json:"box"`
	Species    string  `json:"species,omitempty"` // only for birds, empty = unknown
}

// Frame is a single timestamped image handed over by a frame source.
// A frame is never modified after it was produced.
type Frame struct {
	Timestamp time.Time
	Image     image.Image
	Width     int
	Height    int
}

// NewFrame wraps an image and records its resolution
func NewFrame(ts time.Time, img image.Image) Frame {
	f := Frame{Timestamp: ts, Image: img}
	if img != nil {
		b := img.Bounds()
		f.Width, f.Height = b.Dx(), b.Dy()
	}
	return f
}

// Capture is one persisted motion event: an image plus the detections found in it
type Capture struct {
	ID         string      `json:"id"`
	Seq        uint64      `json:"seq"`
	CreatedAt  time.Time   `json:"created_at"`
	ImagePath  string      `json:"image_path"` // relative to the capture directory
	Detections []Detection `json:"detections"`
}

// DetectionInfo summarises the detections of a capture for display
type DetectionInfo struct {
	HasPerson   bool   `json:"has_person"`
	HasDog      bool   `json:"has_dog"`
	HasBird     bool   `json:"has_bird"`
	BirdSpecies string `json:"bird_species,omitempty"`
}

// Info derives the display flags of the capture
func (c Capture) Info() DetectionInfo {
	var info DetectionInfo
	for _, d := range c.Detections {
		switch d.Label {
		case LabelPerson:
			info.HasPerson = true
		case LabelDog:
			info.HasDog = true
		case LabelBird:
			info.HasBird = true
			if info.BirdSpecies == "" && d.Species != "" {
				info.BirdSpecies = d.Species
			}
		}
	}
	return info
}

// CaptureRecord is the metadata row of a capture
type CaptureRecord struct {
	ID             uint      `gorm:"primaryKey"`
	CaptureID      string    `gorm:"uniqueIndex;not null"`
	Seq            uint64    `gorm:"index;not null"`
	CreatedAt      time.Time `gorm:"index;not null"`
	ImagePath      string    `gorm:"uniqueIndex;not null"`
	Width          int
	Height         int
	DetectionCount int
	Detections     []DetectionRecord `gorm:"foreignKey:CaptureRecordID;constraint:OnDelete:CASCADE;"`
}

// DetectionRecord is one detection row belonging to a capture
type DetectionRecord struct {
	ID              uint           `gorm:"primaryKey"`
	CaptureRecordID uint           `gorm:"index;not null"`
	Position        int            // order inside the capture
	Label           string         `gorm:"index;not null"`
	Confidence      float64
	Species         string         `gorm:"index"`
	BoundingBox     datatypes.JSON `gorm:"type:json"`
}
