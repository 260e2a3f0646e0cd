package timezone

import (
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	mu              sync.RWMutex
	currentLocation *time.Location
)

// Initialize sets the display timezone. An empty name falls back to the TZ
// environment variable and then to UTC.
func Initialize(name string) {
	if name == "" {
		name = os.Getenv("TZ")
	}
	if name == "" {
		name = "UTC"
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", name, err)
		loc = time.UTC
	} else {
		log.Infof("Timezone set to %s", name)
	}

	mu.Lock()
	currentLocation = loc
	mu.Unlock()
}

// Location returns the configured timezone, UTC until Initialize was called
func Location() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	if currentLocation == nil {
		return time.UTC
	}
	return currentLocation
}

// Format formats t in the configured timezone
func Format(t time.Time, layout string) string {
	return t.In(Location()).Format(layout)
}
