package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type poolStub struct{}

func (poolStub) GetWorkerCount() int   { return 2 }
func (poolStub) ActiveJobCount() int   { return 1 }
func (poolStub) QueueLength() int      { return 3 }
func (poolStub) GetQueueCapacity() int { return 8 }
func (poolStub) Dropped() uint64       { return 5 }

func TestFormatBytes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "512 Bytes", FormatBytes(512))
	assert.Equal(t, "1.50 KB", FormatBytes(1536))
	assert.Equal(t, "2.00 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "1.00 GB", FormatBytes(1024*1024*1024))
}

func TestGetSystemStatsIncludesPool(t *testing.T) {
	stats := GetSystemStats(poolStub{})
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 1, stats.ActiveJobs)
	assert.Equal(t, 3, stats.QueueLength)
	assert.Equal(t, 8, stats.QueueCapacity)
	assert.EqualValues(t, 5, stats.DroppedFrames)
	assert.Positive(t, stats.NumCPU)
	assert.NotEmpty(t, stats.MemoryAllocHR)
}

func TestGetSystemStatsWithoutPool(t *testing.T) {
	stats := GetSystemStats(nil)
	assert.Zero(t, stats.WorkerCount)
	assert.Positive(t, stats.GoRoutines)
}
