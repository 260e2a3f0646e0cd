package utils

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"
)

var (
	lastCPUTime        time.Time
	lastCPUUsage       float64
	cpuUsageMutex      sync.Mutex
	cpuUsageSampleRate = 500 * time.Millisecond
)

// PoolStats is the view of the inference worker pool shown in the system stats
type PoolStats interface {
	GetWorkerCount() int
	ActiveJobCount() int
	QueueLength() int
	GetQueueCapacity() int
	Dropped() uint64
}

// SystemStats holds current host and process statistics
type SystemStats struct {
	NumCPU        int     `json:"num_cpu"`
	GoRoutines    int     `json:"go_routines"`
	CPUUsage      float64 `json:"cpu_usage"`
	MemoryUsage   float64 `json:"memory_usage"` // percent of host memory in use
	MemoryAlloc   uint64  `json:"memory_alloc"`
	MemorySys     uint64  `json:"memory_sys"`
	MemoryAllocHR string  `json:"memory_alloc_human"`

	WorkerCount   int    `json:"worker_count"`
	ActiveJobs    int    `json:"active_jobs"`
	QueueLength   int    `json:"queue_length"`
	QueueCapacity int    `json:"queue_capacity"`
	DroppedFrames uint64 `json:"dropped_frames"`

	Timestamp time.Time `json:"timestamp"`
}

// FormatBytes formats a byte count as KB, MB or GB
func FormatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d Bytes", bytes)
	}
}

// GetCPUUsage returns the total CPU usage in percent, sampled at most every 500ms
func GetCPUUsage() float64 {
	cpuUsageMutex.Lock()
	defer cpuUsageMutex.Unlock()

	if !lastCPUTime.IsZero() && time.Since(lastCPUTime) < cpuUsageSampleRate {
		return lastCPUUsage
	}

	percentages, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil {
		log.Warnf("CPU usage measurement failed: %v", err)
		return 0
	}

	var usage float64
	if len(percentages) > 0 {
		usage = percentages[0]
	}

	lastCPUTime = time.Now()
	lastCPUUsage = usage
	return usage
}

// GetSystemStats collects the current statistics. pool may be nil.
func GetSystemStats(pool PoolStats) *SystemStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := &SystemStats{
		NumCPU:        runtime.NumCPU(),
		GoRoutines:    runtime.NumGoroutine(),
		CPUUsage:      GetCPUUsage(),
		MemoryAlloc:   memStats.Alloc,
		MemorySys:     memStats.Sys,
		MemoryAllocHR: FormatBytes(memStats.Alloc),
		Timestamp:     time.Now(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryUsage = vm.UsedPercent
	} else {
		log.Debugf("Host memory measurement failed: %v", err)
	}

	if pool != nil {
		stats.WorkerCount = pool.GetWorkerCount()
		stats.ActiveJobs = pool.ActiveJobCount()
		stats.QueueLength = pool.QueueLength()
		stats.QueueCapacity = pool.GetQueueCapacity()
		stats.DroppedFrames = pool.Dropped()
	}

	return stats
}
