package triggers

import (
	"math"
	"sort"
	"sync"
	"time"

	"safemap/models"
)

const (
	DefaultShakeThreshold = 25.0
	DefaultShakeCount     = 3
	DefaultShakeWindow    = 1500 * time.Millisecond
)

// ShakeDetector fires when a device reports Count acceleration peaks above
// Threshold (m/s², gravity included) within Window. Peaks are remembered per
// device across batches, so a shake split over two uploads still counts.
type ShakeDetector struct {
	threshold float64
	count     int
	window    time.Duration

	mu    sync.Mutex
	peaks map[string][]int64
}

func NewShakeDetector(threshold float64, count int, window time.Duration) *ShakeDetector {
	if threshold <= 0 {
		threshold = DefaultShakeThreshold
	}
	if count <= 0 {
		count = DefaultShakeCount
	}
	if window <= 0 {
		window = DefaultShakeWindow
	}
	return &ShakeDetector{
		threshold: threshold,
		count:     count,
		window:    window,
		peaks:     make(map[string][]int64),
	}
}

// Observe feeds a batch of samples for one device and reports whether a
// shake was detected. A detection clears the device's history.
func (d *ShakeDetector) Observe(device string, samples []models.AccelerationSample) bool {
	sorted := append([]models.AccelerationSample(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RecordedAt < sorted[j].RecordedAt })

	d.mu.Lock()
	defer d.mu.Unlock()

	windowMs := d.window.Milliseconds()
	peaks := d.peaks[device]
	for _, s := range sorted {
		if magnitude(s) < d.threshold {
			continue
		}
		peaks = append(peaks, s.RecordedAt)

		cutoff := s.RecordedAt - windowMs
		i := 0
		for i < len(peaks) && peaks[i] < cutoff {
			i++
		}
		peaks = peaks[i:]

		if len(peaks) >= d.count {
			delete(d.peaks, device)
			return true
		}
	}

	if len(peaks) == 0 {
		delete(d.peaks, device)
	} else {
		d.peaks[device] = peaks
	}
	return false
}

// Reset forgets a device's history.
func (d *ShakeDetector) Reset(device string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peaks, device)
}

func magnitude(s models.AccelerationSample) float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}
