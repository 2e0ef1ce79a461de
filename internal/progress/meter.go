package progress

import (
	"sync"

	"github.com/jmylchreest/vodarr/internal/models"
)

// Aggregate is the task-level rollup of per-lane figures.
type Aggregate struct {
	// Progress is the weighted mean of lane progress, weighted by each
	// lane's total bytes. Lanes with unknown totals carry the mean
	// known weight, or equal weight when no total is known at all.
	Progress        float64
	DownloadedBytes int64
	// TotalBytes sums the totals that are known.
	TotalBytes int64
	// BytesPerSecond sums the instantaneous rates of all lanes.
	BytesPerSecond float64
	// ETASeconds is the largest positive lane ETA.
	ETASeconds int64
}

// Meter tracks raw per-lane transfer rates. Lane models carry formatted
// speed strings for display, so summation works off the raw samples
// recorded here.
type Meter struct {
	mu    sync.Mutex
	rates map[string]float64
	etas  map[string]int64
}

// NewMeter creates an empty meter.
func NewMeter() *Meter {
	return &Meter{
		rates: make(map[string]float64),
		etas:  make(map[string]int64),
	}
}

// Observe records the latest rate and ETA sample for a lane.
func (m *Meter) Observe(subTaskID string, bytesPerSecond float64, etaSeconds int64) {
	m.mu.Lock()
	m.rates[subTaskID] = bytesPerSecond
	m.etas[subTaskID] = etaSeconds
	m.mu.Unlock()
}

// Forget drops a lane's samples, typically on its terminal event.
func (m *Meter) Forget(subTaskID string) {
	m.mu.Lock()
	delete(m.rates, subTaskID)
	delete(m.etas, subTaskID)
	m.mu.Unlock()
}

// Aggregate rolls the given lanes up into task-level figures.
// Lanes marked not_found contribute nothing.
func (m *Meter) Aggregate(subTasks []*models.SubTask) Aggregate {
	m.mu.Lock()
	defer m.mu.Unlock()

	var agg Aggregate

	active := make([]*models.SubTask, 0, len(subTasks))
	var knownWeight int64
	var knownCount int
	for _, st := range subTasks {
		if st.Status == models.StatusNotFound {
			continue
		}
		active = append(active, st)
		agg.DownloadedBytes += st.DownloadedBytes
		if st.TotalBytes > 0 {
			agg.TotalBytes += st.TotalBytes
			knownWeight += st.TotalBytes
			knownCount++
		}

		if rate, ok := m.rates[st.ID.String()]; ok {
			agg.BytesPerSecond += rate
		}
		if eta, ok := m.etas[st.ID.String()]; ok && eta > agg.ETASeconds {
			agg.ETASeconds = eta
		}
	}

	if len(active) == 0 {
		return agg
	}

	fallbackWeight := float64(1)
	if knownCount > 0 {
		fallbackWeight = float64(knownWeight) / float64(knownCount)
	}

	var weightedSum, weightTotal float64
	for _, st := range active {
		w := fallbackWeight
		if st.TotalBytes > 0 {
			w = float64(st.TotalBytes)
		}
		weightedSum += st.Progress * w
		weightTotal += w
	}
	if weightTotal > 0 {
		agg.Progress = weightedSum / weightTotal
	}
	if agg.Progress > 100 {
		agg.Progress = 100
	}
	return agg
}
