package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Stage names observed by the IVR engine.
const (
	StageRecordingFetch = "recording_fetch"
	StageRecognition    = "recognition"
	StageResultQuery    = "result_query"
	StageSynthesis      = "synthesis"
	StageCommand        = "ari_command"
)

type StageStats struct {
	Stage   string  `json:"stage"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`
}

// StageSnapshot is the JSON body of the IVR stats endpoint.
type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
}

// stageWindow keeps the most recent size latencies per stage, oldest first.
type stageWindow struct {
	mu     sync.RWMutex
	size   int
	recent map[string][]float64
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	return &stageWindow{size: size, recent: make(map[string][]float64)}
}

func (w *stageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	vals := append(w.recent[stage], ms)
	if len(vals) > w.size {
		vals = slices.Clone(vals[len(vals)-w.size:])
	}
	w.recent[stage] = vals
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.recent)),
	}
	stages := make([]string, 0, len(w.recent))
	for stage, vals := range w.recent {
		if len(vals) > 0 {
			stages = append(stages, stage)
		}
	}
	slices.Sort(stages)
	for _, stage := range stages {
		snap.Stages = append(snap.Stages, summarize(stage, w.recent[stage]))
	}
	return snap
}

func summarize(stage string, vals []float64) StageStats {
	sorted := slices.Clone(vals)
	slices.Sort(sorted)
	var total float64
	for _, v := range sorted {
		total += v
	}
	return StageStats{
		Stage:   stage,
		Samples: len(sorted),
		LastMS:  round2(vals[len(vals)-1]),
		AvgMS:   round2(total / float64(len(sorted))),
		P50MS:   round2(percentile(sorted, 50)),
		P95MS:   round2(percentile(sorted, 95)),
		MaxMS:   round2(sorted[len(sorted)-1]),
	}
}

// percentile interpolates between the two closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*(rank-float64(lo))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
