package tracker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lucamorandi/genbi/internal/observability"
)

// Job is one tracked entity's poll step. Poll fetches the remote status,
// reconciles any change into persisted state, and reports done when the
// remote task reached a terminal status.
type Job interface {
	Poll(ctx context.Context) (done bool, err error)
}

// Tracker drives a recurring poll cycle over all registered entities of one
// task kind. Entities are keyed by their internal entity id (thread or
// response). Each tracker instance owns its tracked set, its timer, and its
// running-guard; instances never share state.
type Tracker struct {
	name     string
	interval time.Duration
	metrics  *observability.Metrics

	mu      sync.Mutex
	jobs    map[int]Job
	running map[int]bool
}

func New(name string, interval time.Duration, metrics *observability.Metrics) *Tracker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Tracker{
		name:     name,
		interval: interval,
		metrics:  metrics,
		jobs:     make(map[int]Job),
		running:  make(map[int]bool),
	}
}

func (t *Tracker) Name() string { return t.name }

// Register starts tracking an entity. Registering an id that is already
// tracked replaces its job: re-submission abandons the previous task.
func (t *Tracker) Register(entityID int, job Job) {
	t.mu.Lock()
	t.jobs[entityID] = job
	size := len(t.jobs)
	t.mu.Unlock()
	t.setGauge(size)
}

func (t *Tracker) Deregister(entityID int) {
	t.mu.Lock()
	delete(t.jobs, entityID)
	size := len(t.jobs)
	t.mu.Unlock()
	t.setGauge(size)
}

// Tracking reports whether the entity currently has an outstanding task.
func (t *Tracker) Tracking(entityID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.jobs[entityID]
	return ok
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Run blocks, firing one poll cycle per interval until ctx is cancelled.
// Cycles may overlap when polls are slower than the interval; the per-entity
// running-guard keeps at most one poll in flight per entity.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			go t.pollOnce(ctx)
		}
	}
}

// pollOnce issues one concurrent poll per claimable entity and waits for all
// of them. A failing poll is logged and counted; it never aborts sibling
// polls, and the entity stays tracked for the next cycle.
func (t *Tracker) pollOnce(ctx context.Context) {
	t.mu.Lock()
	claimed := make([]int, 0, len(t.jobs))
	jobs := make([]Job, 0, len(t.jobs))
	for id, job := range t.jobs {
		if t.running[id] {
			continue
		}
		t.running[id] = true
		claimed = append(claimed, id)
		jobs = append(jobs, job)
	}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.PollCycles.WithLabelValues(t.name).Inc()
	}
	if len(claimed) == 0 {
		return
	}

	var wg sync.WaitGroup
	for i, id := range claimed {
		wg.Add(1)
		go func(entityID int, job Job) {
			defer wg.Done()
			defer t.release(entityID)

			done, err := t.safePoll(ctx, job)
			if err != nil {
				if t.metrics != nil {
					t.metrics.PollErrors.WithLabelValues(t.name).Inc()
				}
				log.Printf("%s tracker: poll for entity %d failed: %v", t.name, entityID, err)
				return
			}
			if done {
				t.Deregister(entityID)
			}
		}(id, jobs[i])
	}
	wg.Wait()
}

func (t *Tracker) safePoll(ctx context.Context, job Job) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			done = false
			err = fmt.Errorf("poll panic: %v", r)
		}
	}()
	return job.Poll(ctx)
}

func (t *Tracker) release(entityID int) {
	t.mu.Lock()
	delete(t.running, entityID)
	t.mu.Unlock()
}

func (t *Tracker) setGauge(size int) {
	if t.metrics != nil {
		t.metrics.TrackedEntities.WithLabelValues(t.name).Set(float64(size))
	}
}
