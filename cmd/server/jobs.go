package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"portfolio-lab/internal/domain"
	"portfolio-lab/internal/marketdata"
	"portfolio-lab/internal/observability"
	"portfolio-lab/internal/sim"
	"portfolio-lab/internal/storage"
)

// Job statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusPartial = "partial"
	StatusError   = "error"
)

// Job tracks one submitted simulation.
type Job struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	Error       string      `json:"error,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	Result      *sim.Result `json:"-"`
}

// JobManager runs simulations in the background and fans status
// updates out to progress subscribers.
type JobManager struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	order   []string
	source  marketdata.PriceSource
	runs    storage.RunStore
	trades  storage.TradeStore
	equity  storage.EquityStore
	metrics *observability.Metrics
	hub     *Hub
}

// NewJobManager wires the manager to its collaborators.
func NewJobManager(source marketdata.PriceSource, runs storage.RunStore,
	trades storage.TradeStore, equity storage.EquityStore,
	metrics *observability.Metrics, hub *Hub) *JobManager {

	return &JobManager{
		jobs:    make(map[string]*Job),
		source:  source,
		runs:    runs,
		trades:  trades,
		equity:  equity,
		metrics: metrics,
		hub:     hub,
	}
}

// Submit accepts a validated config and starts the simulation in the
// background, returning the job id immediately.
func (m *JobManager) Submit(cfg *domain.StrategyConfig) *Job {
	job := &Job{
		ID:          uuid.NewString(),
		Status:      StatusRunning,
		SubmittedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.mu.Unlock()

	m.metrics.SimulationsStarted.Inc()
	m.hub.Broadcast(progressEvent{JobID: job.ID, Status: StatusRunning})

	go m.run(job, cfg)
	return job
}

func (m *JobManager) run(job *Job, cfg *domain.StrategyConfig) {
	started := time.Now()
	result, err := sim.NewDriver(m.source).Run(context.Background(), cfg)
	m.metrics.SimulationDuration.Observe(time.Since(started).Seconds())

	now := time.Now().UTC()

	m.mu.Lock()
	job.FinishedAt = &now
	switch {
	case err != nil:
		job.Status = StatusError
		job.Error = err.Error()
		job.Result = result
	case result.Partial:
		job.Status = StatusPartial
		job.Result = result
	default:
		job.Status = StatusDone
		job.Result = result
	}
	status := job.Status
	m.mu.Unlock()

	m.metrics.SimulationsCompleted.WithLabelValues(statusOutcome(status)).Inc()
	if result != nil {
		m.metrics.TradesExecuted.Add(float64(len(result.Trades)))
		m.metrics.WarningsEmitted.Add(float64(len(result.Warnings)))
	}

	if status != StatusError && result != nil {
		if perr := m.persist(result); perr != nil {
			m.metrics.PersistenceErrors.Inc()
		} else {
			m.metrics.ResultsPersisted.Inc()
		}
	}

	m.hub.Broadcast(progressEvent{JobID: job.ID, Status: status, Error: job.Error})
}

func statusOutcome(status string) string {
	switch status {
	case StatusDone:
		return "ok"
	case StatusPartial:
		return "partial"
	default:
		return "error"
	}
}

func (m *JobManager) persist(result *sim.Result) error {
	ctx := context.Background()

	record := &storage.RunRecord{
		RunID:       result.RunID,
		Name:        result.Config.Meta.Name,
		SubmittedAt: time.Now().UTC(),
		PeriodStart: result.Config.StartDate(),
		PeriodEnd:   result.Config.EndDate(),
		AccountType: string(result.Config.Account.Type),
		InitialCash: result.Config.InitialCash,
		FinalValue:  result.FinalValue,
		TWR:         result.Metrics.TWR,
		CAGR:        result.Metrics.CAGR,
		MaxDrawdown: result.Metrics.MaxDrawdown,
		TradeCount:  len(result.Trades),
		Partial:     result.Partial,
	}
	if err := m.runs.Insert(ctx, record); err != nil {
		// Identical configs share a run id; an existing record means
		// this exact run is already archived.
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil
		}
		return err
	}
	if err := m.trades.InsertBulk(ctx, result.RunID, result.Trades); err != nil {
		return err
	}
	return m.equity.InsertBulk(ctx, result.RunID, result.EquityCurve)
}

// Get returns a job by id.
func (m *JobManager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	return job, ok
}

// List returns all jobs in submission order.
func (m *JobManager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Job, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.jobs[id])
	}
	return out
}
