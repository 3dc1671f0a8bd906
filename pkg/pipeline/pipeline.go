// Package pipeline schedules inference requests onto a bounded worker
// pool, tracks their status and persists finished results.
package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"parkinson-voice/pkg/config"
	"parkinson-voice/pkg/inference"
	"parkinson-voice/pkg/models"
	"parkinson-voice/pkg/storage"
)

var (
	ErrQueueFull    = errors.New("pipeline queue is full")
	ErrShuttingDown = errors.New("pipeline is shutting down")
)

// Inferer runs one request to completion.
type Inferer interface {
	Infer(ctx context.Context, req *models.Request) (*models.FusionResult, error)
}

type job struct {
	ctx  context.Context
	req  *models.Request
	done chan jobResult
}

type jobResult struct {
	res *models.FusionResult
	err error
}

type Manager struct {
	config   config.PipelineConfig
	engine   Inferer
	statuses storage.StatusStore
	results  storage.ResultStore
	log      *slog.Logger

	pool *WorkerPool[*job]

	// mu orders enqueue against Stop so no job lands in the queue after
	// it has been drained.
	mu      sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager. results may be nil, in which case
// finished results are only kept in the status store. Unless
// cfg.KeepUploads is set, the recording at each request's Path is removed
// once the request finishes.
func NewManager(cfg config.PipelineConfig, engine Inferer, statuses storage.StatusStore, results storage.ResultStore) *Manager {
	m := &Manager{
		config:   cfg,
		engine:   engine,
		statuses: statuses,
		results:  results,
		log:      slog.Default().With("component", "pipeline"),
	}
	m.pool = NewWorkerPool(cfg.Workers, cfg.QueueSize, m.process)
	return m
}

func (m *Manager) Start(ctx context.Context) error {
	if m.config.Workers <= 0 {
		return errors.New("pipeline: workers must be positive")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.log.Info("starting", "workers", m.config.Workers, "queue_size", m.config.QueueSize)
	m.pool.Start(m.ctx)

	if m.config.StatusRetention > 0 {
		m.wg.Add(1)
		go m.runJanitor()
	}
	return nil
}

// Stop cancels in-flight work, waits for the workers and fails every
// request still queued with ErrShuttingDown.
func (m *Manager) Stop() {
	m.log.Info("stopping")
	m.mu.Lock()
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	m.pool.Wait()
	for _, j := range m.pool.Drain() {
		m.finish(j, nil, ErrShuttingDown)
	}
	m.wg.Wait()
	m.log.Info("stopped")
}

// Submit queues req and returns its id without waiting for the result.
func (m *Manager) Submit(req *models.Request) (string, error) {
	if err := m.enqueue(&job{ctx: context.Background(), req: req}); err != nil {
		return "", err
	}
	return req.ID, nil
}

// Predict queues req and waits for its result or for ctx to end.
func (m *Manager) Predict(ctx context.Context, req *models.Request) (*models.FusionResult, error) {
	j := &job{ctx: ctx, req: req, done: make(chan jobResult, 1)}
	if err := m.enqueue(j); err != nil {
		return nil, err
	}
	select {
	case r := <-j.done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) enqueue(j *job) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped || m.ctx == nil || m.ctx.Err() != nil {
		return ErrShuttingDown
	}
	m.statuses.Put(&models.RequestStatus{
		ID:        j.req.ID,
		UserID:    j.req.UserID,
		SessionID: j.req.SessionID,
		Status:    models.StatusReceived,
	})
	if !m.pool.TrySubmit(j) {
		m.log.Warn("queue full", "request_id", j.req.ID, "pending", m.pool.Pending())
		m.statuses.Update(j.req.ID, models.StatusFailed, ErrQueueFull.Error())
		return ErrQueueFull
	}
	m.log.Debug("submitted", "request_id", j.req.ID, "user_id", j.req.UserID)
	return nil
}

func (m *Manager) process(ctx context.Context, j *job) {
	jctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if m.config.ProcessingTimeout > 0 {
		var cancelTimeout context.CancelFunc
		jctx, cancelTimeout = context.WithTimeout(jctx, m.config.ProcessingTimeout)
		defer cancelTimeout()
	}

	res, err := m.engine.Infer(jctx, j.req)
	m.finish(j, res, err)
}

func (m *Manager) finish(j *job, res *models.FusionResult, err error) {
	id := j.req.ID
	if err != nil {
		m.statuses.Update(id, models.StatusFailed, err.Error())
	} else {
		m.statuses.SetResult(id, res)
		if m.results != nil {
			rec := models.NewRecord(j.req, res)
			if !m.config.KeepUploads {
				rec.AudioPath = ""
			}
			if perr := m.results.Put(rec); perr != nil {
				m.log.Error("failed to persist result", "request_id", id, "error", perr)
			}
		}
		m.statuses.Update(id, models.StatusReturned, "")
	}
	if !m.config.KeepUploads && j.req.Path != "" {
		if rerr := os.Remove(j.req.Path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			m.log.Warn("failed to remove recording", "request_id", id, "error", rerr)
		}
	}
	if j.done != nil {
		j.done <- jobResult{res: res, err: err}
	}
}

func (m *Manager) runJanitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(max(m.config.StatusRetention/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.statuses.Prune(time.Now().Add(-m.config.StatusRetention)); n > 0 {
				m.log.Debug("pruned statuses", "count", n)
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// StatusObserver mirrors engine transitions into store. StatusReturned is
// left to the Manager, which records it only after the result is stored.
func StatusObserver(store storage.StatusStore) inference.Observer {
	return func(req *models.Request, status models.Status, err error) {
		if status == models.StatusReturned {
			return
		}
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		store.Update(req.ID, status, msg)
	}
}
