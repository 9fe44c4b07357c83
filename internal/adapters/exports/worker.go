package exports

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reportsdb/pkg/reportapi"
)

// ErrQueueFull is returned when the worker queue cannot take another export.
var ErrQueueFull = errors.New("export queue full")

// Scheduler queues exports and exposes their status.
type Scheduler interface {
	EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error)
	GetExport(id string) (ExportRecord, bool)
}

// Worker executes exports asynchronously on a fixed pool of goroutines.
type Worker struct {
	exporter *Exporter
	workers  int

	queue chan exportTask
	mu    sync.RWMutex
	jobs  map[string]*ExportRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
}

type exportTask struct {
	id   string
	host reportapi.HostReport
}

// NewWorker builds a worker with workers goroutines and a queue of queueSize.
func NewWorker(exporter *Exporter, workers, queueSize int) *Worker {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		exporter: exporter,
		workers:  workers,
		queue:    make(chan exportTask, queueSize),
		jobs:     make(map[string]*ExportRecord),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the pool. Calling it again is a no-op.
func (w *Worker) Start() {
	w.start.Do(func() {
		for i := 0; i < w.workers; i++ {
			w.wg.Add(1)
			go w.loop()
		}
	})
}

// Stop cancels running exports and waits for the pool, or for ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case task := <-w.queue:
			w.process(task)
		}
	}
}

// EnqueueExport validates the request and queues it.
func (w *Worker) EnqueueExport(ctx context.Context, input ExportInput) (ExportRecord, error) {
	host, formats, err := w.exporter.Plan(input)
	if err != nil {
		return ExportRecord{}, err
	}
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	record := w.exporter.newRecord(input, host, formats, w.exporter.now())

	w.mu.Lock()
	w.jobs[record.ID] = &record
	snapshot := record.copy()
	w.mu.Unlock()
	w.exporter.auditStatus(ctx, snapshot, ExportStatusQueued, nil)

	select {
	case w.queue <- exportTask{id: record.ID, host: host}:
	default:
		w.mu.Lock()
		delete(w.jobs, record.ID)
		w.mu.Unlock()
		return ExportRecord{}, ErrQueueFull
	}
	return snapshot, nil
}

// GetExport returns a snapshot of the export record.
func (w *Worker) GetExport(id string) (ExportRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return ExportRecord{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(task exportTask) {
	now := w.exporter.now().UTC()
	w.mu.Lock()
	record, ok := w.jobs[task.id]
	if !ok {
		w.mu.Unlock()
		return
	}
	record.Status = ExportStatusRunning
	record.UpdatedAt = now
	running := record.copy()
	w.mu.Unlock()

	w.exporter.auditStatus(w.ctx, running, ExportStatusRunning, nil)
	final, err := w.exporter.execute(w.ctx, task.host, running)
	if err != nil {
		w.exporter.logger.Debug("queued export failed", zap.String("export_id", task.id), zap.Error(err))
	}

	w.mu.Lock()
	*record = final
	w.mu.Unlock()
}

// Wait blocks until the export leaves the queued and running states, or ctx ends.
func (w *Worker) Wait(ctx context.Context, id string) (ExportRecord, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		record, ok := w.GetExport(id)
		if !ok {
			return ExportRecord{}, errors.New("export not found")
		}
		if record.Status == ExportStatusSucceeded || record.Status == ExportStatusFailed {
			return record, nil
		}
		select {
		case <-ctx.Done():
			return record, ctx.Err()
		case <-ticker.C:
		}
	}
}
