// Package orchestrator runs a legacy import as a cancellable background
// unit of work and streams its progress over a bounded queue.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rb-x/pwnflow/api/schemas"
	"github.com/rb-x/pwnflow/internal/config"
	"github.com/rb-x/pwnflow/internal/graph"
	"github.com/rb-x/pwnflow/internal/importer"
	"github.com/rb-x/pwnflow/internal/legacy"
)

// Percentage milestones of the legacy import state machine. Entity steps
// interpolate inside their band; only the terminal complete event reaches 100.
const (
	pctExtracting   = 10.0
	pctCreatingRoot = 20.0
	pctNodesStart   = 30.0
	pctNodesEnd     = 70.0
	pctEdgesEnd     = 90.0
	pctTemplateEnd  = 99.0
	pctDone         = 100.0
)

// Orchestrator converts legacy documents and materializes them while
// emitting progress events. One Run is one operation; the Orchestrator
// itself is stateless and safe for concurrent Runs.
type Orchestrator struct {
	store      graph.Store
	normalizer *legacy.Normalizer
	queueSize  int
	heartbeat  time.Duration
	log        *zap.Logger
}

func New(store graph.Store, normalizer *legacy.Normalizer, cfg config.ImporterConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:      store,
		normalizer: normalizer,
		queueSize:  cfg.ProgressQueueSize,
		heartbeat:  cfg.HeartbeatInterval,
		log:        logger.Named("orchestrator"),
	}
}

// Run starts the import in the background and returns the event stream. The
// stream always ends with exactly one terminal event and is then closed.
// Cancelling ctx interrupts the import between entity-level steps. A caller
// that stops reading does not stall the import: non-terminal events are
// dropped when the queue is full.
func (o *Orchestrator) Run(ctx context.Context, raw []byte, owner string) <-chan schemas.ProgressEvent {
	out := make(chan schemas.ProgressEvent, o.queueSize)
	op := &operation{
		out:      out,
		lastEmit: time.Now(),
	}

	workDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		op.heartbeatLoop(ctx, o.heartbeat, workDone)
	}()

	go func() {
		result, runErr := o.execute(ctx, raw, owner, op)

		// Stop the heartbeat loop before the terminal event so nothing can
		// follow it on the stream.
		close(workDone)
		wg.Wait()

		if runErr != nil {
			op.terminal(ctx, schemas.ProgressEvent{
				Type:     schemas.EventError,
				Message:  runErr.Error(),
				Progress: op.progressAt(schemas.StepFailed, op.maxPct),
			})
		} else {
			op.terminal(ctx, schemas.ProgressEvent{
				Type:     schemas.EventComplete,
				Result:   result,
				Progress: op.progressAt(schemas.StepCompleted, pctDone),
			})
		}
		close(out)
	}()

	return out
}

func (o *Orchestrator) execute(ctx context.Context, raw []byte, owner string, op *operation) (*schemas.ImportResult, error) {
	op.step(schemas.StepInitializing, 0)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	op.step(schemas.StepExtracting, pctExtracting)
	doc, err := o.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}

	result := &schemas.ImportResult{OriginalID: doc.OriginalID, NodeMappings: map[string]string{}}
	result.Warnings = append(result.Warnings, doc.Warnings...)

	remapped, ids, warnings := importer.Remap(doc.Project)
	result.Warnings = append(result.Warnings, warnings...)
	for _, n := range doc.Project.Nodes {
		if fresh, ok := ids[n.ID]; ok {
			result.NodeMappings[n.ID] = fresh
		}
	}

	op.totalNodes = len(remapped.Nodes)
	op.totalEdges = len(remapped.Edges)

	err = o.store.WithinTx(ctx, func(ctx context.Context, tx graph.Store) error {
		rootID, err := importer.Materialize(ctx, tx, remapped, owner, result, op.onEntity)
		if err != nil {
			return err
		}
		result.ProjectID = rootID

		if doc.Template != nil {
			op.step(schemas.StepImportingTemplate, pctEdgesEnd)
			tmpl, _, tmplWarnings := importer.Remap(doc.Template)
			result.Warnings = append(result.Warnings, tmplWarnings...)
			if _, err := importer.Materialize(ctx, tx, tmpl, owner, result, nil); err != nil {
				return err
			}
			op.step(schemas.StepImportingTemplate, pctTemplateEnd)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.log.Info("Legacy import finished",
		zap.String("root_id", result.ProjectID),
		zap.Int("nodes", result.ImportedNodes),
		zap.Int("relationships", result.ImportedEdges),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

// operation is the mutable state of one Run. Only the worker goroutine
// mutates counters; lastEmit is shared with the heartbeat loop.
type operation struct {
	out chan schemas.ProgressEvent

	mu       sync.Mutex
	lastEmit time.Time

	totalNodes     int
	processedNodes int
	totalEdges     int
	processedEdges int
	maxPct         float64
}

// clamp keeps the emitted percentage monotonically non-decreasing.
func (op *operation) clamp(pct float64) float64 {
	if pct < op.maxPct {
		return op.maxPct
	}
	op.maxPct = pct
	return pct
}

func (op *operation) progressAt(step schemas.ImportStep, pct float64) *schemas.ImportProgress {
	return &schemas.ImportProgress{
		TotalNodes:     op.totalNodes,
		ProcessedNodes: op.processedNodes,
		TotalEdges:     op.totalEdges,
		ProcessedEdges: op.processedEdges,
		CurrentStep:    step,
		Percentage:     pct,
	}
}

func (op *operation) step(step schemas.ImportStep, pct float64) {
	op.emit(schemas.ProgressEvent{
		Type:     schemas.EventProgress,
		Progress: op.progressAt(step, op.clamp(pct)),
	})
}

// onEntity adapts materializer callbacks into progress events.
func (op *operation) onEntity(step schemas.ImportStep, processed, total int) {
	var pct float64
	switch step {
	case schemas.StepCreatingRoot:
		pct = pctCreatingRoot
	case schemas.StepImportingNodes:
		op.processedNodes = processed
		pct = interpolate(pctNodesStart, pctNodesEnd, processed, total)
	case schemas.StepImportingEdges:
		op.processedEdges = processed
		pct = interpolate(pctNodesEnd, pctEdgesEnd, processed, total)
	default:
		pct = op.maxPct
	}
	op.emit(schemas.ProgressEvent{
		Type:     schemas.EventProgress,
		Progress: op.progressAt(step, op.clamp(pct)),
	})
}

func interpolate(from, to float64, processed, total int) float64 {
	if total <= 0 {
		return to
	}
	return from + (to-from)*float64(processed)/float64(total)
}

// emit sends without blocking. A full queue means the consumer is slow or
// gone; dropping a non-terminal update is harmless because every event
// carries the full running state.
func (op *operation) emit(ev schemas.ProgressEvent) {
	select {
	case op.out <- ev:
		op.touch()
	default:
	}
}

// terminal blocks until the consumer takes the event or the context dies.
func (op *operation) terminal(ctx context.Context, ev schemas.ProgressEvent) {
	select {
	case op.out <- ev:
	case <-ctx.Done():
	}
}

func (op *operation) touch() {
	op.mu.Lock()
	op.lastEmit = time.Now()
	op.mu.Unlock()
}

func (op *operation) sinceEmit() time.Duration {
	op.mu.Lock()
	defer op.mu.Unlock()
	return time.Since(op.lastEmit)
}

// heartbeatLoop keeps the stream alive for network intermediaries when the
// import is busy between updates.
func (op *operation) heartbeatLoop(ctx context.Context, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if op.sinceEmit() >= interval {
				op.emit(schemas.ProgressEvent{Type: schemas.EventHeartbeat})
			}
		}
	}
}
