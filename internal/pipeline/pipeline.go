// Package pipeline orchestrates the conversion run: it streams records out
// of input files, groups them into batches, fans the batches across a
// worker pool, retries failed batches, and reconciles the final counts.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/openpas/csv2hl7/internal/config"
	"github.com/openpas/csv2hl7/internal/hl7"
	"github.com/openpas/csv2hl7/internal/output"
	"github.com/openpas/csv2hl7/internal/patient"
	"github.com/openpas/csv2hl7/internal/schema"
	"github.com/openpas/csv2hl7/internal/telemetry"
)

// DefaultDrainTimeout bounds how long in-flight batches may keep running
// after shutdown is requested.
const DefaultDrainTimeout = 30 * time.Second

// Pipeline converts every input file in a directory. Files are processed
// sequentially, each with its own batch numbering; batches within a file
// run concurrently across the worker pool.
type Pipeline struct {
	cfg       *config.Config
	schema    *schema.Schema
	validator *patient.Validator
	composer  *hl7.Composer
	writer    *output.Writer
	events    *telemetry.Aggregator
	logger    *slog.Logger

	runID        string
	drainTimeout time.Duration
}

// New wires a pipeline from the validated configuration. The sequencer is
// created here and shared by every worker through the writer, so filenames
// are unique across the whole run.
func New(cfg *config.Config, events *telemetry.Aggregator, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := schema.New(cfg.Processing.FieldMapping, cfg.Processing.ExpectedFieldCount)
	if err != nil {
		return nil, fmt.Errorf("building field schema: %w", err)
	}

	if err := os.MkdirAll(cfg.Directories.OutputFolder, 0o755); err != nil {
		return nil, fmt.Errorf("creating output folder: %w", err)
	}

	seq := &hl7.Sequencer{}
	return &Pipeline{
		cfg:          cfg,
		schema:       s,
		validator:    patient.NewValidator(cfg.Patient),
		composer:     hl7.NewComposer(cfg.HL7, cfg.PV1),
		writer:       output.NewWriter(cfg.Directories.OutputFolder, config.DefaultFileExt, seq),
		events:       events,
		logger:       logger,
		runID:        uuid.NewString(),
		drainTimeout: DefaultDrainTimeout,
	}, nil
}

// RunID returns the correlation ID for this pipeline instance.
func (p *Pipeline) RunID() string { return p.runID }

// WithDrainTimeout overrides the graceful shutdown window. Zero disables
// draining: cancellation aborts in-flight batches immediately.
func (p *Pipeline) WithDrainTimeout(d time.Duration) *Pipeline {
	if d >= 0 {
		p.drainTimeout = d
	}
	return p
}

// Run converts every supported file under inputDir and returns the run
// summary. Cancelling ctx stops intake of new work; in-flight batches get
// the drain window to finish. Run returns an error only for failures that
// prevent the run itself; per-record, per-batch, and per-file problems are
// accounted for in the summary instead.
func (p *Pipeline) Run(ctx context.Context, inputDir string) (Summary, error) {
	start := time.Now()
	stats := &Stats{}
	retries := NewRetryCoordinator(p.cfg.Processing.MaxRetries, p.events)

	summary := func() Summary {
		return Summary{
			RunID:          p.runID,
			Stats:          stats,
			Reconciliation: Reconcile(stats),
			Abandoned:      retries.Abandoned(),
			Elapsed:        time.Since(start),
		}
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return summary(), fmt.Errorf("reading input directory %s: %w", inputDir, err)
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			paths = append(paths, filepath.Join(inputDir, e.Name()))
		}
	}
	sort.Strings(paths)

	drainCtx, shutdownComplete := p.setupDrainContext(ctx)
	defer close(shutdownComplete)

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}

		src, err := SourceFor(path, p.cfg.Processing.PASSeparator)
		if err != nil {
			p.events.Record(slog.LevelInfo, "input file skipped",
				slog.String("file", filepath.Base(path)),
				slog.String("reason", "unsupported extension"),
			)
			continue
		}

		p.logger.Info("processing input file", slog.String("file", src.Name()), slog.String("run_id", p.runID))
		if err := p.processSource(ctx, drainCtx, src, stats, retries); err != nil {
			return summary(), err
		}
	}

	s := summary()
	if !s.Reconciliation.Consistent {
		for _, issue := range s.Reconciliation.Issues {
			p.logger.Warn("accounting reconciliation failed", slog.String("issue", issue), slog.String("run_id", p.runID))
		}
	}
	return s, nil
}

// setupDrainContext builds the context the worker pool runs under. The
// parent ctx signals "stop taking new batches"; the drain context lets
// in-flight batches finish, until the drain timer forces them down.
func (p *Pipeline) setupDrainContext(ctx context.Context) (context.Context, chan struct{}) {
	drainCtx, drainCancel := context.WithCancelCause(context.WithoutCancel(ctx))
	shutdownComplete := make(chan struct{})

	if p.drainTimeout > 0 {
		go p.runDrainTimer(ctx, drainCancel, shutdownComplete)
	} else {
		go mirrorContextCancel(ctx, drainCancel, shutdownComplete)
	}

	return drainCtx, shutdownComplete
}

// runDrainTimer starts the drain timer when the parent context is
// cancelled and force-cancels the drain context if it expires.
func (p *Pipeline) runDrainTimer(ctx context.Context, cancel context.CancelCauseFunc, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		timer := time.NewTimer(p.drainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel(fmt.Errorf("drain timeout expired after %v", p.drainTimeout))
		case <-done:
			cancel(nil)
		}
	case <-done:
		cancel(nil)
	}
}

func mirrorContextCancel(ctx context.Context, cancel context.CancelCauseFunc, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		cancel(ctx.Err())
	case <-done:
		cancel(nil)
	}
}

// settled pairs an attempt result with the batch it belongs to.
type settled struct {
	batch  *Batch
	result *BatchResult
}

// processSource runs one file through the worker pool. The coordinator
// owns all batch state: it feeds pending batches to workers, folds settled
// results into the totals, and requeues failed batches until the retry
// budget runs out.
func (p *Pipeline) processSource(ctx, drainCtx context.Context, src Source, stats *Stats, retries *RetryCoordinator) error {
	workers := p.cfg.Workers()

	group, groupCtx := errgroup.WithContext(drainCtx)

	batchCh := make(chan *Batch, workers)
	workCh := make(chan *Batch)
	resultCh := make(chan settled)

	group.Go(func() error {
		return p.feed(ctx, groupCtx, src, batchCh, stats)
	})

	for range workers {
		group.Go(func() error {
			w := NewWorker(p.schema, p.validator, p.composer, p.writer, p.events, p.cfg.HL7.DefaultEventType)
			for b := range workCh {
				res := w.Process(groupCtx, b)
				select {
				case resultCh <- settled{batch: b, result: res}:
				case <-groupCtx.Done():
					return groupCtx.Err()
				}
			}
			return nil
		})
	}

	group.Go(func() error {
		return p.coordinate(ctx, groupCtx, batchCh, workCh, resultCh, stats, retries)
	})

	return group.Wait()
}

// feed streams batches from the source. The parent ctx stops intake; sends
// use the group context so draining batches can still be delivered.
func (p *Pipeline) feed(ctx, groupCtx context.Context, src Source, out chan<- *Batch, stats *Stats) error {
	defer close(out)

	for b, err := range Batches(src, p.cfg.Processing.BatchSize) {
		select {
		case <-ctx.Done():
			return nil // stop intake, let in-flight work drain
		default:
		}

		if err != nil {
			// Fatal for this source only: the failed line counts as an
			// error, the rest of the file is unread.
			stats.AddErrors(1)
			p.events.Record(slog.LevelError, "source read failed",
				slog.String("source", src.Name()),
				slog.String("error", err.Error()),
			)
			return nil
		}

		select {
		case out <- b:
		case <-groupCtx.Done():
			return groupCtx.Err()
		}
	}
	return nil
}

// coordinate is the single goroutine that moves batches through their
// state machine. It multiplexes three flows: new batches arriving from the
// feeder, pending batches going out to workers, and settled results coming
// back. It exits, closing the work channel, once the feeder is done and
// every batch has reached a terminal state.
func (p *Pipeline) coordinate(
	ctx, groupCtx context.Context,
	batchCh <-chan *Batch,
	workCh chan<- *Batch,
	resultCh <-chan settled,
	stats *Stats,
	retries *RetryCoordinator,
) error {
	defer close(workCh)

	var pending []*Batch
	outstanding := 0
	feeding := true

	for feeding || outstanding > 0 || len(pending) > 0 {
		// Only arm the send case when there is something to dispatch.
		var dispatchCh chan<- *Batch
		var next *Batch
		if len(pending) > 0 {
			dispatchCh = workCh
			next = pending[0]
		}

		select {
		case b, ok := <-batchCh:
			if !ok {
				feeding = false
				batchCh = nil
				continue
			}
			pending = append(pending, b)

		case dispatchCh <- next:
			retries.Dispatch(next)
			pending = pending[1:]
			outstanding++

		case s := <-resultCh:
			outstanding--
			requeue := retries.Settle(s.batch, s.result)
			if requeue && ctx.Err() != nil {
				// Shutdown in progress: a retry would only fail again
				// against a cancelled context.
				retries.Abandon(s.batch, s.result)
				requeue = false
			}
			if requeue {
				pending = append(pending, s.batch)
			} else {
				stats.AddResult(s.result)
			}

		case <-groupCtx.Done():
			return groupCtx.Err()
		}
	}
	return nil
}
