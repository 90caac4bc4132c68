package ingest

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/japaniel/zimdict/pkg/db"
	"github.com/japaniel/zimdict/pkg/metrics"
)

// TaskOut is one extracted page ready for the writer.
type TaskOut struct {
	EntryIndex  uint32
	Page        db.Page
	Definitions []db.Definition
	Relations   []db.Relation
	Aliases     []db.Alias
}

// WriterOptions configure the batch result writer.
type WriterOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	FTS           bool
	// CheckpointName enables the per-batch watermark upsert when non-empty.
	CheckpointName string
	RunID          int64
	Tracker        *WatermarkTracker
}

// ResultWriter is the pipeline's single database writer. It buffers TaskOut
// records, flushes them as one transaction per batch, and advances the
// checkpoint watermark inside each transaction so data and watermark commit
// atomically.
//
// A constraint violation quarantines the failing record (logged, counted,
// dropped) and retries the remainder; any other database error is fatal and
// reported through OnFatal.
type ResultWriter struct {
	mu          sync.Mutex
	buf         []*TaskOut
	cap         int
	flushTicker *time.Ticker
	closed      bool
	wg          sync.WaitGroup
	stop        chan struct{}

	commitCh chan []*TaskOut
	conn     *sql.DB
	opts     WriterOptions
	log      *zap.Logger

	// OnFatal is invoked once for the first non-recoverable write error, so
	// the driver can cancel the producer. Set before the first Submit.
	OnFatal func(error)

	errMu     sync.Mutex
	lastErr   error
	processed int64

	countMu  sync.Mutex
	counters db.RunCounters
}

// NewResultWriter starts the committer goroutine and, when flushInterval is
// positive, a ticker that flushes partial batches during idle periods.
func NewResultWriter(conn *sql.DB, opts WriterOptions, log *zap.Logger) *ResultWriter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &ResultWriter{
		buf:      make([]*TaskOut, 0, opts.BatchSize),
		cap:      opts.BatchSize,
		stop:     make(chan struct{}),
		commitCh: make(chan []*TaskOut, 2),
		conn:     conn,
		opts:     opts,
		log:      log,
	}

	w.wg.Add(1)
	go w.committer()

	if opts.FlushInterval > 0 {
		w.flushTicker = time.NewTicker(opts.FlushInterval)
		w.wg.Add(1)
		go w.tickLoop()
	}
	return w
}

// Submit buffers one record, flushing when the batch is full. A stalled
// committer blocks here, which is the backpressure the workers rely on.
func (w *ResultWriter) Submit(t *TaskOut) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.buf = append(w.buf, t)
	if len(w.buf) >= w.cap {
		w.flushLocked()
	}
	return nil
}

// Counters returns the totals accumulated so far.
func (w *ResultWriter) Counters() db.RunCounters {
	w.countMu.Lock()
	defer w.countMu.Unlock()
	return w.counters
}

func (w *ResultWriter) flushLocked() {
	if len(w.buf) == 0 {
		return
	}
	batch := w.buf
	w.buf = make([]*TaskOut, 0, w.cap)
	w.commitCh <- batch
}

func (w *ResultWriter) tickLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-w.flushTicker.C:
			w.mu.Lock()
			if !w.closed {
				w.flushLocked()
			}
			w.mu.Unlock()
		}
	}
}

func (w *ResultWriter) committer() {
	defer w.wg.Done()
	for batch := range w.commitCh {
		if err := w.executeBatch(batch); err != nil {
			w.errMu.Lock()
			first := w.lastErr == nil
			if first {
				w.lastErr = err
			}
			w.errMu.Unlock()
			if first && w.OnFatal != nil {
				w.OnFatal(err)
			}
		}
	}
}

// executeBatch commits the batch, shedding constraint-violating records one
// at a time. Only I/O-class errors escape.
func (w *ResultWriter) executeBatch(batch []*TaskOut) error {
	for len(batch) > 0 {
		failed, err := w.commitBatch(batch)
		if err == nil {
			metrics.BatchesCommitted.Inc()
			return nil
		}
		// failed < 0 means the error came from the checkpoint/counter/commit
		// stage, not a specific record; nothing can be quarantined.
		if failed < 0 || !db.IsConstraintErr(err) {
			return fmt.Errorf("%w: commit batch of %d: %v", db.ErrDatabase, len(batch), err)
		}

		bad := batch[failed]
		w.log.Warn("quarantining record after constraint failure",
			zap.Uint32("entry_index", bad.EntryIndex),
			zap.String("url", bad.Page.URL),
			zap.Error(err),
		)
		metrics.QuarantinedPages.WithLabelValues("dropped").Inc()
		w.addCounters(db.RunCounters{ErrorsSeen: 1})
		w.errMu.Lock()
		w.processed++ // dropped records still advance the watermark
		w.errMu.Unlock()
		w.opts.Tracker.Complete(bad.EntryIndex)
		metrics.InflightTasks.Dec()

		batch = append(batch[:failed], batch[failed+1:]...)
	}
	return nil
}

func (w *ResultWriter) commitBatch(batch []*TaskOut) (int, error) {
	// The DSN's _txlock=immediate makes this BEGIN IMMEDIATE.
	tx, err := w.conn.Begin()
	if err != nil {
		return -1, err
	}
	defer tx.Rollback()

	var delta db.RunCounters
	for i, t := range batch {
		if err := writeRecord(tx, t, w.opts.FTS); err != nil {
			return i, err
		}
		delta.PagesWritten++
		delta.DefinitionsWritten += int64(len(t.Definitions))
		delta.RelationsWritten += int64(len(t.Relations))
		delta.AliasesWritten += int64(len(t.Aliases))
	}

	for _, t := range batch {
		w.opts.Tracker.Complete(t.EntryIndex)
	}
	if w.opts.CheckpointName != "" {
		if wm, ok := w.opts.Tracker.Watermark(); ok {
			w.errMu.Lock()
			processed := w.processed + int64(len(batch))
			w.errMu.Unlock()
			cp := &db.Checkpoint{
				Name:             w.opts.CheckpointName,
				LastEntryIndex:   wm,
				EntriesProcessed: processed,
			}
			if err := db.SaveCheckpoint(tx, cp); err != nil {
				return -1, err
			}
		}
	}
	if w.opts.RunID != 0 {
		if err := db.BumpRunCounters(tx, w.opts.RunID, delta); err != nil {
			return -1, err
		}
	}

	if err := tx.Commit(); err != nil {
		return -1, err
	}

	w.errMu.Lock()
	w.processed += int64(len(batch))
	w.errMu.Unlock()
	w.addCounters(delta)
	for range batch {
		metrics.PagesIngested.WithLabelValues("written").Inc()
		metrics.InflightTasks.Dec()
	}
	return -1, nil
}

func writeRecord(tx *sql.Tx, t *TaskOut, fts bool) error {
	pageID, err := db.UpsertPage(tx, &t.Page, fts)
	if err != nil {
		return err
	}
	if err := db.InsertDefinitions(tx, pageID, t.Definitions); err != nil {
		return err
	}
	if err := db.InsertRelations(tx, pageID, t.Relations); err != nil {
		return err
	}
	return db.InsertAliases(tx, pageID, t.Aliases)
}

func (w *ResultWriter) addCounters(d db.RunCounters) {
	w.countMu.Lock()
	w.counters.PagesSeen += d.PagesSeen
	w.counters.PagesWritten += d.PagesWritten
	w.counters.DefinitionsWritten += d.DefinitionsWritten
	w.counters.RelationsWritten += d.RelationsWritten
	w.counters.AliasesWritten += d.AliasesWritten
	w.counters.ErrorsSeen += d.ErrorsSeen
	w.countMu.Unlock()
}

// Close flushes the remaining buffer, waits for pending commits, and returns
// the first fatal error seen, if any.
func (w *ResultWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.closed = true
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	w.flushLocked()
	w.mu.Unlock()

	close(w.stop)
	close(w.commitCh)
	w.wg.Wait()

	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.lastErr
}

// ErrWriterClosed is returned for submissions after Close.
var ErrWriterClosed = &WriterError{"result writer closed"}

// WriterError is a typed error for writer lifecycle misuse.
type WriterError struct{ msg string }

func (e *WriterError) Error() string { return e.msg }
