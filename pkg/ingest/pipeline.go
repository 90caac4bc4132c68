// Package ingest drives the archive-to-database conversion: one producer
// walking the directory, N extraction workers, one batch writer.
package ingest

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/japaniel/zimdict/pkg/config"
	"github.com/japaniel/zimdict/pkg/db"
	"github.com/japaniel/zimdict/pkg/extract"
	"github.com/japaniel/zimdict/pkg/metrics"
	"github.com/japaniel/zimdict/pkg/zim"
)

// ErrInterrupted reports a run cut short by cancellation. The checkpoint is
// saved; a resumed run continues where this one stopped.
var ErrInterrupted = errors.New("interrupted")

// ArchiveEntry is the slice of a directory entry the pipeline needs.
type ArchiveEntry interface {
	Index() uint32
	Namespace() byte
	URL() string
	Title() string
	MimeType() string
	IsRedirect() bool
	RedirectTarget() (string, error)
	Blob() ([]byte, error)
}

// ArchiveReader abstracts the archive so tests can feed synthetic entries.
type ArchiveReader interface {
	EntryCount() uint32
	EntryAt(index uint32) (ArchiveEntry, error)
}

// WorkerPoolInterface abstracts the worker pool so tests can inject failing
// implementations.
type WorkerPoolInterface interface {
	Start(ctx context.Context)
	Submit(Job) error
	SubmitCtx(ctx context.Context, job Job) error
	Close()
}

type zimReader struct{ arc *zim.Archive }

// NewArchiveReader wraps an opened ZIM archive.
func NewArchiveReader(arc *zim.Archive) ArchiveReader { return zimReader{arc} }

func (r zimReader) EntryCount() uint32 { return r.arc.EntryCount() }
func (r zimReader) EntryAt(i uint32) (ArchiveEntry, error) {
	return r.arc.EntryAt(i)
}

// TaskIn carries one eligible entry's payload to a worker.
type TaskIn struct {
	EntryIndex uint32
	Namespace  byte
	URL        string
	Title      string
	Mime       string
	Payload    []byte
}

// RunStats summarizes one pipeline invocation.
type RunStats struct {
	db.RunCounters
	RunID       int64
	ResumedFrom uint32
	Resumed     bool
	Duration    time.Duration
	Status      string
}

// Pipeline converts an archive into the relational database.
type Pipeline struct {
	Cfg       *config.Config
	Log       *zap.Logger
	Archive   ArchiveReader
	Conn      *sql.DB
	Extractor *extract.Extractor

	// PoolFactory allows tests to inject custom worker pool implementations.
	PoolFactory func(workers, queue int) WorkerPoolInterface
}

// Run executes the conversion until the directory is exhausted, max_entries
// trips, or ctx is canceled. The returned stats are also persisted as an
// ingestion_runs row.
func (p *Pipeline) Run(ctx context.Context) (*RunStats, error) {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()

	policy := NewSelectionPolicy(p.Cfg.Selection)
	tracker := NewWatermarkTracker()

	stats := &RunStats{Status: db.RunStatusRunning}
	from := p.Cfg.Selection.StartIndex
	if p.Cfg.Checkpoint.Enabled && p.Cfg.Checkpoint.Resume {
		cp, err := db.LoadCheckpoint(p.Conn, p.Cfg.Checkpoint.Name)
		if err != nil {
			return nil, err
		}
		if cp != nil && cp.LastEntryIndex+1 > from {
			from = cp.LastEntryIndex + 1
			stats.Resumed = true
			stats.ResumedFrom = from
			log.Info("resuming from checkpoint",
				zap.String("name", cp.Name),
				zap.Uint32("next_entry_index", from),
				zap.Int64("entries_processed", cp.EntriesProcessed),
			)
		}
	}

	runID, err := db.StartRun(p.Conn, uuid.NewString(), p.Cfg.Digest())
	if err != nil {
		return nil, err
	}
	stats.RunID = runID

	checkpointName := ""
	if p.Cfg.Checkpoint.Enabled {
		checkpointName = p.Cfg.Checkpoint.Name
	}
	writer := NewResultWriter(p.Conn, WriterOptions{
		BatchSize:      p.Cfg.SQLite.BatchSize,
		FlushInterval:  time.Duration(p.Cfg.SQLite.BatchFlushMs) * time.Millisecond,
		FTS:            p.Cfg.SQLite.EnableFTS,
		CheckpointName: checkpointName,
		RunID:          runID,
		Tracker:        tracker,
	}, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer.OnFatal = func(err error) {
		log.Error("writer failed, stopping pipeline", zap.Error(err))
		cancel()
	}

	threads := p.Cfg.Workers.ExtractionThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	var pool WorkerPoolInterface
	if p.PoolFactory != nil {
		pool = p.PoolFactory(threads, p.Cfg.Workers.QueueCapacity)
	} else {
		pool = NewWorkerPool(threads, p.Cfg.Workers.QueueCapacity)
	}
	pool.Start(ctx)

	var seen int64
	var taskErrors atomic.Int64
	count := p.Archive.EntryCount()
	log.Info("starting conversion",
		zap.Uint32("entries", count),
		zap.Uint32("start_index", from),
		zap.Int("workers", threads),
	)

producer:
	for i := from; i < count; i++ {
		select {
		case <-ctx.Done():
			break producer
		default:
		}

		entry, err := p.Archive.EntryAt(i)
		if err != nil {
			log.Warn("entry read failed", zap.Uint32("entry_index", i), zap.Error(err))
			taskErrors.Add(1)
			continue
		}

		d := policy.Decide(i, entry.Namespace(), entry.URL(), entry.Title(), entry.MimeType(), entry.IsRedirect())
		if d.Stop {
			log.Info("max entries reached", zap.Uint32("accepted", policy.Accepted()))
			break producer
		}
		if !d.Eligible {
			metrics.EntriesSkipped.WithLabelValues(d.Reason).Inc()
			continue
		}

		seen++
		if interval := p.Cfg.Logging.ProgressInterval; interval > 0 && uint64(seen)%interval == 0 {
			wm, _ := tracker.Watermark()
			log.Info("progress",
				zap.Int64("pages_seen", seen),
				zap.Uint32("entry_index", i),
				zap.Uint32("watermark", wm),
			)
		}

		tracker.Add(i)
		metrics.InflightTasks.Inc()

		if entry.IsRedirect() {
			// Redirects bypass extraction: one pages row, no children.
			target, err := entry.RedirectTarget()
			if err != nil {
				log.Warn("redirect target unresolved", zap.Uint32("entry_index", i), zap.Error(err))
				taskErrors.Add(1)
				tracker.Complete(i)
				metrics.InflightTasks.Dec()
				continue
			}
			out := &TaskOut{
				EntryIndex: i,
				Page: db.Page{
					Namespace:      string(entry.Namespace()),
					URL:            entry.URL(),
					MimeType:       entry.MimeType(),
					Title:          entry.Title(),
					ContentSHA256:  digest(nil),
					RedirectTarget: target,
				},
			}
			if err := writer.Submit(out); err != nil {
				break producer
			}
			continue
		}

		payload, err := entry.Blob()
		if err != nil {
			log.Warn("blob read failed",
				zap.Uint32("entry_index", i),
				zap.String("url", entry.URL()),
				zap.Error(err),
			)
			taskErrors.Add(1)
			tracker.Complete(i)
			metrics.InflightTasks.Dec()
			continue
		}

		task := &TaskIn{
			EntryIndex: i,
			Namespace:  entry.Namespace(),
			URL:        entry.URL(),
			Title:      entry.Title(),
			Mime:       entry.MimeType(),
			Payload:    payload,
		}
		job := func(jctx context.Context) error {
			out := p.extractTask(log, task)
			if out == nil {
				taskErrors.Add(1)
				tracker.Complete(task.EntryIndex)
				metrics.InflightTasks.Dec()
				return nil
			}
			if err := writer.Submit(out); err != nil {
				tracker.Complete(task.EntryIndex)
				metrics.InflightTasks.Dec()
			}
			return nil
		}
		if err := pool.SubmitCtx(ctx, job); err != nil {
			tracker.Complete(i)
			metrics.InflightTasks.Dec()
			break producer
		}
	}

	pool.Close()
	werr := writer.Close()

	stats.RunCounters = writer.Counters()
	stats.PagesSeen = seen
	stats.ErrorsSeen += taskErrors.Load()
	stats.Duration = time.Since(start)

	var runErr error
	switch {
	case werr != nil:
		stats.Status = db.RunStatusFailed
		runErr = werr
	case ctx.Err() != nil:
		stats.Status = db.RunStatusInterrupted
		runErr = fmt.Errorf("%w: stopped at watermark", ErrInterrupted)
	default:
		stats.Status = db.RunStatusCompleted
	}

	if err := db.FinalizeRun(p.Conn, runID, stats.Status, stats.RunCounters); err != nil {
		log.Error("finalize run failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	log.Info("conversion finished",
		zap.String("status", stats.Status),
		zap.Int64("pages_seen", stats.PagesSeen),
		zap.Int64("pages_written", stats.PagesWritten),
		zap.Int64("definitions_written", stats.DefinitionsWritten),
		zap.Int64("relations_written", stats.RelationsWritten),
		zap.Int64("errors_seen", stats.ErrorsSeen),
		zap.Duration("elapsed", stats.Duration),
	)
	return stats, runErr
}

// extractTask runs the extractor under the soft task deadline. A nil return
// means the task produced nothing (timeout); parse failures degrade to a
// page row without children.
func (p *Pipeline) extractTask(log *zap.Logger, t *TaskIn) *TaskOut {
	type outcome struct {
		res *extract.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := p.Extractor.Page(t.Title, t.Payload)
		ch <- outcome{res, err}
	}()

	var o outcome
	if ms := p.Cfg.Extraction.TaskTimeoutMs; ms > 0 {
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case o = <-ch:
		case <-timer.C:
			log.Warn("extraction timed out",
				zap.Uint32("entry_index", t.EntryIndex),
				zap.String("url", t.URL),
			)
			metrics.ExtractionErrors.WithLabelValues("timeout").Inc()
			return nil
		}
	} else {
		o = <-ch
	}

	res := o.res
	if o.err != nil {
		log.Warn("extraction parse failed, storing bare page",
			zap.Uint32("entry_index", t.EntryIndex),
			zap.String("url", t.URL),
			zap.Error(o.err),
		)
		metrics.ExtractionErrors.WithLabelValues("parse").Inc()
		res = &extract.Result{}
	}
	if res.DroppedSections > 0 {
		metrics.ExtractionErrors.WithLabelValues("unclassified-section").Add(float64(res.DroppedSections))
	}

	out := &TaskOut{
		EntryIndex: t.EntryIndex,
		Page: db.Page{
			Namespace:      string(t.Namespace),
			URL:            t.URL,
			MimeType:       t.Mime,
			Title:          t.Title,
			ContentSHA256:  digest(t.Payload),
			PlainText:      res.PlainText,
			RedirectTarget: res.RedirectTarget,
		},
	}
	if p.Cfg.Extraction.StoreRawHTML {
		out.Page.RawHTML = t.Payload
	}

	for _, d := range res.Definitions {
		out.Definitions = append(out.Definitions, db.Definition{
			Language:     d.Language,
			PartOfSpeech: d.PartOfSpeech,
			SenseNumber:  d.SenseNumber,
			SubSensePath: d.SubSensePath,
			Text:         d.Text,
			Confidence:   d.Confidence,
		})
	}
	for _, r := range res.Relations {
		out.Relations = append(out.Relations, db.Relation{
			Language:       r.Language,
			Type:           r.Type,
			TargetLemma:    r.TargetLemma,
			TargetLanguage: r.TargetLanguage,
			Qualifier:      r.Qualifier,
		})
	}
	for _, a := range res.Aliases {
		out.Aliases = append(out.Aliases, db.Alias{
			Language: a.Language,
			Alias:    a.Alias,
			Kind:     a.Kind,
		})
	}
	metrics.DefinitionsExtracted.Add(float64(len(out.Definitions)))
	metrics.RelationsExtracted.Add(float64(len(out.Relations)))
	return out
}

func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// PreflightOutput enforces the overwrite/resume contract: an existing output
// database without --overwrite is only acceptable when a resumable checkpoint
// exists in it.
func PreflightOutput(cfg *config.Config) error {
	if cfg.SQLite.Overwrite {
		return nil
	}
	path := cfg.Input.SQLitePath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if !cfg.Checkpoint.Enabled || !cfg.Checkpoint.Resume {
		return fmt.Errorf("%w: output %s exists; pass overwrite or enable checkpoint resume", config.ErrInvalid, path)
	}

	conn, err := db.OpenExisting(path)
	if err != nil {
		return fmt.Errorf("%w: output %s exists but is unreadable", config.ErrInvalid, path)
	}
	defer conn.Close()

	cp, err := db.LoadCheckpoint(conn, cfg.Checkpoint.Name)
	if err != nil || cp == nil {
		return fmt.Errorf("%w: output %s exists without checkpoint %q; pass overwrite to replace it", config.ErrInvalid, path, cfg.Checkpoint.Name)
	}
	return nil
}
