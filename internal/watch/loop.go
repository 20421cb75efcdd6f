package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/formrelay/formrelay/internal/config"
	"github.com/formrelay/formrelay/internal/dedup"
	"github.com/formrelay/formrelay/internal/intake"
	"github.com/formrelay/formrelay/internal/intake/repository"
	"github.com/formrelay/formrelay/pkg/logger"
	"github.com/formrelay/formrelay/pkg/metrics"
)

// Dispatcher hands a submission to a send worker without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub intake.Submission)
}

// Loop polls the source and dispatches every submission it has not seen yet.
//
// The high-water mark moves to each record as soon as it is pulled from the
// cursor, before its mail is sent, so a failed send is never retried. The mark
// lives in memory only and starts unset on every process start.
type Loop struct {
	source     repository.Source
	seen       dedup.Store
	dispatcher Dispatcher

	pollInterval     time.Duration
	recoveryInterval time.Duration
	sleep            func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	lastID any
}

// New returns a loop reading from src, remembering ids in seen and handing
// new submissions to d. The mark starts unset.
func New(src repository.Source, seen dedup.Store, d Dispatcher, cfg config.WatchConfig) *Loop {
	return &Loop{
		source:           src,
		seen:             seen,
		dispatcher:       d,
		pollInterval:     cfg.PollInterval,
		recoveryInterval: cfg.RecoveryInterval,
		sleep:            sleepCtx,
	}
}

// HighWaterMark returns the id of the last record pulled, or nil.
func (l *Loop) HighWaterMark() any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastID
}

func (l *Loop) setMark(id any) {
	l.mu.Lock()
	l.lastID = id
	l.mu.Unlock()
}

// RunOnce performs a single poll cycle. Records handled before an error keep
// their mark advancement.
func (l *Loop) RunOnce(ctx context.Context) error {
	cur, err := l.source.FetchNew(ctx, l.HighWaterMark())
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var rec intake.Record
		if err := cur.Decode(&rec); err != nil {
			return fmt.Errorf("decode submission: %w", err)
		}
		id, ok := rec[intake.FieldID]
		if !ok || id == nil {
			return repository.ErrMissingID
		}
		l.setMark(id)

		key := intake.IDString(id)
		dup, err := l.seen.MarkSeen(ctx, key)
		if err != nil {
			return fmt.Errorf("mark submission %s seen: %w", key, err)
		}
		if dup {
			logger.Debugf("skipping already processed submission %s", key)
			metrics.Submissions.WithLabelValues("duplicate").Inc()
			continue
		}

		sub := intake.ExtractSubmission(rec)
		logger.Infof("Processing new submission name: %s with ID: %s", sub.Name, sub.ID)
		l.dispatcher.Dispatch(ctx, sub)
		metrics.Submissions.WithLabelValues("processed").Inc()
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("iterate submissions: %w", err)
	}
	metrics.PollCycles.Inc()
	return nil
}

// Run polls until ctx is cancelled. A failed cycle is logged and followed by
// the recovery delay instead of the poll interval.
func (l *Loop) Run(ctx context.Context) error {
	logger.Info("Monitoring MongoDB for new form submissions...")
	for {
		wait := l.pollInterval
		if err := l.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Errorf("Error monitoring submission: %v", err)
			metrics.PollErrors.Inc()
			wait = l.recoveryInterval
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
