package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gridchase/internal/game/match"
)

const (
	recorderQueueSize = 64
	recordTimeout     = 5 * time.Second
)

// asyncRecorder hands match records to a worker goroutine so the session
// loop never waits on storage.
type asyncRecorder struct {
	rec    match.Recorder
	queue  chan func(ctx context.Context) error
	logger *zap.Logger
}

func newAsyncRecorder(rec match.Recorder, logger *zap.Logger) *asyncRecorder {
	return &asyncRecorder{
		rec:    rec,
		queue:  make(chan func(ctx context.Context) error, recorderQueueSize),
		logger: logger,
	}
}

func (a *asyncRecorder) enqueue(kind string, job func(ctx context.Context) error) {
	select {
	case a.queue <- job:
	default:
		a.logger.Warn("match record queue full, dropping", zap.String("record", kind))
	}
}

func (a *asyncRecorder) started(s match.Start) {
	a.enqueue("start", func(ctx context.Context) error { return a.rec.MatchStarted(ctx, s) })
}

func (a *asyncRecorder) ended(e match.End) {
	a.enqueue("end", func(ctx context.Context) error { return a.rec.MatchEnded(ctx, e) })
}

// run writes queued records until ctx is cancelled. Failures are logged.
func (a *asyncRecorder) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-a.queue:
			jobCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
			if err := job(jobCtx); err != nil {
				a.logger.Error("recording match", zap.Error(err))
			}
			cancel()
		}
	}
}
