package accesslog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"link-cloaker/internal/engine"
	"link-cloaker/internal/observability"
)

var ErrClosed = errors.New("access log recorder closed")

// Writer persists one access log entry.
type Writer interface {
	AppendAccessLog(ctx context.Context, e engine.AccessLogEntry) error
}

type Options struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

// Recorder writes access log entries off the request path. Record never
// blocks: when the queue is full the entry is dropped and counted.
type Recorder struct {
	w       Writer
	timeout time.Duration
	queue   chan engine.AccessLogEntry

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(w Writer, opts Options) *Recorder {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	r := &Recorder{
		w:       w,
		timeout: opts.WriteTimeout,
		queue:   make(chan engine.AccessLogEntry, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		r.wg.Add(1)
		go r.run()
	}
	return r
}

// Record enqueues e. It reports false when the entry was dropped.
func (r *Recorder) Record(e engine.AccessLogEntry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		observability.AccessLogWrites.WithLabelValues("dropped").Inc()
		return false
	}
	select {
	case r.queue <- e:
		return true
	default:
		observability.AccessLogWrites.WithLabelValues("dropped").Inc()
		log.Warn().Str("campaign_id", e.CampaignID).Msg("access log queue full; entry dropped")
		return false
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.queue {
		r.write(e)
	}
}

func (r *Recorder) write(e engine.AccessLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.w.AppendAccessLog(ctx, e); err != nil {
		observability.AccessLogWrites.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("campaign_id", e.CampaignID).Msg("write access log")
		return
	}
	observability.AccessLogWrites.WithLabelValues("ok").Inc()
}

// Close stops accepting entries and waits for queued ones to be written,
// or for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
