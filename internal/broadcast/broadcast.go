// Package broadcast delivers an admin message to every subscriber, one
// recipient at a time, in the background.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/m3rciful/linkguard/core/logger"
)

const (
	// DefaultDelay is the pause between two sends.
	DefaultDelay = 200 * time.Millisecond
	// DefaultProgressEvery is how many recipients pass between progress
	// reports.
	DefaultProgressEvery = 20
)

// ErrAlreadyRunning is returned by Start while another job is running.
var ErrAlreadyRunning = errors.New("broadcast: a broadcast is already running")

// MediaKind is the type of an attachment.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// Media references an attachment already uploaded to the chat platform.
type Media struct {
	Kind   MediaKind
	FileID string
}

// Message is the content of a broadcast. Text doubles as the caption when
// Media is set.
type Message struct {
	Text  string
	Media *Media
}

// Transport sends a single message to a single recipient.
type Transport interface {
	Send(ctx context.Context, recipient int64, msg Message) error
}

// RateLimitedError is returned by a Transport when the platform asks the
// caller to slow down.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("broadcast: rate limited, retry after %s", e.RetryAfter)
}

// Recipients supplies the audience of a broadcast.
type Recipients interface {
	Recipients(ctx context.Context) ([]int64, error)
}

// Progress is a snapshot reported while a job runs.
type Progress struct {
	Total  int
	Done   int
	Sent   int
	Failed int
}

// Result is the final tally of a job.
type Result struct {
	Total     int
	Sent      int
	Failed    int
	Cancelled bool
}

// Options configures a Manager.
type Options struct {
	Delay         time.Duration
	ProgressEvery int
}

// Manager runs at most one broadcast job at a time.
type Manager struct {
	transport  Transport
	recipients Recipients
	opts       Options

	mu      sync.Mutex
	current *Job
}

// NewManager builds a Manager.
func NewManager(transport Transport, recipients Recipients, opts Options) *Manager {
	if opts.Delay < 0 {
		opts.Delay = DefaultDelay
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	return &Manager{transport: transport, recipients: recipients, opts: opts}
}

// Job is a running or finished broadcast.
type Job struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}
	result Result
}

// Cancel stops the job before its next send. The send in flight, if any,
// completes.
func (j *Job) Cancel() { j.cancel() }

// Wait blocks until the job finishes and returns its result.
func (j *Job) Wait() Result {
	<-j.done
	return j.result
}

// Done is closed when the job finishes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Running reports whether a job is in progress.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Cancel cancels the running job. It reports whether there was one.
func (m *Manager) Cancel() bool {
	m.mu.Lock()
	j := m.current
	m.mu.Unlock()
	if j == nil {
		return false
	}
	j.Cancel()
	return true
}

// Start launches a job delivering msg to every recipient. onProgress may be
// nil; it is called from the job goroutine.
func (m *Manager) Start(ctx context.Context, msg Message, onProgress func(Progress)) (*Job, error) {
	if msg.Text == "" && msg.Media == nil {
		return nil, errors.New("broadcast: empty message")
	}

	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := &Job{ID: ulid.Make().String(), cancel: cancel, done: make(chan struct{})}
	m.current = job
	m.mu.Unlock()

	recipients, err := m.recipients.Recipients(ctx)
	if err != nil {
		cancel()
		m.finish(job)
		close(job.done)
		return nil, err
	}

	go m.run(jobCtx, job, msg, recipients, onProgress)
	return job, nil
}

func (m *Manager) finish(job *Job) {
	m.mu.Lock()
	if m.current == job {
		m.current = nil
	}
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, job *Job, msg Message, recipients []int64, onProgress func(Progress)) {
	defer close(job.done)
	defer m.finish(job)
	defer job.cancel()

	start := time.Now()
	res := Result{Total: len(recipients)}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if m.opts.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(m.opts.Delay), 1)
	}

	logger.Info(ctx, logger.CompBroadcast, "broadcast.start",
		slog.String("job_id", job.ID),
		slog.Int("total", res.Total),
	)

	for i, id := range recipients {
		if err := limiter.Wait(ctx); err != nil {
			res.Cancelled = true
			break
		}
		if err := m.deliver(ctx, id, msg); err != nil {
			res.Failed++
			logger.Debug(ctx, logger.CompBroadcast, "broadcast.send",
				slog.String("job_id", job.ID),
				slog.Int64("target_id", id),
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		} else {
			res.Sent++
		}
		if onProgress != nil && ((i+1)%m.opts.ProgressEvery == 0 || i+1 == len(recipients)) {
			onProgress(Progress{Total: res.Total, Done: i + 1, Sent: res.Sent, Failed: res.Failed})
		}
	}
	if !res.Cancelled && ctx.Err() != nil && res.Sent+res.Failed < res.Total {
		res.Cancelled = true
	}

	job.result = res
	logger.Info(ctx, logger.CompBroadcast, "broadcast.finish",
		slog.String("job_id", job.ID),
		slog.String("status", statusOf(res)),
		slog.Int("total", res.Total),
		slog.Int("sent", res.Sent),
		slog.Int("failed", res.Failed),
		slog.Duration("duration", time.Since(start)),
	)
}

// deliver sends to one recipient. The send itself is not cancelled with
// the job; a rate limit is honoured once before giving up.
func (m *Manager) deliver(ctx context.Context, recipient int64, msg Message) error {
	sendCtx := context.WithoutCancel(ctx)
	err := m.transport.Send(sendCtx, recipient, msg)

	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		return err
	}
	timer := time.NewTimer(rl.RetryAfter)
	select {
	case <-ctx.Done():
		timer.Stop()
		return err
	case <-timer.C:
	}
	return m.transport.Send(sendCtx, recipient, msg)
}

func statusOf(res Result) string {
	if res.Cancelled {
		return "cancelled"
	}
	if res.Failed > 0 && res.Sent == 0 && res.Total > 0 {
		return "fail"
	}
	return "ok"
}
