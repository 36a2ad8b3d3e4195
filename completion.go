package camerarecorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/camera-recorder/internal/statebus"
)

// Library persists finished recordings (the media library)
type Library interface {
	// Save takes ownership of the file at path and returns the library's reference to it
	Save(ctx context.Context, path string) (string, error)
}

// LibraryFunc adapts a function to the Library interface
type LibraryFunc func(ctx context.Context, path string) (string, error)

// Save calls f(ctx, path)
func (f LibraryFunc) Save(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// SinkConfig configures a CompletionSink
type SinkConfig struct {
	// Library receives successful recordings; nil skips persistence
	Library Library
	// StopTimeout bounds the wait for a completion after a stop request.
	// Zero disables the bound.
	StopTimeout time.Duration
	// SaveTimeout bounds a single Library.Save call (default: 30 seconds)
	SaveTimeout time.Duration
}

// CompletionSink consumes the completion of every recording attempt,
// returns the controller to Idle and forwards successful files to the
// library.
//
// Each attempt is watched by its own goroutine. Events may arrive on any
// goroutine the backend chooses.
type CompletionSink struct {
	ctrl    *RecordingController
	library Library
	cfg     SinkConfig

	// watchCtx ends attempt watchers on Close. saveCtx outlives it and is
	// only cancelled when Close gives up waiting.
	watchCtx   context.Context
	stopWatch  context.CancelFunc
	saveCtx    context.Context
	abortSaves context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	outcomes *statebus.Bus[Outcome]

	completed  uint64
	failed     uint64
	timedOut   uint64
	saved      uint64
	saveFailed uint64
}

// NewCompletionSink creates a sink and attaches it to ctrl
func NewCompletionSink(ctrl *RecordingController, cfg SinkConfig) (*CompletionSink, error) {
	if ctrl == nil {
		return nil, fmt.Errorf("camera-recorder: recording controller is required")
	}
	if cfg.StopTimeout < 0 {
		return nil, fmt.Errorf("camera-recorder: invalid stop timeout %v", cfg.StopTimeout)
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 30 * time.Second
	}

	s := &CompletionSink{
		ctrl:     ctrl,
		library:  cfg.Library,
		cfg:      cfg,
		outcomes: statebus.New[Outcome](),
	}
	s.watchCtx, s.stopWatch = context.WithCancel(context.Background())
	s.saveCtx, s.abortSaves = context.WithCancel(context.Background())
	ctrl.attach(s)
	return s, nil
}

// SubscribeOutcomes registers ch for outcome notifications. Publishing never
// blocks: outcomes that do not fit in ch are dropped.
func (s *CompletionSink) SubscribeOutcomes(id string, ch chan<- Outcome) error {
	if err := s.outcomes.Subscribe(id, ch); err != nil {
		return fmt.Errorf("camera-recorder: subscribe outcomes %q: %w", id, err)
	}
	return nil
}

// UnsubscribeOutcomes removes an outcome subscriber
func (s *CompletionSink) UnsubscribeOutcomes(id string) error {
	return s.outcomes.Unsubscribe(id)
}

// Close stops watching attempts and waits for in-flight saves until ctx is
// done. Saves still running when ctx expires are cancelled.
func (s *CompletionSink) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stopWatch()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	defer s.outcomes.Close()
	defer s.abortSaves()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Warn("camera-recorder: completion sink close timed out, cancelling pending saves")
		return ctx.Err()
	}
}

// track starts watching a; it fails once the sink is closed
func (s *CompletionSink) track(a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.wg.Add(1)
	go s.watch(a)
	return nil
}

func (s *CompletionSink) watch(a *Attempt) {
	defer s.wg.Done()

	stopRequested := a.stopRequested
	var timeout <-chan time.Time

	for {
		select {
		case ev := <-a.events:
			switch ev.Kind {
			case EventStarted:
				s.ctrl.markStarted(a.ID)
			case EventFinished:
				s.complete(a, ev)
				return
			}

		case <-stopRequested:
			stopRequested = nil
			if s.cfg.StopTimeout > 0 {
				timer := time.NewTimer(s.cfg.StopTimeout)
				defer timer.Stop()
				timeout = timer.C
			}

		case <-timeout:
			slog.Error("camera-recorder: no completion after stop",
				"attempt_id", a.ID,
				"timeout", s.cfg.StopTimeout,
			)
			s.complete(a, RecordingEvent{
				Kind: EventFinished,
				Path: a.Path,
				Err:  ErrCompletionTimeout,
				At:   time.Now(),
			})
			return

		case <-s.watchCtx.Done():
			slog.Debug("camera-recorder: completion sink closed, abandoning attempt", "attempt_id", a.ID)
			return
		}
	}
}

func (s *CompletionSink) complete(a *Attempt, ev RecordingEvent) {
	path := ev.Path
	if path == "" {
		path = a.Path
	}
	finishedAt := ev.At
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}

	outcome := Outcome{
		AttemptID:   a.ID,
		Path:        path,
		Persistence: PersistenceSkipped,
		StartedAt:   a.StartedAt,
		FinishedAt:  finishedAt,
	}

	switch {
	case ev.Err == nil:
		atomic.AddUint64(&s.completed, 1)
		if s.library != nil {
			outcome.Persistence = PersistencePending
		}
	case errors.Is(ev.Err, ErrCompletionTimeout):
		atomic.AddUint64(&s.timedOut, 1)
		outcome.Err = ev.Err
	default:
		atomic.AddUint64(&s.failed, 1)
		outcome.Err = fmt.Errorf("%w: %w", ErrRecordingFailed, ev.Err)
	}

	s.ctrl.finish(a.ID, outcome)
	a.resolve(outcome)
	s.outcomes.Publish(outcome)

	if outcome.Err != nil {
		slog.Error("camera-recorder: recording failed",
			"attempt_id", a.ID,
			"path", path,
			"duration", outcome.Duration(),
			"error", outcome.Err,
		)
		return
	}

	slog.Info("camera-recorder: recording finished",
		"attempt_id", a.ID,
		"path", path,
		"duration", outcome.Duration(),
	)

	if s.library == nil {
		slog.Debug("camera-recorder: no library configured, keeping file in place", "path", path)
		return
	}

	s.wg.Add(1)
	go s.save(outcome)
}

// save hands the file to the library; the result never touches recording state
func (s *CompletionSink) save(outcome Outcome) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.saveCtx, s.cfg.SaveTimeout)
	defer cancel()

	ref, err := s.library.Save(ctx, outcome.Path)
	if err != nil {
		atomic.AddUint64(&s.saveFailed, 1)
		outcome.Persistence = PersistenceFailed
		outcome.SaveErr = fmt.Errorf("%w: %w", ErrPersistenceFailed, err)

		slog.Error("camera-recorder: failed to save recording to library",
			"attempt_id", outcome.AttemptID,
			"path", outcome.Path,
			"error", err,
		)
	} else {
		atomic.AddUint64(&s.saved, 1)
		outcome.Persistence = PersistenceSaved
		outcome.LibraryRef = ref

		slog.Info("camera-recorder: recording saved to library",
			"attempt_id", outcome.AttemptID,
			"ref", ref,
		)
	}

	s.outcomes.Publish(outcome)
}

func (s *CompletionSink) fillStats(stats *CameraStats) {
	stats.Completed = atomic.LoadUint64(&s.completed)
	stats.Failed = atomic.LoadUint64(&s.failed)
	stats.TimedOut = atomic.LoadUint64(&s.timedOut)
	stats.Saved = atomic.LoadUint64(&s.saved)
	stats.SaveFailed = atomic.LoadUint64(&s.saveFailed)
}
