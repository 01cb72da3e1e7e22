package imagegen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"qwenstudio/internal/infra"
)

// DefaultPollInterval is the delay between task status checks.
const DefaultPollInterval = 5 * time.Second

// Options configures a Controller.
type Options struct {
	Transport    Transport
	Sink         Sink
	Policy       *RetryPolicy
	Sleeper      Sleeper
	Retrier      *Retrier
	PollInterval time.Duration
	Logger       *infra.Logger

	// OnChange receives every new snapshot in order. It must not call
	// Generate or Cleanup on the same controller.
	OnChange func(State)
}

// Controller drives one image generation at a time: it creates the remote
// task, polls it to a terminal state and projects the outcome as State.
type Controller struct {
	transport Transport
	retrier   *Retrier
	sink      Sink
	interval  time.Duration
	logger    *infra.Logger
	onChange  func(State)

	notifyMu sync.Mutex

	mu       sync.Mutex
	state    State
	gen      uint64
	cancel   context.CancelFunc
	stopPoll context.CancelFunc
	settled  chan struct{}
}

// NewController validates opts and returns an idle controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Transport == nil {
		return nil, errors.New("imagegen: transport is required")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	retrier := opts.Retrier
	if retrier == nil {
		policy := DefaultRetryPolicy()
		if opts.Policy != nil {
			policy = *opts.Policy
		}
		retrier = NewRetrier(policy, NewClassifier(opts.Sink), opts.Sink, opts.Sleeper)
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}
	return &Controller{
		transport: opts.Transport,
		retrier:   retrier,
		sink:      opts.Sink,
		interval:  interval,
		logger:    logger,
		onChange:  opts.OnChange,
		state:     idleState(),
	}, nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Generate starts a new generation, superseding any previous one. It returns
// once the task is created (or the generation failed); polling continues in
// the background. The returned error mirrors State.Error for creation
// failures and is context.Canceled when the generation was superseded.
func (c *Controller) Generate(ctx context.Context, prompt string, opts *GenerationOptions) error {
	options := resolveOptions(opts)
	gen, workCtx, _ := c.begin(ctx)
	return c.run(workCtx, gen, prompt, options)
}

// Start is Generate without waiting for task creation. It returns the pending
// snapshot the new generation starts from.
func (c *Controller) Start(ctx context.Context, prompt string, opts *GenerationOptions) State {
	options := resolveOptions(opts)
	gen, workCtx, snap := c.begin(ctx)
	go func() {
		_ = c.run(workCtx, gen, prompt, options)
	}()
	return snap
}

func resolveOptions(opts *GenerationOptions) GenerationOptions {
	if opts == nil {
		return DefaultGenerationOptions()
	}
	return opts.withDefaults()
}

func (c *Controller) run(workCtx context.Context, gen uint64, prompt string, options GenerationOptions) error {
	if err := options.Validate(); err != nil {
		parsed := invalidOptionsError(err)
		if !c.failCreation(gen, parsed) {
			return context.Canceled
		}
		return &parsed
	}

	result, err := RetryWithBackoff(workCtx, c.retrier, func(ctx context.Context) (CreateResult, error) {
		return c.transport.CreateTask(ctx, prompt, options)
	}, c.softError(gen))
	if err != nil {
		var parsed *ParsedError
		if !errors.As(err, &parsed) {
			return err
		}
		if !c.failCreation(gen, *parsed) {
			return context.Canceled
		}
		return parsed
	}

	if url := strings.TrimSpace(result.ImageURL); url != "" {
		applied := c.transition(gen, func(s *State) bool {
			s.Status = StatusSucceeded
			s.ImageURL = url
			s.Error = nil
			return true
		})
		if !applied {
			return context.Canceled
		}
		c.emit(Event{Category: CategoryTaskSucceeded, RequestID: result.RequestID, ImageURL: url, Note: "synchronous response"})
		return nil
	}

	taskID := strings.TrimSpace(result.TaskID)
	if taskID == "" {
		parsed := ParsedError{
			Code:             CodeUnknown,
			UserMessage:      "An unexpected error occurred",
			TechnicalMessage: "API response missing both image URL and task_id",
			Suggestion:       "Try again in a moment",
		}
		if !c.failCreation(gen, parsed) {
			return context.Canceled
		}
		return &parsed
	}

	applied := c.transition(gen, func(s *State) bool {
		s.TaskID = taskID
		s.Error = nil
		s.Status = StatusProcessing
		return true
	})
	if !applied {
		return context.Canceled
	}
	c.emit(Event{Category: CategoryTaskCreated, TaskID: taskID, RequestID: result.RequestID})
	c.startPolling(workCtx, gen, taskID)
	return nil
}

// Cleanup stops polling, abandons in-flight work and resets to idle.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	c.abortLocked()
	c.gen++
	if c.state.Status == StatusIdle && c.state.Error == nil && c.state.TaskID == "" && c.state.ImageURL == "" {
		c.mu.Unlock()
		return
	}
	c.state = idleState()
	c.publishLocked()
}

// Wait blocks until the current generation settles (terminal state or
// cleanup) or ctx is done.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	ch := c.settled
	c.mu.Unlock()
	if ch == nil {
		return c.Snapshot(), nil
	}
	select {
	case <-ch:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

func (c *Controller) begin(parent context.Context) (uint64, context.Context, State) {
	if parent == nil {
		parent = context.Background()
	}
	c.mu.Lock()
	c.abortLocked()
	c.gen++
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	c.cancel = cancel
	c.settled = make(chan struct{})
	c.state = State{Status: StatusPending}
	gen := c.gen
	snap := c.state.clone()
	c.publishLocked()
	return gen, ctx, snap
}

// transition is the single mutation entry point. fn runs under the state
// lock only while gen is still current and reports whether it changed state.
func (c *Controller) transition(gen uint64, fn func(*State) bool) bool {
	c.mu.Lock()
	if gen != c.gen || !fn(&c.state) {
		c.mu.Unlock()
		return false
	}
	if c.state.Status.Terminal() {
		c.stopPollLocked()
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.closeSettledLocked()
	}
	c.publishLocked()
	return true
}

// publishLocked releases c.mu and delivers the snapshot taken under it.
// notifyMu keeps observers seeing snapshots in mutation order.
func (c *Controller) publishLocked() {
	snap := c.state.clone()
	if c.onChange == nil {
		c.mu.Unlock()
		return
	}
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()
	defer func() {
		if v := recover(); v != nil {
			c.logger.Error().Interface("panic", v).Msg("imagegen: state observer panicked")
		}
	}()
	c.onChange(snap)
}

func (c *Controller) abortLocked() {
	c.stopPollLocked()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.closeSettledLocked()
}

func (c *Controller) stopPollLocked() {
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
}

func (c *Controller) closeSettledLocked() {
	if c.settled == nil {
		return
	}
	select {
	case <-c.settled:
	default:
		close(c.settled)
	}
}

func (c *Controller) softError(gen uint64) RetryHook {
	return func(parsed ParsedError, attempt int) {
		c.transition(gen, func(s *State) bool {
			if s.Status != StatusPending && s.Status != StatusProcessing {
				return false
			}
			s.Error = parsed.clone()
			return true
		})
	}
}

func (c *Controller) failCreation(gen uint64, parsed ParsedError) bool {
	applied := c.transition(gen, func(s *State) bool {
		s.Status = StatusFailed
		s.Error = parsed.clone()
		return true
	})
	if applied {
		c.emit(Event{Category: CategoryTaskCreationFailed, Error: parsed.clone()})
	}
	return applied
}

func (c *Controller) startPolling(ctx context.Context, gen uint64, taskID string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.stopPollLocked()
	pollCtx, stop := context.WithCancel(ctx)
	c.stopPoll = stop
	c.mu.Unlock()

	go c.poll(pollCtx, gen, taskID)
}

func (c *Controller) poll(ctx context.Context, gen uint64, taskID string) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !c.polling(gen, taskID) {
			return
		}
		if c.pollOnce(ctx, gen, taskID) {
			return
		}
	}
}

func (c *Controller) polling(gen uint64, taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen && c.state.Status == StatusProcessing && c.state.TaskID == taskID
}

// pollOnce performs one status check and reports whether polling is over.
func (c *Controller) pollOnce(ctx context.Context, gen uint64, taskID string) bool {
	result, err := RetryWithBackoff(ctx, c.retrier, func(ctx context.Context) (TaskResult, error) {
		return c.transport.FetchTaskResult(ctx, taskID)
	}, c.softError(gen))
	if err != nil {
		var parsed *ParsedError
		if !errors.As(err, &parsed) {
			return true
		}
		c.finishTask(gen, taskID, Event{Category: CategoryTaskPollFailed, Error: parsed.clone()}, func(s *State) {
			s.Status = StatusFailed
			s.Error = parsed.clone()
		})
		return true
	}

	c.logger.Debug().Str("task_id", taskID).Str("task_status", string(result.Status)).Msg("imagegen: poll tick")

	switch result.Status {
	case TaskSucceeded:
		if url := strings.TrimSpace(result.ImageURL); url != "" {
			c.finishTask(gen, taskID, Event{Category: CategoryTaskSucceeded, ImageURL: url}, func(s *State) {
				s.Status = StatusSucceeded
				s.ImageURL = url
				s.Error = nil
			})
			return true
		}
		missing := missingImageError()
		c.finishTask(gen, taskID, Event{Category: CategoryTaskMissingImage, Error: missing.clone(), Raw: result}, func(s *State) {
			s.Status = StatusFailed
			s.Error = missing.clone()
		})
		return true
	case TaskFailed:
		failed := taskFailedError(result.Code, result.Message)
		c.finishTask(gen, taskID, Event{Category: CategoryTaskFailed, Error: failed.clone()}, func(s *State) {
			s.Status = StatusFailed
			s.Error = failed.clone()
		})
		return true
	default:
		// A successful check ends any retry episode; drop its advisory error.
		c.transition(gen, func(s *State) bool {
			if s.Status != StatusProcessing || s.TaskID != taskID || s.Error == nil {
				return false
			}
			s.Error = nil
			return true
		})
		return false
	}
}

func (c *Controller) finishTask(gen uint64, taskID string, ev Event, fn func(*State)) {
	applied := c.transition(gen, func(s *State) bool {
		if s.Status != StatusProcessing || s.TaskID != taskID {
			return false
		}
		fn(s)
		return true
	})
	if applied {
		ev.TaskID = taskID
		c.emit(ev)
	}
}

func (c *Controller) emit(ev Event) {
	Emit(c.sink, ev)
}
