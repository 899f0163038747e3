package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/storage"
)

// Direction names one replication loop.
type Direction string

const (
	// DirectionPush sends fork changes to the master.
	DirectionPush Direction = "up"
	// DirectionPull copies master changes into the fork.
	DirectionPull Direction = "down"
)

// Phase is the state of one direction's loop.
type Phase string

const (
	PhaseIdle          Phase = "IDLE"
	PhaseFetching      Phase = "FETCHING"
	PhaseApplying      Phase = "APPLYING"
	PhaseCheckpointing Phase = "CHECKPOINTING"
	PhaseCanceled      Phase = "CANCELED"
)

// Defaults for Input.
const (
	DefaultBatchSize    = 100
	DefaultRetryTime    = 5 * time.Second
	DefaultMaxRetryTime = time.Minute
)

// errorBuffer is the capacity of the Errors channel. Errors that do not
// fit are logged and dropped.
const errorBuffer = 32

// Input configures one replication between Fork and Master.
type Input struct {
	// Identifier distinguishes replications of the same master.
	Identifier string

	Fork   storage.Instance
	Master storage.Instance
	// Meta stores checkpoints and assumed master states. It must use
	// MetaSchema.
	Meta storage.Instance

	PullBatchSize int
	PushBatchSize int

	ConflictHandler ConflictHandler
	// HashFunction derives the checkpoint key; defaults to BLAKE3.
	HashFunction HashFunction
	// Clock stamps write times; defaults to doc.SystemClock.
	Clock doc.Clock

	Logger  *slog.Logger
	Metrics *Metrics

	RetryTime    time.Duration
	MaxRetryTime time.Duration
}

func (in Input) withDefaults() Input {
	if in.PullBatchSize <= 0 {
		in.PullBatchSize = DefaultBatchSize
	}
	if in.PushBatchSize <= 0 {
		in.PushBatchSize = DefaultBatchSize
	}
	if in.ConflictHandler == nil {
		in.ConflictHandler = MasterWins
	}
	if in.HashFunction == nil {
		in.HashFunction = Blake3Hash
	}
	if in.Clock == nil {
		in.Clock = doc.SystemClock{}
	}
	if in.Logger == nil {
		in.Logger = slog.Default()
	}
	if in.Metrics == nil {
		in.Metrics = NewMetrics(nil)
	}
	if in.RetryTime <= 0 {
		in.RetryTime = DefaultRetryTime
	}
	if in.MaxRetryTime < in.RetryTime {
		in.MaxRetryTime = max(DefaultMaxRetryTime, in.RetryTime)
	}
	return in
}

func (in Input) validate() error {
	switch {
	case in.Fork == nil:
		return errors.New("replication: fork instance is required")
	case in.Master == nil:
		return errors.New("replication: master instance is required")
	case in.Meta == nil:
		return errors.New("replication: meta instance is required")
	}
	if in.Meta.Schema().CompositeKey == nil {
		return fmt.Errorf("replication: meta instance %s must use the replication meta schema", in.Meta.CollectionName())
	}
	return nil
}

// State is the handle shared by both loops of one replication.
//
// Thread-safety: all methods are safe for concurrent use. Cancel must not
// be called from inside a ConflictHandler, since it waits for the loops.
type State struct {
	input         Input
	checkpointKey string
	log           *slog.Logger
	ctx           context.Context

	canceled   chan struct{}
	cancelOnce sync.Once
	wg         sync.WaitGroup
	errs       chan error

	mu                sync.Mutex
	started           map[Direction]bool
	lastCheckpointDoc map[Direction]*doc.Document
	checkpointLoaded  map[Direction]bool
	phases            map[Direction]Phase
	firstCheckpoint   map[Direction]chan struct{}
	changed           chan struct{}
}

// NewState prepares a replication without starting its loops.
func NewState(input Input) (*State, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	input = input.withDefaults()
	key := GetCheckpointKey(input)

	s := &State{
		input:             input,
		checkpointKey:     key,
		log:               input.Logger.With("replication", key),
		ctx:               context.Background(),
		canceled:          make(chan struct{}),
		errs:              make(chan error, errorBuffer),
		started:           make(map[Direction]bool),
		lastCheckpointDoc: make(map[Direction]*doc.Document),
		checkpointLoaded:  make(map[Direction]bool),
		phases:            make(map[Direction]Phase),
		firstCheckpoint:   make(map[Direction]chan struct{}),
		changed:           make(chan struct{}),
	}
	for _, d := range []Direction{DirectionPull, DirectionPush} {
		s.phases[d] = PhaseIdle
		s.firstCheckpoint[d] = make(chan struct{})
	}
	return s, nil
}

// Replicate creates a State and starts both loops.
func Replicate(ctx context.Context, input Input) (*State, error) {
	s, err := NewState(input)
	if err != nil {
		return nil, err
	}
	s.Start(ctx, DirectionPull, DirectionPush)
	return s, nil
}

// Start launches the loops for the given directions (both when none are
// named). Directions already running are ignored. Canceling ctx cancels
// the replication; storage calls run detached from ctx so in-flight
// writes complete.
func (s *State) Start(ctx context.Context, directions ...Direction) {
	if len(directions) == 0 {
		directions = []Direction{DirectionPull, DirectionPush}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isCanceled() {
		return
	}
	if len(s.started) == 0 {
		s.ctx = context.WithoutCancel(ctx)
	}
	for _, d := range directions {
		if s.started[d] {
			continue
		}
		s.started[d] = true
		// Subscribe before the first fetch so no event is missed.
		sub := s.source(d).ChangeStream()
		s.wg.Add(1)
		go s.run(d, sub)
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Cancel()
		case <-s.canceled:
		}
	}()
}

// Cancel stops the replication and waits for in-flight iterations to
// finish. After Cancel no checkpoint is written and Errors is closed.
// Cancel is idempotent.
func (s *State) Cancel() {
	s.cancelOnce.Do(func() {
		s.log.Info("replication canceling")
		s.mu.Lock()
		close(s.canceled)
		s.mu.Unlock()
		s.wg.Wait()
		s.mu.Lock()
		for d := range s.started {
			s.phases[d] = PhaseCanceled
		}
		s.notifyLocked()
		s.mu.Unlock()
		close(s.errs)
	})
}

// Canceled returns a channel that is closed once Cancel has been called.
func (s *State) Canceled() <-chan struct{} {
	return s.canceled
}

func (s *State) isCanceled() bool {
	select {
	case <-s.canceled:
		return true
	default:
		return false
	}
}

// Errors returns the channel on which failed iterations are reported.
// It is closed by Cancel.
func (s *State) Errors() <-chan error {
	return s.errs
}

// CheckpointKey returns the key namespacing this replication's metadata.
func (s *State) CheckpointKey() string {
	return s.checkpointKey
}

// Phase reports the current phase of a direction.
func (s *State) Phase(direction Direction) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phases[direction]
}

// FirstCheckpoint returns a channel closed after the first successful
// checkpoint write in direction.
func (s *State) FirstCheckpoint(direction Direction) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstCheckpoint[direction]
}

func (s *State) setPhase(direction Direction, phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phases[direction] == phase {
		return
	}
	s.phases[direction] = phase
	s.notifyLocked()
}

// notifyLocked wakes every AwaitInSync waiter. Requires s.mu.
func (s *State) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *State) source(direction Direction) storage.Instance {
	if direction == DirectionPull {
		return s.input.Master
	}
	return s.input.Fork
}

func (s *State) reportError(err error) {
	var re *Error
	if errors.As(err, &re) {
		s.input.Metrics.Errors.WithLabelValues(string(re.Direction)).Inc()
	}
	select {
	case s.errs <- err:
	default:
		s.log.Warn("error channel full, dropping error", "error", err)
	}
}

// AwaitInSync blocks until every started loop is idle and no source has
// changes past its checkpoint.
func (s *State) AwaitInSync(ctx context.Context) error {
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		s.mu.Lock()
		changed := s.changed
		idle := true
		var running []Direction
		for d := range s.started {
			running = append(running, d)
			if s.phases[d] != PhaseIdle {
				idle = false
			}
		}
		s.mu.Unlock()

		if s.isCanceled() {
			return ErrCanceled
		}
		if idle {
			pending, err := s.hasPending(ctx, running)
			if err != nil {
				return err
			}
			if !pending {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.canceled:
			return ErrCanceled
		case <-changed:
		case <-poll.C:
		}
	}
}

func (s *State) hasPending(ctx context.Context, directions []Direction) (bool, error) {
	for _, d := range directions {
		cp, err := s.currentCheckpoint(ctx, d)
		if err != nil {
			return false, err
		}
		page, err := s.source(d).GetChangedDocumentsSince(ctx, 1, cp)
		if err != nil {
			return false, err
		}
		if len(page.Documents) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// run is the loop body of one direction. It iterates while batches come
// back full and otherwise sleeps until the source publishes a change.
func (s *State) run(direction Direction, sub *storage.Subscription) {
	defer s.wg.Done()
	defer sub.Close()

	log := s.log.With("direction", direction)
	log.Info("replication loop starting")

	iterate := s.pull
	if direction == DirectionPush {
		iterate = s.push
	}

	attempt := 0
	for {
		if s.isCanceled() {
			log.Info("replication loop stopping: canceled")
			return
		}

		// Events published before this fetch are covered by it.
		sub.Drain()
		more, err := iterate(s.ctx)
		if err != nil {
			if errors.Is(err, storage.ErrClosed) {
				log.Error("replication loop stopping: storage closed", "error", err)
				s.reportError(err)
				s.setPhase(direction, PhaseIdle)
				return
			}
			delay := backoffDelay(attempt, s.input.RetryTime, s.input.MaxRetryTime)
			attempt++
			log.Error("replication iteration failed", "error", err, "retry_in", delay)
			s.reportError(err)
			s.setPhase(direction, PhaseIdle)

			timer := time.NewTimer(delay)
			select {
			case <-s.canceled:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}
		attempt = 0
		if more {
			continue
		}

		s.setPhase(direction, PhaseIdle)
		select {
		case <-s.canceled:
		case <-sub.Wait():
			if sub.Closed() {
				log.Info("replication loop stopping: change stream closed")
				return
			}
		}
	}
}
