package timing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"btc_trader/internal/models"
	"btc_trader/pkg/logger"
)

type State string

const (
	StateProposed    State = "proposed"
	StateDeferred    State = "deferred"
	StateScheduled   State = "scheduled"
	StateRescheduled State = "rescheduled"
	StateExecuting   State = "executing"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// ExecFunc исполняет отложенное действие.
type ExecFunc func(ctx context.Context) error

// Action — отложенная сделка. Поля читать через Info.
type Action struct {
	ID   string
	Side models.Side

	state    State
	runAt    time.Time
	attempts int
	err      error
	verdict  Verdict

	exec  ExecFunc
	timer *time.Timer
	done  chan struct{}
}

// ActionInfo — снимок состояния действия.
type ActionInfo struct {
	ID       string
	Side     models.Side
	State    State
	RunAt    time.Time
	Attempts int
	Err      error
	Verdict  Verdict
}

// Scheduler держит не больше одного ожидающего действия на сторону.
type Scheduler struct {
	gate *Gate

	mu      sync.Mutex
	pending map[models.Side]*Action
	closed  bool
}

func NewScheduler(gate *Gate) *Scheduler {
	return &Scheduler{
		gate:    gate,
		pending: make(map[models.Side]*Action),
	}
}

// Schedule проверяет гейт и ставит действие на таймер со случайной задержкой.
// При нулевой задержке действие исполняется сразу в вызывающей горутине.
func (s *Scheduler) Schedule(ctx context.Context, q models.Quote, side models.Side, exec ExecFunc) (*Action, error) {
	a := &Action{
		ID:    uuid.NewString(),
		Side:  side,
		state: StateProposed,
		exec:  exec,
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler closed: %w", context.Canceled)
	}
	if p, ok := s.pending[side]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s action %s: %w", side, p.ID, models.ErrAlreadyPending)
	}

	v := s.gate.IsTradingAllowed(q, side)
	a.verdict = v
	if !v.Allowed {
		a.state = StateDeferred
		close(a.done)
		s.mu.Unlock()
		logger.Info("[SCHED] %s deferred: %s", side, v.Reason)
		return a, fmt.Errorf("%s: %w", v.Reason, models.ErrGateClosed)
	}

	delay := s.gate.ActionDelay()
	s.pending[side] = a
	if delay <= 0 {
		a.state = StateExecuting
		a.runAt = time.Now()
		s.mu.Unlock()
		s.run(ctx, a)
		return a, a.Err()
	}

	a.state = StateScheduled
	a.runAt = time.Now().Add(delay)
	a.timer = time.AfterFunc(delay, func() { s.fire(ctx, a) })
	s.mu.Unlock()

	logger.Info("[SCHED] %s %s scheduled in %s", side, a.ID, delay.Round(time.Second))
	return a, nil
}

// fire — срабатывание таймера: повторная проверка гейта, затем исполнение.
func (s *Scheduler) fire(ctx context.Context, a *Action) {
	s.mu.Lock()
	if a.state != StateScheduled && a.state != StateRescheduled {
		s.mu.Unlock()
		return
	}
	if ctx.Err() != nil {
		s.finishLocked(a, StateCancelled, ctx.Err())
		s.mu.Unlock()
		return
	}

	q, _ := s.gate.Last()
	v := s.gate.IsTradingAllowed(q, a.Side)
	a.verdict = v
	if !v.Allowed {
		backoff := s.gate.Config().RescheduleBackoff
		if backoff <= 0 {
			backoff = time.Hour
		}
		a.state = StateRescheduled
		a.attempts++
		a.runAt = time.Now().Add(backoff)
		a.timer = time.AfterFunc(backoff, func() { s.fire(ctx, a) })
		s.mu.Unlock()
		logger.Info("[SCHED] %s %s rescheduled in %s: %s", a.Side, a.ID, backoff, v.Reason)
		return
	}
	a.state = StateExecuting
	s.mu.Unlock()

	s.run(ctx, a)
}

func (s *Scheduler) run(ctx context.Context, a *Action) {
	err := a.exec(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		logger.Error("[SCHED] %s %s failed: %v", a.Side, a.ID, err)
		s.finishLocked(a, StateFailed, err)
		return
	}
	s.finishLocked(a, StateCompleted, nil)
}

func (s *Scheduler) finishLocked(a *Action, st State, err error) {
	a.state = st
	a.err = err
	if p, ok := s.pending[a.Side]; ok && p == a {
		delete(s.pending, a.Side)
	}
	close(a.done)
}

// CancelAll останавливает все ожидающие таймеры. Уже исполняющиеся действия не прерываются.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, a := range s.pending {
		if a.state != StateScheduled && a.state != StateRescheduled {
			continue
		}
		if a.timer != nil {
			a.timer.Stop()
		}
		s.finishLocked(a, StateCancelled, context.Canceled)
		n++
	}
	if n > 0 {
		logger.Info("[SCHED] cancelled %d pending actions", n)
	}
	return n
}

// Close отменяет всё и запрещает новые действия.
func (s *Scheduler) Close() {
	s.CancelAll()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Scheduler) Pending() []ActionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActionInfo, 0, len(s.pending))
	for _, a := range s.pending {
		out = append(out, a.infoLocked())
	}
	return out
}

func (s *Scheduler) Info(a *Action) ActionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return a.infoLocked()
}

// Done закрывается, когда действие достигло конечного состояния.
func (a *Action) Done() <-chan struct{} { return a.done }

// Err — ошибка исполнения; валидна после Done.
func (a *Action) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

func (a *Action) infoLocked() ActionInfo {
	return ActionInfo{
		ID:       a.ID,
		Side:     a.Side,
		State:    a.state,
		RunAt:    a.runAt,
		Attempts: a.attempts,
		Err:      a.err,
		Verdict:  a.verdict,
	}
}
