package transaction

import (
	"sync"
	"time"

	"contractkit/pkg/models"

	"github.com/ethereum/go-ethereum/common"
)

// State 交易生命周期状态
type State int

const (
	StateSubmitted State = iota
	StatePolling
	StateConfirmed
	StateTimedOut
	StateFailed // 传输错误或取消
)

var stateNames = map[State]string{
	StateSubmitted: "submitted",
	StatePolling:   "polling",
	StateConfirmed: "confirmed",
	StateTimedOut:  "timed_out",
	StateFailed:    "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal 是否为终态
func (s State) IsTerminal() bool {
	return s == StateConfirmed || s == StateTimedOut || s == StateFailed
}

// Transition 一次状态变化
type Transition struct {
	From     State     `json:"from"`
	To       State     `json:"to"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts"`
}

// Observer 状态变化回调，在轮询goroutine中同步执行
type Observer func(hash common.Hash, t Transition)

// Lifecycle 单笔交易的状态机
type Lifecycle struct {
	hash     common.Hash
	observer Observer

	mu       sync.Mutex
	state    State
	attempts int
	history  []Transition
	receipt  *models.Receipt
	err      error
	done     chan struct{}
}

func newLifecycle(hash common.Hash, observer Observer) *Lifecycle {
	return &Lifecycle{
		hash:     hash,
		observer: observer,
		state:    StateSubmitted,
		done:     make(chan struct{}),
	}
}

// Hash 交易哈希
func (l *Lifecycle) Hash() common.Hash { return l.hash }

// State 当前状态
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Attempts 已发出的回执查询次数
func (l *Lifecycle) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

// History 状态变化历史
func (l *Lifecycle) History() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transition(nil), l.history...)
}

// Done 进入终态后关闭
func (l *Lifecycle) Done() <-chan struct{} { return l.done }

// Result 终态下的回执和错误，未结束时均为nil
func (l *Lifecycle) Result() (*models.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.receipt, l.err
}

func (l *Lifecycle) recordAttempt() {
	l.mu.Lock()
	l.attempts++
	l.mu.Unlock()
}

func (l *Lifecycle) transition(to State) {
	l.mu.Lock()
	if l.state.IsTerminal() || l.state == to {
		l.mu.Unlock()
		return
	}
	t := Transition{From: l.state, To: to, At: time.Now(), Attempts: l.attempts}
	l.state = to
	l.history = append(l.history, t)
	l.mu.Unlock()

	if l.observer != nil {
		l.observer(l.hash, t)
	}
}

func (l *Lifecycle) finish(state State, receipt *models.Receipt, err error) {
	l.mu.Lock()
	l.receipt = receipt
	l.err = err
	l.mu.Unlock()

	l.transition(state)
	close(l.done)
}
