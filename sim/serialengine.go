package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// A SerialEngine is an Engine that runs every task and every tick one after
// another on the goroutine that calls Run.
type SerialEngine struct {
	HookableBase

	freq Freq
	tick atomic.Uint64

	taskLock sync.Mutex
	tasks    []func()

	tickers []Ticker

	isPaused atomic.Bool

	singleRunLock sync.Mutex
}

// NewSerialEngine creates a SerialEngine that ticks at the given frequency.
func NewSerialEngine(freq Freq) *SerialEngine {
	_ = freq.Period()

	return &SerialEngine{freq: freq}
}

// Freq returns the tick rate.
func (e *SerialEngine) Freq() Freq {
	return e.freq
}

// CurrentTick returns the number of completed ticks.
func (e *SerialEngine) CurrentTick() uint64 {
	return e.tick.Load()
}

// RegisterTicker adds a ticker. It must be called before Run or from the
// simulation thread.
func (e *SerialEngine) RegisterTicker(t Ticker) {
	e.tickers = append(e.tickers, t)
}

// Post queues a task for the simulation thread.
func (e *SerialEngine) Post(task func()) {
	e.taskLock.Lock()
	e.tasks = append(e.tasks, task)
	e.taskLock.Unlock()
}

// Run processes ticks and posted tasks until the context is cancelled.
// Tasks posted between two ticks run at the start of the next turn, so a
// marshalled call completes within one tick period.
func (e *SerialEngine) Run(ctx context.Context) error {
	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	ticker := time.NewTicker(e.freq.Period())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.runTasks()
			return nil
		case <-ticker.C:
			e.Step()
		}
	}
}

// Step runs one turn of the loop on the calling goroutine: all pending tasks
// first, then one tick unless the engine is paused. Step must not be called
// concurrently with Run.
func (e *SerialEngine) Step() {
	e.runTasks()

	if e.isPaused.Load() {
		return
	}

	now := e.tick.Load()
	hookCtx := HookCtx{
		Domain: e,
		Pos:    HookPosBeforeTick,
		Item:   now,
	}
	e.InvokeHook(hookCtx)

	for _, t := range e.tickers {
		t.Tick()
	}

	e.tick.Add(1)

	hookCtx.Pos = HookPosAfterTick
	e.InvokeHook(hookCtx)
}

func (e *SerialEngine) runTasks() {
	e.taskLock.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.taskLock.Unlock()

	for _, task := range tasks {
		task()
	}
}

// Pause prevents the SerialEngine from ticking.
func (e *SerialEngine) Pause() {
	e.isPaused.Store(true)
}

// Continue allows the SerialEngine to tick again.
func (e *SerialEngine) Continue() {
	e.isPaused.Store(false)
}

// IsPaused reports whether ticking is suspended.
func (e *SerialEngine) IsPaused() bool {
	return e.isPaused.Load()
}
