package sim

import "context"

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	// CurrentTick returns the number of ticks completed so far.
	CurrentTick() uint64
}

// A TaskPoster accepts work that must run on the simulation thread.
type TaskPoster interface {
	// Post queues a task. The task runs at the start of a later turn of the
	// simulation loop. Post never blocks and may be called from any
	// goroutine.
	Post(task func())
}

// A Ticker is an object that updates states with ticks.
type Ticker interface {
	Tick() bool
}

// An Engine is the single authoritative update loop of the simulation. All
// simulation state is owned by the goroutine that runs the engine.
type Engine interface {
	Hookable
	TimeTeller
	TaskPoster

	// Freq returns the tick rate of the engine.
	Freq() Freq

	// RegisterTicker adds a component that is updated on every tick.
	RegisterTicker(t Ticker)

	// Run keeps the loop going until the context is cancelled.
	Run(ctx context.Context) error

	// Pause stops ticking. Posted tasks keep running while paused.
	Pause()

	// Continue resumes ticking.
	Continue()
}
