package processor

import (
	"fmt"
	"strings"

	"github.com/sarchlab/procaccess/addressing"
	"github.com/sarchlab/procaccess/flashing"
	"github.com/sarchlab/procaccess/sim"
	"github.com/sarchlab/procaccess/uart"
)

// A Processor is one resolved processor instance. Every method reads or
// writes simulation state and must run on the simulation thread.
type Processor struct {
	schema Schema
	desc   Descriptor
	unit   sim.LogicUnit

	registers sim.MemoryBank
	csrs      sim.LogicUnit
	errorSink sim.MessageSink

	power      sim.Switch
	pause      sim.Switch
	singleStep sim.Switch

	uarts [NumUARTs]*uart.Channel

	translator *addressing.Translator
	flasher    *flashing.Engine
}

// ID returns the entity ID of the processor unit.
func (p *Processor) ID() int {
	return p.unit.ID()
}

// Position returns the grid coordinate of the processor unit.
func (p *Processor) Position() (x, y int) {
	return p.unit.Position()
}

// Valid reports whether the processor unit is still on the grid.
func (p *Processor) Valid() bool {
	return p.unit.Valid()
}

// Name returns a short label such as "processor(3, 4)".
func (p *Processor) Name() string {
	x, y := p.unit.Position()
	return fmt.Sprintf("processor(%d, %d)", x, y)
}

// Schema returns the schema the processor was resolved with.
func (p *Processor) Schema() Schema {
	return p.schema
}

// Descriptor returns the resolved parameters.
func (p *Processor) Descriptor() Descriptor {
	return p.desc
}

// Translator returns the address translator of the processor.
func (p *Processor) Translator() *addressing.Translator {
	return p.translator
}

// Flasher returns the transfer engine of the processor.
func (p *Processor) Flasher() *flashing.Engine {
	return p.flasher
}

// UART returns serial port i.
func (p *Processor) UART(i int) *uart.Channel {
	return p.uarts[i]
}

// UARTByName returns the serial port called "uart0" to "uart3".
func (p *Processor) UARTByName(name string) (*uart.Channel, error) {
	i, ok := UARTIndex(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown serial device %q",
			sim.ErrInvalidArgument, name)
	}

	return p.uarts[i], nil
}

// UARTIndex parses a serial device name.
func UARTIndex(name string) (int, bool) {
	rest, found := strings.CutPrefix(name, "uart")
	if !found || len(rest) != 1 {
		return 0, false
	}

	i := int(rest[0] - '0')
	if i < 0 || i >= NumUARTs {
		return 0, false
	}

	return i, true
}

// Running reports whether the processor is powered.
func (p *Processor) Running() bool {
	return p.power.Enabled()
}

// Paused reports whether the pause switch is set.
func (p *Processor) Paused() bool {
	return p.pause.Enabled()
}

// SingleStepping reports whether the single-step switch is set.
func (p *Processor) SingleStepping() bool {
	return p.singleStep.Enabled()
}

// Start sets single-step mode as requested and powers the processor.
func (p *Processor) Start(singleStep bool) {
	p.singleStep.Configure(singleStep)
	p.power.Configure(true)
}

// Stop removes power and clears pause and single-step.
func (p *Processor) Stop() {
	p.power.Configure(false)
	p.pause.Configure(false)
	p.singleStep.Configure(false)
}

// Unpause clears the pause switch of a running processor.
func (p *Processor) Unpause() error {
	if !p.power.Enabled() {
		return fmt.Errorf("%w: processor is not running", sim.ErrInvalidArgument)
	}

	p.pause.Configure(false)

	return nil
}

// PowerOn enables power without touching the other switches.
func (p *Processor) PowerOn() {
	p.power.Configure(true)
}

// PowerOff disables power without touching the other switches.
func (p *Processor) PowerOff() {
	p.power.Configure(false)
}

// Pause enters single-step mode and halts at the current instruction.
func (p *Processor) Pause() {
	p.singleStep.Configure(true)
	p.pause.Configure(true)
}

// Step executes one instruction and halts again.
func (p *Processor) Step() {
	p.singleStep.Configure(true)
	p.pause.Configure(false)
}

// Resume leaves single-step mode and continues.
func (p *Processor) Resume() {
	p.singleStep.Configure(false)
	p.pause.Configure(false)
}
