package processor

import (
	"math"

	"github.com/sarchlab/procaccess/sim"
	"github.com/sarchlab/procaccess/uart"
)

// A Clock drives the counters of a provisioned Machine. It stands in for the
// instruction pipeline, which is outside this module: while the machine is
// powered and not paused, every tick retires one instruction. In single-step
// mode the machine pauses again after each instruction.
//
// With Loopback set, bytes the host writes to a serial port are echoed back
// on the same port.
type Clock struct {
	machine *Machine
	proc    *Processor
	peers   [NumUARTs]*uart.Channel

	Loopback bool
}

// NewClock creates a clock for a machine that resolves to proc.
func NewClock(m *Machine, proc *Processor) *Clock {
	c := &Clock{machine: m, proc: proc}
	for i, ch := range proc.uarts {
		c.peers[i] = ch.Peer()
	}

	return c
}

// Tick runs one cycle. It returns true if the machine made progress.
func (c *Clock) Tick() bool {
	if !c.proc.Valid() {
		return false
	}

	m := c.machine
	if m.Power.Enabled() {
		carry(m.Unit.OptionalVar(VarMTime), m.Unit.OptionalVar(VarMTimeH))
	}

	if !m.Power.Enabled() || m.Pause.Enabled() {
		return false
	}

	carry(m.Unit.OptionalVar(VarMCycle), c.csr(CSRMCycleH))
	carry(m.Unit.OptionalVar(VarMInstRet), c.csr(CSRMInstRetH))
	m.Unit.OptionalVar(VarPC).Num += 4

	if c.Loopback {
		for _, peer := range c.peers {
			echo(peer)
		}
	}

	if m.SingleStep.Enabled() {
		m.Pause.Configure(true)
	}

	return true
}

func echo(peer *uart.Channel) {
	for peer.AvailableForWrite() > 0 {
		b, ok := peer.Read()
		if !ok {
			return
		}

		peer.Write(b)
	}
}

// carry increments a 64-bit counter split into two variables.
func carry(low, high *sim.Var) {
	if low.Num < math.MaxUint32 {
		low.Num++
		return
	}

	low.Num = 0

	if high != nil {
		high.Num = float64(sim.ToUint32(high.Num) + 1)
	}
}

func (c *Clock) csr(id int) *sim.Var {
	vars := c.machine.CSRs.Vars()
	if id+1 >= len(vars) {
		return nil
	}

	return vars[id+1]
}
