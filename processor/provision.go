package processor

import (
	"fmt"

	"github.com/sarchlab/procaccess/addressing"
	"github.com/sarchlab/procaccess/sim"
)

// Params describe a processor to be laid out by Provision.
type Params struct {
	Schema Schema

	MemoryX     int
	MemoryY     int
	MemoryWidth int

	ROMSize int
	RAMSize int

	UARTFIFOModulo int

	// CSRSlots is the number of variables of the CSR unit.
	CSRSlots int
}

// DefaultParams returns a small processor that fits the current schema.
func DefaultParams() Params {
	return Params{
		Schema:         CurrentSchema(),
		MemoryX:        10,
		MemoryY:        10,
		MemoryWidth:    4,
		ROMSize:        4 * 16384,
		RAMSize:        4 * 4096 * addressing.WordBytes,
		UARTFIFOModulo: 254,
		CSRSlots:       CSRMInstRetH + 2,
	}
}

// UARTBankWords is the size of the memory banks Provision creates for serial
// ports.
const UARTBankWords = 512

// A Machine holds every entity placed by Provision.
type Machine struct {
	Unit       *sim.MemLogicUnit
	Registers  *sim.MemBank
	CSRs       *sim.MemLogicUnit
	ErrorSink  *sim.MemMessage
	Power      *sim.MemSwitch
	Pause      *sim.MemSwitch
	SingleStep *sim.MemSwitch
	UARTs      [NumUARTs]*sim.MemBank
	ROM        []*sim.MemLogicUnit
	RAM        []*sim.MemLogicUnit
}

// Provision builds a complete processor in grid with its unit at (x, y).
// The components are placed in the row below the unit, starting at x. The
// storage units are placed from (MemoryX, MemoryY) onward; the caller must
// keep the two regions apart.
func Provision(grid *sim.MemGrid, x, y int, params Params) (*Machine, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	s := params.Schema
	m := &Machine{
		Registers:  sim.NewMemoryBank(NumRegisters),
		CSRs:       newCSRUnit(params.CSRSlots),
		ErrorSink:  sim.NewMessage(""),
		Power:      sim.NewSwitch(false),
		Pause:      sim.NewSwitch(false),
		SingleStep: sim.NewSwitch(false),
	}

	m.Unit = sim.NewLogicUnit(
		sim.NewNumVar(s.MemoryXVar, float64(params.MemoryX)),
		sim.NewNumVar(s.MemoryYVar, float64(params.MemoryY)),
		sim.NewNumVar(s.MemoryWidthVar, float64(params.MemoryWidth)),
		sim.NewNumVar(s.ROMSizeVar, float64(params.ROMSize)),
		sim.NewNumVar(s.RAMSizeVar, float64(params.RAMSize)),
		sim.NewNumVar(s.UARTModuloVar, float64(params.UARTFIFOModulo)),
		sim.NewObjVar(VarState, "idle"),
		sim.NewNumVar(VarPC, float64(s.ROMStart)),
		sim.NewNumVar(VarInstruction, 0),
		sim.NewNumVar(VarPrivilegeMode, 3),
		sim.NewNumVar(VarMStatus, 0),
		sim.NewNumVar(VarMIP, 0),
		sim.NewNumVar(VarMIE, 0),
		sim.NewNumVar(VarMCycle, 0),
		sim.NewNumVar(VarMInstRet, 0),
		sim.NewNumVar(VarMTime, 0),
		sim.NewNumVar(VarMTimeH, 0),
		sim.NewObjVar(s.CSRRef, m.CSRs),
	)
	grid.Place(x, y, m.Unit)

	cx := x
	place := func(name string, e sim.Entity) {
		grid.Place(cx, y+1, e)
		m.Unit.AddLink(name, cx, y+1)
		cx++
	}

	place(s.RegistersRef, m.Registers)
	grid.Place(cx, y+1, m.CSRs)
	cx++
	place(s.ErrorRef, m.ErrorSink)
	place(s.PowerRef, m.Power)
	place(s.PauseRef, m.Pause)
	place(s.SingleStepRef, m.SingleStep)

	for i, name := range s.UARTRefs {
		m.UARTs[i] = sim.NewMemoryBank(UARTBankWords)
		place(name, m.UARTs[i])
	}

	layout := addressing.Layout{
		OriginX: params.MemoryX,
		OriginY: params.MemoryY,
		Width:   params.MemoryWidth,
	}

	romUnits := ceilDiv(params.ROMSize, s.ROMUnitBytes)
	for i := 0; i < romUnits; i++ {
		u := sim.NewLogicUnit(sim.NewObjVar("v", ""))
		ux, uy := layout.Coordinate(i)
		grid.Place(ux, uy, u)
		m.ROM = append(m.ROM, u)
	}

	ramUnits := ceilDiv(params.RAMSize, s.RAMUnitWords*addressing.WordBytes)
	for i := 0; i < ramUnits; i++ {
		u := NewRAMUnit(s)
		ux, uy := layout.Coordinate(romUnits + i)
		grid.Place(ux, uy, u)
		m.RAM = append(m.RAM, u)
	}

	return m, nil
}

// NewRAMUnit creates an empty RAM unit with the shape the schema expects.
func NewRAMUnit(s Schema) *sim.MemLogicUnit {
	u := sim.NewLogicUnit()

	for i := 0; i < s.RAMShape.WordOffset; i++ {
		u.AddVar(sim.NewNumVar(fmt.Sprintf("@pad%d", i), 0))
	}

	for i := 0; i < s.RAMUnitWords; i++ {
		u.AddVar(sim.NewNumVar("", 0))
	}

	if s.RAMShape.SentinelName != "" {
		u.Vars()[s.RAMShape.SentinelSlot].Name = s.RAMShape.SentinelName
	}

	return u
}

func newCSRUnit(slots int) *sim.MemLogicUnit {
	u := sim.NewLogicUnit()
	for i := 0; i < slots; i++ {
		u.AddVar(sim.NewNumVar("", 0))
	}

	return u
}

func (p Params) validate() error {
	switch {
	case p.MemoryX == 0 || p.MemoryY == 0:
		return fmt.Errorf("%w: memory origin must be non-zero",
			sim.ErrInvalidArgument)
	case p.MemoryWidth <= 0:
		return fmt.Errorf("%w: memory width must be positive",
			sim.ErrInvalidArgument)
	case p.ROMSize <= 0 || p.RAMSize <= 0:
		return fmt.Errorf("%w: ROM and RAM sizes must be positive",
			sim.ErrInvalidArgument)
	case p.UARTFIFOModulo <= 1:
		return fmt.Errorf("%w: UART FIFO modulo must be greater than 1",
			sim.ErrInvalidArgument)
	case p.Schema.ROMUnitBytes <= 0 || p.Schema.RAMUnitWords <= 0:
		return fmt.Errorf("%w: unit capacities must be positive",
			sim.ErrInvalidArgument)
	}

	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
