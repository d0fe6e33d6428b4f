package processor

import (
	"math"

	"github.com/sarchlab/procaccess/addressing"
	"github.com/sarchlab/procaccess/flashing"
	"github.com/sarchlab/procaccess/sim"
	"github.com/sarchlab/procaccess/uart"
)

// A Descriptor holds the parameters read from a processor when it was
// resolved. It never changes afterwards.
type Descriptor struct {
	Schema string

	MemoryX     int
	MemoryY     int
	MemoryWidth int

	ROMSize uint32
	RAMSize uint32

	UARTFIFOModulo int

	Layout addressing.Layout
}

// ROMEnd returns the first address after ROM.
func (d Descriptor) ROMEnd() uint32 {
	return d.Layout.ROM.End
}

// RAMEnd returns the first address after RAM.
func (d Descriptor) RAMEnd() uint32 {
	return d.Layout.RAM.End
}

// Resolve probes the processor unit at (x, y). It returns false if the cell
// does not hold a logic unit, or if any parameter or component required by
// the schema is missing or malformed. Resolve touches simulation state and
// must run on the simulation thread.
func Resolve(grid sim.Grid, x, y int, schema Schema) (*Processor, bool) {
	unit, ok := grid.EntityAt(x, y).(sim.LogicUnit)
	if !ok || unit == nil {
		return nil, false
	}

	return ResolveUnit(grid, unit, schema)
}

// ResolveUnit is Resolve for a unit that has already been looked up.
func ResolveUnit(
	grid sim.Grid,
	unit sim.LogicUnit,
	schema Schema,
) (*Processor, bool) {
	desc, ok := resolveDescriptor(unit, schema)
	if !ok {
		return nil, false
	}

	p := &Processor{
		schema: schema,
		desc:   desc,
		unit:   unit,
	}

	if p.registers, ok = ref[sim.MemoryBank](grid, unit, schema.RegistersRef); !ok {
		return nil, false
	}

	if p.csrs, ok = ref[sim.LogicUnit](grid, unit, schema.CSRRef); !ok {
		return nil, false
	}

	if p.errorSink, ok = ref[sim.MessageSink](grid, unit, schema.ErrorRef); !ok {
		return nil, false
	}

	if p.power, ok = ref[sim.Switch](grid, unit, schema.PowerRef); !ok {
		return nil, false
	}

	if p.pause, ok = ref[sim.Switch](grid, unit, schema.PauseRef); !ok {
		return nil, false
	}

	if p.singleStep, ok = ref[sim.Switch](grid, unit, schema.SingleStepRef); !ok {
		return nil, false
	}

	capacity := uart.CapacityFromModulo(desc.UARTFIFOModulo)
	for i, name := range schema.UARTRefs {
		bank, ok := ref[sim.MemoryBank](grid, unit, name)
		if !ok {
			return nil, false
		}

		err := schema.UARTLayout.Check(
			len(bank.Memory()), capacity, schema.UARTVariant)
		if err != nil {
			return nil, false
		}

		p.uarts[i] = uart.NewChannel(
			bank, schema.UARTLayout, capacity, schema.UARTVariant)
	}

	p.translator = addressing.NewTranslator(grid, desc.Layout)
	p.flasher = flashing.NewEngine(p.translator, schema.Encoding)

	return p, true
}

func resolveDescriptor(unit sim.LogicUnit, schema Schema) (Descriptor, bool) {
	d := Descriptor{Schema: schema.Name}

	var ok bool

	if d.MemoryX, ok = nonZeroIntVar(unit, schema.MemoryXVar); !ok {
		return d, false
	}

	if d.MemoryY, ok = nonZeroIntVar(unit, schema.MemoryYVar); !ok {
		return d, false
	}

	if d.MemoryWidth, ok = positiveIntVar(unit, schema.MemoryWidthVar); !ok {
		return d, false
	}

	romSize, ok := positiveIntVar(unit, schema.ROMSizeVar)
	if !ok {
		return d, false
	}

	ramSize, ok := positiveIntVar(unit, schema.RAMSizeVar)
	if !ok {
		return d, false
	}

	if d.UARTFIFOModulo, ok = positiveIntVar(unit, schema.UARTModuloVar); !ok {
		return d, false
	}

	romEnd := uint64(schema.ROMStart) + uint64(romSize)
	ramEnd := uint64(schema.RAMStart) + uint64(ramSize)

	if romEnd > math.MaxUint32 || ramEnd > math.MaxUint32 {
		return d, false
	}

	if schema.ROMUnitBytes <= 0 || schema.RAMUnitWords <= 0 {
		return d, false
	}

	d.ROMSize = uint32(romSize)
	d.RAMSize = uint32(ramSize)

	// RAM units follow the last ROM unit, which may be partly used.
	romUnits := (romSize + schema.ROMUnitBytes - 1) / schema.ROMUnitBytes

	d.Layout = addressing.Layout{
		OriginX: d.MemoryX,
		OriginY: d.MemoryY,
		Width:   d.MemoryWidth,
		ROM: addressing.Segment{
			Start:     schema.ROMStart,
			End:       uint32(romEnd),
			UnitWords: schema.romUnitWords(),
			Shape:     schema.ROMShape,
		},
		RAM: addressing.Segment{
			Start:     schema.RAMStart,
			End:       uint32(ramEnd),
			UnitWords: schema.RAMUnitWords,
			BaseIndex: romUnits,
			Shape:     schema.RAMShape,
		},
	}

	if d.Layout.Validate() != nil {
		return d, false
	}

	return d, true
}

func intVar(unit sim.LogicUnit, name string) (int, bool) {
	v := unit.OptionalVar(name)
	if v == nil || v.IsObj {
		return 0, false
	}

	if math.IsNaN(v.Num) || math.Abs(v.Num) > math.MaxInt32 {
		return 0, false
	}

	return int(v.Num), true
}

func nonZeroIntVar(unit sim.LogicUnit, name string) (int, bool) {
	n, ok := intVar(unit, name)
	if !ok || n == 0 {
		return 0, false
	}

	return n, true
}

func positiveIntVar(unit sim.LogicUnit, name string) (int, bool) {
	n, ok := nonZeroIntVar(unit, name)
	if !ok || n < 0 {
		return 0, false
	}

	return n, true
}

// ref finds a component of the processor by name. An object variable of
// that name wins; otherwise the first valid link with the name is followed.
func ref[T sim.Entity](grid sim.Grid, unit sim.LogicUnit, name string) (T, bool) {
	var zero T

	if v := unit.OptionalVar(name); v != nil && v.IsObj && v.Obj != nil {
		t, ok := v.Obj.(T)
		return t, ok
	}

	for _, l := range unit.Links() {
		if !l.Valid || l.Name != name {
			continue
		}

		t, ok := grid.EntityAt(l.X, l.Y).(T)
		if !ok {
			return zero, false
		}

		return t, true
	}

	return zero, false
}
