package addressing

import (
	"fmt"

	"github.com/sarchlab/procaccess/sim"
)

// A Layout places the units of both segments on the grid. Units are
// arranged row-major, Width units per row, starting at (OriginX, OriginY).
type Layout struct {
	OriginX int
	OriginY int
	Width   int

	ROM Segment
	RAM Segment
}

// Segment returns the segment of the given kind.
func (l Layout) Segment(kind SegmentKind) Segment {
	switch kind {
	case ROM:
		return l.ROM
	case RAM:
		return l.RAM
	default:
		panic(fmt.Sprintf("unknown segment %d", int(kind)))
	}
}

// Validate checks that the layout describes two well-formed, disjoint
// segments.
func (l Layout) Validate() error {
	if l.Width <= 0 {
		return fmt.Errorf("%w: grid width must be positive",
			sim.ErrInvalidArgument)
	}

	if err := l.ROM.validate(ROM); err != nil {
		return err
	}

	if err := l.RAM.validate(RAM); err != nil {
		return err
	}

	if l.ROM.Start < l.RAM.End && l.RAM.Start < l.ROM.End {
		return fmt.Errorf("%w: ROM and RAM overlap", sim.ErrInvalidArgument)
	}

	return nil
}

// Coordinate returns the grid coordinate of the unit with the given
// row-major index.
func (l Layout) Coordinate(index int) (x, y int) {
	return l.OriginX + index%l.Width, l.OriginY + index/l.Width
}

// A Location identifies one word inside one storage unit.
type Location struct {
	X, Y int

	// Index is the row-major grid index of the unit.
	Index int

	// Slot is the word index inside the unit.
	Slot int
}

// Compute maps an address to a location without touching the grid. It
// returns false if the address is outside the segment.
func (l Layout) Compute(address uint32, kind SegmentKind) (Location, bool) {
	seg := l.Segment(kind)
	if !seg.Contains(address) {
		return Location{}, false
	}

	offset := address - seg.Start
	index := seg.BaseIndex + int(offset/seg.UnitBytes())
	slot := int(offset/WordBytes) % seg.UnitWords
	x, y := l.Coordinate(index)

	return Location{X: x, Y: y, Index: index, Slot: slot}, true
}

// A Unit is a storage unit found on the grid, together with the location of
// the word that was looked up.
type Unit struct {
	Location

	Logic sim.LogicUnit
	shape Shape
}

// Word returns the variable that holds word i of the unit.
func (u Unit) Word(i int) *sim.Var {
	return u.Logic.Vars()[u.shape.WordOffset+i]
}

// Words returns the number of addressable words of the unit, starting at
// word 0.
func (u Unit) Words() int {
	return len(u.Logic.Vars()) - u.shape.WordOffset
}

// A Translator resolves addresses against a grid.
type Translator struct {
	grid   sim.Grid
	layout Layout
}

// NewTranslator creates a translator. The layout must be valid.
func NewTranslator(grid sim.Grid, layout Layout) *Translator {
	if err := layout.Validate(); err != nil {
		panic(err)
	}

	return &Translator{grid: grid, layout: layout}
}

// Layout returns the layout used by the translator.
func (t *Translator) Layout() Layout {
	return t.layout
}

// Locate finds the storage unit holding the address. It returns false if the
// address is outside the segment, the cell is empty, the entity is not a
// logic unit, or the unit fails the shape check of the segment.
func (t *Translator) Locate(address uint32, kind SegmentKind) (Unit, bool) {
	loc, ok := t.layout.Compute(address, kind)
	if !ok {
		return Unit{}, false
	}

	logic, ok := t.grid.EntityAt(loc.X, loc.Y).(sim.LogicUnit)
	if !ok || logic == nil {
		return Unit{}, false
	}

	shape := t.layout.Segment(kind).Shape
	if !shape.Matches(logic) {
		return Unit{}, false
	}

	return Unit{Location: loc, Logic: logic, shape: shape}, true
}
