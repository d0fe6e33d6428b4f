// Package addressing translates the flat byte address space of a processor
// into storage units laid out on the simulation grid.
package addressing

import (
	"fmt"

	"github.com/sarchlab/procaccess/sim"
)

// WordBytes is the number of bytes held by one word of a storage unit.
const WordBytes = 4

// SegmentKind selects one of the two segments of the address space.
type SegmentKind int

// The segments of the address space.
const (
	ROM SegmentKind = iota
	RAM
)

func (k SegmentKind) String() string {
	switch k {
	case ROM:
		return "ROM"
	case RAM:
		return "RAM"
	default:
		return fmt.Sprintf("SegmentKind(%d)", int(k))
	}
}

// A Shape describes what a storage unit must look like to belong to a
// segment. Identity is structural: the grid may hold unrelated logic units.
type Shape struct {
	// VarCount is the exact number of variables of the unit. Zero skips the
	// check.
	VarCount int

	// SentinelSlot and SentinelName require the variable at a fixed slot to
	// carry a fixed name. An empty SentinelName skips the check.
	SentinelSlot int
	SentinelName string

	// RequiredVar requires a variable with this name to exist. Empty skips
	// the check.
	RequiredVar string

	// WordOffset is the variable slot that holds word 0 of the unit.
	WordOffset int
}

// Matches reports whether the unit has the expected shape.
func (s Shape) Matches(u sim.LogicUnit) bool {
	vars := u.Vars()

	if s.VarCount > 0 && len(vars) != s.VarCount {
		return false
	}

	if s.SentinelName != "" {
		if s.SentinelSlot < 0 || s.SentinelSlot >= len(vars) {
			return false
		}

		if vars[s.SentinelSlot].Name != s.SentinelName {
			return false
		}
	}

	if s.RequiredVar != "" && u.OptionalVar(s.RequiredVar) == nil {
		return false
	}

	return true
}

// A Segment is a half-open byte range [Start, End) backed by a run of
// storage units that each hold UnitWords words.
type Segment struct {
	Start     uint32
	End       uint32
	UnitWords int

	// BaseIndex is the row-major grid index of the first unit.
	BaseIndex int

	Shape Shape
}

// Size returns the number of bytes in the segment.
func (s Segment) Size() uint32 {
	return s.End - s.Start
}

// UnitBytes returns the number of bytes held by one unit.
func (s Segment) UnitBytes() uint32 {
	return uint32(s.UnitWords) * WordBytes
}

// Contains reports whether the address lies inside the segment.
func (s Segment) Contains(address uint32) bool {
	return address >= s.Start && address < s.End
}

// Units returns the number of units needed to cover the segment.
func (s Segment) Units() int {
	unitBytes := s.UnitBytes()
	return int((s.Size() + unitBytes - 1) / unitBytes)
}

func (s Segment) validate(kind SegmentKind) error {
	if s.End < s.Start {
		return fmt.Errorf("%w: %s ends before it starts",
			sim.ErrInvalidArgument, kind)
	}

	if s.UnitWords <= 0 {
		return fmt.Errorf("%w: %s unit capacity must be positive",
			sim.ErrInvalidArgument, kind)
	}

	if s.BaseIndex < 0 {
		return fmt.Errorf("%w: %s base index cannot be negative",
			sim.ErrInvalidArgument, kind)
	}

	return nil
}
