package sim

import "math"

// An Entity is anything that occupies a cell of the simulation grid.
type Entity interface {
	// ID returns an identifier that is unique for the lifetime of the
	// simulation.
	ID() int

	// Position returns the grid coordinate of the entity.
	Position() (x, y int)

	// Valid returns false once the entity has been removed from the grid.
	Valid() bool
}

// A Grid can look up the entity placed at a coordinate.
type Grid interface {
	// EntityAt returns the entity at (x, y), or nil if the cell is empty.
	EntityAt(x, y int) Entity
}

// Var is a named slot of a LogicUnit. A Var holds either a number or an
// object reference.
type Var struct {
	Name  string
	Num   float64
	Obj   any
	IsObj bool
}

// NewNumVar creates a numeric variable.
func NewNumVar(name string, num float64) *Var {
	return &Var{Name: name, Num: num}
}

// NewObjVar creates a variable that holds an object.
func NewObjVar(name string, obj any) *Var {
	return &Var{Name: name, Obj: obj, IsObj: true}
}

// SetNum stores a number into the variable.
func (v *Var) SetNum(num float64) {
	v.Num = num
	v.Obj = nil
	v.IsObj = false
}

// SetObj stores an object into the variable.
func (v *Var) SetObj(obj any) {
	v.Num = 0
	v.Obj = obj
	v.IsObj = true
}

// Uint32 converts the numeric value to an unsigned word. Values are
// truncated toward zero and saturate at the bounds of uint32; NaN converts
// to 0.
func (v *Var) Uint32() uint32 {
	return ToUint32(v.Num)
}

// ToUint32 converts a simulation number to an unsigned word with the same
// rules as Var.Uint32.
func ToUint32(f float64) uint32 {
	switch {
	case math.IsNaN(f), f <= 0:
		return 0
	case f >= math.MaxUint32:
		return math.MaxUint32
	default:
		return uint32(f)
	}
}

// Link is a named connection from a LogicUnit to another grid cell.
type Link struct {
	Name  string
	X, Y  int
	Valid bool
}

// A LogicUnit is a programmable entity. Its variables double as a word array
// for units that are used as storage.
type LogicUnit interface {
	Entity

	// Vars returns the variables in declaration order. The returned slice is
	// owned by the unit; elements may be mutated in place.
	Vars() []*Var

	// OptionalVar returns the variable with the given name or nil.
	OptionalVar(name string) *Var

	// Links returns the links of the unit.
	Links() []Link

	// UpdateCode replaces the program of the unit in one step.
	UpdateCode(code string)
}

// A MemoryBank is an entity that holds a fixed-size array of numbers.
type MemoryBank interface {
	Entity

	// Memory returns the backing array. Writes go straight into the bank.
	Memory() []float64
}

// A Switch is a two-state control point.
type Switch interface {
	Entity

	Enabled() bool
	Configure(enabled bool)
}

// A MessageSink is an entity that displays text.
type MessageSink interface {
	Entity

	Message() string
}
