package sim

import "log"

type placeable interface {
	Entity
	place(id, x, y int)
	invalidate()
}

// MemGrid is a Grid that keeps its entities in memory. Like the rest of the
// simulation state, it must only be touched from the simulation thread.
type MemGrid struct {
	cells  map[[2]int]placeable
	nextID int
}

// NewMemGrid creates an empty MemGrid.
func NewMemGrid() *MemGrid {
	return &MemGrid{
		cells:  make(map[[2]int]placeable),
		nextID: 1,
	}
}

// Place puts an entity at (x, y), replacing and invalidating whatever was
// there before. The entity must have been created by one of the New*
// functions of this package.
func (g *MemGrid) Place(x, y int, e Entity) {
	p, ok := e.(placeable)
	if !ok {
		log.Panicf("entity of type %T cannot be placed in a MemGrid", e)
	}

	g.Remove(x, y)

	p.place(g.nextID, x, y)
	g.nextID++
	g.cells[[2]int{x, y}] = p
}

// Remove deletes the entity at (x, y). The removed entity reports itself as
// no longer valid.
func (g *MemGrid) Remove(x, y int) {
	key := [2]int{x, y}
	if old, ok := g.cells[key]; ok {
		old.invalidate()
		delete(g.cells, key)
	}
}

// EntityAt returns the entity at (x, y).
func (g *MemGrid) EntityAt(x, y int) Entity {
	e, ok := g.cells[[2]int{x, y}]
	if !ok {
		return nil
	}

	return e
}

// Len returns the number of occupied cells.
func (g *MemGrid) Len() int {
	return len(g.cells)
}

type entityBase struct {
	id    int
	x, y  int
	valid bool
}

func (e *entityBase) ID() int {
	return e.id
}

func (e *entityBase) Position() (x, y int) {
	return e.x, e.y
}

func (e *entityBase) Valid() bool {
	return e.valid
}

func (e *entityBase) place(id, x, y int) {
	e.id = id
	e.x = x
	e.y = y
	e.valid = true
}

func (e *entityBase) invalidate() {
	e.valid = false
}

// MemLogicUnit is an in-memory LogicUnit.
type MemLogicUnit struct {
	entityBase

	vars  []*Var
	links []Link
	code  string

	// CodeUpdates counts the number of calls to UpdateCode.
	CodeUpdates int
}

// NewLogicUnit creates a logic unit with the given variables.
func NewLogicUnit(vars ...*Var) *MemLogicUnit {
	return &MemLogicUnit{vars: vars}
}

// Vars returns the variables of the unit.
func (u *MemLogicUnit) Vars() []*Var {
	return u.vars
}

// OptionalVar returns the variable with the given name.
func (u *MemLogicUnit) OptionalVar(name string) *Var {
	for _, v := range u.vars {
		if v.Name == name {
			return v
		}
	}

	return nil
}

// AddVar appends a variable.
func (u *MemLogicUnit) AddVar(v *Var) *MemLogicUnit {
	u.vars = append(u.vars, v)
	return u
}

// Links returns the links of the unit.
func (u *MemLogicUnit) Links() []Link {
	return u.links
}

// AddLink connects the unit to the cell at (x, y).
func (u *MemLogicUnit) AddLink(name string, x, y int) *MemLogicUnit {
	u.links = append(u.links, Link{Name: name, X: x, Y: y, Valid: true})
	return u
}

// UpdateCode replaces the program of the unit.
func (u *MemLogicUnit) UpdateCode(code string) {
	u.code = code
	u.CodeUpdates++
}

// Code returns the current program of the unit.
func (u *MemLogicUnit) Code() string {
	return u.code
}

// MemBank is an in-memory MemoryBank.
type MemBank struct {
	entityBase

	memory []float64
}

// NewMemoryBank creates a bank of the given size.
func NewMemoryBank(size int) *MemBank {
	return &MemBank{memory: make([]float64, size)}
}

// Memory returns the backing array.
func (b *MemBank) Memory() []float64 {
	return b.memory
}

// MemSwitch is an in-memory Switch.
type MemSwitch struct {
	entityBase

	enabled bool
}

// NewSwitch creates a switch.
func NewSwitch(enabled bool) *MemSwitch {
	return &MemSwitch{enabled: enabled}
}

// Enabled returns the state of the switch.
func (s *MemSwitch) Enabled() bool {
	return s.enabled
}

// Configure sets the state of the switch.
func (s *MemSwitch) Configure(enabled bool) {
	s.enabled = enabled
}

// MemMessage is an in-memory MessageSink.
type MemMessage struct {
	entityBase

	text string
}

// NewMessage creates a message sink.
func NewMessage(text string) *MemMessage {
	return &MemMessage{text: text}
}

// Message returns the current text.
func (m *MemMessage) Message() string {
	return m.text
}

// SetMessage replaces the text.
func (m *MemMessage) SetMessage(text string) {
	m.text = text
}
