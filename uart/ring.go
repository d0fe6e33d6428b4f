// Package uart emulates serial ports as ring buffers stored in the word
// array of a memory bank.
package uart

import (
	"fmt"
	"log"
)

// Variant selects how a ring tells a full queue from an empty one.
type Variant int

const (
	// VariantSacrificedSlot keeps pointers modulo capacity+1 and leaves one
	// slot unused. Overflow sets OverflowFlag in the stored write pointer.
	VariantSacrificedSlot Variant = iota

	// VariantDoubleModulus keeps pointers modulo 2*capacity. It is kept for
	// processors of the older generation only: a write into a full queue is
	// dropped but still advances the write pointer once.
	VariantDoubleModulus
)

func (v Variant) String() string {
	switch v {
	case VariantSacrificedSlot:
		return "sacrificed-slot"
	case VariantDoubleModulus:
		return "double-modulus"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// OverflowFlag is the bit of a stored write pointer that marks a dropped
// byte in VariantSacrificedSlot rings.
const OverflowFlag = 0x100

const pointerMask = 0xff

// RingLayout gives the slots used by one ring inside a word array.
type RingLayout struct {
	// Base is the slot of data element 0.
	Base int

	ReadSlot  int
	WriteSlot int
}

// A Ring is a bounded byte queue over a fixed slot range of a word array.
// Both ends of the queue share the same memory: one side pushes, the other
// pops.
type Ring struct {
	memory   []float64
	layout   RingLayout
	capacity int
	variant  Variant

	overflows int
}

// NewRing creates a ring over memory. It panics if the layout does not fit.
func NewRing(
	memory []float64,
	layout RingLayout,
	capacity int,
	variant Variant,
) *Ring {
	if err := checkRing(len(memory), layout, capacity, variant); err != nil {
		log.Panic(err)
	}

	return &Ring{
		memory:   memory,
		layout:   layout,
		capacity: capacity,
		variant:  variant,
	}
}

func checkRing(memLen int, l RingLayout, capacity int, v Variant) error {
	if capacity <= 0 {
		return fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}

	if v == VariantSacrificedSlot && capacity+1 > pointerMask+1 {
		return fmt.Errorf("ring capacity %d does not fit an 8-bit pointer",
			capacity)
	}

	end := l.Base + dataSlots(capacity, v)
	if l.Base < 0 || end > memLen {
		return fmt.Errorf("ring data [%d, %d) is outside memory of %d words",
			l.Base, end, memLen)
	}

	for _, slot := range []int{l.ReadSlot, l.WriteSlot} {
		if slot < 0 || slot >= memLen {
			return fmt.Errorf("ring pointer slot %d is outside memory", slot)
		}

		if slot >= l.Base && slot < end {
			return fmt.Errorf("ring pointer slot %d overlaps ring data", slot)
		}
	}

	if l.ReadSlot == l.WriteSlot {
		return fmt.Errorf("ring pointers share slot %d", l.ReadSlot)
	}

	return nil
}

func dataSlots(capacity int, v Variant) int {
	if v == VariantSacrificedSlot {
		return capacity + 1
	}

	return capacity
}

func (r *Ring) modulus() int {
	if r.variant == VariantSacrificedSlot {
		return r.capacity + 1
	}

	return 2 * r.capacity
}

func (r *Ring) rawWord(slot int) int {
	return int(r.memory[slot])
}

func (r *Ring) pointer(slot int) int {
	raw := r.rawWord(slot)
	if r.variant == VariantSacrificedSlot {
		raw &= pointerMask
	}

	return mod(raw, r.modulus())
}

func (r *Ring) setPointer(slot, value int) {
	raw := value
	if r.variant == VariantSacrificedSlot {
		raw |= r.rawWord(slot) &^ pointerMask
	}

	r.memory[slot] = float64(raw)
}

func (r *Ring) readPtr() int {
	return r.pointer(r.layout.ReadSlot)
}

func (r *Ring) writePtr() int {
	return r.pointer(r.layout.WriteSlot)
}

// Capacity returns the number of bytes the ring can hold.
func (r *Ring) Capacity() int {
	return r.capacity
}

// Variant returns the buffering strategy of the ring.
func (r *Ring) Variant() Variant {
	return r.variant
}

// Size returns the number of queued bytes.
func (r *Ring) Size() int {
	return mod(r.writePtr()-r.readPtr(), r.modulus())
}

// Empty reports whether the queue holds no bytes.
func (r *Ring) Empty() bool {
	return r.readPtr() == r.writePtr()
}

// Full reports whether a push would be dropped.
func (r *Ring) Full() bool {
	if r.variant == VariantSacrificedSlot {
		return mod(r.writePtr()+1, r.modulus()) == r.readPtr()
	}

	return r.Size() >= r.capacity
}

// Available returns how many bytes can be pushed without dropping any.
func (r *Ring) Available() int {
	return max(0, r.capacity-r.Size())
}

// Push appends a byte. It returns false if the byte was dropped because the
// queue is full.
func (r *Ring) Push(b byte) bool {
	if r.variant == VariantSacrificedSlot {
		return r.pushSacrificedSlot(b)
	}

	return r.pushDoubleModulus(b)
}

func (r *Ring) pushSacrificedSlot(b byte) bool {
	if r.Full() {
		slot := r.layout.WriteSlot
		r.memory[slot] = float64(r.rawWord(slot) | OverflowFlag)
		r.overflows++

		return false
	}

	w := r.writePtr()
	r.memory[r.layout.Base+w] = float64(b)
	r.setPointer(r.layout.WriteSlot, mod(w+1, r.modulus()))

	return true
}

func (r *Ring) pushDoubleModulus(b byte) bool {
	size := r.Size()
	w := r.writePtr()

	accepted := size < r.capacity
	if accepted {
		r.memory[r.layout.Base+mod(w, r.capacity)] = float64(b)
	} else {
		r.overflows++
	}

	if size <= r.capacity {
		r.setPointer(r.layout.WriteSlot, mod(w+1, r.modulus()))
	}

	return accepted
}

// Pop removes the oldest byte. It returns false if the queue is empty.
func (r *Ring) Pop() (byte, bool) {
	rp := r.readPtr()
	if rp == r.writePtr() {
		return 0, false
	}

	slot := rp
	if r.variant == VariantDoubleModulus {
		slot = mod(rp, r.capacity)
	}

	b := byte(int64(r.memory[r.layout.Base+slot]))
	r.setPointer(r.layout.ReadSlot, mod(rp+1, r.modulus()))

	return b, true
}

// Drain pops bytes until the queue is empty.
func (r *Ring) Drain() []byte {
	var out []byte

	for {
		b, ok := r.Pop()
		if !ok {
			return out
		}

		out = append(out, b)
	}
}

// Overflowed reports whether a byte has been dropped. For sacrificed-slot
// rings this reads the flag stored in memory, so drops by either side are
// visible.
func (r *Ring) Overflowed() bool {
	if r.variant == VariantSacrificedSlot {
		return r.rawWord(r.layout.WriteSlot)&OverflowFlag != 0
	}

	return r.overflows > 0
}

// Overflows returns the number of pushes through this Ring that were
// dropped.
func (r *Ring) Overflows() int {
	return r.overflows
}

// ClearOverflow resets the overflow indicator and counter.
func (r *Ring) ClearOverflow() {
	r.overflows = 0

	if r.variant == VariantSacrificedSlot {
		slot := r.layout.WriteSlot
		r.memory[slot] = float64(r.rawWord(slot) &^ OverflowFlag)
	}
}

func mod(a, m int) int {
	r := a % m
	if r < 0 {
		r += m
	}

	return r
}
