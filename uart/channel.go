package uart

import (
	"fmt"

	"github.com/sarchlab/procaccess/sim"
)

// Layout places the two rings of a channel inside a memory bank. TX is the
// ring we push into, RX the ring we pop from.
type Layout struct {
	TX RingLayout
	RX RingLayout
}

// DefaultLayout is the bank layout of the serial ports of current
// processors.
var DefaultLayout = Layout{
	TX: RingLayout{Base: 0, ReadSlot: 254, WriteSlot: 255},
	RX: RingLayout{Base: 256, ReadSlot: 510, WriteSlot: 511},
}

// Check tells whether both rings of the layout fit into memLen words with the
// given capacity.
func (l Layout) Check(memLen, capacity int, variant Variant) error {
	if err := checkRing(memLen, l.TX, capacity, variant); err != nil {
		return fmt.Errorf("tx: %w", err)
	}

	if err := checkRing(memLen, l.RX, capacity, variant); err != nil {
		return fmt.Errorf("rx: %w", err)
	}

	return nil
}

// CapacityFromModulo returns the ring capacity for a processor that declares
// the given FIFO modulo. One slot is always kept free.
func CapacityFromModulo(modulo int) int {
	return modulo - 1
}

// A Channel is one serial port seen from outside the processor. Writes go
// into the processor's receive queue and reads come from its transmit queue.
// A Channel holds no state other than an overflow counter; all queue state
// lives in the memory bank.
type Channel struct {
	bank sim.MemoryBank
	tx   *Ring
	rx   *Ring
}

// NewChannel creates a channel over bank. It panics if the layout does not
// fit into the bank.
func NewChannel(
	bank sim.MemoryBank,
	layout Layout,
	capacity int,
	variant Variant,
) *Channel {
	memory := bank.Memory()

	return &Channel{
		bank: bank,
		tx:   NewRing(memory, layout.TX, capacity, variant),
		rx:   NewRing(memory, layout.RX, capacity, variant),
	}
}

// Bank returns the memory bank that backs the channel.
func (c *Channel) Bank() sim.MemoryBank {
	return c.bank
}

// Valid reports whether the backing bank is still on the grid.
func (c *Channel) Valid() bool {
	return c.bank.Valid()
}

// Capacity returns the number of bytes each direction can hold.
func (c *Channel) Capacity() int {
	return c.tx.Capacity()
}

// Write sends one byte. It returns false if the byte was dropped.
func (c *Channel) Write(b byte) bool {
	return c.tx.Push(b)
}

// WriteBytes sends bytes in order and returns how many were accepted. Bytes
// after the first dropped one are not attempted.
func (c *Channel) WriteBytes(data []byte) int {
	for i, b := range data {
		if !c.tx.Push(b) {
			return i
		}
	}

	return len(data)
}

// AvailableForWrite returns how many bytes can be written without overflow.
func (c *Channel) AvailableForWrite() int {
	return c.tx.Available()
}

// Read receives one byte. It returns false if nothing is pending.
func (c *Channel) Read() (byte, bool) {
	return c.rx.Pop()
}

// ReadAll receives every pending byte.
func (c *Channel) ReadAll() []byte {
	return c.rx.Drain()
}

// Pending returns the number of bytes waiting to be read.
func (c *Channel) Pending() int {
	return c.rx.Size()
}

// Overflows returns the number of bytes this channel failed to write.
func (c *Channel) Overflows() int {
	return c.tx.Overflows()
}

// Overflowed reports whether the outgoing queue has dropped a byte.
func (c *Channel) Overflowed() bool {
	return c.tx.Overflowed()
}

// ClearOverflow resets the overflow state of the outgoing queue.
func (c *Channel) ClearOverflow() {
	c.tx.ClearOverflow()
}

// Peer returns the same port seen from inside the processor: it reads what
// this channel writes and writes what this channel reads. The peer shares
// memory with c.
func (c *Channel) Peer() *Channel {
	return &Channel{
		bank: c.bank,
		tx:   NewRing(c.bank.Memory(), c.rx.layout, c.rx.capacity, c.rx.variant),
		rx:   NewRing(c.bank.Memory(), c.tx.layout, c.tx.capacity, c.tx.variant),
	}
}
