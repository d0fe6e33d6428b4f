package flashing

import (
	"encoding/binary"
	"io"

	"github.com/sarchlab/procaccess/addressing"
)

// A DumpIterator reads consecutive RAM words. It is finite and forward-only.
// Iteration stops early, without an error, at the first address whose unit
// cannot be found; the output is then shorter than requested.
type DumpIterator struct {
	translator *addressing.Translator

	next      uint32
	remaining int
	total     int

	unit     addressing.Unit
	haveUnit bool

	address   uint32
	word      uint32
	truncated bool
}

// Next advances to the next word. It returns false when the requested
// number of words has been produced or an unmapped unit was hit.
func (it *DumpIterator) Next() bool {
	if it.remaining == 0 || it.truncated {
		return false
	}

	if !it.loadUnit() {
		it.truncated = true
		return false
	}

	it.address = it.next
	it.word = it.unit.Word(it.unit.Slot).Uint32()

	it.remaining--
	it.next += addressing.WordBytes
	it.unit.Slot++

	if it.unit.Slot >= it.unit.Words() {
		it.haveUnit = false
	}

	return true
}

func (it *DumpIterator) loadUnit() bool {
	if it.haveUnit {
		return true
	}

	unit, ok := it.translator.Locate(it.next, addressing.RAM)
	if !ok {
		return false
	}

	it.unit = unit
	it.haveUnit = true

	return true
}

// Word returns the word produced by the last call to Next.
func (it *DumpIterator) Word() uint32 {
	return it.word
}

// Address returns the address of the word produced by the last call to Next.
func (it *DumpIterator) Address() uint32 {
	return it.address
}

// Truncated reports whether iteration stopped at an unmapped unit.
func (it *DumpIterator) Truncated() bool {
	return it.truncated
}

// Total returns the number of bytes that were requested.
func (it *DumpIterator) Total() int {
	return it.total
}

// WriteTo drains the iterator into w, four big-endian bytes per word.
func (it *DumpIterator) WriteTo(w io.Writer) (int64, error) {
	return it.WriteWithProgress(w, nil)
}

// WriteWithProgress is WriteTo with progress reporting once per unit.
func (it *DumpIterator) WriteWithProgress(
	w io.Writer,
	progress ProgressFunc,
) (int64, error) {
	var (
		written int64
		buf     [addressing.WordBytes]byte
	)

	for it.Next() {
		binary.BigEndian.PutUint32(buf[:], it.word)

		n, err := w.Write(buf[:])
		written += int64(n)

		if err != nil {
			return written, err
		}

		if progress != nil && !it.haveUnit {
			progress(int(written), it.total)
		}
	}

	if progress != nil {
		progress(int(written), it.total)
	}

	return written, nil
}
