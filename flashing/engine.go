// Package flashing moves binary images in and out of a processor's address
// space. Images are raw big-endian 32-bit words with no header.
package flashing

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/procaccess/addressing"
	"github.com/sarchlab/procaccess/sim"
)

// ProgressFunc is told how many bytes of a transfer are done.
type ProgressFunc func(done, total int)

// An Engine performs flash, load and dump transfers. All methods touch
// simulation state and must run on the simulation thread.
type Engine struct {
	translator *addressing.Translator
	encoding   Encoding
}

// NewEngine creates an engine.
func NewEngine(translator *addressing.Translator, encoding Encoding) *Engine {
	return &Engine{
		translator: translator,
		encoding:   encoding,
	}
}

// Encoding returns the ROM encoding of the engine.
func (e *Engine) Encoding() Encoding {
	return e.encoding
}

// Flash writes data into ROM starting at the first ROM address. Each ROM
// unit receives one chunk of the image as a single program update. Size
// checks and unit lookups all happen before the first unit is written.
func (e *Engine) Flash(data []byte, progress ProgressFunc) (int, error) {
	rom := e.translator.Layout().ROM

	if len(data)%addressing.WordBytes != 0 {
		return 0, fmt.Errorf("%w: data length must be a multiple of 4 bytes",
			sim.ErrInvalidArgument)
	}

	if uint64(len(data)) > uint64(rom.Size()) {
		return 0, fmt.Errorf(
			"%w: data is too large to fit into the processor's ROM",
			sim.ErrInvalidArgument)
	}

	chunkBytes := int(rom.UnitBytes())
	units, err := e.locateAll(rom.Start, len(data), chunkBytes, addressing.ROM)
	if err != nil {
		return 0, err
	}

	for i, unit := range units {
		start := i * chunkBytes
		end := min(start+chunkBytes, len(data))

		unit.Logic.UpdateCode(e.encoding.Encode(data[start:end]))

		if progress != nil {
			progress(end, len(data))
		}
	}

	return len(data), nil
}

// Load writes data into RAM as big-endian words starting at address. All
// target units are located before the first word is written.
func (e *Engine) Load(
	address uint32,
	data []byte,
	progress ProgressFunc,
) (int, error) {
	ram := e.translator.Layout().RAM

	if err := checkRAMRange(ram, address, len(data)); err != nil {
		return 0, err
	}

	if uint64(address)+uint64(len(data)) > uint64(ram.End) {
		return 0, fmt.Errorf("%w: data does not fit into RAM at 0x%08x",
			sim.ErrInvalidArgument, address)
	}

	unitBytes := int(ram.UnitBytes())
	firstUnitStart := address - (address-ram.Start)%ram.UnitBytes()
	span := int(address-firstUnitStart) + len(data)

	units, err := e.locateAll(firstUnitStart, span, unitBytes, addressing.RAM)
	if err != nil {
		return 0, err
	}

	for i := 0; i < len(data); i += addressing.WordBytes {
		offset := int(address-firstUnitStart) + i
		unit := units[offset/unitBytes]
		slot := (offset % unitBytes) / addressing.WordBytes

		word := binary.BigEndian.Uint32(data[i : i+addressing.WordBytes])
		unit.Word(slot).SetNum(float64(word))

		if progress != nil && ((offset+addressing.WordBytes)%unitBytes == 0 ||
			i+addressing.WordBytes == len(data)) {
			progress(i+addressing.WordBytes, len(data))
		}
	}

	return len(data), nil
}

// Dump returns an iterator over count bytes of RAM starting at address. The
// iterator is lazy; no unit is read before Next is called.
func (e *Engine) Dump(address uint32, count int) (*DumpIterator, error) {
	ram := e.translator.Layout().RAM

	if count <= 0 {
		return nil, fmt.Errorf("%w: byte count must be positive",
			sim.ErrInvalidArgument)
	}

	if uint64(count) > uint64(ram.Size()) {
		return nil, fmt.Errorf(
			"%w: byte count must not be greater than the RAM size",
			sim.ErrInvalidArgument)
	}

	if err := checkRAMRange(ram, address, count); err != nil {
		return nil, err
	}

	return &DumpIterator{
		translator: e.translator,
		next:       address,
		remaining:  count / addressing.WordBytes,
		total:      count,
	}, nil
}

func checkRAMRange(ram addressing.Segment, address uint32, count int) error {
	if count%addressing.WordBytes != 0 {
		return fmt.Errorf("%w: byte count must be aligned to 4 bytes",
			sim.ErrInvalidArgument)
	}

	if address%addressing.WordBytes != 0 {
		return fmt.Errorf("%w: address 0x%08x is not aligned to 4 bytes",
			sim.ErrInvalidArgument, address)
	}

	if !ram.Contains(address) {
		return fmt.Errorf("%w: address 0x%08x is not within RAM",
			sim.ErrInvalidArgument, address)
	}

	return nil
}

func (e *Engine) locateAll(
	start uint32,
	span, unitBytes int,
	kind addressing.SegmentKind,
) ([]addressing.Unit, error) {
	var units []addressing.Unit

	for offset := 0; offset < span; offset += unitBytes {
		address := start + uint32(offset)

		unit, ok := e.translator.Locate(address, kind)
		if !ok {
			return nil, fmt.Errorf("%w: %s unit for address 0x%08x",
				sim.ErrNotFound, kind, address)
		}

		units = append(units, unit)
	}

	return units, nil
}
