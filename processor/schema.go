// Package processor finds simulated processors on the grid and exposes
// their control points, status sources, memory, and serial ports.
package processor

import (
	"github.com/sarchlab/procaccess/addressing"
	"github.com/sarchlab/procaccess/flashing"
	"github.com/sarchlab/procaccess/uart"
)

// NumUARTs is the number of serial ports of a processor.
const NumUARTs = 4

// A Schema names everything a processor generation exposes. Generations
// differ in names, offsets, and buffering, so resolution is driven by a
// Schema value rather than by constants.
type Schema struct {
	Name string

	// Numeric variables of the processor unit.
	MemoryXVar     string
	MemoryYVar     string
	MemoryWidthVar string
	ROMSizeVar     string
	RAMSizeVar     string
	UARTModuloVar  string

	// Names of the components, looked up as object variables first and then
	// as links.
	RegistersRef  string
	CSRRef        string
	ErrorRef      string
	PowerRef      string
	PauseRef      string
	SingleStepRef string
	UARTRefs      [NumUARTs]string

	ROMStart     uint32
	RAMStart     uint32
	ROMUnitBytes int
	RAMUnitWords int

	ROMShape addressing.Shape
	RAMShape addressing.Shape

	Encoding flashing.Encoding

	UARTVariant uart.Variant
	UARTLayout  uart.Layout
}

// CurrentSchema returns the schema of current processors.
func CurrentSchema() Schema {
	return Schema{
		Name: "current",

		MemoryXVar:     "MEMORY_X",
		MemoryYVar:     "MEMORY_Y",
		MemoryWidthVar: "MEMORY_WIDTH",
		ROMSizeVar:     "ROM_SIZE",
		RAMSizeVar:     "RAM_SIZE",
		UARTModuloVar:  "UART_FIFO_MODULO",

		RegistersRef:  "cell1",
		CSRRef:        "processor17",
		ErrorRef:      "message1",
		PowerRef:      "switch1",
		PauseRef:      "switch2",
		SingleStepRef: "switch3",
		UARTRefs:      [NumUARTs]string{"bank1", "bank2", "bank3", "bank4"},

		ROMStart:     0x00000000,
		RAMStart:     0x80000000,
		ROMUnitBytes: 16384,
		RAMUnitWords: 4096,

		ROMShape: addressing.Shape{RequiredVar: "v"},
		RAMShape: addressing.Shape{
			VarCount:     4096 + 1,
			SentinelSlot: 1,
			SentinelName: "!!",
			WordOffset:   1,
		},

		Encoding: flashing.DefaultEncoding,

		UARTVariant: uart.VariantSacrificedSlot,
		UARTLayout:  uart.DefaultLayout,
	}
}

// LegacySchema returns the schema of the older processor generation, which
// stored ROM bytes without an offset and used double-modulus UART rings.
func LegacySchema() Schema {
	s := CurrentSchema()
	s.Name = "legacy"
	s.Encoding.Offset = 0
	s.UARTVariant = uart.VariantDoubleModulus

	return s
}

// WithUnitWords returns a copy of s whose ROM and RAM units hold the given
// number of words.
func (s Schema) WithUnitWords(words int) Schema {
	s.ROMUnitBytes = words * addressing.WordBytes
	s.RAMUnitWords = words
	s.RAMShape.VarCount = words + s.RAMShape.WordOffset

	return s
}

func (s Schema) romUnitWords() int {
	return s.ROMUnitBytes / addressing.WordBytes
}
