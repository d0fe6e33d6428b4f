package flashing

import (
	"fmt"
	"strings"

	"github.com/sarchlab/procaccess/sim"
)

// An Encoding turns a chunk of ROM bytes into the program text of a ROM
// unit. Every byte b becomes the single symbol rune(b + Offset); the symbols
// are wrapped between Prefix and Terminator. Processor generations differ in
// the offset, so it is configuration, not a constant.
type Encoding struct {
	Offset     int
	Prefix     string
	Terminator string
}

// DefaultEncoding is the encoding used by current processors.
var DefaultEncoding = Encoding{
	Offset:     174,
	Prefix:     "set v \"",
	Terminator: "\"\nstop",
}

// Encode converts bytes to program text.
func (e Encoding) Encode(data []byte) string {
	var b strings.Builder

	b.Grow(len(e.Prefix) + 2*len(data) + len(e.Terminator))
	b.WriteString(e.Prefix)

	for _, d := range data {
		b.WriteRune(rune(int(d) + e.Offset))
	}

	b.WriteString(e.Terminator)

	return b.String()
}

// Decode converts program text produced by Encode back to bytes.
func (e Encoding) Decode(code string) ([]byte, error) {
	if !strings.HasPrefix(code, e.Prefix) ||
		!strings.HasSuffix(code, e.Terminator) ||
		len(code) < len(e.Prefix)+len(e.Terminator) {
		return nil, fmt.Errorf("%w: program is not an encoded ROM chunk",
			sim.ErrInvalidArgument)
	}

	body := code[len(e.Prefix) : len(code)-len(e.Terminator)]
	data := make([]byte, 0, len(body))

	for _, r := range body {
		v := int(r) - e.Offset
		if v < 0 || v > 0xff {
			return nil, fmt.Errorf("%w: symbol %q is outside the encoding",
				sim.ErrInvalidArgument, r)
		}

		data = append(data, byte(v))
	}

	return data, nil
}
