package sim

import (
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator hands out the identifiers of sessions, recorded rows and
// progress bars.
type IDGenerator interface {
	Generate() string
}

var ids struct {
	sync.Mutex
	gen IDGenerator
}

// UseSequentialIDGenerator makes the process number its IDs 1, 2, 3, ...
// This is the default.
func UseSequentialIDGenerator() {
	setIDGenerator(new(sequentialIDs))
}

// UseParallelIDGenerator makes the process use globally unique IDs, so that
// recordings of different runs never share an ID.
func UseParallelIDGenerator() {
	setIDGenerator(uniqueIDs{})
}

func setIDGenerator(g IDGenerator) {
	ids.Lock()
	defer ids.Unlock()

	if ids.gen != nil {
		log.Panic("cannot change id generator type after using it")
	}

	ids.gen = g
}

// GetIDGenerator returns the ID generator of the process. The first call
// fixes the generator type.
func GetIDGenerator() IDGenerator {
	ids.Lock()
	defer ids.Unlock()

	if ids.gen == nil {
		ids.gen = new(sequentialIDs)
	}

	return ids.gen
}

type sequentialIDs struct {
	last atomic.Uint64
}

func (g *sequentialIDs) Generate() string {
	return strconv.FormatUint(g.last.Add(1), 10)
}

type uniqueIDs struct{}

func (uniqueIDs) Generate() string {
	return xid.New().String()
}
