package access

import (
	"log"
	"os"
	"time"

	"github.com/sarchlab/procaccess/processor"
	"github.com/sarchlab/procaccess/sim"
)

// DefaultPort is the port servers listen on unless configured otherwise.
const DefaultPort = 5000

// Builder can build servers.
type Builder struct {
	host         string
	port         int
	pollInterval time.Duration
	logger       *log.Logger
	fs           FileSystem
	localRoot    string
	idGen        sim.IDGenerator
	hooks        []sim.Hook
}

// MakeBuilder returns a new Builder
func MakeBuilder() Builder {
	return Builder{
		host:      "localhost",
		port:      DefaultPort,
		fs:        OSFileSystem{},
		localRoot: ".",
	}
}

// WithHost sets the host name or address to listen on
func (b Builder) WithHost(host string) Builder {
	b.host = host
	return b
}

// WithPort sets the port to listen on. Port 0 picks a free port.
func (b Builder) WithPort(port int) Builder {
	b.port = port
	return b
}

// WithPollInterval sets how often wait and serial requests check the
// processor. It defaults to one tick of the engine.
func (b Builder) WithPollInterval(d time.Duration) Builder {
	b.pollInterval = d
	return b
}

// WithLogger sets the logger of the server
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

// WithFileSystem sets where image files are read and written
func (b Builder) WithFileSystem(fs FileSystem) Builder {
	b.fs = fs
	return b
}

// WithLocalRoot sets the directory that relative paths resolve against
func (b Builder) WithLocalRoot(dir string) Builder {
	b.localRoot = dir
	return b
}

// WithIDGenerator sets the generator of session IDs
func (b Builder) WithIDGenerator(g sim.IDGenerator) Builder {
	b.idGen = g
	return b
}

// WithHooks adds hooks that every built server accepts.
func (b Builder) WithHooks(hooks ...sim.Hook) Builder {
	b.hooks = append(b.hooks[:len(b.hooks):len(b.hooks)], hooks...)
	return b
}

// Build creates a server for proc. The server is not started.
func (b Builder) Build(engine sim.Engine, proc *processor.Processor) *Server {
	s := &Server{
		engine:       engine,
		proc:         proc,
		host:         b.host,
		port:         b.port,
		pollInterval: b.pollInterval,
		logger:       b.logger,
		fs:           b.fs,
		localRoot:    b.localRoot,
		idGen:        b.idGen,
	}

	if s.pollInterval <= 0 {
		s.pollInterval = engine.Freq().Period()
	}

	if s.logger == nil {
		s.logger = log.New(os.Stderr, "[access] ", log.LstdFlags)
	}

	if s.idGen == nil {
		s.idGen = sim.GetIDGenerator()
	}

	for _, h := range b.hooks {
		s.AcceptHook(h)
	}

	return s
}
