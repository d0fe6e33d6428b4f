package console

import (
	"log"

	"github.com/sarchlab/procaccess/access"
	"github.com/sarchlab/procaccess/processor"
	"github.com/sarchlab/procaccess/sim"
)

// Builder creates Commands.
type Builder struct {
	schemas   []processor.Schema
	prefix    string
	logger    *log.Logger
	fs        access.FileSystem
	localRoot string
	server    access.Builder
}

// MakeBuilder creates a Builder with the current and legacy schemas, files
// relative to the working directory, and default server parameters.
func MakeBuilder() Builder {
	return Builder{
		schemas: []processor.Schema{
			processor.CurrentSchema(),
			processor.LegacySchema(),
		},
		prefix:    "procaccess.",
		fs:        access.OSFileSystem{},
		localRoot: ".",
		server:    access.MakeBuilder(),
	}
}

// WithSchemas sets the schemas tried, in order, when resolving a processor.
func (b Builder) WithSchemas(schemas ...processor.Schema) Builder {
	b.schemas = schemas
	return b
}

// WithPrefix sets the prefix added to every command name.
func (b Builder) WithPrefix(prefix string) Builder {
	b.prefix = prefix
	return b
}

// WithLogger sets the logger that command results are reported to.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

// WithFileSystem sets the file system of flash and dump.
func (b Builder) WithFileSystem(fs access.FileSystem) Builder {
	b.fs = fs
	return b
}

// WithLocalRoot sets the directory relative paths are resolved against.
func (b Builder) WithLocalRoot(dir string) Builder {
	b.localRoot = dir
	return b
}

// WithServerBuilder sets the defaults of servers started with serve.
func (b Builder) WithServerBuilder(server access.Builder) Builder {
	b.server = server
	return b
}

// Build creates the commands. Servers started by them are tracked by
// manager.
func (b Builder) Build(
	engine sim.Engine,
	grid sim.Grid,
	manager *access.Manager,
) *Commands {
	logger := b.logger
	if logger == nil {
		logger = DefaultLogger()
	}

	return &Commands{
		engine:    engine,
		grid:      grid,
		manager:   manager,
		schemas:   b.schemas,
		prefix:    b.prefix,
		logger:    logger,
		fs:        b.fs,
		localRoot: b.localRoot,
		server:    b.server,
	}
}
