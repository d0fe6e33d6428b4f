// Package console registers operator commands that act on processors by
// grid position instead of through a protocol connection.
package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sarchlab/procaccess/access"
	"github.com/sarchlab/procaccess/processor"
	"github.com/sarchlab/procaccess/sim"
)

// A Handler runs one command with its positional arguments.
type Handler func(ctx context.Context, args []string) error

// A Registrar accepts operator commands. Params lists the positional
// arguments, required ones as <name> and optional ones as [name].
type Registrar interface {
	Register(name, params, description string, handler Handler)
}

// Commands implements the operator command set.
type Commands struct {
	engine  sim.Engine
	grid    sim.Grid
	manager *access.Manager

	schemas   []processor.Schema
	prefix    string
	logger    *log.Logger
	fs        access.FileSystem
	localRoot string
	server    access.Builder
}

// Register adds every command to r.
func (c *Commands) Register(r Registrar) {
	r.Register(c.prefix+"flash", "<x> <y> <file>",
		"Flash a .bin file to the processor's ROM.", c.flash)
	r.Register(c.prefix+"dump", "<x> <y> <file> [start-address] [bytes]",
		"Dump the processor's RAM to a file.", c.dump)
	r.Register(c.prefix+"start", "<x> <y>",
		"Start the processor.", c.control("Processor started.",
			(*processor.Processor).PowerOn))
	r.Register(c.prefix+"pause", "<x> <y>",
		"Pause the processor.", c.control("Processor paused.",
			(*processor.Processor).Pause))
	r.Register(c.prefix+"step", "<x> <y>",
		"Step the processor by one instruction.", c.control("Processor stepped.",
			(*processor.Processor).Step))
	r.Register(c.prefix+"unpause", "<x> <y>",
		"Unpause the processor.", c.control("Processor unpaused.",
			(*processor.Processor).Resume))
	r.Register(c.prefix+"stop", "<x> <y>",
		"Stop the processor.", c.control("Processor stopped.",
			(*processor.Processor).PowerOff))
	r.Register(c.prefix+"status", "<x> <y>",
		"View the processor's status.", c.status)
	r.Register(c.prefix+"serve", "<x> <y> [host] [port]",
		"Start the access server of the processor.", c.serve)
	r.Register(c.prefix+"shutdown", "[x] [y]",
		"Stop the access server of one processor, or of all processors.",
		c.shutdown)
}

func (c *Commands) flash(ctx context.Context, args []string) error {
	p, err := c.processor(ctx, args)
	if err != nil {
		return err
	}

	path := c.path(args[2])
	if !c.fs.Exists(path) {
		return fmt.Errorf("%w: file does not exist: %s",
			sim.ErrInvalidArgument, path)
	}

	data, err := c.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", sim.ErrRuntime, err)
	}

	n, err := sim.RunOnSimThread(ctx, c.engine, func() (int, error) {
		return p.Flasher().Flash(data, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to flash file: %w", err)
	}

	c.logger.Printf("Successfully flashed %d bytes from %s.", n, path)

	return nil
}

func (c *Commands) dump(ctx context.Context, args []string) error {
	p, err := c.processor(ctx, args)
	if err != nil {
		return err
	}

	desc := p.Descriptor()

	address := desc.Layout.RAM.Start
	if len(args) >= 4 {
		v, err := strconv.ParseUint(args[3], 0, 32)
		if err != nil {
			return fmt.Errorf("%w: failed to parse start address",
				sim.ErrInvalidArgument)
		}

		address = uint32(v)
	}

	count := int(int64(desc.RAMEnd()) - int64(address))
	if len(args) >= 5 {
		count, err = strconv.Atoi(args[4])
		if err != nil {
			return fmt.Errorf("%w: failed to parse bytes", sim.ErrInvalidArgument)
		}
	}

	data, err := sim.RunOnSimThread(ctx, c.engine, func() ([]byte, error) {
		it, err := p.Flasher().Dump(address, count)
		if err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if _, err := it.WriteTo(&buf); err != nil {
			return nil, err
		}

		return buf.Bytes(), nil
	})
	if err != nil {
		return fmt.Errorf("failed to dump RAM: %w", err)
	}

	path := c.path(args[2])
	if err := c.fs.WriteFile(path, data); err != nil {
		return fmt.Errorf("failed to dump RAM: %w", err)
	}

	c.logger.Printf("Successfully dumped %d bytes from processor RAM to %s.",
		len(data), path)

	return nil
}

func (c *Commands) control(msg string, op func(*processor.Processor)) Handler {
	return func(ctx context.Context, args []string) error {
		p, err := c.processor(ctx, args)
		if err != nil {
			return err
		}

		err = sim.Do(ctx, c.engine, func() error {
			op(p)
			return nil
		})
		if err != nil {
			return err
		}

		c.logger.Print(msg)

		return nil
	}
}

func (c *Commands) status(ctx context.Context, args []string) error {
	p, err := c.processor(ctx, args)
	if err != nil {
		return err
	}

	s, err := sim.RunOnSimThread(ctx, c.engine, func() (processor.Status, error) {
		return p.Status(), nil
	})
	if err != nil {
		return err
	}

	text, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	c.logger.Printf("%s", text)

	return nil
}

func (c *Commands) serve(ctx context.Context, args []string) error {
	p, err := c.processor(ctx, args)
	if err != nil {
		return err
	}

	b := c.server
	if len(args) >= 3 {
		b = b.WithHost(args[2])
	}

	if len(args) >= 4 {
		port, err := strconv.Atoi(args[3])
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("%w: failed to parse port", sim.ErrInvalidArgument)
		}

		b = b.WithPort(port)
	}

	return c.manager.Start(context.WithoutCancel(ctx), b.Build(c.engine, p))
}

func (c *Commands) shutdown(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		c.manager.StopAll()
		c.logger.Print("Stopped all servers.")

		return nil
	case 1:
		return fmt.Errorf("%w: expected both coordinates", sim.ErrInvalidArgument)
	}

	p, err := c.processor(ctx, args)
	if err != nil {
		return err
	}

	if !c.manager.Stop(p.ID()) {
		c.logger.Printf("No server is running for %s.", p.Name())
	}

	return nil
}

// processor resolves the processor at the coordinates in args[0:2], trying
// each schema in order.
func (c *Commands) processor(
	ctx context.Context,
	args []string,
) (*processor.Processor, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%w: expected <x> <y>", sim.ErrInvalidArgument)
	}

	x, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse x coordinate",
			sim.ErrInvalidArgument)
	}

	y, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse y coordinate",
			sim.ErrInvalidArgument)
	}

	return sim.RunOnSimThread(ctx, c.engine, func() (*processor.Processor, error) {
		if _, ok := c.grid.EntityAt(x, y).(sim.LogicUnit); !ok {
			return nil, fmt.Errorf("%w: invalid position: no processor found",
				sim.ErrNotFound)
		}

		for _, s := range c.schemas {
			if p, ok := processor.Resolve(c.grid, x, y, s); ok {
				return p, nil
			}
		}

		return nil, fmt.Errorf(
			"%w: invalid position: processor is not a valid CPU", sim.ErrNotFound)
	})
}

func (c *Commands) path(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}

	return filepath.Join(c.localRoot, path)
}

// DefaultLogger returns the logger operator commands report to.
func DefaultLogger() *log.Logger {
	return log.New(os.Stderr, "[console] ", log.LstdFlags)
}
