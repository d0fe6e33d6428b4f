package access

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/sarchlab/procaccess/flashing"
	"github.com/sarchlab/procaccess/processor"
	"github.com/sarchlab/procaccess/sim"
	"github.com/sarchlab/procaccess/uart"
)

// maxPendingSerial bounds the client bytes held back while a serial port is
// full.
const maxPendingSerial = 4096

var errClientGone = fmt.Errorf("%w: client disconnected", sim.ErrRuntime)

func errUnknownRequest(req Request) error {
	return fmt.Errorf("%w: unsupported request %T", sim.ErrProtocol, req)
}

func (s *session) path(path string, absolute bool) string {
	return resolvePath(s.server.localRoot, path, absolute)
}

func (s *session) progress(kind, path string) flashing.ProgressFunc {
	return func(done, total int) {
		s.server.InvokeHook(sim.HookCtx{
			Domain: s.server,
			Pos:    HookPosTransfer,
			Item: TransferProgress{
				SessionID: s.id,
				Kind:      kind,
				Path:      path,
				Done:      done,
				Total:     total,
			},
		})
	}
}

func (s *session) flash(ctx context.Context, r FlashRequest) (Response, error) {
	path := s.path(r.Path, r.IsAbsolute())
	fs := s.server.fs

	if !fs.Exists(path) {
		return nil, fmt.Errorf("%w: file not found: %s",
			sim.ErrInvalidArgument, path)
	}

	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sim.ErrRuntime, err)
	}

	progress := s.progress(TypeFlash, path)

	n, err := onSim(ctx, s.server, func(p *processor.Processor) (int, error) {
		return p.Flasher().Flash(data, progress)
	})
	if err != nil {
		return nil, err
	}

	return Success("Successfully flashed %d bytes from %s to ROM.", n, path), nil
}

func (s *session) dump(ctx context.Context, r DumpRequest) (Response, error) {
	path := s.path(r.Path, r.IsAbsolute())
	desc := s.server.proc.Descriptor()

	address := desc.Layout.RAM.Start
	if r.Address != nil {
		address = *r.Address
	}

	count := int(int64(desc.RAMEnd()) - int64(address))
	if r.Bytes != nil {
		count = *r.Bytes
	}

	progress := s.progress(TypeDump, path)

	data, err := onSim(ctx, s.server, func(p *processor.Processor) ([]byte, error) {
		it, err := p.Flasher().Dump(address, count)
		if err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if _, err := it.WriteWithProgress(&buf, progress); err != nil {
			return nil, err
		}

		return buf.Bytes(), nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.server.fs.WriteFile(path, data); err != nil {
		return nil, fmt.Errorf("%w: %v", sim.ErrRuntime, err)
	}

	return Success("Successfully dumped %d bytes from RAM to %s.",
		len(data), path), nil
}

func (s *session) start(ctx context.Context, r StartRequest) (Response, error) {
	_, err := onSim(ctx, s.server, func(p *processor.Processor) (struct{}, error) {
		p.Start(r.SingleStep)
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}

	return Success("Processor started."), nil
}

func (s *session) stop(ctx context.Context) (Response, error) {
	_, err := onSim(ctx, s.server, func(p *processor.Processor) (struct{}, error) {
		p.Stop()
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}

	return Success("Processor stopped."), nil
}

func (s *session) unpause(ctx context.Context) (Response, error) {
	_, err := onSim(ctx, s.server, func(p *processor.Processor) (struct{}, error) {
		return struct{}{}, p.Unpause()
	})
	if err != nil {
		return nil, err
	}

	return Success("Processor unpaused."), nil
}

func (s *session) status(ctx context.Context) (Response, error) {
	st, err := onSim(ctx, s.server, func(p *processor.Processor) (processor.Status, error) {
		return p.Status(), nil
	})
	if err != nil {
		return nil, err
	}

	return StatusOf(st), nil
}

type runState struct {
	running bool
	paused  bool
}

func (s *session) wait(ctx context.Context, r WaitRequest) (Response, error) {
	for {
		if err := s.sleep(ctx); err != nil {
			return nil, err
		}

		st, err := onSim(ctx, s.server, func(p *processor.Processor) (runState, error) {
			return runState{running: p.Running(), paused: p.Paused()}, nil
		})
		if err != nil {
			return nil, err
		}

		if r.Stopped && !st.running {
			return Success("Processor has stopped."), nil
		}

		if r.Paused && st.paused {
			return Success("Processor has paused."), nil
		}
	}
}

type serialTick struct {
	closed   bool
	consumed int
	dropped  int
	out      []byte
}

func (s *session) serial(ctx context.Context, r SerialRequest) (Response, error) {
	logger := s.server.logger

	ch, err := onSim(ctx, s.server, func(p *processor.Processor) (*uart.Channel, error) {
		return p.UARTByName(r.Device)
	})
	if errors.Is(err, errProcessorGone) {
		logger.Printf("%s is no longer valid, closing serial connection.",
			s.server.proc.Name())
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var pending []byte

	for {
		if r.Transmit() {
			in, err := s.readAvailable(maxPendingSerial - len(pending))
			pending = append(pending, in...)

			if err != nil {
				return nil, errClientGone
			}
		} else if _, err := s.readAvailable(maxPendingSerial); err != nil {
			// Input on a receive-only stream is dropped.
			return nil, errClientGone
		}

		tick, err := onSim(ctx, s.server, func(p *processor.Processor) (serialTick, error) {
			return pumpSerial(p, ch, r, pending)
		})

		switch {
		case errors.Is(err, errProcessorGone):
			logger.Printf("%s is no longer valid, closing serial connection.",
				s.server.proc.Name())
			return nil, nil
		case err != nil:
			return nil, err
		case tick.closed:
			return nil, nil
		}

		pending = pending[tick.consumed:]

		if tick.dropped > 0 {
			logger.Printf("%s RX buffer is full, %d bytes dropped!",
				r.Device, tick.dropped)
		}

		if len(tick.out) > 0 {
			if _, err := s.conn.Write(tick.out); err != nil {
				return nil, errClientGone
			}
		}

		if err := s.sleep(ctx); err != nil {
			return nil, err
		}
	}
}

// pumpSerial moves one tick worth of bytes. At most AvailableForWrite bytes
// go into the port; the rest stay pending.
func pumpSerial(
	p *processor.Processor,
	ch *uart.Channel,
	r SerialRequest,
	pending []byte,
) (serialTick, error) {
	var t serialTick

	if !p.Running() {
		switch {
		case r.DisconnectOnHalt:
			t.closed = true
			return t, nil
		case r.StopOnHalt:
			return t, fmt.Errorf("%w: processor stopped", sim.ErrRuntime)
		}
	}

	if r.Transmit() {
		t.consumed = min(len(pending), ch.AvailableForWrite())
		written := ch.WriteBytes(pending[:t.consumed])
		t.dropped = t.consumed - written
	}

	if r.Receive() {
		t.out = ch.ReadAll()
	}

	return t, nil
}
