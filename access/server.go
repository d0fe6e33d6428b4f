// Package access serves the processor debug protocol: newline-delimited JSON
// requests over TCP, answered one response frame per request.
package access

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sarchlab/procaccess/processor"
	"github.com/sarchlab/procaccess/sim"
)

// HookPosRequestStart is triggered when a request has been decoded. The item
// is the Request and the detail a RequestInfo.
var HookPosRequestStart = &sim.HookPos{Name: "RequestStart"}

// HookPosRequestEnd is triggered after a request has been handled. The item
// is the Request and the detail a RequestInfo with Response set.
var HookPosRequestEnd = &sim.HookPos{Name: "RequestEnd"}

// HookPosTransfer is triggered while flash and dump requests move data. The
// item is a TransferProgress.
var HookPosTransfer = &sim.HookPos{Name: "Transfer"}

// RequestInfo describes the request a hook was triggered for.
type RequestInfo struct {
	SessionID string
	Line      string
	Start     time.Time
	End       time.Time

	// Response is nil until the request has been handled, and stays nil if
	// the session was closed instead of answered.
	Response Response
}

// TransferProgress reports how far a flash or dump has come.
type TransferProgress struct {
	SessionID string
	Kind      string
	Path      string
	Done      int
	Total     int
}

// A Server is the protocol endpoint of one processor.
type Server struct {
	sim.HookableBase

	engine       sim.Engine
	proc         *processor.Processor
	host         string
	port         int
	pollInterval time.Duration
	logger       *log.Logger
	fs           FileSystem
	localRoot    string
	idGen        sim.IDGenerator

	lock     sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
	sessions sync.WaitGroup
}

// Processor returns the processor served.
func (s *Server) Processor() *processor.Processor {
	return s.proc
}

// Engine returns the engine the server marshals work onto.
func (s *Server) Engine() sim.Engine {
	return s.engine
}

// Start binds the listening socket and starts accepting connections in the
// background. Bind errors are logged and returned; the server then stays
// stopped. A server whose accept loop has ended may be started again.
func (s *Server) Start(ctx context.Context) error {
	if !s.Running() {
		// Reap an accept loop that ended on its own.
		s.Stop()
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.listener != nil {
		return fmt.Errorf("%w: server is already running", sim.ErrInvalidArgument)
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		s.logger.Printf("Failed to start server on %s: %v", addr, err)
		return fmt.Errorf("%w: listen on %s: %v", sim.ErrRuntime, addr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.listener = ln
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Printf("Starting server for %s on %s", s.proc.Name(), ln.Addr())

	go s.acceptLoop(ctx, ln, s.done)

	return nil
}

// Addr returns the address the server listens on, or nil if it is stopped.
func (s *Server) Addr() net.Addr {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Running reports whether the accept loop is alive.
func (s *Server) Running() bool {
	s.lock.Lock()
	done := s.done
	s.lock.Unlock()

	if done == nil {
		return false
	}

	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Stop closes the listener, cancels all sessions, and returns once every
// session has ended. Stop may be called on the simulation thread.
func (s *Server) Stop() {
	s.lock.Lock()
	ln, cancel, done := s.listener, s.cancel, s.done
	s.listener, s.cancel, s.done = nil, nil, nil
	s.lock.Unlock()

	if ln == nil {
		return
	}

	s.logger.Printf("Stopping server for %s...", s.proc.Name())

	cancel()
	ln.Close()
	<-done
	s.sessions.Wait()

	s.logger.Printf("Stopped server.")
}

func (s *Server) acceptLoop(
	ctx context.Context,
	ln net.Listener,
	done chan<- struct{},
) {
	defer close(done)
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Printf("Accept failed, stopping server: %v", err)
			}

			return
		}

		valid, err := sim.RunOnSimThread(ctx, s.engine, func() (bool, error) {
			return s.proc.Valid(), nil
		})
		if err != nil || !valid {
			if err == nil {
				s.logger.Printf("%s is no longer valid, stopping server",
					s.proc.Name())
			}

			conn.Close()

			return
		}

		s.sessions.Add(1)

		go func() {
			defer s.sessions.Done()

			newSession(s, conn).run(ctx)
		}()
	}
}

// onSim runs work with the processor on the simulation thread. It fails with
// errProcessorGone if the processor has been removed from the grid.
func onSim[T any](
	ctx context.Context,
	s *Server,
	work func(p *processor.Processor) (T, error),
) (T, error) {
	return sim.RunOnSimThread(ctx, s.engine, func() (T, error) {
		if !s.proc.Valid() {
			var zero T
			return zero, errProcessorGone
		}

		return work(s.proc)
	})
}

var errProcessorGone = fmt.Errorf("%w: processor is no longer valid",
	sim.ErrNotFound)

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
