package access

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/sarchlab/procaccess/sim"
)

// probeTimeout bounds the non-blocking reads used to look for client input
// or a closed connection while a request is polling.
const probeTimeout = time.Millisecond

type session struct {
	id     string
	server *Server
	conn   net.Conn

	// reader is shared by the frame protocol and the raw serial stream, so
	// bytes buffered in one mode are seen by the other.
	reader *bufio.Reader
}

func newSession(s *Server, conn net.Conn) *session {
	return &session{
		id:     s.idGen.Generate(),
		server: s,
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

func (s *session) run(ctx context.Context) {
	logger := s.server.logger
	logger.Printf("Client %s connected from %s", s.id, s.conn.RemoteAddr())

	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()
	defer s.conn.Close()

	for {
		line, readErr := s.reader.ReadBytes('\n')
		if readErr != nil && (len(line) == 0 || !errors.Is(readErr, io.EOF)) {
			if s.unexpected(ctx, readErr) {
				logger.Printf("Client %s read failed: %v", s.id, readErr)
			}

			break
		}

		line = bytes.TrimRight(line, "\r\n")
		logger.Printf("Got request: %s", line)

		resp := s.handleLine(ctx, line)
		if resp == nil {
			logger.Printf("Disconnecting from client %s.", s.id)
			break
		}

		if err := s.send(resp); err != nil || readErr != nil {
			break
		}
	}

	logger.Printf("Client %s disconnected.", s.id)
}

func (s *session) unexpected(ctx context.Context, err error) bool {
	return ctx.Err() == nil &&
		!errors.Is(err, io.EOF) &&
		!errors.Is(err, net.ErrClosed)
}

func (s *session) send(resp Response) error {
	frame, err := EncodeResponse(resp)
	if err != nil {
		return err
	}

	_, err = s.conn.Write(frame)

	return err
}

// handleLine decodes and dispatches one frame. A nil response closes the
// session.
func (s *session) handleLine(ctx context.Context, line []byte) Response {
	info := &RequestInfo{
		SessionID: s.id,
		Line:      string(line),
		Start:     time.Now(),
	}

	req, err := DecodeRequest(line)
	if err != nil {
		return s.failure(err)
	}

	s.server.InvokeHook(sim.HookCtx{
		Domain: s.server,
		Pos:    HookPosRequestStart,
		Item:   req,
		Detail: info,
	})

	resp, err := s.dispatch(ctx, req)
	if err != nil {
		resp = s.failure(err)
	}

	info.End = time.Now()
	info.Response = resp

	s.server.InvokeHook(sim.HookCtx{
		Domain: s.server,
		Pos:    HookPosRequestEnd,
		Item:   req,
		Detail: info,
	})

	return resp
}

// failure turns an error into a response. Cancellation and a vanished
// client close the session instead of answering.
func (s *session) failure(err error) Response {
	if isCancellation(err) {
		return nil
	}

	if errors.Is(err, errClientGone) {
		s.server.logger.Printf("Request failed: %v", err)
		return nil
	}

	if errors.Is(err, sim.ErrInvalidArgument) || errors.Is(err, sim.ErrProtocol) {
		s.server.logger.Printf("Bad request: %v", err)
		return Failure("Bad request: " + err.Error())
	}

	s.server.logger.Printf("Request failed: %v", err)

	return Failure("Request failed: " + err.Error())
}

func (s *session) dispatch(ctx context.Context, req Request) (Response, error) {
	switch r := req.(type) {
	case FlashRequest:
		return s.flash(ctx, r)
	case DumpRequest:
		return s.dump(ctx, r)
	case StartRequest:
		return s.start(ctx, r)
	case StopRequest:
		return s.stop(ctx)
	case UnpauseRequest:
		return s.unpause(ctx)
	case WaitRequest:
		return s.wait(ctx, r)
	case SerialRequest:
		return s.serial(ctx, r)
	case StatusRequest:
		return s.status(ctx)
	default:
		return nil, errUnknownRequest(req)
	}
}

// sleep waits one poll interval. It returns an error if the server stops or
// the client goes away in the meantime.
func (s *session) sleep(ctx context.Context) error {
	timer := time.NewTimer(s.server.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if s.clientGone() {
		return errClientGone
	}

	return nil
}

// clientGone probes the connection for end of stream without consuming
// input. Bytes the client sent ahead stay buffered for the frame reader, and
// the probe looks past them. A completely full buffer cannot be probed.
func (s *session) clientGone() bool {
	ahead := s.reader.Buffered()
	if ahead >= s.reader.Size() {
		return false
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(probeTimeout))
	_, err := s.reader.Peek(ahead + 1)
	_ = s.conn.SetReadDeadline(time.Time{})

	return err != nil && !isTimeout(err)
}

// readAvailable returns up to limit bytes of client input that arrive
// within the probe timeout.
func (s *session) readAvailable(limit int) ([]byte, error) {
	if limit <= 0 {
		return nil, nil
	}

	buf := make([]byte, limit)

	if s.reader.Buffered() > 0 {
		n, _ := s.reader.Read(buf[:min(limit, s.reader.Buffered())])
		return buf[:n], nil
	}

	_ = s.conn.SetReadDeadline(time.Now().Add(probeTimeout))
	n, err := s.reader.Read(buf)
	_ = s.conn.SetReadDeadline(time.Time{})

	if err != nil && !isTimeout(err) {
		return buf[:n], err
	}

	return buf[:n], nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
