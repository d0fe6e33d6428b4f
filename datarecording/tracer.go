package datarecording

import (
	"time"

	"github.com/sarchlab/procaccess/access"
	"github.com/sarchlab/procaccess/sim"
)

// Tables written by the Tracer.
const (
	RequestTable  = "request"
	TransferTable = "transfer"
)

// Outcomes of a recorded request.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeClosed  = "closed"
)

// RequestEntry is one handled protocol request.
type RequestEntry struct {
	ID         string
	Session    string
	Processor  string
	Kind       string
	Line       string
	Outcome    string
	Message    string
	StartTime  float64
	EndTime    float64
	DurationMS float64
}

// TransferEntry is one completed flash or dump.
type TransferEntry struct {
	ID        string
	Session   string
	Processor string
	Kind      string
	Path      string
	Bytes     int
	Time      float64
}

// A Tracer is a hook that records protocol requests and completed transfers
// of the servers it is attached to.
type Tracer struct {
	recorder DataRecorder
	idGen    sim.IDGenerator
}

// NewTracer creates the request and transfer tables in recorder.
func NewTracer(recorder DataRecorder) *Tracer {
	recorder.CreateTable(RequestTable, RequestEntry{})
	recorder.CreateTable(TransferTable, TransferEntry{})

	return &Tracer{
		recorder: recorder,
		idGen:    sim.GetIDGenerator(),
	}
}

// Attach makes the tracer record the activity of s.
func (t *Tracer) Attach(s *access.Server) {
	s.AcceptHook(t)
}

// Func records the hook context if it describes finished work.
func (t *Tracer) Func(ctx sim.HookCtx) {
	server, ok := ctx.Domain.(*access.Server)
	if !ok {
		return
	}

	switch ctx.Pos {
	case access.HookPosRequestEnd:
		t.recordRequest(server, ctx)
	case access.HookPosTransfer:
		t.recordTransfer(server, ctx)
	}
}

func (t *Tracer) recordRequest(server *access.Server, ctx sim.HookCtx) {
	req := ctx.Item.(access.Request)
	info := ctx.Detail.(*access.RequestInfo)

	outcome, message := describe(info.Response)

	t.recorder.InsertData(RequestTable, RequestEntry{
		ID:         t.idGen.Generate(),
		Session:    info.SessionID,
		Processor:  server.Processor().Name(),
		Kind:       req.RequestType(),
		Line:       info.Line,
		Outcome:    outcome,
		Message:    message,
		StartTime:  seconds(info.Start),
		EndTime:    seconds(info.End),
		DurationMS: float64(info.End.Sub(info.Start)) / float64(time.Millisecond),
	})
}

func (t *Tracer) recordTransfer(server *access.Server, ctx sim.HookCtx) {
	p := ctx.Item.(access.TransferProgress)
	if p.Done < p.Total {
		return
	}

	t.recorder.InsertData(TransferTable, TransferEntry{
		ID:        t.idGen.Generate(),
		Session:   p.SessionID,
		Processor: server.Processor().Name(),
		Kind:      p.Kind,
		Path:      p.Path,
		Bytes:     p.Total,
		Time:      seconds(time.Now()),
	})
}

func describe(resp access.Response) (outcome, message string) {
	switch r := resp.(type) {
	case nil:
		return OutcomeClosed, ""
	case access.ErrorResponse:
		return OutcomeError, r.Message
	case access.SuccessResponse:
		return OutcomeSuccess, r.Message
	default:
		return OutcomeSuccess, r.ResponseType()
	}
}

func seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
