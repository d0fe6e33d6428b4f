package access

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sarchlab/procaccess/processor"
	"github.com/sarchlab/procaccess/sim"
)

// Request and response discriminators.
const (
	TypeFlash   = "flash"
	TypeDump    = "dump"
	TypeStart   = "start"
	TypeStop    = "stop"
	TypeUnpause = "unpause"
	TypeWait    = "wait"
	TypeSerial  = "serial"
	TypeStatus  = "status"

	TypeSuccess = "success"
	TypeError   = "error"
)

// A Request is one decoded request frame.
type Request interface {
	RequestType() string
}

// FlashRequest writes the file at Path into ROM.
type FlashRequest struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	Absolute *bool  `json:"absolute,omitempty"`
}

// DumpRequest writes Bytes bytes of RAM starting at Address into Path.
type DumpRequest struct {
	Type     string  `json:"type"`
	Path     string  `json:"path"`
	Address  *uint32 `json:"address"`
	Bytes    *int    `json:"bytes"`
	Absolute *bool   `json:"absolute,omitempty"`
}

// StartRequest powers the processor.
type StartRequest struct {
	Type       string `json:"type"`
	SingleStep bool   `json:"singleStep,omitempty"`
}

// StopRequest removes power.
type StopRequest struct {
	Type string `json:"type"`
}

// UnpauseRequest clears the pause switch.
type UnpauseRequest struct {
	Type string `json:"type"`
}

// WaitRequest blocks until the processor has stopped or paused.
type WaitRequest struct {
	Type    string `json:"type"`
	Stopped bool   `json:"stopped"`
	Paused  bool   `json:"paused"`
}

// Serial directions.
const (
	DirectionBoth = "both"
	DirectionTX   = "tx"
	DirectionRX   = "rx"
)

// SerialRequest turns the connection into a raw byte stream to a serial
// port. Direction tx only moves bytes from the client to the processor, rx
// only the other way.
type SerialRequest struct {
	Type             string `json:"type"`
	Device           string `json:"device"`
	Direction        string `json:"direction,omitempty"`
	StopOnHalt       bool   `json:"stopOnHalt,omitempty"`
	DisconnectOnHalt bool   `json:"disconnectOnHalt,omitempty"`
}

// StatusRequest asks for a status snapshot.
type StatusRequest struct {
	Type string `json:"type"`
}

func (FlashRequest) RequestType() string   { return TypeFlash }
func (DumpRequest) RequestType() string    { return TypeDump }
func (StartRequest) RequestType() string   { return TypeStart }
func (StopRequest) RequestType() string    { return TypeStop }
func (UnpauseRequest) RequestType() string { return TypeUnpause }
func (WaitRequest) RequestType() string    { return TypeWait }
func (SerialRequest) RequestType() string  { return TypeSerial }
func (StatusRequest) RequestType() string  { return TypeStatus }

// IsAbsolute returns the absolute flag, which defaults to true.
func (r FlashRequest) IsAbsolute() bool {
	return r.Absolute == nil || *r.Absolute
}

// IsAbsolute returns the absolute flag, which defaults to true.
func (r DumpRequest) IsAbsolute() bool {
	return r.Absolute == nil || *r.Absolute
}

// Transmit reports whether bytes move from the client to the processor.
func (r SerialRequest) Transmit() bool {
	return r.Direction != DirectionRX
}

// Receive reports whether bytes move from the processor to the client.
func (r SerialRequest) Receive() bool {
	return r.Direction != DirectionTX
}

var requiredFields = map[string][]string{
	TypeFlash:  {"path"},
	TypeDump:   {"path"},
	TypeWait:   {"stopped", "paused"},
	TypeSerial: {"device"},
}

// DecodeRequest parses one request frame. All failures wrap
// sim.ErrProtocol.
func DecodeRequest(line []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", sim.ErrProtocol, err)
	}

	var typ string
	if raw, ok := fields["type"]; !ok {
		return nil, fmt.Errorf("%w: missing request type", sim.ErrProtocol)
	} else if err := json.Unmarshal(raw, &typ); err != nil {
		return nil, fmt.Errorf("%w: request type: %v", sim.ErrProtocol, err)
	}

	for _, name := range requiredFields[typ] {
		if _, ok := fields[name]; !ok {
			return nil, fmt.Errorf("%w: %s request is missing field %q",
				sim.ErrProtocol, typ, name)
		}
	}

	var (
		req Request
		err error
	)

	switch typ {
	case TypeFlash:
		req, err = decodeAs[FlashRequest](line)
	case TypeDump:
		req, err = decodeAs[DumpRequest](line)
	case TypeStart:
		req, err = decodeAs[StartRequest](line)
	case TypeStop:
		req, err = decodeAs[StopRequest](line)
	case TypeUnpause:
		req, err = decodeAs[UnpauseRequest](line)
	case TypeWait:
		req, err = decodeAs[WaitRequest](line)
	case TypeSerial:
		req, err = decodeAs[SerialRequest](line)
	case TypeStatus:
		req, err = decodeAs[StatusRequest](line)
	default:
		return nil, fmt.Errorf("%w: unknown request type %q",
			sim.ErrProtocol, typ)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s request: %v", sim.ErrProtocol, typ, err)
	}

	if err := validate(req); err != nil {
		return nil, err
	}

	return req, nil
}

func decodeAs[T Request](line []byte) (Request, error) {
	var req T

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		return nil, err
	}

	return req, nil
}

func validate(req Request) error {
	switch r := req.(type) {
	case SerialRequest:
		if _, ok := processor.UARTIndex(r.Device); !ok {
			return fmt.Errorf("%w: unknown serial device %q",
				sim.ErrProtocol, r.Device)
		}

		switch r.Direction {
		case "", DirectionBoth, DirectionTX, DirectionRX:
		default:
			return fmt.Errorf("%w: unknown serial direction %q",
				sim.ErrProtocol, r.Direction)
		}
	case FlashRequest:
		if r.Path == "" {
			return fmt.Errorf("%w: path must not be empty", sim.ErrProtocol)
		}
	case DumpRequest:
		if r.Path == "" {
			return fmt.Errorf("%w: path must not be empty", sim.ErrProtocol)
		}
	}

	return nil
}

// EncodeRequest renders a request frame, including the trailing newline.
// The type field is filled in from the request.
func EncodeRequest(req Request) ([]byte, error) {
	switch r := req.(type) {
	case FlashRequest:
		r.Type = TypeFlash
		req = r
	case DumpRequest:
		r.Type = TypeDump
		req = r
	case StartRequest:
		r.Type = TypeStart
		req = r
	case StopRequest:
		r.Type = TypeStop
		req = r
	case UnpauseRequest:
		r.Type = TypeUnpause
		req = r
	case WaitRequest:
		r.Type = TypeWait
		req = r
	case SerialRequest:
		r.Type = TypeSerial
		req = r
	case StatusRequest:
		r.Type = TypeStatus
		req = r
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", sim.ErrInvalidArgument, req)
	}

	return frame(req)
}

// A Response is one response frame.
type Response interface {
	ResponseType() string
}

// SuccessResponse reports a completed request.
type SuccessResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StatusResponse carries a status snapshot.
type StatusResponse struct {
	Type string `json:"type"`
	processor.Status
}

// ErrorResponse reports a failed request.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (SuccessResponse) ResponseType() string { return TypeSuccess }
func (StatusResponse) ResponseType() string  { return TypeStatus }
func (ErrorResponse) ResponseType() string   { return TypeError }

// Error implements error so that clients can return the response directly.
func (r ErrorResponse) Error() string {
	return r.Message
}

// Success creates a success response.
func Success(format string, args ...any) SuccessResponse {
	return SuccessResponse{Type: TypeSuccess, Message: fmt.Sprintf(format, args...)}
}

// StatusOf creates a status response.
func StatusOf(s processor.Status) StatusResponse {
	return StatusResponse{Type: TypeStatus, Status: s}
}

// Failure creates an error response.
func Failure(message string) ErrorResponse {
	return ErrorResponse{Type: TypeError, Message: message}
}

// EncodeResponse renders a response frame, including the trailing newline.
func EncodeResponse(resp Response) ([]byte, error) {
	return frame(resp)
}

// DecodeResponse parses one response frame.
func DecodeResponse(line []byte) (Response, error) {
	var head struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(line, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", sim.ErrProtocol, err)
	}

	var (
		resp Response
		err  error
	)

	switch head.Type {
	case TypeSuccess:
		var r SuccessResponse
		err = json.Unmarshal(line, &r)
		resp = r
	case TypeStatus:
		var r StatusResponse
		err = json.Unmarshal(line, &r)
		resp = r
	case TypeError:
		var r ErrorResponse
		err = json.Unmarshal(line, &r)
		resp = r
	default:
		return nil, fmt.Errorf("%w: unknown response type %q",
			sim.ErrProtocol, head.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s response: %v", sim.ErrProtocol,
			head.Type, err)
	}

	return resp, nil
}

func frame(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return append(data, '\n'), nil
}
