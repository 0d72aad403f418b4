// Package daemon hosts the policy engine: the serialized command router, the
// native-messaging stdio transport and the local control socket.
package daemon

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

// MaxFrameSize is the largest message body accepted or written.
const MaxFrameSize = 1 << 20

// Message types outside the command set.
const (
	TypeResponse  = "Response"
	TypeSubscribe = "Subscribe"
)

var (
	// ErrFrameTooLarge is returned for a frame whose length exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrInvalidEnvelope is returned for a message that fails decoding or validation.
	ErrInvalidEnvelope = errors.New("invalid envelope")
	// ErrUnknownCommand is returned for a type outside the command set.
	ErrUnknownCommand = errors.New("unknown command")
)

//go:embed envelope.schema.json
var envelopeSchema []byte

const envelopeSchemaURL = "https://aimon.local/schema/envelope.json"

// ReadFrame reads one length-prefixed frame: a little-endian uint32 byte count
// followed by that many bytes. A clean end of stream returns io.EOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	return buf, nil
}

// WriteFrame writes data as one length-prefixed frame in a single Write.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Envelope is an inbound request.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers one request. Code is set on failure.
type Response struct {
	ID     string          `json:"id,omitempty"`
	Type   string          `json:"type"`
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// EventMessage is an outbound event.
type EventMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Request is a decoded envelope. Subscribe requests carry no command.
type Request struct {
	ID        string
	Command   domain.Command
	Subscribe bool
}

// RemoteError is a failed Response seen by a client.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap maps the wire code back to its sentinel so errors.Is works across
// the socket.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case "invalid_envelope":
		return ErrInvalidEnvelope
	case "unknown_command":
		return ErrUnknownCommand
	case "invalid_config":
		return domain.ErrInvalidConfig
	case "frame_too_large":
		return ErrFrameTooLarge
	}
	return nil
}

// Codec converts between frames and commands, responses and events.
type Codec struct {
	schema *jsonschema.Schema
}

// NewCodec compiles the embedded envelope schema.
func NewCodec() (*Codec, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(envelopeSchemaURL, bytes.NewReader(envelopeSchema)); err != nil {
		return nil, fmt.Errorf("failed to add envelope schema: %w", err)
	}
	schema, err := compiler.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile envelope schema: %w", err)
	}
	return &Codec{schema: schema}, nil
}

// DecodeRequest decodes and validates one inbound message. The returned
// Request carries the envelope ID whenever the envelope itself parsed, so
// failures can still be answered.
func (c *Codec) DecodeRequest(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	req := Request{ID: env.ID}

	var cmd domain.Command
	if env.Type == TypeSubscribe {
		req.Subscribe = true
	} else {
		var err error
		if cmd, err = decodeCommand(env.Type, env.Payload); err != nil {
			return req, err
		}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	req.Command = cmd
	return req, nil
}

// decodeCommand maps a wire type to its command. BlockExpired and
// ReloadConfig are internal and never decoded.
func decodeCommand(typ string, payload json.RawMessage) (domain.Command, error) {
	switch typ {
	case "EvaluateNavigation":
		return decodeAs[domain.EvaluateNavigation](payload)
	case "ClassifyAndRecord":
		return decodeAs[domain.ClassifyAndRecord](payload)
	case "ReportPageContext":
		return decodeAs[domain.ReportPageContext](payload)
	case "GetStatus":
		return decodeAs[domain.GetStatus](payload)
	case "GetBlockStatus":
		return decodeAs[domain.GetBlockStatus](payload)
	case "GetViolationCounts":
		return decodeAs[domain.GetViolationCounts](payload)
	case "GetActivityLog":
		return decodeAs[domain.GetActivityLog](payload)
	case "ResetBlock":
		return decodeAs[domain.ResetBlock](payload)
	case "BlockEnded":
		return decodeAs[domain.BlockEnded](payload)
	case "CloseContext":
		return decodeAs[domain.CloseContext](payload)
	case "GetRules":
		return decodeAs[domain.GetRules](payload)
	case "GetPolicy":
		return decodeAs[domain.GetPolicy](payload)
	case "ReconfigureRules":
		return decodeAs[domain.ReconfigureRules](payload)
	case "ReconfigurePolicy":
		return decodeAs[domain.ReconfigurePolicy](payload)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, typ)
}

func decodeAs[T domain.Command](payload json.RawMessage) (domain.Command, error) {
	var cmd T
	if len(payload) == 0 {
		return cmd, nil
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrInvalidEnvelope, err)
	}
	return cmd, nil
}

// EncodeRequest encodes cmd as an envelope with the given id.
func (c *Codec) EncodeRequest(id string, cmd domain.Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", cmd.CommandName(), err)
	}
	return json.Marshal(Envelope{ID: id, Type: cmd.CommandName(), Payload: payload})
}

// EncodeSubscribe encodes an event subscription request.
func (c *Codec) EncodeSubscribe(id string) ([]byte, error) {
	return json.Marshal(Envelope{ID: id, Type: TypeSubscribe})
}

// EncodeResponse encodes the outcome of request id.
func (c *Codec) EncodeResponse(id string, result any, err error) ([]byte, error) {
	resp := Response{ID: id, Type: TypeResponse, OK: err == nil}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = errorCode(err)
		return json.Marshal(resp)
	}
	if result != nil {
		data, merr := json.Marshal(result)
		if merr != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", merr)
		}
		resp.Result = data
	}
	return json.Marshal(resp)
}

// EncodeEvent encodes an outbound event.
func (c *Codec) EncodeEvent(e domain.Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", e.EventName(), err)
	}
	return json.Marshal(EventMessage{Type: e.EventName(), Payload: payload})
}

// DecodeMessage decodes an outbound message seen by a client: either a
// Response or an EventMessage.
func (c *Codec) DecodeMessage(data []byte) (*Response, *EventMessage, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if head.Type == TypeResponse {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		return &resp, nil, nil
	}
	var ev EventMessage
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return nil, &ev, nil
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEnvelope):
		return "invalid_envelope"
	case errors.Is(err, ErrUnknownCommand):
		return "unknown_command"
	case errors.Is(err, domain.ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrFrameTooLarge):
		return "frame_too_large"
	}
	return "internal"
}
