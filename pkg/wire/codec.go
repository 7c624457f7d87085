package wire

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for protocol messages.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for protocol messages.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient for forward compatibility
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// PeekKind returns the Kind of an encoded message without decoding the rest.
func PeekKind(data []byte) (Kind, error) {
	var peek struct {
		Kind Kind `cbor:"1,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return 0, fmt.Errorf("failed to peek message: %w", err)
	}
	return peek.Kind, nil
}

// PeekMessageID returns the message ID of an encoded request, or 0 when it
// is missing or not a uint32. Used to answer requests that fail to decode.
func PeekMessageID(data []byte) uint32 {
	var peek struct {
		ID cbor.RawMessage `cbor:"2,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil || len(peek.ID) == 0 {
		return 0
	}
	var id uint32
	if err := Unmarshal(peek.ID, &id); err != nil {
		return 0
	}
	return id
}

// EncodeHello encodes a hello message.
func EncodeHello(ch Channel, name string) ([]byte, error) {
	return Marshal(&Hello{Kind: KindHello, Channel: ch, Name: name})
}

// DecodeHello decodes a hello message.
func DecodeHello(data []byte) (*Hello, error) {
	var h Hello
	if err := Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to decode hello: %w", err)
	}
	if h.Kind != KindHello {
		return nil, fmt.Errorf("%w: expected hello, got %s", ErrInvalidMessage, h.Kind)
	}
	if h.Channel != ChannelState && h.Channel != ChannelRPC {
		return nil, fmt.Errorf("%w: channel %d", ErrInvalidMessage, h.Channel)
	}
	return &h, nil
}

// EncodeRequest encodes a request message to CBOR bytes.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return Marshal(req)
}

// DecodeRequest decodes CBOR bytes into a request message.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return &req, nil
}

// EncodeReply encodes a reply message to CBOR bytes. Nack payloads are dropped.
func EncodeReply(r *Reply) ([]byte, error) {
	if !r.IsAck() {
		r = Nack(r.MessageID)
	}
	return Marshal(r)
}

// DecodeReply decodes CBOR bytes into a reply message.
func DecodeReply(data []byte) (*Reply, error) {
	var r Reply
	if err := Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	if r.Kind != KindReply {
		return nil, fmt.Errorf("%w: expected reply, got %s", ErrInvalidMessage, r.Kind)
	}
	if r.Code != CodeAck && r.Code != CodeNack {
		return nil, fmt.Errorf("%w: reply code %q", ErrInvalidMessage, r.Code)
	}
	return &r, nil
}

// EncodeFrame encodes a telemetry frame.
func EncodeFrame(seq uint64, ts time.Time, values []float64) ([]byte, error) {
	return Marshal(&Frame{Kind: KindFrame, Seq: seq, Time: ts.UnixNano(), Values: values})
}

// DecodeFrame decodes a telemetry frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if f.Kind != KindFrame {
		return nil, fmt.Errorf("%w: expected frame, got %s", ErrInvalidMessage, f.Kind)
	}
	return &f, nil
}

// EncodeFeedback encodes a feedback vector.
func EncodeFeedback(values []float64) ([]byte, error) {
	return Marshal(&Feedback{Kind: KindFeedback, Values: values})
}

// DecodeFeedback decodes a feedback vector.
func DecodeFeedback(data []byte) (*Feedback, error) {
	var f Feedback
	if err := Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode feedback: %w", err)
	}
	if f.Kind != KindFeedback {
		return nil, fmt.Errorf("%w: expected feedback, got %s", ErrInvalidMessage, f.Kind)
	}
	return &f, nil
}

// EncodeControlMessage encodes a control message (ping/pong/close) to CBOR bytes.
func EncodeControlMessage(msg *ControlMessage) ([]byte, error) {
	if !msg.Kind.IsControl() {
		return nil, fmt.Errorf("%w: %s is not a control kind", ErrInvalidMessage, msg.Kind)
	}
	return Marshal(msg)
}

// DecodeControlMessage decodes CBOR bytes into a control message.
func DecodeControlMessage(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode control message: %w", err)
	}
	if !msg.Kind.IsControl() {
		return nil, fmt.Errorf("%w: %s is not a control kind", ErrInvalidMessage, msg.Kind)
	}
	return &msg, nil
}
