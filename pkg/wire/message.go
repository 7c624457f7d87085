package wire

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Payload errors.
var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Kind identifies a message. It is always stored under key 1.
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindRequest
	KindReply
	KindFrame
	KindFeedback
	KindPing
	KindPong
	KindClose
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindRequest:
		return "request"
	case KindReply:
		return "reply"
	case KindFrame:
		return "frame"
	case KindFeedback:
		return "feedback"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// IsControl reports whether k is ping, pong or close.
func (k Kind) IsControl() bool {
	return k == KindPing || k == KindPong || k == KindClose
}

// Channel is the role a connection takes after Hello.
type Channel uint8

const (
	// ChannelState receives frames and sends feedback.
	ChannelState Channel = 1
	// ChannelRPC carries requests and replies.
	ChannelRPC Channel = 2
)

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case ChannelState:
		return "state"
	case ChannelRPC:
		return "rpc"
	default:
		return "unknown"
	}
}

// Hello opens a connection.
//
// CBOR encoding:
//
//	{1: kind, 2: channel, 3: name}
type Hello struct {
	Kind    Kind    `cbor:"1,keyasint"`
	Channel Channel `cbor:"2,keyasint"`
	Name    string  `cbor:"3,keyasint,omitempty"`
}

// MaxMatrixDim bounds the rows and columns of a MatrixBlock.
const MaxMatrixDim = 64

// MatrixBlock is a self-describing row-major matrix.
type MatrixBlock struct {
	Rows int       `cbor:"1,keyasint"`
	Cols int       `cbor:"2,keyasint"`
	Data []float64 `cbor:"3,keyasint"`
}

// NewMatrixBlock copies m into a MatrixBlock.
func NewMatrixBlock(m mat.Matrix) *MatrixBlock {
	r, c := m.Dims()
	b := &MatrixBlock{Rows: r, Cols: c, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			b.Data = append(b.Data, m.At(i, j))
		}
	}
	return b
}

// Dense converts the block to a gonum matrix.
func (b *MatrixBlock) Dense() (*mat.Dense, error) {
	if b.Rows <= 0 || b.Cols <= 0 || b.Rows > MaxMatrixDim || b.Cols > MaxMatrixDim {
		return nil, fmt.Errorf("%w: matrix dims %dx%d", ErrInvalidPayload, b.Rows, b.Cols)
	}
	if len(b.Data) != b.Rows*b.Cols {
		return nil, fmt.Errorf("%w: %d values for %dx%d matrix", ErrInvalidPayload, len(b.Data), b.Rows, b.Cols)
	}
	return mat.NewDense(b.Rows, b.Cols, append([]float64(nil), b.Data...)), nil
}

// Request is a command sent on the rpc channel.
//
// CBOR encoding:
//
//	{
//	  1: kind,       // KindRequest
//	  2: messageId,  // uint32, never 0
//	  3: command,    // text tag, e.g. "stra"
//	  4: values,     // optional numbers
//	  5: matrix      // optional MatrixBlock
//	}
type Request struct {
	Kind      Kind         `cbor:"1,keyasint"`
	MessageID uint32       `cbor:"2,keyasint"`
	Command   string       `cbor:"3,keyasint"`
	Values    []float64    `cbor:"4,keyasint,omitempty"`
	Matrix    *MatrixBlock `cbor:"5,keyasint,omitempty"`
}

// NewRequest builds a request for cmd.
func NewRequest(id uint32, cmd Command) *Request {
	return &Request{Kind: KindRequest, MessageID: id, Command: cmd.Code()}
}

// Validate checks the envelope. Unknown command tags are not an envelope
// error; servers answer them with a nack.
func (r *Request) Validate() error {
	if r.Kind != KindRequest {
		return fmt.Errorf("%w: kind %s", ErrInvalidMessage, r.Kind)
	}
	if r.MessageID == 0 {
		return fmt.Errorf("%w: messageId 0", ErrInvalidMessage)
	}
	return nil
}

// Transform extracts the set-transform payload: either a matrix block or
// exactly 16 row-major values.
func (r *Request) Transform() (*mat.Dense, error) {
	if r.Matrix != nil {
		return r.Matrix.Dense()
	}
	if len(r.Values) != 16 {
		return nil, fmt.Errorf("%w: transform needs 16 values, got %d", ErrInvalidPayload, len(r.Values))
	}
	return mat.NewDense(4, 4, append([]float64(nil), r.Values...)), nil
}

// Reply answers a Request.
//
// CBOR encoding:
//
//	{
//	  1: kind,       // KindReply
//	  2: messageId,  // matches the request
//	  3: code,       // "ack" or "nack"
//	  4: values,     // optional numbers
//	  5: flag        // optional integer flag
//	}
type Reply struct {
	Kind      Kind      `cbor:"1,keyasint"`
	MessageID uint32    `cbor:"2,keyasint"`
	Code      string    `cbor:"3,keyasint"`
	Values    []float64 `cbor:"4,keyasint,omitempty"`
	Flag      *int64    `cbor:"5,keyasint,omitempty"`
}

// Ack builds a positive reply.
func Ack(id uint32) *Reply {
	return &Reply{Kind: KindReply, MessageID: id, Code: CodeAck}
}

// Nack builds a negative reply. It never carries a payload.
func Nack(id uint32) *Reply {
	return &Reply{Kind: KindReply, MessageID: id, Code: CodeNack}
}

// WithValues sets the numeric payload.
func (r *Reply) WithValues(v []float64) *Reply {
	r.Values = v
	return r
}

// WithFlag sets the integer flag payload.
func (r *Reply) WithFlag(b bool) *Reply {
	var f int64
	if b {
		f = 1
	}
	r.Flag = &f
	return r
}

// IsAck reports whether the reply is positive.
func (r *Reply) IsAck() bool {
	return r.Code == CodeAck
}

// Frame is one telemetry sample: position(3) + orientation(3) + buttons(N).
//
// CBOR encoding:
//
//	{1: kind, 2: seq, 3: unix nanos, 4: values}
type Frame struct {
	Kind   Kind      `cbor:"1,keyasint"`
	Seq    uint64    `cbor:"2,keyasint"`
	Time   int64     `cbor:"3,keyasint"`
	Values []float64 `cbor:"4,keyasint"`
}

// Timestamp returns the frame time.
func (f *Frame) Timestamp() time.Time {
	return time.Unix(0, f.Time)
}

// Feedback is a force or torque vector sent on the state channel.
//
// CBOR encoding:
//
//	{1: kind, 2: values}
type Feedback struct {
	Kind   Kind      `cbor:"1,keyasint"`
	Values []float64 `cbor:"2,keyasint"`
}

// ControlMessage is a ping, pong or close.
type ControlMessage struct {
	Kind     Kind   `cbor:"1,keyasint"`
	Sequence uint32 `cbor:"2,keyasint,omitempty"`
}
