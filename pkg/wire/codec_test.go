package wire

import (
	"errors"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"
)

func TestParseCommand(t *testing.T) {
	for _, c := range []Command{
		CommandSetTransform, CommandGetTransform, CommandStopFeedback,
		CommandIsCartesian, CommandSetCartesian, CommandSetJoint, CommandGetMax,
	} {
		got, err := ParseCommand(c.Code())
		if err != nil {
			t.Fatalf("ParseCommand(%q) failed: %v", c.Code(), err)
		}
		if got != c {
			t.Errorf("ParseCommand(%q) = %v, want %v", c.Code(), got, c)
		}
		if n := len(c.Code()); n < 3 || n > 4 {
			t.Errorf("code %q has length %d", c.Code(), n)
		}
	}

	for _, code := range []string{"", "xyz", "STRA", "ack"} {
		if _, err := ParseCommand(code); !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("ParseCommand(%q) error = %v, want ErrUnknownCommand", code, err)
		}
	}

	if Command(99).IsValid() {
		t.Error("Command(99) should be invalid")
	}
}

func TestPeekKind(t *testing.T) {
	tests := []struct {
		name string
		enc  func() ([]byte, error)
		want Kind
	}{
		{"hello", func() ([]byte, error) { return EncodeHello(ChannelRPC, "client") }, KindHello},
		{"request", func() ([]byte, error) { return EncodeRequest(NewRequest(7, CommandGetMax)) }, KindRequest},
		{"reply", func() ([]byte, error) { return EncodeReply(Ack(7)) }, KindReply},
		{"frame", func() ([]byte, error) { return EncodeFrame(1, time.Now(), []float64{1}) }, KindFrame},
		{"feedback", func() ([]byte, error) { return EncodeFeedback([]float64{1, 2, 3}) }, KindFeedback},
		{"ping", func() ([]byte, error) { return EncodeControlMessage(&ControlMessage{Kind: KindPing, Sequence: 3}) }, KindPing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.enc()
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			got, err := PeekKind(data)
			if err != nil {
				t.Fatalf("PeekKind failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("PeekKind = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRequestValidate(t *testing.T) {
	if _, err := EncodeRequest(&Request{Kind: KindRequest, Command: "gtra"}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("messageId 0 error = %v, want ErrInvalidMessage", err)
	}

	// Unknown tags survive decoding so the server can nack them.
	data, err := EncodeRequest(&Request{Kind: KindRequest, MessageID: 4, Command: "zzz"})
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	req, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.Command != "zzz" || req.MessageID != 4 {
		t.Errorf("decoded %+v", req)
	}
}

func TestRequestTransform(t *testing.T) {
	t.Run("sixteen values", func(t *testing.T) {
		req := NewRequest(1, CommandSetTransform)
		req.Values = []float64{1, 0, 0, 1, 0, 1, 0, 2, 0, 0, 1, 3, 0, 0, 0, 1}
		data, err := EncodeRequest(req)
		if err != nil {
			t.Fatalf("EncodeRequest failed: %v", err)
		}
		decoded, err := DecodeRequest(data)
		if err != nil {
			t.Fatalf("DecodeRequest failed: %v", err)
		}
		m, err := decoded.Transform()
		if err != nil {
			t.Fatalf("Transform failed: %v", err)
		}
		if m.At(1, 3) != 2 {
			t.Errorf("At(1,3) = %v, want 2", m.At(1, 3))
		}
	})

	t.Run("matrix block keeps dims", func(t *testing.T) {
		req := NewRequest(2, CommandSetTransform)
		req.Matrix = NewMatrixBlock(mat.NewDense(1, 3, []float64{1, 2, 3}))
		data, err := EncodeRequest(req)
		if err != nil {
			t.Fatalf("EncodeRequest failed: %v", err)
		}
		decoded, err := DecodeRequest(data)
		if err != nil {
			t.Fatalf("DecodeRequest failed: %v", err)
		}
		m, err := decoded.Transform()
		if err != nil {
			t.Fatalf("Transform failed: %v", err)
		}
		if r, c := m.Dims(); r != 1 || c != 3 {
			t.Errorf("dims = %dx%d, want 1x3", r, c)
		}
	})

	t.Run("wrong value count", func(t *testing.T) {
		req := NewRequest(3, CommandSetTransform)
		req.Values = []float64{1, 2, 3}
		if _, err := req.Transform(); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("error = %v, want ErrInvalidPayload", err)
		}
	})

	t.Run("inconsistent block", func(t *testing.T) {
		b := &MatrixBlock{Rows: 2, Cols: 2, Data: []float64{1}}
		if _, err := b.Dense(); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("error = %v, want ErrInvalidPayload", err)
		}
		b = &MatrixBlock{Rows: 0, Cols: 4}
		if _, err := b.Dense(); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("error = %v, want ErrInvalidPayload", err)
		}
	})

	t.Run("dims that overflow", func(t *testing.T) {
		// 4 * 2^62 wraps to 0 and would match an empty Data slice.
		b := &MatrixBlock{Rows: 4, Cols: 1 << 62}
		if _, err := b.Dense(); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("error = %v, want ErrInvalidPayload", err)
		}
		b = &MatrixBlock{Rows: MaxMatrixDim + 1, Cols: 4, Data: make([]float64, 4*(MaxMatrixDim+1))}
		if _, err := b.Dense(); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("error = %v, want ErrInvalidPayload", err)
		}
	})
}

func TestPeekMessageID(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want uint32
	}{
		{"valid request", NewRequest(7, CommandGetMax), 7},
		{"integer command tag", map[int]any{1: KindRequest, 2: 9, 3: 42}, 9},
		{"missing id", map[int]any{1: KindRequest, 3: "gmax"}, 0},
		{"id out of range", map[int]any{1: KindRequest, 2: uint64(1) << 40}, 0},
		{"not a map", []int{1, 2, 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if got := PeekMessageID(data); got != tt.want {
				t.Errorf("PeekMessageID = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReplyEncoding(t *testing.T) {
	data, err := EncodeReply(Ack(9).WithValues([]float64{3.3, 3.3, 3.3}))
	if err != nil {
		t.Fatalf("EncodeReply failed: %v", err)
	}
	r, err := DecodeReply(data)
	if err != nil {
		t.Fatalf("DecodeReply failed: %v", err)
	}
	if !r.IsAck() || len(r.Values) != 3 || r.MessageID != 9 {
		t.Errorf("decoded %+v", r)
	}

	data, err = EncodeReply(&Reply{Kind: KindReply, MessageID: 10, Code: CodeNack, Values: []float64{1}})
	if err != nil {
		t.Fatalf("EncodeReply failed: %v", err)
	}
	r, err = DecodeReply(data)
	if err != nil {
		t.Fatalf("DecodeReply failed: %v", err)
	}
	if r.IsAck() || r.Values != nil || r.Flag != nil {
		t.Errorf("nack carries payload: %+v", r)
	}

	data, err = EncodeReply(Ack(11).WithFlag(true))
	if err != nil {
		t.Fatalf("EncodeReply failed: %v", err)
	}
	r, err = DecodeReply(data)
	if err != nil {
		t.Fatalf("DecodeReply failed: %v", err)
	}
	if r.Flag == nil || *r.Flag != 1 {
		t.Errorf("flag = %v, want 1", r.Flag)
	}
}

func TestFrameTimestamp(t *testing.T) {
	ts := time.Unix(1700000000, 123456789)
	data, err := EncodeFrame(42, ts, []float64{0.1, 0.2, 0.3, 0, 0, 0, 1, 0})
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if f.Seq != 42 || !f.Timestamp().Equal(ts) || len(f.Values) != 8 {
		t.Errorf("decoded %+v", f)
	}

	if _, err := DecodeFeedback(data); err == nil {
		t.Error("DecodeFeedback(frame) should fail")
	}
}

func TestDecodeHelloRejectsUnknownChannel(t *testing.T) {
	data, err := Marshal(&Hello{Kind: KindHello, Channel: 9})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if _, err := DecodeHello(data); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("error = %v, want ErrInvalidMessage", err)
	}
}

func TestControlMessage(t *testing.T) {
	if _, err := EncodeControlMessage(&ControlMessage{Kind: KindFrame}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("error = %v, want ErrInvalidMessage", err)
	}
	data, err := EncodeControlMessage(&ControlMessage{Kind: KindPong, Sequence: 5})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	msg, err := DecodeControlMessage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Kind != KindPong || msg.Sequence != 5 {
		t.Errorf("decoded %+v", msg)
	}
}
