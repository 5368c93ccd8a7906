package codec

import (
	"github.com/casklog/casklog"
	"github.com/pkg/errors"
	"github.com/ugorji/go/codec"
)

// msgpackHandle is a shared handle for encoding/decoding logs.
var msgpackHandle = &codec.MsgpackHandle{WriteExt: true}

// Msgpack stores a log as a msgpack array of binary strings.
type Msgpack struct{}

func (Msgpack) Name() string { return "msgpack" }

func (Msgpack) Encode(msgs []casklog.Message) ([]byte, error) {
	raw := make([][]byte, len(msgs))
	for i, m := range msgs {
		raw[i] = m
	}
	var b []byte
	if err := codec.NewEncoderBytes(&b, msgpackHandle).Encode(raw); err != nil {
		return nil, errors.Wrap(err, "encode msgpack log")
	}
	return b, nil
}

func (Msgpack) Decode(b []byte) ([]casklog.Message, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var raw [][]byte
	if err := codec.NewDecoderBytes(b, msgpackHandle).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode msgpack log")
	}
	msgs := make([]casklog.Message, len(raw))
	for i, r := range raw {
		msgs[i] = r
	}
	return msgs, nil
}

func (c Msgpack) AppendOne(b []byte, msg casklog.Message) ([]byte, error) {
	msgs, err := c.Decode(b)
	if err != nil {
		return nil, err
	}
	return c.Encode(append(msgs, msg))
}
