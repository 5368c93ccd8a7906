package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/casklog/casklog"
	"github.com/pkg/errors"
)

// JSON stores a log as a JSON array of base64 strings.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(msgs []casklog.Message) ([]byte, error) {
	raw := make([][]byte, len(msgs))
	for i, m := range msgs {
		raw[i] = m
	}
	return json.Marshal(raw)
}

func (JSON) Decode(b []byte) ([]casklog.Message, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var raw [][]byte
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrap(err, "decode json log")
	}
	msgs := make([]casklog.Message, len(raw))
	for i, r := range raw {
		msgs[i] = r
	}
	return msgs, nil
}

// AppendOne splices the new element in before the closing bracket.
func (c JSON) AppendOne(b []byte, msg casklog.Message) ([]byte, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return c.Encode([]casklog.Message{msg})
	}
	if len(b) < 2 || b[0] != '[' || b[len(b)-1] != ']' {
		return nil, errors.New("decode json log: not an array")
	}
	elem := make([]byte, base64.StdEncoding.EncodedLen(len(msg))+2)
	elem[0] = '"'
	base64.StdEncoding.Encode(elem[1:], msg)
	elem[len(elem)-1] = '"'

	out := make([]byte, 0, len(b)+len(elem)+1)
	out = append(out, b[:len(b)-1]...)
	if len(b) > 2 {
		out = append(out, ',')
	}
	out = append(out, elem...)
	out = append(out, ']')
	return out, nil
}
