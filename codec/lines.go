package codec

import (
	"bytes"
	"encoding/base64"

	"github.com/casklog/casklog"
	"github.com/pkg/errors"
)

// Lines stores a log as newline-terminated base64 records. Appending is a
// plain concatenation.
type Lines struct{}

func (Lines) Name() string { return "lines" }

func (c Lines) Encode(msgs []casklog.Message) ([]byte, error) {
	var b []byte
	for _, m := range msgs {
		b = appendLine(b, m)
	}
	return b, nil
}

func (Lines) Decode(b []byte) ([]casklog.Message, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if b[len(b)-1] != '\n' {
		return nil, errors.New("decode lines log: truncated record")
	}
	lines := bytes.Split(b[:len(b)-1], []byte{'\n'})
	msgs := make([]casklog.Message, len(lines))
	for i, l := range lines {
		m := make([]byte, base64.StdEncoding.DecodedLen(len(l)))
		n, err := base64.StdEncoding.Decode(m, l)
		if err != nil {
			return nil, errors.Wrapf(err, "decode lines log: record %d", i)
		}
		msgs[i] = m[:n]
	}
	return msgs, nil
}

func (Lines) AppendOne(b []byte, msg casklog.Message) ([]byte, error) {
	out := make([]byte, len(b), len(b)+base64.StdEncoding.EncodedLen(len(msg))+1)
	copy(out, b)
	return appendLine(out, msg), nil
}

func appendLine(b []byte, m casklog.Message) []byte {
	n := len(b)
	b = append(b, make([]byte, base64.StdEncoding.EncodedLen(len(m)))...)
	base64.StdEncoding.Encode(b[n:], m)
	return append(b, '\n')
}
