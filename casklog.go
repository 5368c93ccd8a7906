package casklog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Message is an opaque payload appended to a topic's log. Once appended it
// is never modified.
type Message []byte

// Entry is a message together with the offset it was assigned.
type Entry struct {
	Offset  uint64
	Message Message
}

// MarshalJSON encodes the entry as the [offset, msg] pair poll replies use.
// Messages that are not JSON documents are encoded as base64 strings.
func (e Entry) MarshalJSON() ([]byte, error) {
	var msg interface{} = []byte(e.Message)
	if json.Valid(e.Message) {
		msg = json.RawMessage(e.Message)
	}
	return json.Marshal([]interface{}{e.Offset, msg})
}

// UnmarshalJSON decodes an [offset, msg] pair.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("entry: want [offset, msg], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Offset); err != nil {
		return errors.Wrap(err, "entry offset")
	}
	e.Message = Message(pair[1])
	return nil
}

func (e Entry) String() string {
	return fmt.Sprintf("%d:%s", e.Offset, e.Message)
}

// Store is the interface that wraps the shared key-value store every node
// coordinates through. Implementations must make CompareAndSwap atomic
// across all nodes sharing the store.
type Store interface {
	// Read returns the value stored under key, or nil and no error when the
	// key is absent. Present values are never nil.
	Read(ctx context.Context, key string) ([]byte, error)
	// Write unconditionally overwrites key.
	Write(ctx context.Context, key string, value []byte) error
	// CompareAndSwap sets key to value only if its current value equals
	// expected. A nil expected means the key must be absent. Returns
	// ErrCASConflict when the precondition does not hold.
	CompareAndSwap(ctx context.Context, key string, expected, value []byte) error
	Close() error
}

// Codec is the interface that wraps the encoding of a topic's whole log
// into a single store value.
type Codec interface {
	Name() string
	Encode(msgs []Message) ([]byte, error)
	Decode(b []byte) ([]Message, error)
	// AppendOne returns the encoding of the decoded b plus msg. b may be nil
	// for an empty log.
	AppendOne(b []byte, msg Message) ([]byte, error)
}
