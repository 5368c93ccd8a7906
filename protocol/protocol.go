// Package protocol holds the request and reply bodies nodes and clients
// exchange. Every body is a JSON object with a type field.
package protocol

import (
	"encoding/json"

	"github.com/casklog/casklog"
)

const (
	SendType                   = "send"
	SendOKType                 = "send_ok"
	PollType                   = "poll"
	PollOKType                 = "poll_ok"
	CommitOffsetsType          = "commit_offsets"
	CommitOffsetsOKType        = "commit_offsets_ok"
	ListCommittedOffsetsType   = "list_committed_offsets"
	ListCommittedOffsetsOKType = "list_committed_offsets_ok"
	ErrorType                  = "error"
)

// Header is decoded first to find out which body follows.
type Header struct {
	Type string `json:"type"`
}

// SendRequest appends Msg to topic Key. Forwarded is set by the node that
// received it from a client and is never forwarded again.
type SendRequest struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Msg       json.RawMessage `json:"msg"`
	Forwarded bool            `json:"forwarded,omitempty"`
}

type SendResponse struct {
	Type   string `json:"type"`
	Offset uint64 `json:"offset"`
}

// PollRequest asks for each topic's entries from the given offset on.
type PollRequest struct {
	Type      string            `json:"type"`
	Offsets   map[string]uint64 `json:"offsets"`
	Forwarded bool              `json:"forwarded,omitempty"`
}

type PollResponse struct {
	Type string                     `json:"type"`
	Msgs map[string][]casklog.Entry `json:"msgs"`
}

type CommitOffsetsRequest struct {
	Type    string            `json:"type"`
	Offsets map[string]uint64 `json:"offsets"`
}

type CommitOffsetsResponse struct {
	Type string `json:"type"`
}

type ListCommittedOffsetsRequest struct {
	Type string   `json:"type"`
	Keys []string `json:"keys"`
}

type ListCommittedOffsetsResponse struct {
	Type    string            `json:"type"`
	Offsets map[string]uint64 `json:"offsets"`
}

type ErrorResponse struct {
	Type string `json:"type"`
	Code Error  `json:"code"`
	Text string `json:"text"`
}
