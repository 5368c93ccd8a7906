package server

import (
	"context"
	"encoding/json"

	"github.com/casklog/casklog"
	"github.com/casklog/casklog/broker"
	"github.com/casklog/casklog/log"
	"github.com/casklog/casklog/protocol"
	"github.com/casklog/casklog/util"
)

var serverVerboseLogs = util.Verbose("server")

// Types lists the request types a node serves.
var Types = []string{
	protocol.SendType,
	protocol.PollType,
	protocol.CommitOffsetsType,
	protocol.ListCommittedOffsetsType,
}

// Dispatcher decodes request bodies, hands them to the broker and returns
// the reply body. Transports only move bytes.
type Dispatcher struct {
	broker *broker.Broker
	logger log.Logger
}

func NewDispatcher(b *broker.Broker, logger log.Logger) *Dispatcher {
	return &Dispatcher{broker: b, logger: logger}
}

// Dispatch serves a request of type typ. Errors are the broker's, or
// protocol.ErrNotSupported for unknown types.
func (d *Dispatcher) Dispatch(ctx context.Context, typ string, body []byte) (interface{}, error) {
	if serverVerboseLogs {
		d.logger.Debug("server: request", log.String("type", typ), log.String("body", string(body)))
	}
	switch typ {
	case protocol.SendType:
		req := new(protocol.SendRequest)
		if err := decode(body, req); err != nil {
			return nil, err
		}
		return d.broker.Send(ctx, req)
	case protocol.PollType:
		req := new(protocol.PollRequest)
		if err := decode(body, req); err != nil {
			return nil, err
		}
		return d.broker.Poll(ctx, req)
	case protocol.CommitOffsetsType:
		req := new(protocol.CommitOffsetsRequest)
		if err := decode(body, req); err != nil {
			return nil, err
		}
		return d.broker.CommitOffsets(ctx, req)
	case protocol.ListCommittedOffsetsType:
		req := new(protocol.ListCommittedOffsetsRequest)
		if err := decode(body, req); err != nil {
			return nil, err
		}
		return d.broker.ListCommittedOffsets(ctx, req)
	}
	return nil, protocol.ErrNotSupported
}

func decode(body []byte, v interface{}) error {
	if err := json.Unmarshal(body, v); err != nil {
		return casklog.InvalidRequest("body", "%v", err)
	}
	return nil
}
