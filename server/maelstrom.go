package server

import (
	"context"
	"encoding/json"
	"time"

	maelstrom "github.com/jepsen-io/maelstrom/demo/go"
	"github.com/pkg/errors"

	"github.com/casklog/casklog/log"
	"github.com/casklog/casklog/protocol"
)

// RequestTimeout bounds the store round trips a single request may make.
const RequestTimeout = 5 * time.Second

// SetupFunc builds the dispatcher once the node knows its ID and its peers.
type SetupFunc func(id string, ids []string) (*Dispatcher, error)

// Maelstrom serves requests arriving on a maelstrom node. Requests wait
// until the node has been initialized.
type Maelstrom struct {
	node       *maelstrom.Node
	setup      SetupFunc
	dispatcher *Dispatcher
	ready      chan struct{}
	logger     log.Logger
}

func NewMaelstrom(n *maelstrom.Node, setup SetupFunc, logger log.Logger) *Maelstrom {
	m := &Maelstrom{node: n, setup: setup, ready: make(chan struct{}), logger: logger}
	n.Handle("init", m.handleInit)
	for _, typ := range Types {
		n.Handle(typ, m.handle)
	}
	return m
}

// Run serves until stdin is closed.
func (m *Maelstrom) Run() error {
	return m.node.Run()
}

func (m *Maelstrom) handleInit(msg maelstrom.Message) error {
	d, err := m.setup(m.node.ID(), m.node.NodeIDs())
	if err != nil {
		m.logger.Error("server: setup failed", log.Error("error", err))
		return maelstrom.NewRPCError(maelstrom.Crash, err.Error())
	}
	m.dispatcher = d
	close(m.ready)
	m.logger.Info("server: node initialized", log.String("node", m.node.ID()), log.Strings("nodes", m.node.NodeIDs()))
	return nil
}

func (m *Maelstrom) handle(msg maelstrom.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()
	select {
	case <-m.ready:
	case <-ctx.Done():
		return maelstrom.NewRPCError(maelstrom.TemporarilyUnavailable, "node not initialized")
	}
	res, err := m.dispatcher.Dispatch(ctx, msg.Type(), msg.Body)
	if err != nil {
		code := protocol.ErrorFor(err)
		m.logger.Info("server: request failed", log.String("type", msg.Type()), log.String("from", msg.Src), log.Int("code", int(code)), log.Error("error", err))
		return maelstrom.NewRPCError(int(code), err.Error())
	}
	return m.node.Reply(msg, res)
}

// MaelstromForwarder forwards requests to other nodes over maelstrom RPC.
type MaelstromForwarder struct {
	node *maelstrom.Node
}

func NewMaelstromForwarder(n *maelstrom.Node) *MaelstromForwarder {
	return &MaelstromForwarder{node: n}
}

func (f *MaelstromForwarder) Forward(ctx context.Context, node, typ string, body interface{}, out interface{}) error {
	msg, err := f.node.SyncRPC(ctx, node, body)
	if err != nil {
		var rpcErr *maelstrom.RPCError
		if errors.As(err, &rpcErr) {
			return errors.Wrap(protocol.Error(rpcErr.Code), rpcErr.Text)
		}
		return err
	}
	return decodeReply(msg.Body, out)
}

// decodeReply decodes a reply body into out, or returns the error it
// carries.
func decodeReply(body []byte, out interface{}) error {
	var h protocol.Header
	if err := json.Unmarshal(body, &h); err != nil {
		return errors.Wrap(err, "decode reply")
	}
	if h.Type == protocol.ErrorType {
		res := new(protocol.ErrorResponse)
		if err := json.Unmarshal(body, res); err != nil {
			return errors.Wrap(err, "decode error reply")
		}
		return errors.Wrap(res.Code, res.Text)
	}
	return errors.Wrap(json.Unmarshal(body, out), "decode reply")
}
