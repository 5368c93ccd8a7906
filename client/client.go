package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/casklog/casklog"
	"github.com/casklog/casklog/protocol"
)

type ClientConfig struct {
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
	// MaxRetry bounds how often a request answered as temporarily
	// unavailable is sent again.
	MaxRetry uint64
	// RetryBackoff is the initial wait between retries. It grows
	// exponentially.
	RetryBackoff time.Duration
}

var DefaultConfig = &ClientConfig{
	Timeout:      10 * time.Second,
	MaxRetry:     5,
	RetryBackoff: 50 * time.Millisecond,
}

// Client talks to casklog nodes over HTTP. It also forwards requests between
// nodes, addressing them by node ID through peers.
type Client struct {
	http   *http.Client
	config *ClientConfig
	peers  map[string]string
}

func NewClient(peers map[string]string, cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = DefaultConfig
	}
	return &Client{
		http:   &http.Client{Timeout: cfg.Timeout},
		config: cfg,
		peers:  peers,
	}
}

// Send appends msg to topic on the node at addr and returns its offset.
func (c *Client) Send(ctx context.Context, addr, topic string, msg json.RawMessage) (uint64, error) {
	req := &protocol.SendRequest{Type: protocol.SendType, Key: topic, Msg: msg}
	res := new(protocol.SendResponse)
	if err := c.Do(ctx, addr, protocol.SendType, req, res); err != nil {
		return 0, err
	}
	return res.Offset, nil
}

// Poll reads each topic from its offset on.
func (c *Client) Poll(ctx context.Context, addr string, offsets map[string]uint64) (map[string][]casklog.Entry, error) {
	req := &protocol.PollRequest{Type: protocol.PollType, Offsets: offsets}
	res := new(protocol.PollResponse)
	if err := c.Do(ctx, addr, protocol.PollType, req, res); err != nil {
		return nil, err
	}
	return res.Msgs, nil
}

func (c *Client) CommitOffsets(ctx context.Context, addr string, offsets map[string]uint64) error {
	req := &protocol.CommitOffsetsRequest{Type: protocol.CommitOffsetsType, Offsets: offsets}
	return c.Do(ctx, addr, protocol.CommitOffsetsType, req, new(protocol.CommitOffsetsResponse))
}

func (c *Client) ListCommittedOffsets(ctx context.Context, addr string, topics []string) (map[string]uint64, error) {
	req := &protocol.ListCommittedOffsetsRequest{Type: protocol.ListCommittedOffsetsType, Keys: topics}
	res := new(protocol.ListCommittedOffsetsResponse)
	if err := c.Do(ctx, addr, protocol.ListCommittedOffsetsType, req, res); err != nil {
		return nil, err
	}
	return res.Offsets, nil
}

// Forward sends a request to node, looked up in the client's peers.
func (c *Client) Forward(ctx context.Context, node, typ string, body interface{}, out interface{}) error {
	addr, ok := c.peers[node]
	if !ok {
		return errors.Errorf("no address for node %s", node)
	}
	return c.Do(ctx, addr, typ, body, out)
}

// Do POSTs body to /typ on addr and decodes the reply into out. Replies that
// are safe to retry are retried with exponential backoff.
func (c *Client) Do(ctx context.Context, addr, typ string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.RetryBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.config.MaxRetry), ctx)
	return backoff.Retry(func() error {
		err := c.post(ctx, addr, typ, payload, out)
		var perr protocol.Error
		if err != nil && !(errors.As(err, &perr) && perr.Retryable()) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (c *Client) post(ctx context.Context, addr, typ string, payload []byte, out interface{}) error {
	url := fmt.Sprintf("http://%s/%s", addr, typ)
	req, err := http.NewRequest("POST", url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "post %s", url)
	}
	defer resp.Body.Close()
	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "read reply from %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		res := new(protocol.ErrorResponse)
		if err := json.Unmarshal(raw, res); err != nil || res.Type != protocol.ErrorType {
			return errors.Errorf("%s: %s", url, resp.Status)
		}
		return errors.Wrap(res.Code, res.Text)
	}
	return errors.Wrapf(json.Unmarshal(raw, out), "decode reply from %s", url)
}
