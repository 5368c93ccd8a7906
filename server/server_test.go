package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	maelstrom "github.com/jepsen-io/maelstrom/demo/go"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/casklog/casklog"
	"github.com/casklog/casklog/broker"
	"github.com/casklog/casklog/protocol"
	"github.com/casklog/casklog/testutil"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	_, cfg := testutil.TestConfig(t)
	b, err := broker.New(cfg, testutil.NewTestStores(t), opentracing.NoopTracer{})
	require.NoError(t, err)
	return NewDispatcher(b, testutil.NewTestLogger())
}

func TestDispatch(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	tests := []struct {
		typ  string
		body string
		want string
	}{
		{protocol.SendType, `{"type":"send","key":"t1","msg":"a"}`, `{"type":"send_ok","offset":0}`},
		{protocol.SendType, `{"type":"send","key":"t1","msg":"b"}`, `{"type":"send_ok","offset":1}`},
		{protocol.PollType, `{"type":"poll","offsets":{"t1":0}}`, `{"type":"poll_ok","msgs":{"t1":[[0,"a"],[1,"b"]]}}`},
		{protocol.PollType, `{"type":"poll","offsets":{"t1":1}}`, `{"type":"poll_ok","msgs":{"t1":[[1,"b"]]}}`},
		{protocol.CommitOffsetsType, `{"type":"commit_offsets","offsets":{"t1":1}}`, `{"type":"commit_offsets_ok"}`},
		{protocol.ListCommittedOffsetsType, `{"type":"list_committed_offsets","keys":["t1"]}`, `{"type":"list_committed_offsets_ok","offsets":{"t1":1}}`},
		{protocol.CommitOffsetsType, `{"type":"commit_offsets","offsets":{"t1":0}}`, `{"type":"commit_offsets_ok"}`},
		{protocol.ListCommittedOffsetsType, `{"type":"list_committed_offsets","keys":["t1","t9"]}`, `{"type":"list_committed_offsets_ok","offsets":{"t1":1}}`},
	}
	for _, test := range tests {
		res, err := d.Dispatch(ctx, test.typ, []byte(test.body))
		require.NoError(t, err, test.body)
		b, err := json.Marshal(res)
		require.NoError(t, err)
		require.JSONEq(t, test.want, string(b), test.body)
	}
}

func TestDispatchErrors(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	tests := []struct {
		name string
		typ  string
		body string
		code protocol.Error
	}{
		{name: "unknown type", typ: "topology", body: `{"type":"topology"}`, code: protocol.ErrNotSupported},
		{name: "bad json", typ: protocol.SendType, body: `{"type":`, code: protocol.ErrMalformedRequest},
		{name: "negative offset", typ: protocol.PollType, body: `{"type":"poll","offsets":{"t":-1}}`, code: protocol.ErrMalformedRequest},
		{name: "empty topic", typ: protocol.SendType, body: `{"type":"send","key":"","msg":1}`, code: protocol.ErrMalformedRequest},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := d.Dispatch(ctx, test.typ, []byte(test.body))
			require.Error(t, err)
			require.Equal(t, test.code, protocol.ErrorFor(err))
		})
	}
}

func TestHTTP(t *testing.T) {
	registry := prometheus.NewRegistry()
	s := NewHTTP("127.0.0.1:0", newTestDispatcher(t), registry, testutil.NewTestLogger())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	post := func(path, body string) (int, string) {
		resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := ioutil.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	status, body := post("/send", `{"key":"t1","msg":{"n":1}}`)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"type":"send_ok","offset":0}`, body)

	status, body = post("/poll", `{"offsets":{"t1":0}}`)
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `{"type":"poll_ok","msgs":{"t1":[[0,{"n":1}]]}}`, body)

	status, body = post("/send", `{"key":"bad topic","msg":1}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Contains(t, body, `"code":12`)

	status, _ = post("/nope", `{}`)
	require.Equal(t, http.StatusNotFound, status)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	metrics, err := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(metrics), `casklog_http_requests_handled{code="200",type="send"} 1`)
	require.Contains(t, string(metrics), `casklog_http_requests_handled{code="400",type="send"} 1`)
}

func TestHTTPStartShutdown(t *testing.T) {
	_, cfg := testutil.TestConfig(t)
	s := NewHTTP(cfg.HTTPAddr, newTestDispatcher(t), prometheus.NewRegistry(), testutil.NewTestLogger())
	require.NoError(t, s.Start())
	testutil.WaitForHealthy(t, s.Addr())
	require.NoError(t, s.Shutdown(context.Background()))
	_, err := http.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	require.Error(t, err)
}

func TestDecodeReply(t *testing.T) {
	res := new(protocol.SendResponse)
	require.NoError(t, decodeReply([]byte(`{"type":"send_ok","offset":4,"in_reply_to":1}`), res))
	require.Equal(t, uint64(4), res.Offset)

	err := decodeReply([]byte(`{"type":"error","code":11,"text":"retry budget exceeded"}`), res)
	require.Equal(t, protocol.ErrTemporarilyUnavailable, protocol.ErrorFor(err))
	require.True(t, protocol.ErrorFor(err).Retryable())
}

func TestMaelstrom(t *testing.T) {
	lines := []string{
		`{"src":"c0","dest":"n1","body":{"type":"init","msg_id":1,"node_id":"n1","node_ids":["n1"]}}`,
		`{"src":"c1","dest":"n1","body":{"type":"send","msg_id":2,"key":"t1","msg":7}}`,
		`{"src":"c1","dest":"n1","body":{"type":"list_committed_offsets","msg_id":3,"keys":["t1"]}}`,
		`{"src":"c1","dest":"n1","body":{"type":"send","msg_id":4,"key":"","msg":7}}`,
	}
	var out bytes.Buffer
	n := maelstrom.NewNode()
	n.Stdin = strings.NewReader(strings.Join(lines, "\n") + "\n")
	n.Stdout = &out

	var initialized string
	m := NewMaelstrom(n, func(id string, ids []string) (*Dispatcher, error) {
		initialized = id
		return newTestDispatcher(t), nil
	}, testutil.NewTestLogger())
	require.NoError(t, m.Run())

	replies := map[int]map[string]interface{}{}
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var msg struct {
			Body map[string]interface{} `json:"body"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &msg))
		replies[int(msg.Body["in_reply_to"].(float64))] = msg.Body
	}
	require.Equal(t, "n1", initialized)
	require.Equal(t, "init_ok", replies[1]["type"])
	require.Equal(t, "send_ok", replies[2]["type"])
	require.Equal(t, float64(0), replies[2]["offset"])
	require.Equal(t, "list_committed_offsets_ok", replies[3]["type"])
	require.Equal(t, "error", replies[4]["type"])
	require.Equal(t, float64(protocol.ErrMalformedRequest), replies[4]["code"])
}

func TestErrorForStoreFailure(t *testing.T) {
	err := errors.Wrap(&casklog.StoreError{Op: "cas", Key: "t/log", Err: errors.New("timeout")}, "append")
	require.Equal(t, protocol.ErrCrash, protocol.ErrorFor(err))
}
