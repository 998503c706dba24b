package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/a3tai/mcp-receipt-reader/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const verifyCall = `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"receipt_verify",` +
	`"arguments":{"text":"Receipt No : RNP-2025-000363","record_json":"{\"receiptNo\":\"RNP-2025-000363\"}"}}}`

type rpcResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func decodeResponses(t *testing.T, r io.Reader) map[int]rpcResponse {
	t.Helper()
	out := map[int]rpcResponse{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var resp rpcResponse
		require.NoError(t, json.Unmarshal([]byte(line), &resp), line)
		out[resp.ID] = resp
	}
	return out
}

func TestServer_Run_StdioMode(t *testing.T) {
	s, _ := newTestServer(t, config.ModeStdio, nil)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1.0.0"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		verifyCall,
	}, "\n") + "\n"

	var out bytes.Buffer
	s.stdin = strings.NewReader(input)
	s.stdout = &out

	require.NoError(t, s.Run(context.Background()))

	responses := decodeResponses(t, &out)
	require.Contains(t, responses, 1)
	assert.Contains(t, string(responses[1].Result), "test-server")

	require.Contains(t, responses, 2)
	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(responses[2].Result, &list))
	names := make([]string, 0, len(list.Tools))
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"receipt_extract", "receipt_verify", "receipt_reconstruct", "receipt_client_name",
		"receipt_preview", "receipt_validate_file", "receipt_list_uploads", "receipt_server_info",
	}, names)

	require.Contains(t, responses, 3)
	assert.Nil(t, responses[3].Error)
	assert.Contains(t, string(responses[3].Result), `\"receiptNo\": \"verified\"`)
}

func TestServer_Run_StdioModeCanceled(t *testing.T) {
	s, _ := newTestServer(t, config.ModeStdio, nil)

	reader, writer := io.Pipe()
	defer writer.Close()
	s.stdin = reader
	s.stdout = io.Discard

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stdio server did not stop after cancellation")
	}
}

func TestServer_Run_ServerMode(t *testing.T) {
	s, _ := newTestServer(t, config.ModeServer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("http server did not shut down")
	}
}

func TestServer_Run_InvalidMode(t *testing.T) {
	s, _ := newTestServer(t, "invalid", nil)

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode: invalid")
}

func TestServer_Handler(t *testing.T) {
	s, _ := newTestServer(t, config.ModeServer, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+EndpointPath, "application/json", strings.NewReader(verifyCall))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	responses := decodeResponses(t, resp.Body)
	require.Contains(t, responses, 3)
	assert.Nil(t, responses[3].Error)
	assert.Contains(t, string(responses[3].Result), `\"receiptNo\": \"verified\"`)
}
