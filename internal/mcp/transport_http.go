package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
)

// HTTPTransport speaks MCP over HTTP with Server-Sent Events. The client
// GETs the SSE endpoint, the server announces a message URI in an
// "endpoint" event, requests are POSTed there and responses arrive back
// on the SSE stream as "message" events.
type HTTPTransport struct {
	sseURL  string
	headers map[string]string

	postURL   string
	postURLMu sync.RWMutex
	client    *http.Client
	resp      *http.Response
	cancel    context.CancelFunc
	closed    atomic.Bool

	pending   map[int64]chan jsonRPCResponse
	pendingMu sync.Mutex
}

func NewHTTPTransport(sseURL string, headers map[string]string) *HTTPTransport {
	return &HTTPTransport{
		sseURL:  sseURL,
		headers: headers,
		client:  &http.Client{},
		pending: make(map[int64]chan jsonRPCResponse),
	}
}

// Start opens the SSE stream and blocks until the server sends its
// endpoint event.
func (t *HTTPTransport) Start(ctx context.Context) error {
	if t.closed.Load() {
		return fmt.Errorf("transport already closed")
	}
	ctx, t.cancel = context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.sseURL, nil)
	if err != nil {
		return fmt.Errorf("build sse request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to mcp sse endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("mcp sse endpoint returned %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("mcp sse endpoint Content-Type is %q, expected text/event-stream", ct)
	}
	t.resp = resp

	baseURL, _ := url.Parse(t.sseURL)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 256*1024), 10*1024*1024)
	var eventType string
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if eventType == "endpoint" && len(dataLines) > 0 {
				postURL := strings.TrimSpace(strings.Join(dataLines, "\n"))
				if u, err := url.Parse(postURL); err == nil && u.Scheme == "" && u.Host == "" {
					postURL = baseURL.ResolveReference(u).String()
				}
				t.postURLMu.Lock()
				t.postURL = postURL
				t.postURLMu.Unlock()
				go t.readLoop(scanner)
				return nil
			}
			eventType = ""
			dataLines = nil
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(line[6:])
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(line[5:], " "))
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading sse endpoint event: %w", err)
	}
	return fmt.Errorf("sse stream ended before endpoint event")
}

func (t *HTTPTransport) readLoop(scanner *bufio.Scanner) {
	var eventType string
	var dataLines []string
	for scanner.Scan() {
		if t.closed.Load() {
			return
		}
		line := scanner.Text()
		if line == "" {
			if eventType == "message" && len(dataLines) > 0 {
				data := []byte(strings.Join(dataLines, "\n"))
				var resp jsonRPCResponse
				if err := json.Unmarshal(data, &resp); err == nil && resp.ID != 0 {
					t.pendingMu.Lock()
					ch, ok := t.pending[resp.ID]
					if ok {
						delete(t.pending, resp.ID)
					}
					t.pendingMu.Unlock()
					if ok {
						select {
						case ch <- resp:
						default:
						}
					}
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(line[6:])
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(line[5:], " "))
			continue
		}
	}
}

func (t *HTTPTransport) messageURL() (string, error) {
	t.postURLMu.RLock()
	u := t.postURL
	t.postURLMu.RUnlock()
	if u == "" {
		return "", fmt.Errorf("message endpoint not yet received from server")
	}
	return u, nil
}

func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := nextRequestID()
	ch := make(chan jsonRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.post(ctx, jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	return t.post(ctx, jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (t *HTTPTransport) post(ctx context.Context, req jsonRPCRequest) error {
	postURL, err := t.messageURL()
	if err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("mcp post: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("mcp post returned %d", resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) Close() {
	t.closed.Store(true)
	if t.cancel != nil {
		t.cancel()
	}
	if t.resp != nil && t.resp.Body != nil {
		t.resp.Body.Close()
	}
}
