package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Transport is a minimal CDP client used by the per-tab relays to evaluate
// JS and receive page bindings without chromedp's heavy session
// initialisation (SetAutoAttach, Page.Enable on every frame, etc.), which
// can disturb checkout pages that watch for automation.
type Transport struct {
	httpBase string // e.g. "http://127.0.0.1:9222"

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

// Cookie is the subset of CDP cookie fields the agent consumes.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
	Secure bool   `json:"secure"`
}

// NewTransport builds a transport for the given CDP HTTP base URL.
func NewTransport(httpBase string) *Transport {
	return &Transport{
		httpBase:      strings.TrimRight(httpBase, "/"),
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

// Connect dials the browser-level WebSocket endpoint.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	wsURL, err := t.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("cdp transport: browser ws url: %w", err)
	}

	slog.Debug("cdp transport connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("cdp transport: dial: %w", err)
	}

	t.conn = conn
	t.pending = make(map[int64]chan json.RawMessage)
	go t.readLoop()
	return nil
}

// Close drops the WebSocket connection.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

func (t *Transport) browserWSURL(ctx context.Context) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, t.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("no webSocketDebuggerUrl in /json/version")
	}
	return info.WebSocketDebuggerURL, nil
}

// readLoop processes incoming messages and dispatches responses to waiters.
func (t *Transport) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("cdp transport read loop exit", "error", err)
			t.closeAllPending()
			return
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			t.pendingMu.Lock()
			ch, ok := t.pending[msg.ID]
			if ok {
				delete(t.pending, msg.ID)
			}
			t.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		} else if msg.Method != "" {
			t.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (t *Transport) closeAllPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

func (t *Transport) deletePending(id int64) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

// sendRaw marshals an envelope, sends it over the WebSocket, and waits for
// the response keyed by the given id.
func (t *Transport) sendRaw(ctx context.Context, id int64, envelope any) (json.RawMessage, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("cdp transport: not connected")
	}

	ch := make(chan json.RawMessage, 1)
	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()

	data, err := json.Marshal(envelope)
	if err != nil {
		t.deletePending(id)
		return nil, fmt.Errorf("cdp transport: marshal: %w", err)
	}

	t.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	t.mu.Unlock()
	if err != nil {
		t.deletePending(id)
		return nil, fmt.Errorf("cdp transport: send: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("cdp transport: connection closed")
		}
		return resp, nil
	case <-ctx.Done():
		t.deletePending(id)
		return nil, ctx.Err()
	}
}

// sendFlat sends a command on a flattened session (sessionId in the outer
// envelope). An empty sessionID targets the browser connection itself.
func (t *Transport) sendFlat(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	id := t.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	resp, err := t.sendRaw(ctx, id, req)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return resp, nil
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("cdp transport: %s: %s", method, envelope.Error.Message)
	}
	return envelope.Result, nil
}

// AttachToTarget attaches a flat session to the given target.
func (t *Transport) AttachToTarget(ctx context.Context, targetID string) (string, error) {
	params := struct {
		TargetID string `json:"targetId"`
		Flatten  bool   `json:"flatten"`
	}{TargetID: targetID, Flatten: true}

	raw, err := t.sendFlat(ctx, "", "Target.attachToTarget", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("cdp transport: unmarshal attach: %w", err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("cdp transport: attach returned no session")
	}
	return resp.SessionID, nil
}

// DetachFromTarget detaches from a session without closing the target.
func (t *Transport) DetachFromTarget(ctx context.Context, sessionID string) error {
	params := struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}
	_, err := t.sendFlat(ctx, "", "Target.detachFromTarget", params)
	return err
}

// Evaluate runs JS on the given session's default context and returns the
// string result.
func (t *Transport) Evaluate(ctx context.Context, sessionID, js string) (string, error) {
	return t.evaluateWithContext(ctx, sessionID, js, 0)
}

// EvaluateInFrame runs JS in the execution context of a specific frame of
// the session's page. An empty frameID targets the top frame.
func (t *Transport) EvaluateInFrame(ctx context.Context, sessionID, frameID, js string) (string, error) {
	if frameID == "" {
		return t.Evaluate(ctx, sessionID, js)
	}
	ctxID, err := t.frameExecutionContext(ctx, sessionID, frameID)
	if err != nil {
		return "", err
	}
	return t.evaluateWithContext(ctx, sessionID, js, ctxID)
}

func (t *Transport) evaluateWithContext(ctx context.Context, sessionID, js string, contextID int64) (string, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
		ContextID     int64  `json:"contextId,omitempty"`
	}{Expression: js, ReturnByValue: true, AwaitPromise: true, ContextID: contextID}

	raw, err := t.sendFlat(ctx, sessionID, "Runtime.evaluate", params)
	if err != nil {
		return "", err
	}

	var resp struct {
		Result struct {
			Value json.RawMessage `json:"value"`
			Type  string          `json:"type"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("cdp transport: unmarshal eval: %w", err)
	}
	if resp.ExceptionDetails != nil {
		return "", fmt.Errorf("cdp transport: eval exception: %s", resp.ExceptionDetails.Text)
	}

	// String results come back as JSON-encoded strings.
	var s string
	if err := json.Unmarshal(resp.Result.Value, &s); err != nil {
		return string(resp.Result.Value), nil
	}
	return s, nil
}

// frameExecutionContext creates (or reuses) an isolated world for the frame
// and returns its execution context id.
func (t *Transport) frameExecutionContext(ctx context.Context, sessionID, frameID string) (int64, error) {
	params := struct {
		FrameID   string `json:"frameId"`
		WorldName string `json:"worldName"`
	}{FrameID: frameID, WorldName: "atm_agent"}

	raw, err := t.sendFlat(ctx, sessionID, "Page.createIsolatedWorld", params)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ExecutionContextID int64 `json:"executionContextId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("cdp transport: unmarshal isolated world: %w", err)
	}
	return resp.ExecutionContextID, nil
}

// AddBinding exposes a page-callable function on the session; calls surface
// as Runtime.bindingCalled events.
func (t *Transport) AddBinding(ctx context.Context, sessionID, name string) error {
	params := struct {
		Name string `json:"name"`
	}{Name: name}
	if _, err := t.sendFlat(ctx, sessionID, "Runtime.enable", nil); err != nil {
		return err
	}
	_, err := t.sendFlat(ctx, sessionID, "Runtime.addBinding", params)
	return err
}

// Navigate points the session's page at a new URL.
func (t *Transport) Navigate(ctx context.Context, sessionID, url string) error {
	params := struct {
		URL string `json:"url"`
	}{URL: url}
	_, err := t.sendFlat(ctx, sessionID, "Page.navigate", params)
	return err
}

// ListFrames returns the frame IDs of the session's page, top frame first.
func (t *Transport) ListFrames(ctx context.Context, sessionID string) ([]string, error) {
	raw, err := t.sendFlat(ctx, sessionID, "Page.getFrameTree", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		FrameTree frameTreeNode `json:"frameTree"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("cdp transport: unmarshal frame tree: %w", err)
	}

	var ids []string
	var walk func(n frameTreeNode)
	walk = func(n frameTreeNode) {
		ids = append(ids, n.Frame.ID)
		for _, child := range n.ChildFrames {
			walk(child)
		}
	}
	walk(resp.FrameTree)
	return ids, nil
}

type frameTreeNode struct {
	Frame struct {
		ID string `json:"id"`
	} `json:"frame"`
	ChildFrames []frameTreeNode `json:"childFrames"`
}

// GetCookies returns all browser cookies.
func (t *Transport) GetCookies(ctx context.Context) ([]Cookie, error) {
	raw, err := t.sendFlat(ctx, "", "Storage.getCookies", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Cookies []Cookie `json:"cookies"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("cdp transport: unmarshal cookies: %w", err)
	}
	return resp.Cookies, nil
}

// CookiesForDomain filters browser cookies by domain suffix match.
func (t *Transport) CookiesForDomain(ctx context.Context, domain string) ([]Cookie, error) {
	all, err := t.GetCookies(ctx)
	if err != nil {
		return nil, err
	}
	domain = strings.TrimPrefix(strings.ToLower(domain), ".")
	var out []Cookie
	for _, c := range all {
		cd := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
		if cd == domain || strings.HasSuffix(cd, "."+domain) || strings.HasSuffix(domain, "."+cd) {
			out = append(out, c)
		}
	}
	return out, nil
}

// RegisterEventHandler registers a handler for a CDP event method (e.g.
// "Runtime.bindingCalled"). Returns an unregister function.
func (t *Transport) RegisterEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := t.seq.Add(1)
	t.eventMu.Lock()
	t.eventHandlers[method] = append(t.eventHandlers[method], eventHandler{id: id, fn: fn})
	t.eventMu.Unlock()
	return func() {
		t.eventMu.Lock()
		defer t.eventMu.Unlock()
		handlers := t.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				t.eventHandlers[method] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (t *Transport) dispatchEvent(method, sessionID string, params json.RawMessage) {
	t.eventMu.RLock()
	handlers := make([]eventHandler, len(t.eventHandlers[method]))
	copy(handlers, t.eventHandlers[method])
	t.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(sessionID, params)
	}
}
