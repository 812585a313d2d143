// Package relay bridges the coordinator to one attached browser tab. Each
// relay owns a flat CDP session: downward commands become window-level
// messages evaluated into the page, upward page messages arrive through a
// Runtime binding and are decoded into protocol envelopes for the sink.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/w457602/atm_agent/internal/cdp"
	"github.com/w457602/atm_agent/internal/protocol"
)

// BindingName is the page-callable function the bootstrap bridge posts
// serialized protocol messages into.
const BindingName = "__atmAgentPost"

const evalTimeout = 10 * time.Second

// Sink receives upward messages decoded from the page bridge.
type Sink interface {
	HandleMessage(ctx context.Context, msg protocol.Message, from protocol.Sender) protocol.Response
}

// Relay is the per-tab message bridge.
type Relay struct {
	transport *cdp.Transport
	sink      Sink
	tabID     string
	scripts   []string

	mu         sync.Mutex
	sessionID  string
	unregister func()
}

// New builds a relay for one tab. scripts is the ordered list of page
// script URLs injected on every bootstrap; it may be empty.
func New(transport *cdp.Transport, sink Sink, tabID string, scripts []string) *Relay {
	return &Relay{transport: transport, sink: sink, tabID: tabID, scripts: scripts}
}

// TabID returns the tab this relay is bound to.
func (r *Relay) TabID() string { return r.tabID }

// Start attaches a session to the tab and exposes the upward binding.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID != "" {
		return nil
	}

	sessionID, err := r.transport.AttachToTarget(ctx, r.tabID)
	if err != nil {
		return protocol.NewError(protocol.CodeCDPUnavailable, "attach to tab failed", err)
	}
	r.sessionID = sessionID

	if err := r.transport.AddBinding(ctx, sessionID, BindingName); err != nil {
		r.sessionID = ""
		return protocol.NewError(protocol.CodeCDPUnavailable, "add binding failed", err)
	}

	r.unregister = r.transport.RegisterEventHandler("Runtime.bindingCalled", r.onBindingCalled)
	slog.Debug("relay started", "tab_id", r.tabID, "session_id", sessionID)
	return nil
}

// Stop unregisters the binding handler and detaches the session.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unregister != nil {
		r.unregister()
		r.unregister = nil
	}
	if r.sessionID != "" {
		detachCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.transport.DetachFromTarget(detachCtx, r.sessionID); err != nil {
			slog.Debug("relay detach failed", "tab_id", r.tabID, "error", err)
		}
		cancel()
		r.sessionID = ""
	}
	slog.Debug("relay stopped", "tab_id", r.tabID)
}

func (r *Relay) session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *Relay) onBindingCalled(sessionID string, params json.RawMessage) {
	if sessionID != r.session() {
		return
	}

	var evt struct {
		Name    string `json:"name"`
		Payload string `json:"payload"`
	}
	if json.Unmarshal(params, &evt) != nil || evt.Name != BindingName {
		return
	}

	msg, err := protocol.Decode([]byte(evt.Payload))
	if err != nil {
		slog.Debug("relay: unparseable page message", "tab_id", r.tabID, "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		r.sink.HandleMessage(ctx, msg, protocol.Sender{TabID: r.tabID})
	}()
}

// Bootstrap installs the window message bridge, injects the page scripts
// one at a time, and announces readiness to the sink. Script failures are
// logged and skipped; the sequence always runs to completion. Safe to call
// on every load; reinstallation is a no-op.
func (r *Relay) Bootstrap(ctx context.Context, url string) error {
	if err := r.eval(ctx, "", jsBootstrap(BindingName)); err != nil {
		return err
	}

	for _, src := range r.scripts {
		if err := r.eval(ctx, "", jsInjectScript(src)); err != nil {
			slog.Debug("page script injection failed", "tab_id", r.tabID, "src", src, "error", err)
		}
	}

	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.sink.HandleMessage(bootCtx, protocol.Message{
		Type: protocol.TypeContentScriptReady,
		URL:  url,
	}, protocol.Sender{TabID: r.tabID})
	return nil
}

// Forward delivers a command message into the tab's top frame.
func (r *Relay) Forward(ctx context.Context, msg protocol.Message) error {
	return r.eval(ctx, "", jsPostPageMessage(msg))
}

// ForwardToFrame delivers a command message into one frame of the tab. An
// empty frame ID targets the top frame.
func (r *Relay) ForwardToFrame(ctx context.Context, frameID string, msg protocol.Message) error {
	return r.eval(ctx, frameID, jsPostPageMessage(msg))
}

// Frames lists the tab's frame IDs, top frame first. An error leaves the
// caller with the top-frame-only fallback.
func (r *Relay) Frames(ctx context.Context) ([]string, error) {
	sessionID := r.session()
	if sessionID == "" {
		return nil, protocol.NewError(protocol.CodeCDPUnavailable, "relay not started", nil)
	}
	return r.transport.ListFrames(ctx, sessionID)
}

// FillEmail runs the direct DOM fill in the given frame and returns the
// outcome status. This is the fallback path when the in-page adapters are
// not present.
func (r *Relay) FillEmail(ctx context.Context, frameID, email string) (string, error) {
	data, err := r.evalData(ctx, frameID, jsFillEmail(email))
	if err != nil {
		return "", err
	}
	var resp struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(data, &resp) != nil {
		return "", nil
	}
	return resp.Status, nil
}

// ReconcileFloatingButton injects or removes the one-click bind button in
// the top frame depending on host support.
func (r *Relay) ReconcileFloatingButton(ctx context.Context, supported bool) error {
	return r.eval(ctx, "", jsEnsureFloatingButton(supported))
}

// CheckoutURL resolves the pro-plan checkout URL via the page's own helper.
func (r *Relay) CheckoutURL(ctx context.Context) (string, error) {
	data, err := r.evalData(ctx, "", jsResolveCheckoutURL())
	if err != nil {
		return "", err
	}
	var resp struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &resp); err != nil || resp.URL == "" {
		return "", protocol.NewError(protocol.CodeEvalFailure, "checkout url missing from eval result", err)
	}
	return resp.URL, nil
}

func (r *Relay) eval(ctx context.Context, frameID, js string) error {
	_, err := r.evalData(ctx, frameID, js)
	return err
}

func (r *Relay) evalData(ctx context.Context, frameID, js string) (json.RawMessage, error) {
	sessionID := r.session()
	if sessionID == "" {
		return nil, protocol.NewError(protocol.CodeCDPUnavailable, "relay not started", nil)
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	raw, err := r.transport.EvaluateInFrame(evalCtx, sessionID, frameID, js)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, protocol.NewError(protocol.CodeEvalTimeout, "page evaluation timed out", err)
		}
		return nil, protocol.NewError(protocol.CodeSendFailed, "page evaluation failed", err)
	}

	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = protocol.CodeEvalFailure
		}
		return nil, protocol.NewError(code, env.ErrorMessage, nil)
	}
	return env.Data, nil
}
