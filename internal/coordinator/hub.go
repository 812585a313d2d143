package coordinator

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/w457602/atm_agent/internal/cdp"
	"github.com/w457602/atm_agent/internal/classify"
	"github.com/w457602/atm_agent/internal/protocol"
	"github.com/w457602/atm_agent/internal/relay"
)

// buttonReconcileInterval is how often the floating bind button is
// reconciled against each tab's current host.
const buttonReconcileInterval = 1 * time.Second

// URLSource reports the last known URL of a tab.
type URLSource interface {
	TabURL(tabID string) string
}

// Hub owns the per-tab relays. It receives browser lifecycle events,
// keeps one relay per attached tab, and implements Messenger by routing
// messages to the right relay.
type Hub struct {
	transport *cdp.Transport
	scripts   []string

	mu     sync.RWMutex
	relays map[string]*relay.Relay

	coord *Coordinator
	urls  URLSource
	done  chan struct{}
	once  sync.Once
}

// NewHub builds the relay hub. scripts is the ordered page script list each
// relay injects on bootstrap.
func NewHub(transport *cdp.Transport, scripts []string) *Hub {
	return &Hub{
		transport: transport,
		scripts:   scripts,
		relays:    make(map[string]*relay.Relay),
		done:      make(chan struct{}),
	}
}

// Bind attaches the coordinator and tab URL source after construction.
// Must be called before any browser events arrive.
func (h *Hub) Bind(coord *Coordinator, urls URLSource) {
	h.coord = coord
	h.urls = urls
}

// Start launches the floating button reconcile loop.
func (h *Hub) Start() {
	go h.buttonLoop()
}

// Stop stops all relays and the reconcile loop.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })

	h.mu.Lock()
	relays := h.relays
	h.relays = make(map[string]*relay.Relay)
	h.mu.Unlock()

	for _, r := range relays {
		r.Stop()
	}
}

func (h *Hub) relay(tabID string) *relay.Relay {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.relays[tabID]
}

// OnTabAttached starts a relay for the new tab and bootstraps the bridge.
func (h *Hub) OnTabAttached(tabID, url string) {
	r := relay.New(h.transport, h.coord, tabID, h.scripts)

	h.mu.Lock()
	if _, exists := h.relays[tabID]; exists {
		h.mu.Unlock()
		return
	}
	h.relays[tabID] = r
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := r.Start(ctx); err != nil {
		slog.Error("relay start failed", "tab_id", tabID, "error", err)
		h.mu.Lock()
		delete(h.relays, tabID)
		h.mu.Unlock()
		return
	}
	if err := r.Bootstrap(ctx, url); err != nil {
		slog.Debug("relay bootstrap failed", "tab_id", tabID, "error", err)
	}
}

// OnNavigationStarted is a no-op: tab readiness persists until the tab
// closes, and the bridge is reinstalled on load completion.
func (h *Hub) OnNavigationStarted(tabID, url string) {}

// OnLoadComplete reinstalls the bridge (a fresh document dropped it) and
// hands the completed navigation to the coordinator.
func (h *Hub) OnLoadComplete(tabID, url string) {
	if r := h.relay(tabID); r != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := r.Bootstrap(ctx, url); err != nil {
			slog.Debug("relay re-bootstrap failed", "tab_id", tabID, "error", err)
		}
		cancel()
	}
	h.coord.OnNavigationComplete(tabID, url)
}

// OnTabClosed tears down the tab's relay and coordinator state.
func (h *Hub) OnTabClosed(tabID string) {
	h.mu.Lock()
	r := h.relays[tabID]
	delete(h.relays, tabID)
	h.mu.Unlock()

	if r != nil {
		r.Stop()
	}
	h.coord.OnTabClosed(tabID)
}

// Forward implements Messenger.
func (h *Hub) Forward(ctx context.Context, tabID string, msg protocol.Message) error {
	r := h.relay(tabID)
	if r == nil {
		return protocol.NewError(protocol.CodeTabNotFound, "no relay for tab "+tabID, nil)
	}
	return r.Forward(ctx, msg)
}

// ForwardToFrame implements Messenger.
func (h *Hub) ForwardToFrame(ctx context.Context, tabID, frameID string, msg protocol.Message) error {
	r := h.relay(tabID)
	if r == nil {
		return protocol.NewError(protocol.CodeTabNotFound, "no relay for tab "+tabID, nil)
	}
	return r.ForwardToFrame(ctx, frameID, msg)
}

// Frames implements Messenger.
func (h *Hub) Frames(ctx context.Context, tabID string) ([]string, error) {
	r := h.relay(tabID)
	if r == nil {
		return nil, protocol.NewError(protocol.CodeTabNotFound, "no relay for tab "+tabID, nil)
	}
	return r.Frames(ctx)
}

// FillEmail implements Messenger.
func (h *Hub) FillEmail(ctx context.Context, tabID, frameID, email string) (string, error) {
	r := h.relay(tabID)
	if r == nil {
		return "", protocol.NewError(protocol.CodeTabNotFound, "no relay for tab "+tabID, nil)
	}
	return r.FillEmail(ctx, frameID, email)
}

// CheckoutURL implements Messenger.
func (h *Hub) CheckoutURL(ctx context.Context, tabID string) (string, error) {
	r := h.relay(tabID)
	if r == nil {
		return "", protocol.NewError(protocol.CodeTabNotFound, "no relay for tab "+tabID, nil)
	}
	return r.CheckoutURL(ctx)
}

// buttonLoop keeps the floating bind button present on supported hosts and
// absent elsewhere, catching client-side host changes without a reload.
func (h *Hub) buttonLoop() {
	ticker := time.NewTicker(buttonReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}

		h.mu.RLock()
		relays := make([]*relay.Relay, 0, len(h.relays))
		for _, r := range h.relays {
			relays = append(relays, r)
		}
		h.mu.RUnlock()

		for _, r := range relays {
			url := h.urls.TabURL(r.TabID())
			if url == "" {
				continue
			}
			supported := classify.SupportedHost(hostOf(url))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.ReconcileFloatingButton(ctx, supported); err != nil {
				slog.Debug("floating button reconcile failed", "tab_id", r.TabID(), "error", err)
			}
			cancel()
		}
	}
}
