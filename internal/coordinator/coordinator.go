// Package coordinator is the privileged hub of the agent: it classifies
// navigations, schedules delayed auto-fill dispatches, handles every message
// coming up from the per-tab relays, and drives the bind-card and
// billing-success flows against the panel and companion services.
package coordinator

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/w457602/atm_agent/internal/cdp"
	"github.com/w457602/atm_agent/internal/classify"
	"github.com/w457602/atm_agent/internal/companion"
	"github.com/w457602/atm_agent/internal/logstore"
	"github.com/w457602/atm_agent/internal/panel"
	"github.com/w457602/atm_agent/internal/protocol"
	"github.com/w457602/atm_agent/internal/settings"
	"github.com/w457602/atm_agent/internal/tabs"
)

// Delivery retry envelope: one immediate attempt, then a bounded readiness
// wait, then fixed-spacing retries. Changing these changes observable
// behavior on slow-loading checkout pages.
const (
	readyWaitMax  = 5 * time.Second
	sendRetries   = 5
	sendRetryGap  = 300 * time.Millisecond
	cursorSettle  = 1 * time.Second
	cursorNavWait = 30 * time.Second
)

// Messenger delivers protocol messages into a tab.
type Messenger interface {
	Forward(ctx context.Context, tabID string, msg protocol.Message) error
	ForwardToFrame(ctx context.Context, tabID, frameID string, msg protocol.Message) error
	Frames(ctx context.Context, tabID string) ([]string, error)
	CheckoutURL(ctx context.Context, tabID string) (string, error)
	FillEmail(ctx context.Context, tabID, frameID, email string) (string, error)
}

// Browser exposes the tab-level operations the coordinator needs.
type Browser interface {
	ActiveTab(prefer func(url string) bool) (tabID, url string, err error)
	Navigate(ctx context.Context, tabID, url string) error
	TabURL(tabID string) string
}

// PanelDirectory resolves account data from the external panel.
type PanelDirectory interface {
	LookupAccountByURL(ctx context.Context, url string) *panel.Account
	NotifyBillingSuccess(ctx context.Context, url, accountID string) bool
}

// SessionImporter hands extracted sessions to the local companion service.
type SessionImporter interface {
	ImportSession(ctx context.Context, session string) companion.Result
}

// CookieSource reads browser cookies.
type CookieSource interface {
	CookiesForDomain(ctx context.Context, domain string) ([]cdp.Cookie, error)
}

// Coordinator wires the relays, stores and external clients together. One
// instance serves all tabs.
type Coordinator struct {
	tabs      *tabs.Registry
	logs      *logstore.Store
	settings  *settings.Store
	messenger Messenger
	browser   Browser
	panel     PanelDirectory
	companion SessionImporter
	cookies   CookieSource

	mu          sync.Mutex
	pendingFill map[string]*time.Timer
	loadWaiters map[string][]chan string
}

func New(reg *tabs.Registry, logs *logstore.Store, set *settings.Store, m Messenger, b Browser, p PanelDirectory, imp SessionImporter, cookies CookieSource) *Coordinator {
	return &Coordinator{
		tabs:        reg,
		logs:        logs,
		settings:    set,
		messenger:   m,
		browser:     b,
		panel:       p,
		companion:   imp,
		cookies:     cookies,
		pendingFill: make(map[string]*time.Timer),
		loadWaiters: make(map[string][]chan string),
	}
}

// OnNavigationComplete runs once per tab per completed load. It signals any
// navigation waiters, forwards auto-import detection, and, when auto-register
// is enabled for an automatable page, schedules a delayed auto-fill. A second
// completion on the same tab before the delay fires replaces the pending
// dispatch instead of stacking a second one.
func (c *Coordinator) OnNavigationComplete(tabID, pageURL string) {
	if pageURL == "" {
		return
	}

	c.notifyLoadWaiters(tabID, pageURL)

	if strings.Contains(pageURL, "auth.augmentcode.com") && strings.Contains(pageURL, "auto_import=true") {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.messenger.Forward(ctx, tabID, protocol.Message{
			Type: protocol.TypeAutoImportDetected,
			URL:  pageURL,
		}); err != nil {
			slog.Debug("auto-import notify failed", "tab_id", tabID, "error", err)
		}
		cancel()
	}

	hostname := hostOf(pageURL)
	pageType := classify.Classify(pageURL, hostname)
	if !classify.Automatable(pageType) {
		return
	}
	if !c.settings.AutoRegisterEnabled() {
		return
	}

	c.logs.Append("info", "AutoFill", "", "Detected "+describePage(pageType), time.Now())

	delay := c.settings.AutoFillDelay()
	c.mu.Lock()
	if old, ok := c.pendingFill[tabID]; ok {
		old.Stop()
	}
	c.pendingFill[tabID] = time.AfterFunc(delay, func() {
		c.mu.Lock()
		delete(c.pendingFill, tabID)
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := c.DispatchFill(ctx, tabID, pageType, pageURL, FillOptions{}); err != nil {
			c.logs.Append("error", "AutoFill", "", "auto-fill failed: "+err.Error(), time.Now())
		}
	})
	c.mu.Unlock()
}

// OnTabClosed drops all per-tab state.
func (c *Coordinator) OnTabClosed(tabID string) {
	c.mu.Lock()
	if t, ok := c.pendingFill[tabID]; ok {
		t.Stop()
		delete(c.pendingFill, tabID)
	}
	for _, ch := range c.loadWaiters[tabID] {
		close(ch)
	}
	delete(c.loadWaiters, tabID)
	c.mu.Unlock()

	c.tabs.Remove(tabID)
}

// FillOptions tweaks a dispatch.
type FillOptions struct {
	OnlyFill bool
}

// DispatchFill performs one auto-fill dispatch: panel email lookup plus
// per-frame fill-email broadcast for payment pages, then the trigger message
// with the assembled fill configuration, delivered under the retry envelope.
func (c *Coordinator) DispatchFill(ctx context.Context, tabID string, pageType classify.Classification, pageURL string, opts FillOptions) error {
	if !classify.Automatable(pageType) {
		return protocol.NewError(protocol.CodeValidation, "page type not automatable: "+string(pageType), nil)
	}

	if pageType == classify.Stripe || pageType == classify.ChatGPT {
		if account := c.panel.LookupAccountByURL(ctx, pageURL); account != nil && account.Email != "" {
			c.broadcastFillEmail(ctx, tabID, account.Email)
		}
	}

	fc := c.settings.FillConfig(opts.OnlyFill)
	msg := protocol.Message{Type: protocol.TypeTriggerAutoFill, Config: &fc}
	return c.deliver(ctx, tabID, msg)
}

// broadcastFillEmail sends the fill-email instruction to every frame of the
// tab, then runs the direct DOM fill as a fallback for frames without an
// in-page adapter. Frame enumeration failure degrades to the top frame only.
func (c *Coordinator) broadcastFillEmail(ctx context.Context, tabID, email string) {
	frames, err := c.messenger.Frames(ctx, tabID)
	if err != nil || len(frames) == 0 {
		frames = []string{""}
	}

	msg := protocol.Message{Type: protocol.TypeFillEmail, Email: email}
	for _, frameID := range frames {
		if err := c.messenger.ForwardToFrame(ctx, tabID, frameID, msg); err != nil {
			slog.Debug("fill email frame delivery failed", "tab_id", tabID, "frame_id", frameID, "error", err)
		}
		status, err := c.messenger.FillEmail(ctx, tabID, frameID, email)
		if err != nil {
			slog.Debug("direct email fill failed", "tab_id", tabID, "frame_id", frameID, "error", err)
			continue
		}
		if status == "filled" {
			c.logs.Append("info", "AutoFill", "email", "email filled: "+email, time.Now())
		}
	}
}

// deliver sends a message under the retry envelope: immediate attempt, then
// a bounded readiness wait, then fixed-gap retries. Exhaustion produces
// exactly one error log entry.
func (c *Coordinator) deliver(ctx context.Context, tabID string, msg protocol.Message) error {
	err := c.messenger.Forward(ctx, tabID, msg)
	if err == nil {
		return nil
	}

	c.tabs.WaitReady(ctx, tabID, readyWaitMax)

	for i := 0; i < sendRetries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sendRetryGap):
		}
		if err = c.messenger.Forward(ctx, tabID, msg); err == nil {
			return nil
		}
	}

	c.logs.Append("error", "AutoFill", "", "content script not ready or messaging failed", time.Now())
	return protocol.NewError(protocol.CodeSendFailed, "message delivery exhausted retries", err)
}

// BindCardResult is the structured outcome of a bind-card request.
type BindCardResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HandleBindCard runs the one-click bind flow against the requesting tab,
// or the active tab when the request did not come from a tab. Cursor pages
// are redirected to their checkout URL first; the fill fires after the next
// load settles.
func (c *Coordinator) HandleBindCard(ctx context.Context, from protocol.Sender, onlyFill bool) BindCardResult {
	tabID := from.TabID
	var pageURL string
	if tabID == "" {
		var err error
		tabID, pageURL, err = c.browser.ActiveTab(func(u string) bool {
			return classify.Classify(u, hostOf(u)) != classify.Unknown
		})
		if err != nil {
			return BindCardResult{Success: false, Message: "unable to resolve active tab"}
		}
	} else {
		pageURL = c.browser.TabURL(tabID)
	}

	pageType := classify.Classify(pageURL, hostOf(pageURL))

	switch {
	case classify.Automatable(pageType):
		if err := c.DispatchFill(ctx, tabID, pageType, pageURL, FillOptions{OnlyFill: onlyFill}); err != nil {
			return BindCardResult{Success: false, Message: err.Error()}
		}
		return BindCardResult{Success: true, Message: "bind card triggered"}

	case pageType == classify.Cursor:
		if err := c.redirectCursorCheckout(ctx, tabID, onlyFill); err != nil {
			return BindCardResult{Success: false, Message: err.Error()}
		}
		return BindCardResult{Success: true, Message: "navigating to Cursor checkout page"}

	default:
		return BindCardResult{Success: false, Message: "current page does not support one-click bind"}
	}
}

// redirectCursorCheckout resolves the checkout URL in the page, navigates
// there, and fires the stripe fill after the next load plus a settle delay.
func (c *Coordinator) redirectCursorCheckout(ctx context.Context, tabID string, onlyFill bool) error {
	checkoutURL, err := c.messenger.CheckoutURL(ctx, tabID)
	if err != nil {
		return fmt.Errorf("resolve checkout url: %w", err)
	}

	loaded := c.registerLoadWaiter(tabID)

	if err := c.browser.Navigate(ctx, tabID, checkoutURL); err != nil {
		c.dropLoadWaiter(tabID, loaded)
		return fmt.Errorf("navigate to checkout: %w", err)
	}

	go func() {
		defer c.dropLoadWaiter(tabID, loaded)

		select {
		case newURL, ok := <-loaded:
			if !ok {
				return
			}
			time.Sleep(cursorSettle)
			fillCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			if err := c.DispatchFill(fillCtx, tabID, classify.Stripe, newURL, FillOptions{OnlyFill: onlyFill}); err != nil {
				slog.Debug("cursor checkout fill failed", "tab_id", tabID, "error", err)
			}
		case <-time.After(cursorNavWait):
			slog.Debug("cursor checkout load wait timed out", "tab_id", tabID)
		}
	}()
	return nil
}

func (c *Coordinator) registerLoadWaiter(tabID string) chan string {
	ch := make(chan string, 1)
	c.mu.Lock()
	c.loadWaiters[tabID] = append(c.loadWaiters[tabID], ch)
	c.mu.Unlock()
	return ch
}

func (c *Coordinator) dropLoadWaiter(tabID string, ch chan string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.loadWaiters[tabID]
	for i, w := range waiters {
		if w == ch {
			c.loadWaiters[tabID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
}

func (c *Coordinator) notifyLoadWaiters(tabID, url string) {
	c.mu.Lock()
	waiters := c.loadWaiters[tabID]
	c.loadWaiters[tabID] = nil
	c.mu.Unlock()
	for _, ch := range waiters {
		select {
		case ch <- url:
		default:
		}
	}
}

func hostOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func describePage(pageType classify.Classification) string {
	switch pageType {
	case classify.Augment:
		return "Augment page"
	case classify.Stripe:
		return "Stripe payment page"
	case classify.ChatGPT:
		return "ChatGPT payment page"
	}
	return "page"
}
