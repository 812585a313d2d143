package cdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/w457602/atm_agent/internal/config"
)

// Hooks receives tab lifecycle notifications. Implementations must not
// block: callbacks fire on the chromedp event goroutine.
type Hooks interface {
	OnTabAttached(tabID, url string)
	OnNavigationStarted(tabID, url string)
	OnLoadComplete(tabID, url string)
	OnTabClosed(tabID string)
}

// Client manages chromedp connections to browser tabs and reports
// navigation lifecycle events to the registered hooks.
type Client struct {
	cfg         *config.Config
	hooks       Hooks
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabs        map[target.ID]*TabContext
	tabsMu      sync.RWMutex
	done        chan struct{}
}

// TabContext tracks one attached page target.
type TabContext struct {
	ID     target.ID
	URL    string
	ctx    context.Context
	cancel context.CancelFunc
}

func NewClient(cfg *config.Config, hooks Hooks) *Client {
	return &Client{
		cfg:   cfg,
		hooks: hooks,
		tabs:  make(map[target.ID]*TabContext),
		done:  make(chan struct{}),
	}
}

// Connect attaches to every open page target and starts the target sync
// loop that picks up tabs opened later.
func (c *Client) Connect(ctx context.Context) error {
	_ = ctx
	cdpURL := c.cfg.CDPURL()
	slog.Info("Connecting to Chromium", "url", cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(c.allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return fmt.Errorf("failed to enumerate targets: %w", err)
	}

	slog.Info("Found browser targets", "count", len(targets))

	attached := 0
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if err := c.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
			continue
		}
		attached++
	}

	slog.Info("Attached to tabs", "count", attached)
	go c.syncLoop()
	return nil
}

func (c *Client) attachToTab(targetID target.ID, url string) error {
	c.tabsMu.Lock()
	if _, exists := c.tabs[targetID]; exists {
		c.tabsMu.Unlock()
		return nil
	}
	c.tabsMu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))
	tab := &TabContext{ID: targetID, URL: url, ctx: tabCtx, cancel: tabCancel}

	c.tabsMu.Lock()
	c.tabs[targetID] = tab
	c.tabsMu.Unlock()

	if err := chromedp.Run(tabCtx, page.Enable()); err != nil {
		tabCancel()
		c.tabsMu.Lock()
		delete(c.tabs, targetID)
		c.tabsMu.Unlock()
		return fmt.Errorf("failed to enable page domain: %w", err)
	}

	slog.Info("Attached to tab", "target_id", targetID, "url", truncateURL(url))
	chromedp.ListenTarget(tabCtx, c.createEventHandler(string(targetID)))

	if c.hooks != nil {
		go c.hooks.OnTabAttached(string(targetID), url)
	}
	return nil
}

func (c *Client) createEventHandler(tabID string) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				c.setTabURL(target.ID(tabID), e.Frame.URL)
				slog.Debug("Tab navigated (full)", "tab_id", tabID, "url", truncateURL(e.Frame.URL))
				if c.hooks != nil {
					go c.hooks.OnNavigationStarted(tabID, e.Frame.URL)
				}
			}
		case *page.EventNavigatedWithinDocument:
			c.setTabURL(target.ID(tabID), e.URL)
			slog.Debug("Tab navigated (SPA)", "tab_id", tabID, "url", truncateURL(e.URL))
			if c.hooks != nil {
				go c.hooks.OnLoadComplete(tabID, e.URL)
			}
		case *page.EventLoadEventFired:
			url := c.TabURL(tabID)
			slog.Debug("Tab load complete", "tab_id", tabID, "url", truncateURL(url))
			if c.hooks != nil {
				go c.hooks.OnLoadComplete(tabID, url)
			}
		}
	}
}

// syncLoop periodically reconciles the attached tab set against the
// browser's live targets so tabs opened or closed after startup are
// picked up without a restart.
func (c *Client) syncLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.syncTargets()
		}
	}
}

func (c *Client) syncTargets() {
	tempCtx, tempCancel := chromedp.NewContext(c.allocCtx)
	defer tempCancel()

	listCtx, listCancel := context.WithTimeout(tempCtx, 5*time.Second)
	defer listCancel()

	targets, err := chromedp.Targets(listCtx)
	if err != nil {
		slog.Debug("Target sync failed", "error", err)
		return
	}

	live := make(map[target.ID]bool, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		live[t.TargetID] = true
		c.tabsMu.RLock()
		_, known := c.tabs[t.TargetID]
		c.tabsMu.RUnlock()
		if !known {
			if err := c.attachToTab(t.TargetID, t.URL); err != nil {
				slog.Error("Failed to attach to new tab", "target_id", t.TargetID, "error", err)
			}
		}
	}

	c.tabsMu.Lock()
	var closed []*TabContext
	for id, tab := range c.tabs {
		if !live[id] {
			closed = append(closed, tab)
			delete(c.tabs, id)
		}
	}
	c.tabsMu.Unlock()

	for _, tab := range closed {
		tab.cancel()
		slog.Info("Tab closed", "target_id", tab.ID)
		if c.hooks != nil {
			go c.hooks.OnTabClosed(string(tab.ID))
		}
	}
}

func (c *Client) setTabURL(id target.ID, url string) {
	c.tabsMu.Lock()
	defer c.tabsMu.Unlock()
	if tab, ok := c.tabs[id]; ok {
		tab.URL = url
	}
}

// TabURL returns the last known URL of a tab, or "" if unknown.
func (c *Client) TabURL(tabID string) string {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	if tab, ok := c.tabs[target.ID(tabID)]; ok {
		return tab.URL
	}
	return ""
}

// Navigate points a tab at a new URL.
func (c *Client) Navigate(ctx context.Context, tabID, url string) error {
	c.tabsMu.RLock()
	tab, ok := c.tabs[target.ID(tabID)]
	c.tabsMu.RUnlock()
	if !ok {
		return fmt.Errorf("tab %s not attached", tabID)
	}

	navCtx, navCancel := context.WithTimeout(tab.ctx, 30*time.Second)
	defer navCancel()
	_ = ctx

	return chromedp.Run(navCtx, chromedp.Navigate(url))
}

// ActiveTab returns the first attached page tab, preferring one on an
// automatable host when a selector is provided.
func (c *Client) ActiveTab(prefer func(url string) bool) (string, string, error) {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()

	if prefer != nil {
		for id, tab := range c.tabs {
			if prefer(tab.URL) {
				return string(id), tab.URL, nil
			}
		}
	}
	for id, tab := range c.tabs {
		return string(id), tab.URL, nil
	}
	return "", "", fmt.Errorf("no attached tabs")
}

// TabCount reports the number of attached tabs.
func (c *Client) TabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
}

func (c *Client) Close() error {
	close(c.done)

	c.tabsMu.Lock()
	for _, tab := range c.tabs {
		tab.cancel()
	}
	c.tabs = make(map[target.ID]*TabContext)
	c.tabsMu.Unlock()

	if c.allocCancel != nil {
		c.allocCancel()
	}

	slog.Info("CDP client closed")
	return nil
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
