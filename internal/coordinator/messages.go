package coordinator

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/w457602/atm_agent/internal/cdp"
	"github.com/w457602/atm_agent/internal/companion"
	"github.com/w457602/atm_agent/internal/protocol"
)

// HandleMessage is the single dispatch point for everything arriving from
// the relays and the control API. Unrecognized but well-formed messages are
// acknowledged with success so in-page senders never see spurious failures.
func (c *Coordinator) HandleMessage(ctx context.Context, msg protocol.Message, from protocol.Sender) protocol.Response {
	if msg.Type == "" && msg.Action == "" {
		return protocol.Response{Success: false, Error: "Invalid message"}
	}

	if msg.Type != "" {
		return c.handleTyped(ctx, msg, from)
	}
	return c.handleAction(ctx, msg, from)
}

func (c *Coordinator) handleTyped(ctx context.Context, msg protocol.Message, from protocol.Sender) protocol.Response {
	switch msg.Type {
	case protocol.TypeContentScriptReady:
		c.tabs.MarkReady(from.TabID)
		return protocol.Response{Success: true}

	case protocol.TypeLogEntry:
		c.HandleLogEntry(msg)
		return protocol.Response{Success: true}

	case protocol.TypeBillingSuccess:
		// Both follow-ups run detached so the page gets its ack promptly.
		go func() {
			bctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			c.HandleBillingSuccess(bctx, msg)
		}()
		go func() {
			nctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if !c.panel.NotifyBillingSuccess(nctx, msg.URL, msg.AccountID) {
				slog.Debug("panel billing-success notify failed", "url", msg.URL)
			}
		}()
		return protocol.Response{Success: true}

	case protocol.TypeFillCardData:
		return c.forwardToTab(ctx, from, protocol.Message{
			Type:     protocol.TypeFillCardData,
			CardData: msg.CardData,
		})

	case protocol.TypeBindCardClick:
		result := c.HandleBindCard(ctx, from, msg.OnlyFill)
		return protocol.Response{Success: result.Success, Message: result.Message}

	case protocol.TypePopupStatusToast:
		return c.handlePopupToast(ctx, msg, from)

	case protocol.TypeAutoRegisterStatus, protocol.TypeSessionExtracted:
		// Observed but not acted on here; the panel UI consumes these.
		return protocol.Response{Success: true}
	}

	return protocol.Response{Success: true}
}

func (c *Coordinator) handleAction(ctx context.Context, msg protocol.Message, from protocol.Sender) protocol.Response {
	switch msg.Action {
	case protocol.ActionBindCard:
		result := c.HandleBindCard(ctx, from, msg.OnlyFill)
		return protocol.Response{Success: result.Success, Message: result.Message}

	case protocol.ActionGetCookies:
		return c.handleGetCookies(ctx, msg)

	case protocol.ActionGetCookie:
		return c.handleGetCookie(ctx, msg)
	}

	return protocol.Response{Success: true}
}

// HandleLogEntry funnels a page-originated log event into the bounded store.
func (c *Coordinator) HandleLogEntry(msg protocol.Message) {
	ts := time.Now()
	if msg.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			ts = parsed
		}
	}
	c.logs.Append(msg.Level, msg.App, msg.Scope, msg.Message, ts)
}

// HandleBillingSuccess runs the post-bind session import. Only the Augment
// app qualifies, and only while auto-register is enabled; every outcome is
// surfaced as a log entry rather than an error.
func (c *Coordinator) HandleBillingSuccess(ctx context.Context, msg protocol.Message) {
	appName := msg.AppName
	if appName != "Augment" {
		return
	}

	if !c.settings.AutoRegisterEnabled() {
		c.logs.Append("info", appName, "billing",
			"Augment billing success detected (auto-register disabled, skipping session import)", time.Now())
		return
	}

	c.logs.Append("info", appName, "billing",
		"Augment billing success detected, importing session...", time.Now())

	session := c.sessionCookieValue(ctx)
	if session == "" {
		c.logs.Append("warn", appName, "billing",
			"session cookie not found, cannot import", time.Now())
		return
	}

	result := c.companion.ImportSession(ctx, session)
	switch result.Outcome {
	case companion.OK:
		c.logs.Append("info", appName, "billing", "session imported successfully", time.Now())
	case companion.Duplicate:
		c.logs.Append("warn", appName, "billing", "this email already exists in the companion", time.Now())
	case companion.Unreachable:
		c.logs.Append("error", appName, "billing", "API call failed: "+result.Message, time.Now())
	default:
		c.logs.Append("error", appName, "billing", "session import failed: "+result.Message, time.Now())
	}
}

func (c *Coordinator) sessionCookieValue(ctx context.Context) string {
	cookies, err := c.cookies.CookiesForDomain(ctx, "auth.augmentcode.com")
	if err != nil {
		return ""
	}
	for _, ck := range cookies {
		if ck.Name == "session" && ck.Value != "" {
			return ck.Value
		}
	}
	return ""
}

func (c *Coordinator) handlePopupToast(ctx context.Context, msg protocol.Message, from protocol.Sender) protocol.Response {
	state := msg.State
	if state == "" {
		state = "info"
	}
	return c.forwardToTab(ctx, from, protocol.Message{
		Type:  protocol.TypeShowStatusToast,
		State: state,
		Icon:  msg.Icon,
		Text:  msg.Text,
	})
}

// forwardToTab delivers a command to the sender's tab, or the active tab
// when the request did not come from one.
func (c *Coordinator) forwardToTab(ctx context.Context, from protocol.Sender, msg protocol.Message) protocol.Response {
	tabID := from.TabID
	if tabID == "" {
		var err error
		tabID, _, err = c.browser.ActiveTab(nil)
		if err != nil {
			return protocol.Response{Success: false, Error: "No active tab"}
		}
	}

	if err := c.messenger.Forward(ctx, tabID, msg); err != nil {
		return protocol.Response{Success: false, Error: err.Error()}
	}
	return protocol.Response{Success: true}
}

func (c *Coordinator) handleGetCookies(ctx context.Context, msg protocol.Message) protocol.Response {
	if msg.Domain == "" {
		return protocol.Response{Success: false, Error: "Domain is required"}
	}
	cookies, err := c.cookies.CookiesForDomain(ctx, msg.Domain)
	if err != nil {
		return protocol.Response{Success: false, Error: err.Error()}
	}
	return protocol.Response{Success: true, Cookies: cookies}
}

func (c *Coordinator) handleGetCookie(ctx context.Context, msg protocol.Message) protocol.Response {
	if msg.Name == "" {
		return protocol.Response{Success: false, Error: "Cookie name is required"}
	}

	domain := msg.Domain
	if domain == "" && msg.URL != "" {
		domain = hostOf(msg.URL)
	}
	if domain == "" {
		return protocol.Response{Success: false, Error: "Either url or domain is required"}
	}

	cookies, err := c.cookies.CookiesForDomain(ctx, domain)
	if err != nil {
		return protocol.Response{Success: false, Error: err.Error()}
	}

	var found *cdp.Cookie
	for i := range cookies {
		if cookies[i].Name == msg.Name {
			found = &cookies[i]
			break
		}
	}

	if found != nil && found.Value != "" && msg.Name == "session" {
		c.logs.Append("info", "Augment", "session",
			fmt.Sprintf("getCookie returned %s: domain=%s, path=%s, value=%s",
				msg.Name, found.Domain, found.Path, maskCookieValue(found.Value)), time.Now())
	}

	return protocol.Response{Success: true, Cookie: found}
}

// maskCookieValue keeps only the edges of long secrets for the log trail.
func maskCookieValue(v string) string {
	if len(v) > 24 {
		return v[:10] + "..." + v[len(v)-10:]
	}
	return v
}
