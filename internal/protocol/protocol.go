// Package protocol defines the flat discriminated message envelope exchanged
// between the coordinator, the per-tab relays and the in-page script, plus
// the coded error taxonomy used for stable API mapping.
package protocol

import (
	"encoding/json"
	"strings"
)

// Command message types (coordinator → relay → page).
const (
	TypeFillEmail          = "FILL_EMAIL"
	TypeAutoImportDetected = "AUTO_IMPORT_PAGE_DETECTED"
	TypeFillCardData       = "FILL_CARD_DATA"
	TypeShowStatusToast    = "SHOW_STATUS_TOAST"
	TypeTriggerAutoFill    = "TRIGGER_AUTO_FILL"
)

// Event message types (page/relay → coordinator).
const (
	TypeContentScriptReady = "CONTENT_SCRIPT_READY"
	TypeLogEntry           = "ATM_LOG_ENTRY"
	TypeBillingSuccess     = "ATM_BILLING_SUCCESS"
	TypeBindCardClick      = "ATM_BIND_CARD_CLICK"
	TypeAutoRegisterStatus = "AUTO_REGISTER_STATUS"
	TypeSessionExtracted   = "SESSION_COOKIE_EXTRACTED"
	TypePopupStatusToast   = "POPUP_STATUS_TOAST"
)

// Legacy action-keyed commands.
const (
	ActionBindCard   = "bindCard"
	ActionGetCookies = "getCookies"
	ActionGetCookie  = "getCookie"
)

// PagePrefix namespaces window-level messages so the relay can tell them
// apart from unrelated page traffic.
const PagePrefix = "ATM_"

// FillConfig is the immutable configuration passed by value to the in-page
// adapters when an auto-fill is triggered.
type FillConfig struct {
	Bin                  string `json:"bin"`
	PatternInput         string `json:"patternInput"`
	MaxRetries           int    `json:"maxRetries"`
	AddressRegion        string `json:"addressRegion"`
	BinAddress           string `json:"binAddress"`
	OnlyFill             bool   `json:"onlyFill"`
	OnlyChangeCardNumber bool   `json:"onlyChangeCardNumber"`
}

// Message is the flat envelope. Type carries internal protocol events,
// Action carries legacy request/response commands; exactly one of the two is
// normally set. Payload fields are additive; there is no version field.
type Message struct {
	Type   string `json:"type,omitempty"`
	Action string `json:"action,omitempty"`

	URL       string      `json:"url,omitempty"`
	Email     string      `json:"email,omitempty"`
	CardData  any         `json:"cardData,omitempty"`
	Config    *FillConfig `json:"config,omitempty"`
	State     string      `json:"state,omitempty"`
	Icon      string      `json:"icon,omitempty"`
	Text      string      `json:"text,omitempty"`
	Level     string      `json:"level,omitempty"`
	App       string      `json:"app,omitempty"`
	Scope     string      `json:"scope,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	AppName   string      `json:"appName,omitempty"`
	AccountID string      `json:"accountId,omitempty"`
	OnlyFill  bool        `json:"onlyFill,omitempty"`
	Name      string      `json:"name,omitempty"`
	Domain    string      `json:"domain,omitempty"`
}

// Sender identifies where a message came from. A zero Sender means the
// message did not originate in a tab (e.g. the HTTP control surface).
type Sender struct {
	TabID string
}

// Response is the generic acknowledgment shape returned from the dispatch
// entry point. Unrecognized messages still acknowledge with Success=true.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Cookies any    `json:"cookies,omitempty"`
	Cookie  any    `json:"cookie,omitempty"`
}

// Decode parses a raw JSON message. An error means the payload was not a
// JSON object at all; partially-formed objects decode to a sparse Message.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// PageScoped reports whether a window-level message type belongs to this
// protocol's namespace.
func PageScoped(msgType string) bool {
	return strings.HasPrefix(msgType, PagePrefix)
}

// ToPage rewrites a command message type into the page namespace. Types
// already prefixed are left alone.
func ToPage(msgType string) string {
	if PageScoped(msgType) {
		return msgType
	}
	return PagePrefix + msgType
}
