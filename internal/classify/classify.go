// Package classify maps page URLs to the coarse service classification used
// to pick an automation path. Fine-grained page detection belongs to the
// in-page adapters, not here.
package classify

import "strings"

// Classification is the coarse page-type tag for a tab.
type Classification string

const (
	Augment Classification = "augment"
	Stripe  Classification = "stripe"
	ChatGPT Classification = "chatgpt"
	Cursor  Classification = "cursor"
	Unknown Classification = "unknown"
)

// Classify returns the classification for a full URL and its hostname.
// Pure function; rule order matters: the auth host is excluded before the
// broader augmentcode.com match.
func Classify(url, hostname string) Classification {
	urlLower := strings.ToLower(url)
	host := strings.ToLower(hostname)

	if host == "auth.augmentcode.com" {
		return Unknown
	}
	if strings.Contains(host, "augmentcode.com") {
		return Augment
	}

	// Stripe-hosted checkout, shared by several vendors.
	if host == "checkout.stripe.com" {
		return Stripe
	}
	if host == "pay.openai.com" {
		return Stripe
	}

	if host == "chatgpt.com" && strings.Contains(urlLower, "/checkout/openai_llc/") {
		return ChatGPT
	}

	// Any other cursor.com page; used to navigate to the checkout page first.
	if strings.Contains(host, "cursor.com") {
		return Cursor
	}

	return Unknown
}

// Automatable reports whether a classification is eligible for direct
// auto-fill dispatch. Cursor pages need a checkout redirect first.
func Automatable(c Classification) bool {
	switch c {
	case Augment, Stripe, ChatGPT:
		return true
	}
	return false
}

// SupportedHost reports whether the floating bind-card button should be
// shown on the given hostname.
func SupportedHost(hostname string) bool {
	host := strings.ToLower(hostname)
	return strings.HasSuffix(host, "augmentcode.com") ||
		strings.Contains(host, "cursor.com") ||
		host == "checkout.stripe.com" ||
		host == "pay.openai.com" ||
		host == "chatgpt.com"
}
