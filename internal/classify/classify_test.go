package classify

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		url      string
		hostname string
		want     Classification
	}{
		{"augment app", "https://app.augmentcode.com/account", "app.augmentcode.com", Augment},
		{"augment www", "https://www.augmentcode.com/", "www.augmentcode.com", Augment},
		{"stripe checkout", "https://checkout.stripe.com/c/pay/cs_live_123", "checkout.stripe.com", Stripe},
		{"openai pay", "https://pay.openai.com/c/pay/abc", "pay.openai.com", Stripe},
		{"chatgpt checkout", "https://chatgpt.com/checkout/openai_llc/plus", "chatgpt.com", ChatGPT},
		{"chatgpt chat", "https://chatgpt.com/c/123", "chatgpt.com", Unknown},
		{"cursor settings", "https://www.cursor.com/settings", "www.cursor.com", Cursor},
		{"uppercase host", "https://CHECKOUT.STRIPE.COM/pay", "CHECKOUT.STRIPE.COM", Stripe},
		{"unrelated", "https://example.com/", "example.com", Unknown},
		{"empty", "", "", Unknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.url, tc.hostname); got != tc.want {
				t.Fatalf("Classify(%q, %q) = %q; want %q", tc.url, tc.hostname, got, tc.want)
			}
		})
	}
}

// The auth host would match the augmentcode.com substring rule, but must be
// excluded from automation. The exclusion has to run first.
func TestClassify_AuthHostExcluded(t *testing.T) {
	got := Classify("https://auth.augmentcode.com/login", "auth.augmentcode.com")
	if got != Unknown {
		t.Fatalf("Classify(auth.augmentcode.com) = %q; want %q", got, Unknown)
	}
}

func TestAutomatable(t *testing.T) {
	for _, c := range []Classification{Augment, Stripe, ChatGPT} {
		if !Automatable(c) {
			t.Fatalf("Automatable(%q) = false; want true", c)
		}
	}
	for _, c := range []Classification{Cursor, Unknown} {
		if Automatable(c) {
			t.Fatalf("Automatable(%q) = true; want false", c)
		}
	}
}

func TestSupportedHost(t *testing.T) {
	cases := []struct {
		hostname string
		want     bool
	}{
		{"app.augmentcode.com", true},
		{"auth.augmentcode.com", true},
		{"www.cursor.com", true},
		{"checkout.stripe.com", true},
		{"pay.openai.com", true},
		{"chatgpt.com", true},
		{"example.com", false},
		{"stripe.com", false},
	}
	for _, tc := range cases {
		if got := SupportedHost(tc.hostname); got != tc.want {
			t.Fatalf("SupportedHost(%q) = %v; want %v", tc.hostname, got, tc.want)
		}
	}
}
