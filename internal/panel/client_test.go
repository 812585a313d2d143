package panel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticConfig struct{ cfg PanelConfig }

func (s staticConfig) PanelConfig() PanelConfig { return s.cfg }

func TestLookupAccountByURL(t *testing.T) {
	var gotPath, gotToken, gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Extension-Token")
		gotURL = r.URL.Query().Get("url")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"email":"a@b.com","account_id":"acc-1"}`))
	}))
	defer srv.Close()

	c := NewClient(staticConfig{PanelConfig{BaseURL: srv.URL, AuthToken: "tok"}}, srv.Client())
	acct := c.LookupAccountByURL(context.Background(), "https://checkout.stripe.com/c/pay/cs_1")

	if acct == nil {
		t.Fatalf("LookupAccountByURL() = nil; want account")
	}
	if acct.Email != "a@b.com" {
		t.Fatalf("email = %q; want a@b.com", acct.Email)
	}
	if gotPath != "/api/v1/extension/account" {
		t.Fatalf("path = %q; want /api/v1/extension/account", gotPath)
	}
	if gotToken != "tok" {
		t.Fatalf("token header = %q; want tok", gotToken)
	}
	if gotURL != "https://checkout.stripe.com/c/pay/cs_1" {
		t.Fatalf("url param = %q; want original page URL", gotURL)
	}
}

func TestLookupAccountByURL_NoTokenHeaderWhenUnset(t *testing.T) {
	var sawHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawHeader = r.Header["X-Extension-Token"]
		_, _ = w.Write([]byte(`{"email":"a@b.com"}`))
	}))
	defer srv.Close()

	c := NewClient(staticConfig{PanelConfig{BaseURL: srv.URL}}, srv.Client())
	if c.LookupAccountByURL(context.Background(), "https://x") == nil {
		t.Fatalf("LookupAccountByURL() = nil; want account")
	}
	if sawHeader {
		t.Fatalf("token header sent without configured token")
	}
}

func TestLookupAccountByURL_Degrades(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"bad body", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("not json")) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewClient(staticConfig{PanelConfig{BaseURL: srv.URL}}, srv.Client())
			if got := c.LookupAccountByURL(context.Background(), "https://x"); got != nil {
				t.Fatalf("LookupAccountByURL() = %+v; want nil", got)
			}
		})
	}
}

func TestLookupAccountByURL_EmptyURL(t *testing.T) {
	c := NewClient(staticConfig{PanelConfig{BaseURL: "http://127.0.0.1:0"}}, nil)
	if got := c.LookupAccountByURL(context.Background(), ""); got != nil {
		t.Fatalf("LookupAccountByURL(\"\") = %+v; want nil", got)
	}
}

func TestNotifyBillingSuccess(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(staticConfig{PanelConfig{BaseURL: srv.URL}}, srv.Client())
	if !c.NotifyBillingSuccess(context.Background(), "https://x", "acc-1") {
		t.Fatalf("NotifyBillingSuccess() = false; want true")
	}
	if gotBody != `{"account_id":"acc-1","url":"https://x"}` {
		t.Fatalf("body = %s; want url and account_id fields", gotBody)
	}
}

func TestNotifyBillingSuccess_BothEmpty(t *testing.T) {
	c := NewClient(staticConfig{PanelConfig{BaseURL: "http://127.0.0.1:0"}}, nil)
	if c.NotifyBillingSuccess(context.Background(), "", "") {
		t.Fatalf("NotifyBillingSuccess(\"\",\"\") = true; want false")
	}
}

func TestNotifyBillingSuccess_SwallowsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(staticConfig{PanelConfig{BaseURL: srv.URL}}, srv.Client())
	if c.NotifyBillingSuccess(context.Background(), "https://x", "") {
		t.Fatalf("NotifyBillingSuccess() = true on 500; want false")
	}
}
