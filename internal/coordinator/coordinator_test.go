package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/w457602/atm_agent/internal/cdp"
	"github.com/w457602/atm_agent/internal/classify"
	"github.com/w457602/atm_agent/internal/companion"
	"github.com/w457602/atm_agent/internal/logstore"
	"github.com/w457602/atm_agent/internal/panel"
	"github.com/w457602/atm_agent/internal/protocol"
	"github.com/w457602/atm_agent/internal/settings"
	"github.com/w457602/atm_agent/internal/tabs"
)

type sentMessage struct {
	TabID   string
	FrameID string
	Msg     protocol.Message
}

type fakeMessenger struct {
	mu          sync.Mutex
	sent        []sentMessage
	fills       []sentMessage
	fillStatus  string
	failFirst   int
	frames      []string
	framesErr   error
	checkoutURL string
	checkoutErr error
}

func (f *fakeMessenger) Forward(ctx context.Context, tabID string, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst > 0 {
		f.failFirst--
		return errors.New("tab unreachable")
	}
	f.sent = append(f.sent, sentMessage{TabID: tabID, Msg: msg})
	return nil
}

func (f *fakeMessenger) ForwardToFrame(ctx context.Context, tabID, frameID string, msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{TabID: tabID, FrameID: frameID, Msg: msg})
	return nil
}

func (f *fakeMessenger) Frames(ctx context.Context, tabID string) ([]string, error) {
	return f.frames, f.framesErr
}

func (f *fakeMessenger) CheckoutURL(ctx context.Context, tabID string) (string, error) {
	return f.checkoutURL, f.checkoutErr
}

func (f *fakeMessenger) FillEmail(ctx context.Context, tabID, frameID, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills = append(f.fills, sentMessage{TabID: tabID, FrameID: frameID, Msg: protocol.Message{Email: email}})
	return f.fillStatus, nil
}

func (f *fakeMessenger) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeMessenger) ofType(msgType string) []sentMessage {
	var out []sentMessage
	for _, m := range f.messages() {
		if m.Msg.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

type fakeBrowser struct {
	activeID  string
	activeURL string
	activeErr error

	mu        sync.Mutex
	navigated []string
	urls      map[string]string
}

func (f *fakeBrowser) ActiveTab(prefer func(url string) bool) (string, string, error) {
	return f.activeID, f.activeURL, f.activeErr
}

func (f *fakeBrowser) Navigate(ctx context.Context, tabID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *fakeBrowser) TabURL(tabID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.urls[tabID]
}

type fakePanel struct {
	account  *panel.Account
	notified []string
}

func (f *fakePanel) LookupAccountByURL(ctx context.Context, url string) *panel.Account {
	return f.account
}

func (f *fakePanel) NotifyBillingSuccess(ctx context.Context, url, accountID string) bool {
	f.notified = append(f.notified, url)
	return true
}

type fakeImporter struct {
	mu       sync.Mutex
	result   companion.Result
	sessions []string
}

func (f *fakeImporter) ImportSession(ctx context.Context, session string) companion.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, session)
	return f.result
}

type fakeCookies struct {
	cookies []cdp.Cookie
	err     error
}

func (f *fakeCookies) CookiesForDomain(ctx context.Context, domain string) ([]cdp.Cookie, error) {
	return f.cookies, f.err
}

type fixture struct {
	coord     *Coordinator
	tabs      *tabs.Registry
	logs      *logstore.Store
	settings  *settings.Store
	messenger *fakeMessenger
	browser   *fakeBrowser
	panel     *fakePanel
	importer  *fakeImporter
	cookies   *fakeCookies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logs, err := logstore.NewStore(t.TempDir(), logstore.NewBroker())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	set, err := settings.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("settings.NewStore() error = %v", err)
	}

	f := &fixture{
		tabs:      tabs.NewRegistry(),
		logs:      logs,
		settings:  set,
		messenger: &fakeMessenger{},
		browser:   &fakeBrowser{urls: make(map[string]string)},
		panel:     &fakePanel{},
		importer:  &fakeImporter{},
		cookies:   &fakeCookies{},
	}
	f.coord = New(f.tabs, f.logs, f.settings, f.messenger, f.browser, f.panel, f.importer, f.cookies)
	return f
}

func (f *fixture) lastLogContaining(t *testing.T, substr string) logstore.Entry {
	t.Helper()
	entries := f.logs.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if strings.Contains(entries[i].Message, substr) {
			return entries[i]
		}
	}
	t.Fatalf("no log entry containing %q; have %v", substr, entries)
	return logstore.Entry{}
}

func TestContentScriptReadyMarksTab(t *testing.T) {
	f := newFixture(t)

	resp := f.coord.HandleMessage(context.Background(),
		protocol.Message{Type: protocol.TypeContentScriptReady, URL: "https://checkout.stripe.com/pay"},
		protocol.Sender{TabID: "tab-1"})

	if !resp.Success {
		t.Fatalf("HandleMessage() success = false; want true")
	}
	if !f.tabs.Ready("tab-1") {
		t.Fatalf("tab not marked ready after CONTENT_SCRIPT_READY")
	}
}

func TestHandleMessageEmptyIsInvalid(t *testing.T) {
	f := newFixture(t)

	resp := f.coord.HandleMessage(context.Background(), protocol.Message{}, protocol.Sender{})
	if resp.Success || resp.Error != "Invalid message" {
		t.Fatalf("empty message response = %+v; want invalid", resp)
	}
}

func TestHandleMessageUnknownTypeAcked(t *testing.T) {
	f := newFixture(t)

	resp := f.coord.HandleMessage(context.Background(),
		protocol.Message{Type: "SOMETHING_NEW"}, protocol.Sender{TabID: "tab-1"})
	if !resp.Success {
		t.Fatalf("unknown type response = %+v; want success", resp)
	}
}

func TestDeliverImmediateSuccess(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")

	err := f.coord.deliver(context.Background(), "tab-1", protocol.Message{Type: protocol.TypeTriggerAutoFill})
	if err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	if got := len(f.messenger.messages()); got != 1 {
		t.Fatalf("messages sent = %d; want 1", got)
	}
	if f.logs.Len() != 0 {
		t.Fatalf("logs after clean delivery = %d; want 0", f.logs.Len())
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")
	f.messenger.failFirst = 2

	err := f.coord.deliver(context.Background(), "tab-1", protocol.Message{Type: protocol.TypeTriggerAutoFill})
	if err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	if f.logs.Len() != 0 {
		t.Fatalf("logs after recovered delivery = %d; want 0", f.logs.Len())
	}
}

func TestDeliverExhaustionLogsOnce(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")
	f.messenger.failFirst = 100

	err := f.coord.deliver(context.Background(), "tab-1", protocol.Message{Type: protocol.TypeTriggerAutoFill})
	if err == nil {
		t.Fatalf("deliver() error = nil; want exhaustion error")
	}
	var coded *protocol.CodedError
	if !errors.As(err, &coded) || coded.Code != protocol.CodeSendFailed {
		t.Fatalf("deliver() error = %v; want SEND_FAILED", err)
	}
	if f.logs.Len() != 1 {
		t.Fatalf("error logs = %d; want exactly 1", f.logs.Len())
	}
	entry := f.lastLogContaining(t, "content script not ready")
	if entry.Level != "error" || entry.App != "AutoFill" {
		t.Fatalf("exhaustion entry = %+v; want error/AutoFill", entry)
	}
}

func TestDispatchFillStripeBroadcastsEmail(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")
	f.panel.account = &panel.Account{Email: "user@example.com"}
	f.messenger.frames = []string{"top", "frame-a", "frame-b"}

	err := f.coord.DispatchFill(context.Background(), "tab-1", classify.Stripe,
		"https://checkout.stripe.com/c/pay/x", FillOptions{})
	if err != nil {
		t.Fatalf("DispatchFill() error = %v", err)
	}

	fills := f.messenger.ofType(protocol.TypeFillEmail)
	if len(fills) != 3 {
		t.Fatalf("FILL_EMAIL sends = %d; want 3", len(fills))
	}
	for _, m := range fills {
		if m.Msg.Email != "user@example.com" {
			t.Fatalf("FILL_EMAIL email = %q; want user@example.com", m.Msg.Email)
		}
	}
	triggers := f.messenger.ofType(protocol.TypeTriggerAutoFill)
	if len(triggers) != 1 || triggers[0].Msg.Config == nil {
		t.Fatalf("TRIGGER_AUTO_FILL sends = %v; want one with config", triggers)
	}
	if len(f.messenger.fills) != 3 {
		t.Fatalf("direct fill attempts = %d; want one per frame", len(f.messenger.fills))
	}
}

func TestDispatchFillFrameFallback(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")
	f.panel.account = &panel.Account{Email: "user@example.com"}
	f.messenger.framesErr = errors.New("enumeration failed")

	if err := f.coord.DispatchFill(context.Background(), "tab-1", classify.Stripe,
		"https://pay.openai.com/x", FillOptions{}); err != nil {
		t.Fatalf("DispatchFill() error = %v", err)
	}

	fills := f.messenger.ofType(protocol.TypeFillEmail)
	if len(fills) != 1 || fills[0].FrameID != "" {
		t.Fatalf("fallback fills = %v; want single top-frame send", fills)
	}
}

func TestDispatchFillAugmentSkipsPanelLookup(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")
	f.panel.account = &panel.Account{Email: "user@example.com"}

	if err := f.coord.DispatchFill(context.Background(), "tab-1", classify.Augment,
		"https://app.augmentcode.com/", FillOptions{}); err != nil {
		t.Fatalf("DispatchFill() error = %v", err)
	}
	if fills := f.messenger.ofType(protocol.TypeFillEmail); len(fills) != 0 {
		t.Fatalf("FILL_EMAIL sent on augment page: %v", fills)
	}
}

func TestDispatchFillOnlyFillFlag(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")

	if err := f.coord.DispatchFill(context.Background(), "tab-1", classify.Augment,
		"https://app.augmentcode.com/", FillOptions{OnlyFill: true}); err != nil {
		t.Fatalf("DispatchFill() error = %v", err)
	}
	triggers := f.messenger.ofType(protocol.TypeTriggerAutoFill)
	if len(triggers) != 1 || !triggers[0].Msg.Config.OnlyFill {
		t.Fatalf("trigger config = %+v; want OnlyFill=true", triggers)
	}
}

func TestHandleBindCardUnsupportedPage(t *testing.T) {
	f := newFixture(t)
	f.browser.activeID = "tab-1"
	f.browser.activeURL = "https://example.com/"

	result := f.coord.HandleBindCard(context.Background(), protocol.Sender{}, false)
	if result.Success {
		t.Fatalf("HandleBindCard() success = true; want false on unsupported page")
	}
	if !strings.Contains(result.Message, "does not support") {
		t.Fatalf("message = %q; want unsupported-page text", result.Message)
	}
}

func TestHandleBindCardNoActiveTab(t *testing.T) {
	f := newFixture(t)
	f.browser.activeErr = errors.New("no attached tabs")

	result := f.coord.HandleBindCard(context.Background(), protocol.Sender{}, false)
	if result.Success || !strings.Contains(result.Message, "active tab") {
		t.Fatalf("result = %+v; want active-tab failure", result)
	}
}

func TestHandleBindCardStripeTriggers(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")
	f.browser.activeID = "tab-1"
	f.browser.activeURL = "https://checkout.stripe.com/c/pay/x"

	result := f.coord.HandleBindCard(context.Background(), protocol.Sender{}, false)
	if !result.Success {
		t.Fatalf("HandleBindCard() = %+v; want success", result)
	}
	if len(f.messenger.ofType(protocol.TypeTriggerAutoFill)) != 1 {
		t.Fatalf("trigger not sent")
	}
}

func TestFillCardDataForwardedToSenderTab(t *testing.T) {
	f := newFixture(t)

	resp := f.coord.HandleMessage(context.Background(),
		protocol.Message{Type: protocol.TypeFillCardData, CardData: map[string]any{"number": "4242"}},
		protocol.Sender{TabID: "tab-1"})
	if !resp.Success {
		t.Fatalf("HandleMessage() = %+v; want success", resp)
	}

	sent := f.messenger.ofType(protocol.TypeFillCardData)
	if len(sent) != 1 || sent[0].TabID != "tab-1" {
		t.Fatalf("forwarded = %v; want one message to tab-1", sent)
	}
	if sent[0].Msg.CardData == nil {
		t.Fatalf("card data dropped on forward")
	}
}

func TestFloatingButtonClickTriggersBind(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")
	f.browser.urls["tab-1"] = "https://checkout.stripe.com/c/pay/x"

	resp := f.coord.HandleMessage(context.Background(),
		protocol.Message{Type: protocol.TypeBindCardClick, Action: protocol.ActionBindCard},
		protocol.Sender{TabID: "tab-1"})
	if !resp.Success {
		t.Fatalf("HandleMessage() = %+v; want success", resp)
	}
	if len(f.messenger.ofType(protocol.TypeTriggerAutoFill)) != 1 {
		t.Fatalf("button click did not trigger auto-fill")
	}
}

func TestHandleBindCardCursorRedirect(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")
	f.browser.activeID = "tab-1"
	f.browser.activeURL = "https://www.cursor.com/settings"
	f.messenger.checkoutURL = "https://checkout.stripe.com/c/pay/cursor"

	result := f.coord.HandleBindCard(context.Background(), protocol.Sender{}, false)
	if !result.Success {
		t.Fatalf("HandleBindCard() = %+v; want success", result)
	}

	f.browser.mu.Lock()
	navigated := append([]string(nil), f.browser.navigated...)
	f.browser.mu.Unlock()
	if len(navigated) != 1 || navigated[0] != "https://checkout.stripe.com/c/pay/cursor" {
		t.Fatalf("navigated = %v; want checkout url", navigated)
	}

	// The fill fires only after the next load completes plus the settle delay.
	if got := len(f.messenger.ofType(protocol.TypeTriggerAutoFill)); got != 0 {
		t.Fatalf("trigger sent before load completed: %d", got)
	}

	f.coord.OnNavigationComplete("tab-1", "https://checkout.stripe.com/c/pay/cursor")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.messenger.ofType(protocol.TypeTriggerAutoFill)) == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("trigger not sent after cursor checkout load")
}

func TestHandleBindCardCursorCheckoutError(t *testing.T) {
	f := newFixture(t)
	f.browser.activeID = "tab-1"
	f.browser.activeURL = "https://www.cursor.com/settings"
	f.messenger.checkoutErr = errors.New("getCheckoutUrl unavailable")

	result := f.coord.HandleBindCard(context.Background(), protocol.Sender{}, false)
	if result.Success {
		t.Fatalf("HandleBindCard() success = true; want failure when checkout url unresolvable")
	}
}

func TestOnNavigationCompleteSchedulesFill(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")
	if err := f.settings.Update(func(v *settings.Values) {
		v.AutoRegisterEnabled = true
		v.AutoFillDelayMS = 30
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	f.coord.OnNavigationComplete("tab-1", "https://checkout.stripe.com/c/pay/x")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.messenger.ofType(protocol.TypeTriggerAutoFill)) == 1 {
			f.lastLogContaining(t, "Stripe payment page")
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("scheduled fill never fired")
}

func TestOnNavigationCompleteDisabledDoesNothing(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")

	f.coord.OnNavigationComplete("tab-1", "https://checkout.stripe.com/c/pay/x")
	time.Sleep(100 * time.Millisecond)

	if got := len(f.messenger.messages()); got != 0 {
		t.Fatalf("messages with auto-register disabled = %d; want 0", got)
	}
}

func TestOnNavigationCompleteCoalescesPerTab(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")
	if err := f.settings.Update(func(v *settings.Values) {
		v.AutoRegisterEnabled = true
		v.AutoFillDelayMS = 80
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	f.coord.OnNavigationComplete("tab-1", "https://checkout.stripe.com/c/pay/first")
	time.Sleep(20 * time.Millisecond)
	f.coord.OnNavigationComplete("tab-1", "https://checkout.stripe.com/c/pay/second")

	time.Sleep(500 * time.Millisecond)
	triggers := f.messenger.ofType(protocol.TypeTriggerAutoFill)
	if len(triggers) != 1 {
		t.Fatalf("triggers after rapid double navigation = %d; want 1", len(triggers))
	}
}

func TestOnNavigationCompleteAutoImportForwarded(t *testing.T) {
	f := newFixture(t)

	f.coord.OnNavigationComplete("tab-1", "https://auth.augmentcode.com/login?auto_import=true")

	msgs := f.messenger.ofType(protocol.TypeAutoImportDetected)
	if len(msgs) != 1 {
		t.Fatalf("AUTO_IMPORT_PAGE_DETECTED sends = %d; want 1", len(msgs))
	}
	if msgs[0].Msg.URL != "https://auth.augmentcode.com/login?auto_import=true" {
		t.Fatalf("forwarded url = %q", msgs[0].Msg.URL)
	}
}

func TestOnTabClosedCancelsPending(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-1")
	if err := f.settings.Update(func(v *settings.Values) {
		v.AutoRegisterEnabled = true
		v.AutoFillDelayMS = 80
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	f.coord.OnNavigationComplete("tab-1", "https://checkout.stripe.com/c/pay/x")
	f.coord.OnTabClosed("tab-1")

	time.Sleep(300 * time.Millisecond)
	if got := len(f.messenger.ofType(protocol.TypeTriggerAutoFill)); got != 0 {
		t.Fatalf("pending fill fired after tab close: %d", got)
	}
	if f.tabs.Ready("tab-1") {
		t.Fatalf("tab still ready after close")
	}
}

func TestHandleBillingSuccessDisabledSkips(t *testing.T) {
	f := newFixture(t)
	f.cookies.cookies = []cdp.Cookie{{Name: "session", Value: "secret", Domain: "auth.augmentcode.com"}}

	f.coord.HandleBillingSuccess(context.Background(), protocol.Message{
		Type: protocol.TypeBillingSuccess, AppName: "Augment", URL: "https://app.augmentcode.com",
	})

	if len(f.importer.sessions) != 0 {
		t.Fatalf("session imported while auto-register disabled")
	}
	entry := f.lastLogContaining(t, "skipping session import")
	if entry.Level != "info" {
		t.Fatalf("skip entry level = %q; want info", entry.Level)
	}
}

func TestHandleBillingSuccessNonAugmentIgnored(t *testing.T) {
	f := newFixture(t)

	f.coord.HandleBillingSuccess(context.Background(), protocol.Message{
		Type: protocol.TypeBillingSuccess, AppName: "Cursor",
	})

	if f.logs.Len() != 0 || len(f.importer.sessions) != 0 {
		t.Fatalf("non-Augment billing success produced side effects")
	}
}

func TestHandleBillingSuccessImports(t *testing.T) {
	f := newFixture(t)
	if err := f.settings.Update(func(v *settings.Values) { v.AutoRegisterEnabled = true }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	f.cookies.cookies = []cdp.Cookie{{Name: "session", Value: "sess-value", Domain: "auth.augmentcode.com"}}
	f.importer.result = companion.Result{Outcome: companion.OK}

	f.coord.HandleBillingSuccess(context.Background(), protocol.Message{
		Type: protocol.TypeBillingSuccess, AppName: "Augment",
	})

	if len(f.importer.sessions) != 1 || f.importer.sessions[0] != "sess-value" {
		t.Fatalf("imported sessions = %v; want [sess-value]", f.importer.sessions)
	}
	f.lastLogContaining(t, "imported successfully")
}

func TestHandleBillingSuccessOutcomeLogs(t *testing.T) {
	cases := []struct {
		name      string
		result    companion.Result
		wantLevel string
		wantText  string
	}{
		{"duplicate", companion.Result{Outcome: companion.Duplicate}, "warn", "already exists"},
		{"unreachable", companion.Result{Outcome: companion.Unreachable, Message: "connection refused"}, "error", "API call failed"},
		{"failed", companion.Result{Outcome: companion.Failed, Message: "bad session"}, "error", "import failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if err := f.settings.Update(func(v *settings.Values) { v.AutoRegisterEnabled = true }); err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			f.cookies.cookies = []cdp.Cookie{{Name: "session", Value: "sess", Domain: "auth.augmentcode.com"}}
			f.importer.result = tc.result

			f.coord.HandleBillingSuccess(context.Background(), protocol.Message{
				Type: protocol.TypeBillingSuccess, AppName: "Augment",
			})

			entry := f.lastLogContaining(t, tc.wantText)
			if entry.Level != tc.wantLevel {
				t.Fatalf("entry level = %q; want %q", entry.Level, tc.wantLevel)
			}
		})
	}
}

func TestHandleBillingSuccessMissingCookie(t *testing.T) {
	f := newFixture(t)
	if err := f.settings.Update(func(v *settings.Values) { v.AutoRegisterEnabled = true }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	f.coord.HandleBillingSuccess(context.Background(), protocol.Message{
		Type: protocol.TypeBillingSuccess, AppName: "Augment",
	})

	entry := f.lastLogContaining(t, "session cookie not found")
	if entry.Level != "warn" {
		t.Fatalf("missing-cookie entry level = %q; want warn", entry.Level)
	}
	if len(f.importer.sessions) != 0 {
		t.Fatalf("import attempted without cookie")
	}
}

func TestGetCookieMasksSessionValue(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("a", 10) + strings.Repeat("b", 20) + strings.Repeat("c", 10)
	f.cookies.cookies = []cdp.Cookie{{Name: "session", Value: long, Domain: ".augmentcode.com", Path: "/"}}

	resp := f.coord.HandleMessage(context.Background(),
		protocol.Message{Action: protocol.ActionGetCookie, Name: "session", Domain: "auth.augmentcode.com"},
		protocol.Sender{})
	if !resp.Success {
		t.Fatalf("getCookie response = %+v; want success", resp)
	}

	entry := f.lastLogContaining(t, "getCookie returned session")
	if strings.Contains(entry.Message, long) {
		t.Fatalf("full cookie value leaked into log: %s", entry.Message)
	}
	if !strings.Contains(entry.Message, strings.Repeat("a", 10)+"...") {
		t.Fatalf("masked value missing from log: %s", entry.Message)
	}
}

func TestGetCookieShortValueUnmasked(t *testing.T) {
	if got := maskCookieValue("short"); got != "short" {
		t.Fatalf("maskCookieValue(short) = %q; want unchanged", got)
	}
	long := strings.Repeat("x", 30)
	want := strings.Repeat("x", 10) + "..." + strings.Repeat("x", 10)
	if got := maskCookieValue(long); got != want {
		t.Fatalf("maskCookieValue(long) = %q; want %q", got, want)
	}
}

func TestGetCookieValidation(t *testing.T) {
	f := newFixture(t)

	resp := f.coord.HandleMessage(context.Background(),
		protocol.Message{Action: protocol.ActionGetCookie}, protocol.Sender{})
	if resp.Success || resp.Error != "Cookie name is required" {
		t.Fatalf("response = %+v; want name-required failure", resp)
	}

	resp = f.coord.HandleMessage(context.Background(),
		protocol.Message{Action: protocol.ActionGetCookie, Name: "session"}, protocol.Sender{})
	if resp.Success || resp.Error != "Either url or domain is required" {
		t.Fatalf("response = %+v; want url-or-domain failure", resp)
	}
}

func TestGetCookiesRequiresDomain(t *testing.T) {
	f := newFixture(t)

	resp := f.coord.HandleMessage(context.Background(),
		protocol.Message{Action: protocol.ActionGetCookies}, protocol.Sender{})
	if resp.Success || resp.Error != "Domain is required" {
		t.Fatalf("response = %+v; want domain-required failure", resp)
	}
}

func TestPopupToastForwardsToSenderTab(t *testing.T) {
	f := newFixture(t)
	f.tabs.MarkReady("tab-7")

	resp := f.coord.HandleMessage(context.Background(),
		protocol.Message{Type: protocol.TypePopupStatusToast, Icon: "✓", Text: "done"},
		protocol.Sender{TabID: "tab-7"})
	if !resp.Success {
		t.Fatalf("toast response = %+v; want success", resp)
	}

	toasts := f.messenger.ofType(protocol.TypeShowStatusToast)
	if len(toasts) != 1 || toasts[0].TabID != "tab-7" {
		t.Fatalf("toasts = %v; want one to tab-7", toasts)
	}
	if toasts[0].Msg.State != "info" {
		t.Fatalf("default state = %q; want info", toasts[0].Msg.State)
	}
}

func TestPopupToastNoActiveTab(t *testing.T) {
	f := newFixture(t)
	f.browser.activeErr = errors.New("no attached tabs")

	resp := f.coord.HandleMessage(context.Background(),
		protocol.Message{Type: protocol.TypePopupStatusToast, Text: "hi"}, protocol.Sender{})
	if resp.Success || resp.Error != "No active tab" {
		t.Fatalf("response = %+v; want no-active-tab failure", resp)
	}
}
