package relay

import (
	"encoding/json"
	"fmt"

	"github.com/w457602/atm_agent/internal/protocol"
)

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + protocol.CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }

// evalEnvelope is the result shape every injected expression resolves to.
type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data"`
	ErrorCode    string          `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
}

func decodeEnvelope(raw string) (evalEnvelope, error) {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return evalEnvelope{}, protocol.NewError(protocol.CodeEvalFailure, "malformed eval result", err)
	}
	return env, nil
}

// jsBootstrap installs the window message bridge once per document. Page
// messages in the protocol namespace are serialized and handed to the CDP
// binding; everything else is ignored.
func jsBootstrap(bindingName string) string {
	return wrapJSEval(fmt.Sprintf(`
if (window.__atmRelayInstalled) return JSON.stringify({ok:true,data:{status:"already_installed"}});
window.__atmRelayInstalled = true;
var binding = %s;
window.addEventListener("message", function(event) {
  if (event.source !== window) return;
  var msg = event.data;
  if (!msg || typeof msg.type !== "string" || msg.type.indexOf(%s) !== 0) return;
  var post = window[binding];
  if (typeof post !== "function") return;
  try { post(JSON.stringify(msg)); } catch(_) {}
});
return JSON.stringify({ok:true,data:{status:"installed"}});
`, jsString(bindingName), jsString(protocol.PagePrefix)))
}

// jsInjectScript loads one page script by URL, resolving on load or error
// so a broken script never stalls the bootstrap sequence. Reinjection of a
// URL already present is a no-op.
func jsInjectScript(src string) string {
	return wrapJSEvalAsync(fmt.Sprintf(`
var src = %s;
var existing = document.querySelector('script[src="' + src.replace(/"/g, '\\"') + '"]');
if (existing) return JSON.stringify({ok:true,data:{status:"already_loaded"}});
var status = await new Promise(function(resolve) {
  var s = document.createElement("script");
  s.src = src;
  s.onload = function() { resolve("loaded"); };
  s.onerror = function() { resolve("error"); };
  (document.head || document.documentElement).appendChild(s);
});
return JSON.stringify({ok:true,data:{status:status}});
`, jsString(src)))
}

// jsPostPageMessage delivers a command into the page context via
// window.postMessage with the protocol namespace prefix applied.
func jsPostPageMessage(msg protocol.Message) string {
	out := msg
	out.Type = protocol.ToPage(msg.Type)
	return wrapJSEval(fmt.Sprintf(`
window.postMessage(%s, "*");
return JSON.stringify({ok:true,data:{status:"posted"}});
`, jsJSON(out)))
}

// jsFindEmailInputHelpers provides _deepQuery(selector) and _setValue(el, v)
// shared by the email fill expression. _deepQuery walks open shadow roots
// breadth-first; _setValue drives the framework-controlled input through the
// native value setter plus input/change/blur events.
const jsFindEmailInputHelpers = `
function _deepQuery(selector) {
  var roots = [document];
  var visited = [];
  while (roots.length > 0) {
    var root = roots.shift();
    if (!root || visited.indexOf(root) !== -1) continue;
    visited.push(root);
    try {
      var found = root.querySelector(selector);
      if (found) return found;
    } catch(_) {}
    var elements = [];
    try { elements = root.querySelectorAll("*"); } catch(_) { elements = []; }
    for (var i = 0; i < elements.length; i++) {
      if (elements[i] && elements[i].shadowRoot) roots.push(elements[i].shadowRoot);
    }
  }
  return null;
}
function _findEmailInput() {
  var selectors = [
    'input[type="email"]',
    'input[autocomplete="email"]',
    'input[autocomplete="username"]',
    'input[name="email"]',
    'input[id="email"]',
    'input[name*="email" i]',
    'input[id*="email" i]',
    'input[aria-label*="email" i]',
    'input[data-testid*="email" i]'
  ];
  for (var i = 0; i < selectors.length; i++) {
    var el = _deepQuery(selectors[i]);
    if (el) return el;
  }
  return null;
}
function _setValue(el, value) {
  if (!el) return false;
  try {
    el.focus();
    el.click();
    var desc = Object.getOwnPropertyDescriptor(window.HTMLInputElement.prototype, "value");
    var setter = desc ? desc.set : null;
    if (setter) { setter.call(el, String(value)); } else { el.value = String(value); }
    el.dispatchEvent(new Event("input", {bubbles:true, cancelable:true}));
    el.dispatchEvent(new Event("change", {bubbles:true, cancelable:true}));
    el.dispatchEvent(new Event("blur", {bubbles:true}));
    return true;
  } catch(_) {
    return false;
  }
}
`

// jsFillEmail fills the first recognizable email input with the given value,
// retrying inside the page for up to five 300ms rounds while the input
// renders. A field already holding a different non-empty value is left alone.
func jsFillEmail(email string) string {
	return wrapJSEvalAsync(fmt.Sprintf(jsFindEmailInputHelpers+`
var value = String(%s || "").trim();
if (!value) return JSON.stringify({ok:true,data:{status:"skipped_empty"}});
var input = null;
for (var attempt = 0; attempt <= 5; attempt++) {
  input = _findEmailInput();
  if (input) break;
  if (attempt < 5) await new Promise(function(r){ setTimeout(r, 300); });
}
if (!input) return JSON.stringify({ok:true,data:{status:"no_input"}});
var current = (input.value || "").trim();
if (current === value) return JSON.stringify({ok:true,data:{status:"already_filled"}});
if (current !== "") return JSON.stringify({ok:true,data:{status:"kept_existing"}});
if (!_setValue(input, value)) return JSON.stringify({ok:false,error_code:"EVAL_FAILURE",error_message:"value setter failed"});
return JSON.stringify({ok:true,data:{status:"filled"}});
`, jsString(email)))
}

// floatingButtonID is the DOM id of the one-click bind button injected into
// top frames on supported hosts.
const floatingButtonID = "atm-floating-bind-btn"

// jsEnsureFloatingButton reconciles the floating bind button: injects it on
// supported top frames, removes a stale one elsewhere. Clicks surface as a
// bindCard action through the message bridge.
func jsEnsureFloatingButton(supported bool) string {
	return wrapJSEval(fmt.Sprintf(`
if (window.top !== window) return JSON.stringify({ok:true,data:{status:"not_top_frame"}});
var supported = %t;
var existing = document.getElementById(%s);
if (!supported) {
  if (existing) existing.remove();
  return JSON.stringify({ok:true,data:{status:"removed"}});
}
if (existing) return JSON.stringify({ok:true,data:{status:"present"}});
var btn = document.createElement("button");
btn.id = %s;
btn.textContent = "一键绑卡";
btn.style.position = "fixed";
btn.style.right = "16px";
btn.style.bottom = "20px";
btn.style.zIndex = "999999";
btn.style.padding = "10px 14px";
btn.style.background = "#2563eb";
btn.style.color = "#fff";
btn.style.border = "none";
btn.style.borderRadius = "999px";
btn.style.boxShadow = "0 6px 16px rgba(0,0,0,0.2)";
btn.style.fontSize = "14px";
btn.style.fontWeight = "600";
btn.style.cursor = "pointer";
btn.style.userSelect = "none";
btn.addEventListener("mouseenter", function() { btn.style.background = "#1d4ed8"; });
btn.addEventListener("mouseleave", function() { btn.style.background = "#2563eb"; });
btn.addEventListener("click", function() {
  window.postMessage({type:%s, action:"bindCard"}, "*");
});
function attach() {
  if (document.body) { document.body.appendChild(btn); return true; }
  return false;
}
if (!attach()) {
  var timer = setInterval(function() { if (attach()) clearInterval(timer); }, 200);
}
return JSON.stringify({ok:true,data:{status:"injected"}});
`, supported, jsString(floatingButtonID), jsString(floatingButtonID),
		jsString(protocol.TypeBindCardClick)))
}

// jsResolveCheckoutURL asks the page's own checkout helper for the pro plan
// URL. Only meaningful on the subscription dashboard.
func jsResolveCheckoutURL() string {
	return wrapJSEvalAsync(`
if (typeof window.getCheckoutUrl !== "function") {
  return JSON.stringify({ok:false,error_code:"EVAL_FAILURE",error_message:"getCheckoutUrl unavailable"});
}
var url = await window.getCheckoutUrl("pro");
if (!url || typeof url !== "string") {
  return JSON.stringify({ok:false,error_code:"EVAL_FAILURE",error_message:"empty checkout url"});
}
return JSON.stringify({ok:true,data:{url:url}});
`)
}
