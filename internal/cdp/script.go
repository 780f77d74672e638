package cdp

import "encoding/json"

// BindingName is the runtime binding the page observer reports through.
const BindingName = "__restrictionWatchMutation"

// observerScript installs a MutationObserver on document.body that reports
// every batch together with the URL at callback time. It is registered to run
// on every new document and evaluated once on attach.
var observerScript = `(function(){
  if (window.__restrictionWatchInstalled) { return; }
  window.__restrictionWatchInstalled = true;
  var report = function(){
    try { window[` + jsString(BindingName) + `](location.href); } catch (_) {}
  };
  var observe = function(){
    new MutationObserver(report).observe(document.body, {childList: true, subtree: true});
  };
  if (document.body) {
    observe();
  } else {
    document.addEventListener("DOMContentLoaded", observe, {once: true});
  }
})()`

type queryEnvelope struct {
	OK           bool   `json:"ok"`
	Found        bool   `json:"found"`
	Text         string `json:"text"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func queryTextJS(selector string) string {
	return wrapJSEval(`var el = document.querySelector(` + jsString(selector) + `);
if (!el) { return {ok:true,found:false,text:""}; }
return {ok:true,found:true,text:String(el.textContent || "")};`)
}

// dialogJS shows msg in a page dialog. The dialog is deferred so the
// evaluation returns before the page blocks on it.
func dialogJS(msg string) string {
	return `setTimeout(function(){ alert(` + jsString(msg) + `); }, 0); true`
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func wrapJSEval(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return {ok:false,error_message:String(err && err.message || err)};
}
})()`
}
