package trace

import (
	"encoding/json"
	"net/http"
)

// Middleware attaches a trace to each request. An incoming traceparent wins
// over the legacy x-trace-id header; the trace id is echoed back so clients
// can quote it in bug reports.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := fromHeaders(r.Header)
		w.Header().Set(TraceIDKey, tc.TraceID)
		w.Header().Set(TraceparentKey, tc.Traceparent())
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

func fromHeaders(h http.Header) Context {
	if tc, ok := ParseTraceparent(h.Get(TraceparentKey)); ok {
		return tc
	}
	if id := h.Get(TraceIDKey); isHex(id, 32) {
		return NewChild(Context{TraceID: id, SpanID: h.Get(SpanIDKey)})
	}
	return New()
}

// ExtractFromJSON reads a trace_id field from a websocket command so a UI
// action and the scan it triggers share one trace.
func ExtractFromJSON(data []byte) (Context, bool) {
	var msg struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.TraceID == "" {
		return New(), false
	}
	return NewChild(Context{TraceID: msg.TraceID}), true
}
