package gateway

import (
	"bytes"
	"encoding/json"
)

// Error values carried by Failure.
const (
	ErrorOffline = "offline"
	ErrorBadJSON = "Bad JSON"
)

// Failure is the sentinel payload returned instead of a decoded body.
// It marshals to {"ok":false,"error":...} so callers that only look at the
// JSON see the same shape the server uses for its own errors.
type Failure struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Raw   string `json:"raw,omitempty"`
}

// Result is what a gateway call yields. It is never accompanied by an error:
// transport and decode failures are reported through Failure.
type Result struct {
	// Data is the decoded response body, the cached payload, or the marshaled Failure.
	Data json.RawMessage
	// Status is the HTTP status code, zero when no response was received.
	Status int
	// FromCache is set when Data was served from the request cache after a transport failure.
	FromCache bool
	// Failure is non-nil for decode and transport failures.
	Failure *Failure
}

// Failed reports whether the call produced a sentinel rather than server data.
func (r Result) Failed() bool {
	return r.Failure != nil
}

// Offline reports whether the call failed at the transport level with no cached fallback.
func (r Result) Offline() bool {
	return r.Failure != nil && r.Failure.Error == ErrorOffline
}

// Decode unmarshals Data into v.
func (r Result) Decode(v any) error {
	return json.Unmarshal(r.Data, v)
}

func failureResult(f Failure, status int) Result {
	// Failure only holds strings, Marshal cannot fail
	data, _ := json.Marshal(f)
	return Result{Data: data, Status: status, Failure: &f}
}

func offlineResult() Result {
	return failureResult(Failure{OK: false, Error: ErrorOffline}, 0)
}

// decodeBody validates body as JSON. Anything unparseable becomes a
// Bad JSON failure carrying the raw text.
func decodeBody(body []byte, status int) Result {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return failureResult(Failure{OK: false, Error: ErrorBadJSON, Raw: string(body)}, status)
	}
	return Result{Data: json.RawMessage(trimmed), Status: status}
}
