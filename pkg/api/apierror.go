// Package api is the admin HTTP surface: destination CRUD, delivery
// inspection, the event ingress, and the middleware stack in front of them.
// Errors leave this package as RFC 7807 problem+json, never ad-hoc JSON.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// problemTypeBase prefixes the type URI of every problem this API emits.
const problemTypeBase = "https://halyard.mindburn.dev/problems/"

// problemSlugs maps status codes onto stable problem-type slugs. Codes
// without an entry fall back to the bare number so the URI stays resolvable.
var problemSlugs = map[int]string{
	http.StatusBadRequest:          "bad-request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusForbidden:           "forbidden",
	http.StatusNotFound:            "not-found",
	http.StatusMethodNotAllowed:    "method-not-allowed",
	http.StatusConflict:            "conflict",
	http.StatusTooManyRequests:     "rate-limited",
	http.StatusInternalServerError: "internal",
}

func problemType(status int) string {
	if slug, ok := problemSlugs[status]; ok {
		return problemTypeBase + slug
	}
	return problemTypeBase + strconv.Itoa(status)
}

// ProblemDetail is an RFC 7807 Problem Details body.
type ProblemDetail struct {
	// Type is a URI reference identifying the problem class.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem class.
	Title string `json:"title"`
	// Status echoes the HTTP status code.
	Status int `json:"status"`
	// Detail describes this specific occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is the request path that produced the problem.
	Instance string `json:"instance,omitempty"`
	// TraceID carries the request ID so a caller can quote it back to us.
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements error so a ProblemDetail can travel through error paths.
func (p *ProblemDetail) Error() string {
	return p.Title + ": " + p.Detail
}

// send writes p as application/problem+json with its own status code.
func (p *ProblemDetail) send(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes a problem+json response with the given status and text.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	p := &ProblemDetail{
		Type:   problemType(status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
	p.send(w)
}

// WriteErrorR is WriteError enriched from the request: the instance field is
// the request path, and trace_id picks up the X-Request-ID that the RequestID
// middleware placed on the response.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	p := &ProblemDetail{
		Type:     problemType(status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	}
	p.send(w)
}

// WriteBadRequest writes a 400 problem.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 problem.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteForbidden writes a 403 problem.
func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

// WriteNotFound writes a 404 problem.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes a 405 problem.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed",
		"The HTTP method is not supported for this endpoint")
}

// WriteConflict writes a 409 problem.
func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusConflict, "Conflict", detail)
}

// WriteTooManyRequests writes a 429 problem and a Retry-After hint.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests",
		"Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 problem. The error goes to the log only; the
// body carries a fixed message so driver and host details never leak out.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error",
		"An unexpected error occurred. Please try again later.")
}
