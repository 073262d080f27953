// Package response builds the {ok, ...} envelopes returned by the relay and
// admin services.
package response

import "net/http"

// Response is a status code with a JSON object body.
type Response struct {
	StatusCode int
	Body       map[string]any
}

// OK returns a 200 response with ok=true merged into fields.
func OK(fields map[string]any) Response {
	return build(http.StatusOK, true, fields)
}

// Plain returns a 200 response whose body is exactly fields.
func Plain(fields map[string]any) Response {
	return Response{StatusCode: http.StatusOK, Body: fields}
}

// BadRequest returns a 400 response.
func BadRequest(message string) Response {
	return failure(http.StatusBadRequest, message, nil)
}

// BadRequestWith returns a 400 response with extra fields.
func BadRequestWith(message string, extra map[string]any) Response {
	return failure(http.StatusBadRequest, message, extra)
}

// Unauthorized returns a 403 response.
func Unauthorized(message string) Response {
	return failure(http.StatusForbidden, message, nil)
}

// NotFound returns a 404 response.
func NotFound(message string) Response {
	return failure(http.StatusNotFound, message, nil)
}

// TooManyRequests returns a 429 response carrying the limits that were hit.
func TooManyRequests(action string, softLimit, hardLimit int) Response {
	return failure(http.StatusTooManyRequests, "Rate limit exceeded for "+action, map[string]any{
		"action":    action,
		"softLimit": softLimit,
		"hardLimit": hardLimit,
	})
}

// InternalError returns a 500 response.
func InternalError(message string) Response {
	return failure(http.StatusInternalServerError, message, nil)
}

func failure(status int, message string, extra map[string]any) Response {
	fields := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		fields[k] = v
	}
	fields["error"] = message
	return build(status, false, fields)
}

func build(status int, ok bool, fields map[string]any) Response {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["ok"] = ok
	return Response{StatusCode: status, Body: body}
}
