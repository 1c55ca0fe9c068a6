package gateway

import "net/http"

// Wire types shared by the HTTP transport and the remote client.

// ErrorBody is the JSON error envelope
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UpdateRequest is the body of a PATCH
type UpdateRequest struct {
	Filters []Filter `json:"filters"`
	Patch   Row      `json:"patch"`
}

// UpdateResponse reports how many rows an update touched
type UpdateResponse struct {
	Count int64 `json:"count"`
}

// Realtime frame types
const (
	FrameSubscribed = "subscribed"
	FrameChange     = "change"
	FrameError      = "error"
)

// Frame is one realtime message from server to client
type Frame struct {
	Type    string  `json:"type"`
	Change  *Change `json:"change,omitempty"`
	Code    string  `json:"code,omitempty"`
	Message string  `json:"message,omitempty"`
}

// HTTPStatus maps an error code to a response status
func HTTPStatus(code string) int {
	switch code {
	case CodeUnknownCollection:
		return http.StatusNotFound
	case CodeUnknownColumn, CodeInvalidQuery:
		return http.StatusBadRequest
	case CodeRejected:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}
