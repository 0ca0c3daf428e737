package requests

import (
	"net/http"

	"github.com/scribe-audio/scribe/config"
)

const requestIDParam = "requestID"

func GetRequestId(req *http.Request) string {
	requestID := req.Header.Get(requestIDParam)
	if requestID != "" {
		return requestID
	}
	requestID = NewRequestId()
	req.Header.Set(requestIDParam, requestID)
	return requestID
}

// NewRequestId mints a fresh ID for work that does not originate from an HTTP
// request, e.g. mail-driven submissions.
func NewRequestId() string {
	return config.RandomTrailer(8)
}
