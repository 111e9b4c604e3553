package httpxmock

import (
	"io"
	"net/http"
	"strings"
)

// Response builds a canned upstream response for DoAndReturn stubs.
func Response(status int, contentType, body string) *http.Response {
	h := http.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}
