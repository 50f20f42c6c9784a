package v1

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Substrings that mark binder or decoder internals which must not reach clients.
var internalErrorMarkers = []string{"validation", "cannot unmarshal", "bind", "Key:", "Error:"}

// sanitizeValidationError turns a request binding error into a client-safe message.
func sanitizeValidationError(err error) string {
	if err == nil {
		return ""
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "Malformed JSON body"
	}
	if errors.Is(err, io.EOF) {
		return "Request body is required"
	}

	msg := err.Error()
	for _, marker := range internalErrorMarkers {
		if strings.Contains(msg, marker) {
			return "Invalid request"
		}
	}
	if len(msg) < 100 {
		return msg
	}
	return "Invalid request"
}
