package inference

import "fmt"

// RemoteError is a transport-level failure talking to the AI service: a
// non-2xx status or a malformed body. Detail carries the error string
// extracted from the response body when one was present.
type RemoteError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ai service error %d (%s): %s", e.StatusCode, e.Code, e.Detail)
	}
	return fmt.Sprintf("ai service error %d: %s", e.StatusCode, e.Detail)
}
