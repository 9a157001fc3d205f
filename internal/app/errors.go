package app

import "fmt"

// ValueError is the failure raised on purpose by /error_test.
type ValueError struct {
	Msg string
}

func (e *ValueError) Error() string {
	return e.Msg
}

// DownstreamError reports a failed hop of /chain: either the request could
// not be completed (Err is set) or the hop answered with a non-2xx status.
type DownstreamError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *DownstreamError) Unwrap() error {
	return e.Err
}
