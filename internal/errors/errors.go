package errors

import "errors"

// Token file errors. The distinction matters: an empty or truncated
// file means the token must be reissued, while an I/O failure is
// surfaced to the caller as-is.
var (
	ErrTokenEmpty     = errors.New("token file is empty")
	ErrTokenMalformed = errors.New("token file is malformed")
)

// Configuration errors.
var (
	ErrMissingKeys      = errors.New("missing required configuration keys")
	ErrExtraKeys        = errors.New("unrecognized configuration keys")
	ErrBadHostURL       = errors.New("voipnowHost must start with http:// or https://")
	ErrMissingTokenFile = errors.New("voipnowTokenFile is not set")
	ErrMissingAuthToken = errors.New("authTokenMCP is required in secure mode")
)
