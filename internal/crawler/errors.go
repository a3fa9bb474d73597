package crawler

import "errors"

var (
	// ErrInvalidSeed is returned by Frontier.Run when the seed is not a
	// valid v3 onion URL. The underlying reason is wrapped alongside.
	ErrInvalidSeed = errors.New("invalid seed")

	// ErrHandlerFailed wraps an error returned by the PageHandler.
	ErrHandlerFailed = errors.New("page handler failed")
)
