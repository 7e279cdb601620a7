package broadcast

import "errors"

var (
	ErrNotRunning     = errors.New("broadcast service not running")
	ErrNoDestinations = errors.New("broadcast needs at least one destination")
	ErrEmptyContent   = errors.New("broadcast needs text or an image")
	ErrNoCredential   = errors.New("broadcast needs a sender credential")
)
