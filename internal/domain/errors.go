package domain

import "errors"

// ErrInvalidResponse marks a generative backend reply that could not be used.
var ErrInvalidResponse = errors.New("invalid response from generative backend")
