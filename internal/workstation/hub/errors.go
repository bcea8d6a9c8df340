package hub

import "errors"

// ErrNoUpstream is returned when no tunnel link is installed.
var ErrNoUpstream = errors.New("no upstream link")
