package model

import "errors"

// ErrInvalidWindow is returned by SyncOptions.Validate when a caller-supplied
// window or retry/batch knob falls outside spec.md §3/§8's bounds.
var ErrInvalidWindow = errors.New("model: sync option out of bounds")
