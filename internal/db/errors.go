package db

import "errors"

// ErrNotFound indicates the requested conversation does not exist. Appending a
// message to a missing conversation reports it too.
var ErrNotFound = errors.New("db: not found")

// ErrInvalidRole is returned when a message role is neither user nor assistant.
var ErrInvalidRole = errors.New("db: invalid message role")
