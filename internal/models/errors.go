package models

import "errors"

// Store-level sentinel errors shared by every persistence backend
var (
	ErrNotFound           = errors.New("not found")
	ErrSessionAlreadyOpen = errors.New("freeze session already open")
	ErrNoOpenSession      = errors.New("no open freeze session")
)
