package domain

import "errors"

var (
	ErrStreamNotFound    = errors.New("stream not found")
	ErrScheduledNotFound = errors.New("scheduled stream not found")
	ErrFileNotFound      = errors.New("file not found")
	ErrStreamExists      = errors.New("stream already exists")
)
