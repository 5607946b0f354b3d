package errors

import "fmt"

var (
	ErrWorkerPanic       = fmt.Errorf("worker panic")
	ErrEmptyWords        = fmt.Errorf("no words have been found")
	ErrServerUnreachable = fmt.Errorf("server unreachable")
	ErrAlreadyRegistered = fmt.Errorf("connection already registered")
	ErrInvalidRecord     = fmt.Errorf("invalid transcript record")
	ErrInvalidConfig     = fmt.Errorf("invalid configuration")
)
