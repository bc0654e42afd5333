package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

var (
	ErrProjectNotFound    = errors.New("project not found")
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrPortExhausted      = errors.New("port range exhausted")
	ErrWebhookAuth        = errors.New("webhook signature verification failed")

	// ErrCoordinationUnavailable marks every coordination operation when no
	// store is configured, so single-machine installs degrade silently.
	ErrCoordinationUnavailable = errors.New("coordination store unavailable")
)
