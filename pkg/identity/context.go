// Package identity validates caller credentials and carries the caller's
// subject through the request context.
package identity

import (
	"context"
	"errors"

	"github.com/run-bigpig/nova-gateway/pkg/logging"
)

var (
	// ErrNoSubject is returned when no subject is found in the context
	ErrNoSubject = errors.New("no subject found in context")
)

// WithSubject returns a new context carrying subject. Log entries written
// with the context include it.
func WithSubject(ctx context.Context, subject string) context.Context {
	return logging.WithSubject(ctx, subject)
}

// Subject returns the caller's subject, if one was authenticated
func Subject(ctx context.Context) (string, bool) {
	return logging.SubjectFrom(ctx)
}

// MustSubject returns the subject or ErrNoSubject
func MustSubject(ctx context.Context) (string, error) {
	subject, ok := Subject(ctx)
	if !ok {
		return "", ErrNoSubject
	}
	return subject, nil
}
