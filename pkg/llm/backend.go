package llm

import (
	"errors"

	"github.com/run-bigpig/nova-gateway/pkg/interfaces"
)

// ErrNotConfigured is returned when a stage needs the model but no client was wired.
var ErrNotConfigured = errors.New("llm client not configured")

// Backend is the injected handle to the model provider. It is either configured
// with a client or explicitly unconfigured; there is no nil state to check.
type Backend struct {
	client interfaces.LLM
	reason string
}

// Configured wraps a live client. A nil client yields an unconfigured backend.
func Configured(client interfaces.LLM) Backend {
	if client == nil {
		return Unconfigured("no client supplied")
	}
	return Backend{client: client}
}

// Unconfigured returns a backend that refuses every call.
func Unconfigured(reason string) Backend {
	if reason == "" {
		reason = "LLM client not configured."
	}
	return Backend{reason: reason}
}

// Client returns the wrapped client and whether one is present.
func (b Backend) Client() (interfaces.LLM, bool) {
	return b.client, b.client != nil
}

// IsConfigured reports whether the backend can serve calls.
func (b Backend) IsConfigured() bool {
	return b.client != nil
}

// Reason explains why the backend is unconfigured. Empty when configured.
func (b Backend) Reason() string {
	if b.client != nil {
		return ""
	}
	if b.reason == "" {
		return "LLM client not configured."
	}
	return b.reason
}

// Name returns the provider name, or "unconfigured".
func (b Backend) Name() string {
	if b.client == nil {
		return "unconfigured"
	}
	return b.client.Name()
}
