// Package gateway runs the verification pipeline: inbound security check,
// generation, outbound policy check and the audit record.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/run-bigpig/nova-gateway/pkg/audit"
	"github.com/run-bigpig/nova-gateway/pkg/critic"
)

// DefaultPolicy is applied when a request carries none
const DefaultPolicy = "Default policy: Be helpful and harmless."

var (
	// ErrBackendUnavailable means no LLM client is configured. Nothing runs.
	ErrBackendUnavailable = errors.New("LLM client not configured")
	// ErrEmptyPrompt rejects blank prompts before any stage runs
	ErrEmptyPrompt = errors.New("prompt must not be empty")
	// ErrCanceled is returned when the caller's context ends mid-pipeline.
	// No record is written.
	ErrCanceled = errors.New("request canceled")
	// ErrAuditFailed is returned only with WithStrictAudit
	ErrAuditFailed = errors.New("audit record could not be written")
)

// Request is one prompt submitted to the gateway
type Request struct {
	Prompt    string
	Policy    string
	RequestID string
}

// Result is what the gateway returns for a completed pipeline. A blocked
// prompt is a Result, not an error.
type Result struct {
	FinalText     string
	InboundCheck  critic.SecurityVerdict
	OutboundCheck *critic.PolicyVerdict
	FinalVerdict  audit.FinalVerdict
	Record        audit.Ack
}

// Blocked reports whether the Security Critic stopped the request
func (r *Result) Blocked() bool {
	return r.FinalVerdict == audit.Blocked
}

// RejectionMessage is the client-facing text for a blocked prompt
func RejectionMessage(reasoning string) string {
	return fmt.Sprintf("Prompt rejected as potentially malicious. Reason: %s", reasoning)
}

// PolicyWarning annotates text that failed the Policy Critic
func PolicyWarning(reasoning, text string) string {
	return fmt.Sprintf("[POLICY WARNING: %s] %s", reasoning, text)
}

// Stage is a pipeline state
type Stage int

const (
	StageStart Stage = iota
	StageInboundChecked
	StageBlocked
	StageGenerated
	StageOutboundChecked
	StageRecorded
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "START"
	case StageInboundChecked:
		return "INBOUND_CHECKED"
	case StageBlocked:
		return "BLOCKED"
	case StageGenerated:
		return "GENERATED"
	case StageOutboundChecked:
		return "OUTBOUND_CHECKED"
	case StageRecorded:
		return "RECORDED"
	case StageDone:
		return "DONE"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// SecurityChecker is the inbound check
type SecurityChecker interface {
	Evaluate(ctx context.Context, prompt string) critic.SecurityVerdict
}

// PolicyChecker is the outbound check
type PolicyChecker interface {
	Evaluate(ctx context.Context, text, policy string) critic.PolicyVerdict
}

// Generator produces the model answer
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
