package critic

import (
	"fmt"
	"strings"
)

// FailureMode decides which verdict a critic substitutes when it cannot judge.
type FailureMode string

const (
	// FailOpen substitutes the permissive verdict (SAFE, PASS).
	FailOpen FailureMode = "fail-open"
	// FailClosed substitutes the restrictive verdict (MALICIOUS, FAIL).
	FailClosed FailureMode = "fail-closed"
)

// ParseFailureMode accepts "fail-open"/"open" and "fail-closed"/"closed".
func ParseFailureMode(s string) (FailureMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-open", "open", "fail_open":
		return FailOpen, nil
	case "fail-closed", "closed", "fail_closed":
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown failure mode %q", s)
	}
}

func (m FailureMode) String() string { return string(m) }

// failureKind is why a critic could not produce a model verdict.
type failureKind int

const (
	failNotConfigured failureKind = iota
	failSchema
	failTransport
)

func (k failureKind) String() string {
	switch k {
	case failNotConfigured:
		return "not_configured"
	case failSchema:
		return "schema_invalid"
	case failTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Confidence sentinels for fallback verdicts. None exceeds 0.5.
const (
	confidenceSkipped = 0.5
	confidenceInvalid = 0.1
	confidenceAPI     = 0.0
)

func (k failureKind) confidence() float64 {
	switch k {
	case failNotConfigured:
		return confidenceSkipped
	case failSchema:
		return confidenceInvalid
	case failTransport:
		return confidenceAPI
	default:
		return confidenceAPI
	}
}

func securityFallback(mode FailureMode, kind failureKind, cause error) SecurityVerdict {
	label, outcome := Safe, "SAFE"
	if mode == FailClosed {
		label, outcome = Malicious, "MALICIOUS"
	}

	var attack AttackType
	var reasoning string
	switch kind {
	case failNotConfigured:
		attack = AttackNone
		if mode == FailClosed {
			attack = AttackNotConfigured
		}
		reasoning = fmt.Sprintf("Security check skipped: LLM client not configured. Defaulting to %s.", outcome)
	case failSchema:
		attack = AttackValidationError
		reasoning = fmt.Sprintf("Security critic response was invalid. Defaulting to %s. Error: %v", outcome, cause)
	case failTransport:
		attack = AttackAPIError
		reasoning = fmt.Sprintf("Security check failed due to an API error. Defaulting to %s. Error: %v", outcome, cause)
	default:
		attack = AttackAPIError
		reasoning = fmt.Sprintf("Security check failed. Defaulting to %s.", outcome)
	}

	return SecurityVerdict{
		Verdict:    label,
		AttackType: attack,
		Assessment: Assessment{Reasoning: reasoning, Confidence: kind.confidence()},
	}
}

func policyFallback(mode FailureMode, kind failureKind, cause error) PolicyVerdict {
	label, outcome := Pass, "PASS"
	if mode == FailClosed {
		label, outcome = Fail, "FAIL"
	}

	var reasoning string
	switch kind {
	case failNotConfigured:
		reasoning = fmt.Sprintf("Policy check skipped: LLM client not configured. Defaulting to %s.", outcome)
	case failSchema:
		reasoning = fmt.Sprintf("Policy critic response was invalid. Defaulting to %s. Error: %v", outcome, cause)
	case failTransport:
		reasoning = fmt.Sprintf("Policy check failed due to an API error. Defaulting to %s. Error: %v", outcome, cause)
	default:
		reasoning = fmt.Sprintf("Policy check failed. Defaulting to %s.", outcome)
	}

	return PolicyVerdict{
		Verdict:    label,
		Assessment: Assessment{Reasoning: reasoning, Confidence: kind.confidence()},
	}
}
