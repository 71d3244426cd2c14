// Package critic holds the two LLM-backed classifiers that guard the gateway
// and the verdict contract they share.
//
// Each critic returns a verdict that is valid under the contract, and it
// always returns one. Transport failures, timeouts and malformed replies are
// turned into a documented fallback verdict. The configured FailureMode picks
// whether that fallback permits (fail-open) or restricts (fail-closed). The
// pipeline never sees a raw critic error.
package critic

import (
	"fmt"
)

// SecurityLabel is the inbound classification of a prompt.
type SecurityLabel string

const (
	Safe      SecurityLabel = "SAFE"
	Malicious SecurityLabel = "MALICIOUS"
)

// Valid reports whether l is a member of the enum.
func (l SecurityLabel) Valid() bool {
	switch l {
	case Safe, Malicious:
		return true
	default:
		return false
	}
}

func (l SecurityLabel) String() string { return string(l) }

// AttackType tags the threat category behind a MALICIOUS verdict, or the
// internal failure behind a fallback verdict.
type AttackType string

const (
	AttackNone                 AttackType = "none"
	AttackInstructionHijacking AttackType = "instruction_hijacking"
	AttackPromptLeaking        AttackType = "prompt_leaking"
	AttackMaliciousRolePlaying AttackType = "malicious_role_playing"
	AttackCodeInjection        AttackType = "code_injection"
	// AttackUnclassified is used when the model flags a prompt with a tag
	// outside this enum.
	AttackUnclassified AttackType = "unclassified"

	// Failure tags. Only fallback verdicts carry these.
	AttackValidationError AttackType = "validation_error"
	AttackAPIError        AttackType = "api_error"
	AttackNotConfigured   AttackType = "not_configured"
)

// Valid reports whether t is a member of the enum.
func (t AttackType) Valid() bool {
	switch t {
	case AttackNone, AttackInstructionHijacking, AttackPromptLeaking,
		AttackMaliciousRolePlaying, AttackCodeInjection, AttackUnclassified,
		AttackValidationError, AttackAPIError, AttackNotConfigured:
		return true
	default:
		return false
	}
}

// IsFailure reports whether t marks a fallback verdict rather than a model judgement.
func (t AttackType) IsFailure() bool {
	switch t {
	case AttackValidationError, AttackAPIError, AttackNotConfigured:
		return true
	case AttackNone, AttackInstructionHijacking, AttackPromptLeaking,
		AttackMaliciousRolePlaying, AttackCodeInjection, AttackUnclassified:
		return false
	default:
		return false
	}
}

func (t AttackType) String() string { return string(t) }

// PolicyLabel is the outbound classification of generated text.
type PolicyLabel string

const (
	Pass PolicyLabel = "PASS"
	Fail PolicyLabel = "FAIL"
)

// Valid reports whether l is a member of the enum.
func (l PolicyLabel) Valid() bool {
	switch l {
	case Pass, Fail:
		return true
	default:
		return false
	}
}

func (l PolicyLabel) String() string { return string(l) }

// Assessment is the part every critic verdict shares.
type Assessment struct {
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence_score"`
}

func (a Assessment) validate() error {
	if a.Reasoning == "" {
		return fmt.Errorf("%w: reasoning is empty", ErrSchemaInvalid)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("%w: confidence_score %v outside [0,1]", ErrSchemaInvalid, a.Confidence)
	}
	return nil
}

// SecurityVerdict is the Security Critic's judgement of a prompt.
type SecurityVerdict struct {
	Verdict    SecurityLabel `json:"verdict"`
	AttackType AttackType    `json:"attack_type"`
	Assessment
}

// Blocks reports whether the verdict stops the request before generation.
func (v SecurityVerdict) Blocks() bool {
	switch v.Verdict {
	case Malicious:
		return true
	case Safe:
		return false
	default:
		// unreachable for parsed or fallback verdicts
		return true
	}
}

// Validate checks the verdict against the contract.
func (v SecurityVerdict) Validate() error {
	if !v.Verdict.Valid() {
		return fmt.Errorf("%w: verdict %q is not SAFE or MALICIOUS", ErrSchemaInvalid, v.Verdict)
	}
	if !v.AttackType.Valid() {
		return fmt.Errorf("%w: attack_type %q is unknown", ErrSchemaInvalid, v.AttackType)
	}
	return v.Assessment.validate()
}

// PolicyVerdict is the Policy Critic's judgement of generated text.
type PolicyVerdict struct {
	Verdict PolicyLabel `json:"verdict"`
	Assessment
}

// Violated reports whether the text failed the policy.
func (v PolicyVerdict) Violated() bool {
	switch v.Verdict {
	case Fail:
		return true
	case Pass:
		return false
	default:
		return false
	}
}

// Validate checks the verdict against the contract.
func (v PolicyVerdict) Validate() error {
	if !v.Verdict.Valid() {
		return fmt.Errorf("%w: verdict %q is not PASS or FAIL", ErrSchemaInvalid, v.Verdict)
	}
	return v.Assessment.validate()
}
