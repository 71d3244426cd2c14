package critic

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaInvalid marks a critic reply that does not satisfy the contract
	ErrSchemaInvalid = errors.New("critic reply failed validation")

	// ErrTransport marks a failed or timed-out backend call
	ErrTransport = errors.New("critic backend call failed")
)

type rawReply struct {
	Verdict    *string  `json:"verdict"`
	AttackType *string  `json:"attack_type"`
	Reasoning  *string  `json:"reasoning"`
	Confidence *float64 `json:"confidence_score"`
}

func decodeReply(raw string) (rawReply, error) {
	body := stripFence(raw)
	if body == "" {
		return rawReply{}, fmt.Errorf("%w: empty reply", ErrSchemaInvalid)
	}

	var reply rawReply
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(&reply); err != nil {
		return rawReply{}, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	if dec.More() {
		return rawReply{}, fmt.Errorf("%w: trailing data after JSON object", ErrSchemaInvalid)
	}

	switch {
	case reply.Verdict == nil:
		return rawReply{}, fmt.Errorf("%w: verdict is missing", ErrSchemaInvalid)
	case reply.Reasoning == nil:
		return rawReply{}, fmt.Errorf("%w: reasoning is missing", ErrSchemaInvalid)
	case reply.Confidence == nil:
		return rawReply{}, fmt.Errorf("%w: confidence_score is missing", ErrSchemaInvalid)
	}
	return reply, nil
}

// ParseSecurityVerdict validates a raw Security Critic reply.
func ParseSecurityVerdict(raw string) (SecurityVerdict, error) {
	reply, err := decodeReply(raw)
	if err != nil {
		return SecurityVerdict{}, err
	}

	v := SecurityVerdict{
		Verdict:    SecurityLabel(strings.ToUpper(strings.TrimSpace(*reply.Verdict))),
		AttackType: AttackNone,
		Assessment: Assessment{
			Reasoning:  strings.TrimSpace(*reply.Reasoning),
			Confidence: *reply.Confidence,
		},
	}
	if !v.Verdict.Valid() {
		return SecurityVerdict{}, fmt.Errorf("%w: verdict %q is not SAFE or MALICIOUS", ErrSchemaInvalid, *reply.Verdict)
	}

	if reply.AttackType != nil {
		v.AttackType = modelAttackType(v.Verdict, *reply.AttackType)
	}

	if err := v.Validate(); err != nil {
		return SecurityVerdict{}, err
	}
	return v, nil
}

// modelAttackType maps the tag the model chose onto the enum. The model may
// not claim a failure tag.
func modelAttackType(verdict SecurityLabel, tag string) AttackType {
	t := AttackType(strings.ToLower(strings.TrimSpace(tag)))
	known := t.Valid() && !t.IsFailure()

	switch verdict {
	case Malicious:
		if !known || t == AttackNone {
			return AttackUnclassified
		}
		return t
	case Safe:
		if !known {
			return AttackNone
		}
		return t
	default:
		return AttackNone
	}
}

// ParsePolicyVerdict validates a raw Policy Critic reply.
func ParsePolicyVerdict(raw string) (PolicyVerdict, error) {
	reply, err := decodeReply(raw)
	if err != nil {
		return PolicyVerdict{}, err
	}

	v := PolicyVerdict{
		Verdict: PolicyLabel(strings.ToUpper(strings.TrimSpace(*reply.Verdict))),
		Assessment: Assessment{
			Reasoning:  strings.TrimSpace(*reply.Reasoning),
			Confidence: *reply.Confidence,
		},
	}
	if err := v.Validate(); err != nil {
		return PolicyVerdict{}, err
	}
	return v, nil
}

// stripFence removes a markdown code fence some providers wrap JSON in.
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
