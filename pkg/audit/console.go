package audit

import (
	"context"

	"github.com/run-bigpig/nova-gateway/pkg/logging"
)

// previewLength is how much of prompt and response the console entry keeps
const previewLength = 100

// ConsoleSink writes each record as one structured log entry. It keeps
// nothing, so it is not a Reader.
type ConsoleSink struct {
	logger logging.Logger
}

// NewConsoleSink creates a console sink. A nil logger uses logging.New().
func NewConsoleSink(logger logging.Logger) *ConsoleSink {
	if logger == nil {
		logger = logging.New()
	}
	return &ConsoleSink{logger: logger}
}

// Record implements Sink
func (s *ConsoleSink) Record(ctx context.Context, rec TransactionRecord) (Ack, error) {
	fields := map[string]interface{}{
		"id":             rec.ID,
		"final_verdict":  rec.FinalVerdict.String(),
		"request_prompt": preview(rec.RequestPrompt),
		"response_text":  preview(rec.ResponseText),
	}
	if rec.InboundCheck != nil {
		fields["inbound_verdict"] = rec.InboundCheck.Verdict.String()
		fields["attack_type"] = rec.InboundCheck.AttackType.String()
		fields["inbound_confidence"] = rec.InboundCheck.Confidence
	}
	if rec.OutboundCheck != nil {
		fields["outbound_verdict"] = rec.OutboundCheck.Verdict.String()
		fields["outbound_confidence"] = rec.OutboundCheck.Confidence
	}
	if rec.Subject != "" {
		fields["subject"] = rec.Subject
	}
	if rec.Hash != "" {
		fields["sequence"] = rec.Sequence
		fields["hash"] = rec.Hash
	}

	s.logger.Info(ctx, "Transaction recorded", fields)
	return Ack{ID: rec.ID, Sequence: rec.Sequence, Hash: rec.Hash}, nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLength {
		return s
	}
	return string(r[:previewLength]) + "..."
}
