package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/run-bigpig/nova-gateway/pkg/audit"
	"github.com/run-bigpig/nova-gateway/pkg/critic"
	"github.com/run-bigpig/nova-gateway/pkg/gateway"
	"github.com/run-bigpig/nova-gateway/pkg/generation"
)

// StatusClientClosedRequest is logged when the caller went away mid-pipeline
const StatusClientClosedRequest = 499

// ChatRequest is the pipeline request body
type ChatRequest struct {
	Prompt string `json:"prompt"`
	Policy string `json:"policy,omitempty"`
}

// ChatResponse is returned for allowed prompts
type ChatResponse struct {
	LLMResponse   string                 `json:"llm_response"`
	InboundCheck  critic.SecurityVerdict `json:"inbound_check"`
	OutboundCheck *critic.PolicyVerdict  `json:"outbound_check"`
}

// RejectedResponse is returned with 400 for blocked prompts
type RejectedResponse struct {
	Detail       string                 `json:"detail"`
	InboundCheck critic.SecurityVerdict `json:"inbound_check"`
}

// ErrorResponse carries a client-facing message
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// LogsResponse is one page of audit records
type LogsResponse struct {
	Records []audit.TransactionRecord `json:"records"`
	Total   int                       `json:"total"`
	Page    int                       `json:"page"`
	Limit   int                       `json:"limit"`
}

// VerifyResponse reports the hash chain check
type VerifyResponse struct {
	IsValid bool   `json:"is_valid"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Nova gateway is operational."})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"llm_configured": s.gateway.Backend().IsConfigured(),
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ChatRequest
	if err := decodeJSON(w, r, s.bodyLimit, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.gateway.Run(ctx, gateway.Request{
		Prompt:    req.Prompt,
		Policy:    req.Policy,
		RequestID: middleware.GetReqID(ctx),
	})
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}

	if result.Blocked() {
		writeJSON(w, http.StatusBadRequest, RejectedResponse{
			Detail:       gateway.RejectionMessage(result.InboundCheck.Reasoning),
			InboundCheck: result.InboundCheck,
		})
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		LLMResponse:   result.FinalText,
		InboundCheck:  result.InboundCheck,
		OutboundCheck: result.OutboundCheck,
	})
}

func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	var genErr *generation.Error

	switch {
	case errors.Is(err, gateway.ErrBackendUnavailable):
		writeDetail(w, http.StatusServiceUnavailable, "LLM client not configured.")
	case errors.Is(err, gateway.ErrEmptyPrompt):
		writeDetail(w, http.StatusBadRequest, "prompt must not be empty")
	case errors.Is(err, gateway.ErrCanceled):
		// nobody is listening; the status is for the access log
		w.WriteHeader(StatusClientClosedRequest)
	case errors.As(err, &genErr):
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Error calling primary LLM: %v", genErr.Err))
	case errors.Is(err, gateway.ErrAuditFailed):
		s.logger.Error(r.Context(), "Rejecting request after audit failure", map[string]interface{}{"error": err.Error()})
		writeDetail(w, http.StatusInternalServerError, "Transaction could not be recorded.")
	default:
		s.logger.Error(r.Context(), "Pipeline failed", map[string]interface{}{"error": err.Error()})
		writeDetail(w, http.StatusInternalServerError, "Internal server error.")
	}
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		writeDetail(w, http.StatusNotImplemented, "audit sink does not support reads")
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	p := audit.Page{Number: page, Limit: limit}.Normalize()
	records, total, err := s.reader.List(r.Context(), p)
	if err != nil {
		s.logger.Error(r.Context(), "Failed to list audit records", map[string]interface{}{"error": err.Error()})
		writeDetail(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	if records == nil {
		records = []audit.TransactionRecord{}
	}

	writeJSON(w, http.StatusOK, LogsResponse{Records: records, Total: total, Page: p.Number, Limit: p.Limit})
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		writeDetail(w, http.StatusNotImplemented, "audit sink does not support reads")
		return
	}

	rec, err := s.reader.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, audit.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error(r.Context(), "Failed to read audit record", map[string]interface{}{"error": err.Error()})
		writeDetail(w, http.StatusInternalServerError, "failed to read audit log")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleVerifyLogs(w http.ResponseWriter, r *http.Request) {
	if s.reader == nil {
		writeDetail(w, http.StatusNotImplemented, "audit sink does not support reads")
		return
	}

	n, err := audit.VerifyReader(r.Context(), s.reader)
	var chainErr *audit.ChainError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, VerifyResponse{IsValid: true, Records: n})
	case errors.As(err, &chainErr):
		s.logger.Warn(r.Context(), "Audit chain verification failed", map[string]interface{}{
			"sequence": chainErr.Sequence,
			"id":       chainErr.ID,
			"reason":   chainErr.Reason,
		})
		writeJSON(w, http.StatusOK, VerifyResponse{IsValid: false, Records: n, Error: err.Error()})
	default:
		s.logger.Error(r.Context(), "Failed to read audit log for verification", map[string]interface{}{"error": err.Error()})
		writeDetail(w, http.StatusInternalServerError, "failed to read audit log")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}
