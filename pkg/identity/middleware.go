package identity

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/run-bigpig/nova-gateway/pkg/logging"
)

// Validator checks a bearer token
type Validator interface {
	Validate(token string) (*Claims, error)
}

// Authenticate validates the bearer token and stores its subject in the
// request context. With required=false a request without an Authorization
// header passes anonymously, but a header that is present must carry a valid
// bearer token. A nil
// validator disables the check entirely.
func Authenticate(validator Validator, required bool, logger logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.New()
	}
	return func(next http.Handler) http.Handler {
		if validator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" && !required {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := bearerToken(header)
			if !ok {
				logger.Warn(ctx, "Unauthorized request: missing or malformed token", map[string]interface{}{"required": required})
				unauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.Validate(token)
			if err != nil {
				logger.Warn(ctx, "Unauthorized request: invalid token", map[string]interface{}{"error": err.Error()})
				description := "Invalid token"
				if errors.Is(err, ErrTokenExpired) {
					description = "Token has expired"
				}
				unauthorized(w, description)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(ctx, claims.Subject)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="nova"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             "unauthorized",
		"error_description": description,
	})
}
