package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dErrors "biogate/pkg/domain-errors"
)

// OperatorValidator checks bearer tokens presented on operator endpoints
// (lockout clears and audit halt resets).
type OperatorValidator interface {
	ValidateToken(tokenString string) (subject string, err error)
}

// JWTOperatorValidator validates HS256 operator tokens carrying a
// role=operator claim.
type JWTOperatorValidator struct {
	key    []byte
	issuer string
}

func NewJWTOperatorValidator(key []byte, issuer string) *JWTOperatorValidator {
	return &JWTOperatorValidator{key: key, issuer: issuer}
}

type operatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (v *JWTOperatorValidator) ValidateToken(tokenString string) (string, error) {
	claims := &operatorClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithIssuer(v.issuer))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Role != "operator" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "token lacks operator role")
	}
	return claims.Subject, nil
}

// RequireOperator guards operator endpoints with bearer-token auth. A nil
// validator leaves the endpoints open, which is only acceptable in tests and
// local development.
func RequireOperator(validator OperatorValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator == nil {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			raw := strings.TrimPrefix(header, "Bearer ")
			if raw == "" || raw == header {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			subject, err := validator.ValidateToken(raw)
			if err != nil {
				logger.Warn("operator token rejected",
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
					"error", err,
				)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("operator", subject))
			next.ServeHTTP(w, r)
		})
	}
}
