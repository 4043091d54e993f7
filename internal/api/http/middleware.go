package http

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"

	"github.com/openparlor/parlor/internal/coord/grant"
	apperrors "github.com/openparlor/parlor/internal/platform/errors"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyClaims    ctxKey = "claims"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, reqID)))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("http: panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("http: %s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// grantMiddleware requires a bearer grant bound to the session in the URL and
// stores the validated claims on the request context.
func (h *Handler) grantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing grant")
			return
		}
		sessionID := chi.URLParam(r, "sessionID")
		claims, err := grant.Validate(token, grant.Expectation{SessionID: sessionID}, h.grantCfg)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerTokenFromHeader(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func claimsFromContext(ctx context.Context) (grant.Claims, bool) {
	claims, ok := ctx.Value(ctxKeyClaims).(grant.Claims)
	return claims, ok
}

// mapError translates domain errors to HTTP responses through the same code
// taxonomy the gRPC surface uses.
func mapError(err error) (int, string, string) {
	code := apperrors.GetCode(err)
	message := "internal server error"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}

	switch code.GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest, string(code), message
	case codes.Unauthenticated:
		return http.StatusUnauthorized, string(code), message
	case codes.PermissionDenied:
		return http.StatusForbidden, string(code), message
	case codes.NotFound:
		return http.StatusNotFound, string(code), message
	case codes.FailedPrecondition:
		return http.StatusConflict, string(code), message
	default:
		return http.StatusInternalServerError, string(apperrors.CodeUnknown), message
	}
}
