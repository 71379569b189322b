package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"focusguard/services/tracker"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type ctxKey int

const userIDKey ctxKey = iota

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return err
	}
	return validate.Struct(dest)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", tracker.ErrValidation, fmt.Sprintf(format, args...))
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondMessage(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]any{"message": msg})
}

// respondError maps the tracker error taxonomy onto HTTP statuses.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	if ce, ok := tracker.AsConflict(err); ok {
		respondJSON(w, http.StatusConflict, map[string]any{
			"message":   "Active session already exists",
			"sessionId": ce.SessionID,
		})
		return
	}
	if rl, ok := tracker.AsRateLimited(err); ok {
		w.Header().Set("Retry-After", strconv.FormatInt(rl.SecondsRemaining, 10))
		respondJSON(w, http.StatusTooManyRequests, map[string]any{
			"message":       "Analysis rate limited, try again later",
			"tryAgainAfter": rl.SecondsRemaining,
		})
		return
	}

	// Upstream first: a malformed classifier reply also wraps ErrValidation.
	switch {
	case tracker.IsUpstream(err):
		a.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("upstream classifier failure")
		respondMessage(w, http.StatusBadGateway, "Vision analysis failed")
	case tracker.IsValidation(err):
		respondMessage(w, http.StatusBadRequest, err.Error())
	case tracker.IsNotFound(err):
		respondMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tracker.ErrVisionDisabled):
		respondMessage(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

// requireUser reads the caller identity set by the upstream auth layer.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get("X-User-ID"))
		if err != nil || id == uuid.Nil {
			respondMessage(w, http.StatusUnauthorized, "Missing or invalid user identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

func userFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return id
}

func sessionParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}
