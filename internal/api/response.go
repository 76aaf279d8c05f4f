package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/timzhangherenow/product-contextualizer/internal/gemini"
	"github.com/timzhangherenow/product-contextualizer/internal/repository"
	"github.com/timzhangherenow/product-contextualizer/internal/service"
)

var (
	errInvalidJSON   = errors.New("invalid json")
	errInvalidUpload = errors.New("image upload too large or malformed")
	errInvalidForm   = errors.New("invalid generation settings")
)

// errorResponse is the uniform error shape returned by every endpoint.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels to HTTP statuses. The credential
// rejection stays distinct so the client can prompt re-authentication
// instead of rendering the generic generation failure.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errInvalidJSON),
		errors.Is(err, errInvalidUpload),
		errors.Is(err, errInvalidForm),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrMissingImage),
		errors.Is(err, service.ErrMissingScenario),
		errors.Is(err, repository.ErrInvalidBalance):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, repository.ErrInsufficientBalance):
		s.writeJSON(w, http.StatusPaymentRequired, errorResponse{Error: "insufficient_balance", Message: err.Error()})
	case errors.Is(err, repository.ErrUserNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, service.ErrGenerationInProgress),
		errors.Is(err, service.ErrResetRequired):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: "conflict", Message: err.Error()})
	case errors.Is(err, gemini.ErrInvalidCredential):
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid_credential", Message: err.Error()})
	case errors.Is(err, gemini.ErrNoImage), errors.Is(err, gemini.ErrUpstream):
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: "generation_failed", Message: err.Error()})
	default:
		s.log.Error("request failed", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: "an internal error occurred"})
	}
}
