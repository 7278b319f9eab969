package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"xstock-portfolio/internal/allocation"
	"xstock-portfolio/internal/domain"
	"xstock-portfolio/internal/storage"
)

// Error codes.
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeNoSigner           = "NO_SIGNER"
	ErrCodePricingUnavailable = "PRICING_UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// ErrorBody is the error payload of every failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

// mapError maps domain and storage errors to a status code and error code.
func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, domain.ErrInvalidRiskLevel),
		errors.Is(err, allocation.ErrInvalidCapital),
		errors.Is(err, domain.ErrUnknownAsset),
		errors.Is(err, storage.ErrInvalidInput):
		return http.StatusBadRequest, ErrCodeInvalidInput
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrDuplicateKey):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, domain.ErrPricingUnavailable):
		return http.StatusServiceUnavailable, ErrCodePricingUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	status, code := mapError(err)
	respondError(w, status, code, err.Error())
}
