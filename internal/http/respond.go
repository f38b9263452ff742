package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/himpar21/medisync/internal/apperr"
	"github.com/himpar21/medisync/internal/checkout"
	"github.com/himpar21/medisync/internal/domain"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error       string               `json:"error"`
	Code        string               `json:"code,omitempty"`
	Details     string               `json:"details,omitempty"`
	Unavailable []domain.Unavailable `json:"unavailable,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// respondServiceError maps a domain error to its status. Internal errors are logged
// and never echoed to the client.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	code := apperr.Kind(err)

	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
		message := "Internal server error"
		switch status {
		case http.StatusServiceUnavailable:
			message = "Service temporarily unavailable"
		case http.StatusGatewayTimeout:
			message = "Request timed out"
		}
		respondError(w, status, code, message)
		return
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var unavailable *checkout.StockUnavailableError
	if errors.As(err, &unavailable) {
		resp.Unavailable = unavailable.Unavailable
	}
	respondJSON(w, status, resp)
}

// decodeJSON treats an empty body as an empty object.
func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
