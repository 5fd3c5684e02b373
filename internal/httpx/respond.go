package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/go-order-core/internal/apperr"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error      string  `json:"error"`
	Code       string  `json:"code"`
	ProductIDs []int64 `json:"productIds,omitempty"`
}

type pageInfo struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

type listResponse struct {
	Data       any      `json:"data"`
	Pagination pageInfo `json:"pagination"`
}

type cursorResponse struct {
	Data       any    `json:"data"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindNotFound, apperr.KindProductUnavailable:
		return http.StatusNotFound
	case apperr.KindInsufficientStock, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindPaymentDeclined:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto the error body. Server-side failures are logged and reported
// without their details.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code := statusFor(kind)

	body := errorBody{Error: err.Error(), Code: string(kind), ProductIDs: apperr.ProductIDs(err)}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("code", string(kind)),
			zap.Error(err),
		)
		body.Error = "internal error"
		if kind == apperr.KindPersistence {
			body.Error = "order could not be saved; no stock was held"
			if errors.Is(err, apperr.ErrCompensationIncomplete) {
				body.Error = "order could not be saved; some reserved stock may still be held"
			}
		}
	}
	writeJSON(w, code, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("", "invalid request body: %v", err)
	}
	return nil
}
