package handler

import (
	"encoding/json"
	"net/http"

	"github.com/fundquorum/treasury/internal/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler writes treasury errors as JSON envelopes.
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError maps err to an HTTP status and writes the envelope. Ledger
// rejections keep the ledger's reason as the message.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	message := err.Error()
	if errors.IsTreasuryError(err) {
		if st, ok := status.FromError(err); ok {
			message = st.Message()
		}
	}

	h.WriteErrorResponse(w, HTTPStatus(err), errors.GetCode(err).String(), message, r.Header.Get("X-Request-ID"))
}

// HTTPStatus converts an error to an HTTP status code through its gRPC code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if !errors.IsTreasuryError(err) {
		return http.StatusInternalServerError
	}

	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a formatted error response.
func (h *ErrorHandler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", errorCode),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
