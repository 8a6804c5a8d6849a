package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RolledBack *bool  `json:"rolled_back,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

var errInvalidRequest = errors.New("invalid request")

// statusFor maps an error to its HTTP status and machine-readable code.
// A partial sync is checked first: its cause may itself be a storage denial.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, dataspace.ErrPartialSync):
		return http.StatusBadGateway, "partial_sync"
	case errors.Is(err, dataspace.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, dataspace.ErrWriteRejected):
		return http.StatusForbidden, "write_rejected"
	case errors.Is(err, dataspace.ErrPermissionDenied), errors.Is(err, dataspace.ErrStorageForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, dataspace.ErrCreatorImmutable):
		return http.StatusConflict, "creator_immutable"
	case errors.Is(err, dataspace.ErrSpaceExists), errors.Is(err, dataspace.ErrMemberExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, dataspace.ErrSpaceNotFound), errors.Is(err, dataspace.ErrMemberNotFound),
		errors.Is(err, dataspace.ErrResourceNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, dataspace.ErrInvalidRole), errors.Is(err, dataspace.ErrMalformedEvent),
		errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{
		Code:      code,
		Message:   err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
	}
	var syncErr *dataspace.SyncError
	if errors.As(err, &syncErr) {
		rolledBack := syncErr.RolledBack
		resp.RolledBack = &rolledBack
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
		if status == http.StatusInternalServerError {
			resp.Message = "An internal server error occurred"
		}
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}
