package handler

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/apperr"
	"github.com/franckdigital/xamila-backend-sub001/internal/service"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response. Internal failures only expose
// the correlation id.
func errorResponse(err error, message, requestID string) Response {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		if errors.Is(err, service.ErrUserNotFound) {
			return Response{Error: string(apperr.CodeNotFound), Message: "user not found"}
		}
		msg := message
		if requestID != "" {
			msg += " (request id " + requestID + ")"
		}
		return Response{Error: string(apperr.KindInternal), Message: msg}
	}

	resp := Response{Error: string(e.Kind), Code: string(e.Code), Message: e.Message}
	if resp.Message == "" {
		resp.Message = message
	}
	if e.Kind == apperr.KindValidation {
		resp.Fields = validationFields(err)
	}
	return resp
}

// validationFields collects field messages from a possibly joined error.
func validationFields(err error) map[string]string {
	fields := make(map[string]string)
	var walk func(error)
	walk = func(err error) {
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
			return
		}
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindValidation && e.Field != "" {
			if _, seen := fields[e.Field]; !seen {
				fields[e.Field] = e.Message
			}
		}
	}
	walk(err)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	if errors.Is(err, service.ErrUserNotFound) {
		return http.StatusNotFound
	}
	e, ok := apperr.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindAuth:
		switch e.Code {
		case apperr.CodeInactive, apperr.CodeForbidden:
			return http.StatusForbidden
		case apperr.CodeLockedOut:
			return http.StatusTooManyRequests
		}
		return http.StatusUnauthorized
	case apperr.KindToken:
		return http.StatusUnauthorized
	case apperr.KindOTP:
		switch e.Code {
		case apperr.CodeExhausted, apperr.CodeRateLimited:
			return http.StatusTooManyRequests
		}
		return http.StatusBadRequest
	case apperr.KindKYCState:
		switch e.Code {
		case apperr.CodeNotFound:
			return http.StatusNotFound
		case apperr.CodeMissingRequired:
			return http.StatusUnprocessableEntity
		}
		return http.StatusConflict
	case apperr.KindDocument:
		switch e.Code {
		case apperr.CodeTooLarge, apperr.CodeMimeRejected:
			return http.StatusUnprocessableEntity
		case apperr.CodeNotFound:
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case apperr.KindAccessDenied:
		return http.StatusForbidden
	case apperr.KindProvider:
		if e.Code == apperr.CodeTransient {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// responder holds the JSON helpers shared by every handler.
type responder struct {
	logger *zap.Logger
}

// respondWithJSON sends a JSON response
func (h responder) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h responder) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, err error, message string) {
	requestID := middleware.GetReqID(r.Context())
	fields := []zap.Field{
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
		util.String("request_id", requestID),
		util.String("path", r.URL.Path),
	}
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("HTTP error response", fields...)
	} else {
		h.logger.Warn("HTTP error response", fields...)
	}

	if e, ok := apperr.As(err); ok && e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
	}
	h.respondWithJSON(w, statusCode, errorResponse(err, message, requestID))
}

// fail maps err to its status code and responds.
func (h responder) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	h.respondWithError(w, r, getStatusCode(err), err, message)
}

// decode reads a JSON body into dst.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("body", "invalid JSON request body")
	}
	return nil
}
