package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"gorm.io/gorm"

	"github.com/AfonsecaO/nudenet-clasificador-sub000/classify"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/ingest"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/repository"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/source"
	"github.com/AfonsecaO/nudenet-clasificador-sub000/workspace"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("handlers: error encoding JSON response: %v", err)
		}
	}
}

// errorStatus maps service errors onto HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, workspace.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, ingest.ErrImageNotFound),
		errors.Is(err, source.ErrUnknownTable):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, workspace.ErrInvalidSlug):
		return http.StatusBadRequest, "invalid_slug"
	case errors.Is(err, workspace.ErrExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, workspace.ErrMissingConfig):
		return http.StatusUnprocessableEntity, "missing_configuration"
	case errors.Is(err, classify.ErrDetectorUnavailable):
		return http.StatusServiceUnavailable, "detector_unavailable"
	case errors.Is(err, repository.ErrClaimContention):
		return http.StatusConflict, "busy"
	case errors.Is(err, source.ErrUnsupportedDriver):
		return http.StatusUnprocessableEntity, "unsupported_driver"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError logs unexpected failures and answers with the mapped envelope.
func writeServiceError(w http.ResponseWriter, action string, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("handlers: %s failed: %v", action, err)
	}
	WriteAPIError(w, status, code, err.Error())
}
