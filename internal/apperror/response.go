package apperror

import (
	"encoding/json"
	"net/http"

	"github.com/rcowellai/recording-app-sub000/internal/logger"
)

// ErrorResponse is the JSON error body the HTTP surface returns.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func coerce(r *http.Request, err error) *Error {
	appErr, ok := err.(*Error)
	if !ok {
		appErr = Wrap(err, ErrInternal)
	}

	log := logger.FromContext(r.Context())
	if appErr.Internal != nil {
		log.Error("request error",
			"code", appErr.Code,
			"internal_error", appErr.Internal.Error(),
		)
	} else {
		log.Warn("request error", "code", appErr.Code)
	}
	return appErr
}

// WriteJSON logs err and renders it as an ErrorResponse. The internal cause
// never crosses the wire.
func WriteJSON(w http.ResponseWriter, r *http.Request, err error) {
	appErr := coerce(r, err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   appErr.Code,
		Code:    appErr.Code,
		Message: appErr.Message,
	})
}

// WriteHTTP logs err and renders it as a plain-text error.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	appErr := coerce(r, err)
	http.Error(w, appErr.Message, appErr.StatusCode)
}
