package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/QuincyvanDeursen/diceonline/internal/lobby"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

type validationResponse struct {
	Errors []string `json:"errors"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a lobby failure onto the HTTP status the client sees.
func statusFor(err error) int {
	switch lobby.KindOf(err) {
	case lobby.KindNotFound:
		return http.StatusNotFound
	case lobby.KindConflict, lobby.KindInvalidInput:
		return http.StatusBadRequest
	case lobby.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, logger logrus.FieldLogger, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("op", op).Error("lobby operation failed")
		// Internal causes stay in the log.
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// decode reads a JSON body into dst, answering 400 itself when that fails.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request payload"})
		return false
	}
	return true
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
