package main

import (
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	dbconnector "project-echo"
	"project-echo/internal/connections"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("invalid json payload")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Error: &errorBody{Message: message}})
}

// statusFor maps domain errors onto HTTP codes. Anything unrecognised is
// treated as a failure of the target database.
func statusFor(err error) int {
	switch {
	case errors.Is(err, connections.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dbconnector.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, connections.ErrInvalidInput),
		errors.Is(err, connections.ErrNotConfigured),
		errors.Is(err, dbconnector.ErrUnsupportedKind),
		errors.Is(err, dbconnector.ErrInvalidIdentifier),
		errors.Is(err, dbconnector.ErrUnparseableWhere),
		errors.Is(err, dbconnector.ErrUnsupportedOperator),
		errors.Is(err, dbconnector.ErrInvalidOrderBy),
		errors.Is(err, dbconnector.ErrInvalidPage),
		errors.Is(err, dbconnector.ErrUndetectable),
		errors.Is(err, dbconnector.ErrMissingFilter):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
