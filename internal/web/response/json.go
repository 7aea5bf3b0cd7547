package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBodyBytes bounds JSON request bodies
const MaxBodyBytes = 1 << 20

// JSON renders v as a JSON response
func JSON(w http.ResponseWriter, status int, v interface{}) {
	writeJSON(w, status, v)
}

// OK renders v with 200
func OK(w http.ResponseWriter, v interface{}) {
	writeJSON(w, http.StatusOK, v)
}

// Created renders v with 201
func Created(w http.ResponseWriter, v interface{}) {
	writeJSON(w, http.StatusCreated, v)
}

// Accepted renders v with 202
func Accepted(w http.ResponseWriter, v interface{}) {
	writeJSON(w, http.StatusAccepted, v)
}

// NoContent writes an empty 204
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Page wraps a list response with pagination metadata
type Page struct {
	Data    interface{} `json:"data"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
	Total   int         `json:"total"`
}

// Paginated renders a list with pagination metadata
func Paginated(w http.ResponseWriter, data interface{}, page, perPage, total int) {
	writeJSON(w, http.StatusOK, &Page{Data: data, Page: page, PerPage: perPage, Total: total})
}

// DecodeJSON decodes the request body into dst. Bodies larger than
// MaxBodyBytes, unknown fields and trailing data are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body must not exceed %d bytes", maxErr.Limit)
		default:
			return fmt.Errorf("invalid JSON body: %w", err)
		}
	}

	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
