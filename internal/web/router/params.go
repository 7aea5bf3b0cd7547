package router

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PathUUID extracts a path parameter and converts it to a UUID
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	value := chi.URLParam(r, name)
	if value == "" {
		return uuid.Nil, fmt.Errorf("missing path parameter: %s", name)
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID for parameter %s", name)
	}
	return id, nil
}

// QueryUUID extracts an optional UUID query parameter.
// Returns uuid.Nil when absent.
func QueryUUID(r *http.Request, name string) (uuid.UUID, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return uuid.Nil, nil
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID for query parameter %s", name)
	}
	return id, nil
}

// QueryInt extracts an integer query parameter, returning def when absent
func QueryInt(r *http.Request, name string, def int) (int, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return def, nil
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for query parameter %s", name)
	}
	return i, nil
}
