// Package handlers provides HTTP handlers for the mill knowledge API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/storage"
)

// errNoPublishedRun is returned when a request needs a run and none is
// published yet.
var errNoPublishedRun = errors.New("no published run")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRaw writes an already encoded JSON body, as stored in the cache.
func writeRaw(w http.ResponseWriter, body []byte, cacheStatus string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", cacheStatus)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// resolveRun returns the run named by the "run" query parameter, or the
// published run when it is absent.
func resolveRun(ctx context.Context, runs *storage.RunRepository, r *http.Request) (*storage.Run, int, error) {
	if raw := r.URL.Query().Get("run"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, http.StatusBadRequest, errors.New("run must be a UUID")
		}
		run, err := runs.GetByID(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, http.StatusNotFound, err
		}
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		return run, http.StatusOK, nil
	}

	run, err := runs.Latest(ctx)
	if errors.Is(err, storage.ErrNoRun) {
		return nil, http.StatusNotFound, errNoPublishedRun
	}
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return run, http.StatusOK, nil
}
