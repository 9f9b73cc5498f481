package hue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// v1 error types the client distinguishes.
const (
	v1ErrUnauthorized = 1
	v1ErrNotAvailable = 3
)

// apiError is one entry of a v1 error array.
type apiError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

func (e apiError) Error() string {
	return fmt.Sprintf("hue error %d at %s: %s", e.Type, e.Address, e.Description)
}

// v1Result is one entry of a v1 write response.
type v1Result struct {
	Success map[string]any `json:"success,omitempty"`
	Error   *apiError      `json:"error,omitempty"`
}

// parseErrors returns the errors of a v1 error array, or nil if body is not one.
func parseErrors(body []byte) []apiError {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "[") {
		return nil
	}
	var results []v1Result
	if err := json.Unmarshal([]byte(trimmed), &results); err != nil {
		return nil
	}
	var errs []apiError
	for _, r := range results {
		if r.Error != nil {
			errs = append(errs, *r.Error)
		}
	}
	return errs
}

// streamEvent is one message of the v2 event stream.
type streamEvent struct {
	CreationTime string           `json:"creationtime"`
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Data         []streamResource `json:"data"`
}

// streamResource is a changed resource inside a stream event.
type streamResource struct {
	ID     string `json:"id"`
	IDV1   string `json:"id_v1"`
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
}

// lightIDV1 extracts N from "/lights/N".
func (r streamResource) lightIDV1() (int, bool) {
	rest, ok := strings.CutPrefix(r.IDV1, "/lights/")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
