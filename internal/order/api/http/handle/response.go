package handle

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"restaurant-ops/internal/lifecycle"
	"restaurant-ops/internal/order/app/core"
)

// jsonResponse writes the given data as a JSON-encoded HTTP response.
func jsonResponse(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// jsonError writes an error response as JSON with the specified HTTP status code.
func jsonError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
		"code":  code,
	})
}

// statusFor maps engine errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, lifecycle.ErrAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, core.ErrInvalidRequest), errors.Is(err, core.ErrFieldIsEmpty):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrStoreMismatch):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func serviceError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(int(core.RetryAfter.Seconds())))
	}
	if code == http.StatusInternalServerError {
		// internals stay in the log
		err = errors.New("internal error")
	}
	jsonError(w, code, err)
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("failed to parse JSON")
	}
	return nil
}
