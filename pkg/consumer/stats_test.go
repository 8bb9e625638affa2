package consumer

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthHandler(t *testing.T) {
	handler := &HealthHandler{checks: map[string]func(ctx context.Context) error{
		"redis": func(context.Context) error { return nil },
	}}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, recorder.Code)
	assert.Equal(t, "OK", recorder.Body.String())

	handler.checks["mongo"] = func(context.Context) error { return errors.New("no reachable servers") }

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 500, recorder.Code)
	assert.Equal(t, "mongo: no reachable servers", recorder.Body.String())
}
