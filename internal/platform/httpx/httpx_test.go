package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/loadgen/internal/shared"
)

func TestJSONWritesStatusAndBody(t *testing.T) {
	rr := httptest.NewRecorder()
	JSON(rr, http.StatusCreated, map[string]string{"status": "ok"})

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{name: "not found", err: fmt.Errorf("worker 9: %w", ErrNotFound), status: http.StatusNotFound, detail: "worker 9: resource not found"},
		{name: "configuration", err: fmt.Errorf("%w: bad thread", shared.ErrConfiguration), status: http.StatusBadRequest, detail: "configuration error: bad thread"},
		{name: "other", err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, tc.err)

			require.Equal(t, tc.status, rr.Code)
			assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
			var problem ProblemDetail
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
			assert.Equal(t, tc.status, problem.Status)
			assert.Equal(t, tc.detail, problem.Detail)
		})
	}
}
