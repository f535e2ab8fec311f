package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definitions = `
transformations:
  - name: greet
    steps:
      - name: gen
        type: generate_rows
        options:
          limit: 3
          fields:
            - name: greeting
              type: string
              value: ${GREETING}
      - name: upper
        type: string_operations
        options:
          operations:
            - field: greeting
              case: upper
      - name: collect
        type: rows_to_result
    hops:
      - from: gen
        to: upper
      - from: upper
        to: collect
---
jobs:
  - name: daily
    entries:
      - name: begin
        type: start
      - name: run
        type: trans
        options:
          trans: greet
      - name: done
        type: success
    hops:
      - from: begin
        to: run
      - from: run
        to: done
        condition: success
  - name: doomed
    entries:
      - name: begin
        type: start
      - name: stop
        type: abort
        options:
          message: no data today
    hops:
      - from: begin
        to: stop
`

func writeDefinitions(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "defs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(definitions), 0o644))
	return path
}

func TestApp_RunJob(t *testing.T) {
	cfg, err := NewConfig(Config{Paths: []string{writeDefinitions(t)}, Job: "daily", Params: map[string]string{"GREETING": "hi"}})
	require.NoError(t, err)

	a, logs := SetupAppTest(t, cfg)
	require.NoError(t, a.Run(context.Background()))
	assert.Contains(t, logs.String(), "🏁 Run finished.")
	assert.Contains(t, logs.String(), "result_rows=3")
}

func TestApp_RunTransformation(t *testing.T) {
	cfg, err := NewConfig(Config{Paths: []string{writeDefinitions(t)}, Trans: "greet", Params: map[string]string{"GREETING": "hi"}})
	require.NoError(t, err)

	a, logs := SetupAppTest(t, cfg)
	require.NoError(t, a.Run(context.Background()))
	assert.Contains(t, logs.String(), "written=")
}

func TestApp_RunJobFailure(t *testing.T) {
	cfg, err := NewConfig(Config{Paths: []string{writeDefinitions(t)}, Job: "doomed"})
	require.NoError(t, err)

	a, _ := SetupAppTest(t, cfg)
	runErr := a.Run(context.Background())

	var re *RunError
	require.True(t, errors.As(runErr, &re), "expected a RunError, got %v", runErr)
	assert.Equal(t, "job", re.Kind)
	assert.Equal(t, 1, re.ExitCode())
	assert.Contains(t, runErr.Error(), "no data today")
}

func TestApp_UnknownJob(t *testing.T) {
	cfg, err := NewConfig(Config{Paths: []string{writeDefinitions(t)}, Job: "missing"})
	require.NoError(t, err)

	a, _ := SetupAppTest(t, cfg)
	assert.Error(t, a.Run(context.Background()))
}

func TestStatusRouter(t *testing.T) {
	cfg, err := NewConfig(Config{Paths: []string{writeDefinitions(t)}, Job: "daily", Params: map[string]string{"GREETING": "hi"}})
	require.NoError(t, err)
	a, _ := SetupAppTest(t, cfg)
	require.NoError(t, a.Run(context.Background()))

	srv := httptest.NewServer(a.statusRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	var board statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&board))
	resp.Body.Close()
	assert.Empty(t, board.Active)
	require.NotEmpty(t, board.Finished)

	var names []string
	for _, st := range board.Finished {
		names = append(names, st.Name)
	}
	assert.Contains(t, names, "daily")
	assert.Contains(t, names, "greet")

	resp, err = http.Get(srv.URL + "/status/" + board.Finished[0].ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewConfig(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "valid", cfg: Config{Paths: []string{"x"}, Job: "j"}},
		{name: "no paths", cfg: Config{Job: "j"}, wantErr: "at least one definition path"},
		{name: "both", cfg: Config{Paths: []string{"x"}, Job: "j", Trans: "t"}, wantErr: "exactly one"},
		{name: "neither", cfg: Config{Paths: []string{"x"}}, wantErr: "exactly one"},
		{name: "rowset", cfg: Config{Paths: []string{"x"}, Job: "j", RowSetSize: -1}, wantErr: "rowset size"},
		{name: "port", cfg: Config{Paths: []string{"x"}, Job: "j", StatusPort: 70000}, wantErr: "invalid status port"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConfig(tc.cfg)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestParseParam(t *testing.T) {
	k, v, err := ParseParam("A=b=c")
	require.NoError(t, err)
	assert.Equal(t, "A", k)
	assert.Equal(t, "b=c", v)

	_, _, err = ParseParam("novalue")
	assert.Error(t, err)
}
