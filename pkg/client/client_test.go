package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *Client, map[string]int) {
	t.Helper()
	hits := make(map[string]int)
	mux := http.NewServeMux()
	mux.HandleFunc("/unitherd/status", func(w http.ResponseWriter, r *http.Request) {
		hits["status"]++
		_ = json.NewEncoder(w).Encode([]UnitStatus{
			{Name: "web", Pid: 1234, Running: true},
			{Name: "worker", Hint: "(error in log)"},
		})
	})
	mux.HandleFunc("/unitherd/units/start", func(w http.ResponseWriter, r *http.Request) {
		hits["start:"+r.URL.Query().Get("name")]++
		if r.URL.Query().Get("name") == "nope" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: `unknown unit "nope"`})
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/unitherd/logs", func(w http.ResponseWriter, r *http.Request) {
		hits["logs"]++
		_ = json.NewEncoder(w).Encode(LogsResponse{
			Unit:  r.URL.Query().Get("name"),
			Lines: []string{"line one", "line two"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := New(Config{BaseURL: srv.URL + "/unitherd", Timeout: 2 * time.Second})
	return srv, c, hits
}

func TestStatus(t *testing.T) {
	_, c, _ := newTestServer(t)
	rows, err := c.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "web", rows[0].Name)
	assert.True(t, rows[0].Running)
	assert.Equal(t, "(error in log)", rows[1].Hint)
}

func TestStartPassesName(t *testing.T) {
	_, c, hits := newTestServer(t)
	require.NoError(t, c.Start(context.Background(), "web"))
	assert.Equal(t, 1, hits["start:web"])

	// Empty name means start-all on the server side.
	require.NoError(t, c.Start(context.Background(), ""))
	assert.Equal(t, 1, hits["start:"])
}

func TestAPIErrorSurfaced(t *testing.T) {
	_, c, _ := newTestServer(t)
	err := c.Start(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, `API error: unknown unit "nope"`, err.Error())
}

func TestLogs(t *testing.T) {
	_, c, _ := newTestServer(t)
	lines, err := c.Logs(context.Background(), "web", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"line one", "line two"}, lines)
}

func TestIsReachable(t *testing.T) {
	srv, c, _ := newTestServer(t)
	assert.True(t, c.IsReachable(context.Background()))
	srv.Close()
	assert.False(t, c.IsReachable(context.Background()))
}
