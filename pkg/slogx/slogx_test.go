package slogx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aussiebroadwan/tabsession/pkg/idx"
	"github.com/aussiebroadwan/tabsession/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestFromContext(t *testing.T) {
	require.Equal(t, slog.Default(), slogx.FromContext(context.Background()))

	logger, _ := bufferLogger()
	ctx := slogx.WithContext(context.Background(), logger)
	require.Equal(t, logger, slogx.FromContext(ctx))
}

func TestTransportAddsRequestID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen", r.Header.Get(slogx.HeaderRequestID))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	logger, buf := bufferLogger()
	client := &http.Client{Transport: slogx.Transport(logger, nil)}

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/thing", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	seen := resp.Header.Get("X-Seen")

	_, err = idx.Parse(seen)
	require.NoError(t, err)
	require.Empty(t, req.Header.Get(slogx.HeaderRequestID))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "http_request", entry["msg"])
	require.Equal(t, seen, entry["req_id"])
	require.Equal(t, "/api/thing", entry["path"])
	require.EqualValues(t, http.StatusAccepted, entry["status"])
}

func TestTransportKeepsRequestID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen", r.Header.Get(slogx.HeaderRequestID))
	}))
	defer ts.Close()

	logger, _ := bufferLogger()
	client := &http.Client{Transport: slogx.Transport(logger, nil)}

	req, err := http.NewRequest(http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	req.Header.Set(slogx.HeaderRequestID, "caller-id")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, "caller-id", resp.Header.Get("X-Seen"))
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestTransportLogsFailures(t *testing.T) {
	logger, buf := bufferLogger()
	rt := slogx.Transport(logger, failingTransport{})

	req, err := http.NewRequest(http.MethodPost, "http://example.invalid/x", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.Error(t, err)

	require.True(t, strings.Contains(buf.String(), `"level":"WARN"`))
	require.Contains(t, buf.String(), "http_request_failed")
}

func TestNewWritesToOutput(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{
		Service: "tabsession",
		Version: "test",
		Env:     "test",
		Level:   "warn",
		Format:  "json",
		Output:  &buf,
	})

	logger.Info("dropped")
	logger.Warn("kept", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "kept", rec["msg"])
	require.Equal(t, "tabsession", rec["service"])
	require.Equal(t, "v", rec["k"])
	require.Equal(t, logger, slog.Default())
}
