package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://mout.cime.es/ParkingsPlatges.aspx", "mout.cime.es"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestRecorderObserveExtraction(t *testing.T) {
	r := New()
	r.ObserveExtraction(parking.Extraction{
		Containers: 4,
		Records:    []parking.Record{{BeachName: "a", Status: "b"}, {BeachName: "c", Status: "d"}},
		Skipped: []parking.SkippedContainer{
			{Index: 2, Reason: "missing status"},
			{Index: 3, Reason: "missing status"},
		},
	})
	r.ObserveWritten(2)
	r.ObserveWritten(0)

	assert.InDelta(t, 4, testutil.ToFloat64(r.containersSeen), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(r.recordsExtracted), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(r.recordsWritten), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(r.containersSkipped.WithLabelValues("missing status")), 0)
}

func TestRecorderObserveOutcome(t *testing.T) {
	r := New()
	at := time.Date(2025, 7, 4, 10, 0, 0, 0, time.UTC)

	r.ObserveStage(StageFetch, 1500*time.Millisecond)
	r.ObserveOutcome(nil, at)
	assert.InDelta(t, 1.5, testutil.ToFloat64(r.stageDuration.WithLabelValues(StageFetch)), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(r.runOutcome.WithLabelValues(OutcomeSuccess)), 0)
	assert.InDelta(t, float64(at.Unix()), testutil.ToFloat64(r.lastSuccess), 0)

	r.ObserveOutcome(errors.New("boom"), at.Add(time.Hour))
	assert.InDelta(t, 1, testutil.ToFloat64(r.runOutcome.WithLabelValues(OutcomeFailure)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(r.runOutcome.WithLabelValues(OutcomeSuccess)), 0)
	assert.InDelta(t, float64(at.Unix()), testutil.ToFloat64(r.lastSuccess), 0)
}

func TestPusherPush(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		mu.Lock()
		path = req.URL.Path
		body = string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	r := New()
	r.ObserveWritten(3)

	p, err := NewPusher(srv.URL, "beach_parking_monitor", time.Second)
	require.NoError(t, err)
	require.NoError(t, p.Push(context.Background(), r, "http://mout.cime.es/ParkingsPlatges.aspx"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/metrics/job/beach_parking_monitor/site/mout.cime.es", path)
	assert.NotEmpty(t, body)
}

func TestPusherPushServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p, err := NewPusher(srv.URL, "job", time.Second)
	require.NoError(t, err)
	err = p.Push(context.Background(), New(), "http://example.com")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "push metrics"))
}

func TestNewPusherValidates(t *testing.T) {
	_, err := NewPusher("", "job", 0)
	require.Error(t, err)
	_, err = NewPusher("http://gw", " ", 0)
	require.Error(t, err)
}

func TestPusherPushStalledGatewayTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, req *http.Request) {
		select {
		case <-release:
		case <-req.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	p, err := NewPusher(srv.URL, "job", 100*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	err = p.Push(context.Background(), New(), "http://example.com")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
