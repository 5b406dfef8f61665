package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/beach-parking-monitor/internal/extract"
	"github.com/JakeFAU/beach-parking-monitor/internal/metrics"
	"github.com/JakeFAU/beach-parking-monitor/internal/parking"
	"github.com/JakeFAU/beach-parking-monitor/internal/publisher/memory"
	sinkmemory "github.com/JakeFAU/beach-parking-monitor/internal/sink/memory"
	blobmemory "github.com/JakeFAU/beach-parking-monitor/internal/storage/memory"
)

const sourceURL = "http://mout.cime.es/ParkingsPlatges.aspx"

var runAt = time.Date(2025, 7, 4, 9, 30, 15, 123456000, time.UTC)

const twoContainerPage = `<html><body>
<div class="PLA_linia">
  <span id="ctl00_Content1_LabelPlatja1">Platja X</span>
  <span id="ctl00_Content1_lbEstat1">Tancada</span>
</div>
<div class="PLA_linia">
  <span id="ctl00_Content1_lbEstat2">Oberta</span>
</div>
</body></html>`

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (parking.RawPage, error) {
	args := m.Called(ctx, url)
	return args.Get(0).(parking.RawPage), args.Error(1)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixedIDs struct {
	id  string
	err error
}

func (f fixedIDs) NewID() (string, error) { return f.id, f.err }

type fakeHasher struct{}

func (fakeHasher) Hash([]byte) (string, error) { return "abc123", nil }

type recordingSummary struct {
	mu      sync.Mutex
	results []parking.RunResult
}

func (s *recordingSummary) Append(res parking.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

type recordingPusher struct {
	calls int
	err   error
}

func (p *recordingPusher) Push(context.Context, *metrics.Recorder, string) error {
	p.calls++
	return p.err
}

func newExtractor() *extract.Extractor {
	return extract.New(extract.IDSubstringMatcher{
		ContainerSelector: "div.PLA_linia",
		NodeSelector:      "span",
		NameToken:         "Content1_Label",
		StatusToken:       "Content1_lb",
		StatusExclude:     "Label",
	}, fixedClock{runAt}, zap.NewNop())
}

func pageFetcher(body string) *mockFetcher {
	f := &mockFetcher{}
	f.On("Fetch", mock.Anything, sourceURL).Return(parking.RawPage{
		URL:        sourceURL,
		StatusCode: 200,
		Body:       []byte(body),
		FetchedAt:  runAt,
	}, nil).Once()
	return f
}

func openerFor(sink parking.Sink) (SinkOpener, *int) {
	opened := 0
	return func(context.Context) (parking.Sink, error) {
		opened++
		return sink, nil
	}, &opened
}

func newDriver(t *testing.T, deps Deps) *Driver {
	t.Helper()
	if deps.Extractor == nil {
		deps.Extractor = newExtractor()
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock{runAt}
	}
	if deps.IDs == nil {
		deps.IDs = fixedIDs{id: "run-1"}
	}
	d, err := New(deps, Config{SourceURL: sourceURL, ArchivePrefix: "pages"}, zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestRunPersistsOneBatch(t *testing.T) {
	sink := sinkmemory.New()
	open, opened := openerFor(sink)
	var stdout bytes.Buffer
	fetcher := pageFetcher(twoContainerPage)

	d := newDriver(t, Deps{Fetcher: fetcher, OpenSink: open, Stdout: &stdout})
	res, err := d.Run(context.Background(), Options{Persist: true})
	require.NoError(t, err)

	want := []parking.Record{{Timestamp: "2025-07-04T09:30:15.123456Z", BeachName: "Platja X", Status: "Tancada"}}
	assert.Equal(t, want, res.Records)
	assert.True(t, res.Persisted)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, *opened)
	require.Len(t, sink.Batches(), 1)
	assert.Equal(t, want, sink.Batches()[0])
	assert.Empty(t, stdout.String())
	fetcher.AssertExpectations(t)
}

func TestRunNoDBEmitsJSON(t *testing.T) {
	sink := sinkmemory.New()
	open, opened := openerFor(sink)
	var stdout bytes.Buffer

	d := newDriver(t, Deps{Fetcher: pageFetcher(twoContainerPage), OpenSink: open, Stdout: &stdout})
	res, err := d.Run(context.Background(), Options{Persist: false})
	require.NoError(t, err)
	assert.False(t, res.Persisted)
	assert.Zero(t, *opened)

	var got []map[string]string
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Platja X", got[0]["Beach"])
	assert.Equal(t, "Tancada", got[0]["Status"])
	assert.Equal(t, "2025-07-04T09:30:15.123456Z", got[0]["Date"])
}

func TestRunPersistAndJSON(t *testing.T) {
	var stdout bytes.Buffer
	open, _ := openerFor(sinkmemory.New())

	d := newDriver(t, Deps{Fetcher: pageFetcher(twoContainerPage), OpenSink: open, Stdout: &stdout})
	_, err := d.Run(context.Background(), Options{Persist: true, EmitJSON: true})
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), `"Beach": "Platja X"`)
}

func TestRunFetchFailure(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("Fetch", mock.Anything, sourceURL).
		Return(parking.RawPage{}, fmt.Errorf("%w: unexpected status code: 503", parking.ErrTransport))
	sink := sinkmemory.New()
	open, opened := openerFor(sink)

	d := newDriver(t, Deps{Fetcher: fetcher, OpenSink: open})
	res, err := d.Run(context.Background(), Options{Persist: true})
	require.ErrorIs(t, err, parking.ErrTransport)
	assert.ErrorIs(t, res.Err, parking.ErrTransport)
	assert.Zero(t, *opened)
}

func TestRunEmptyExtractionFails(t *testing.T) {
	sink := sinkmemory.New()
	open, opened := openerFor(sink)
	var stdout bytes.Buffer
	summary := &recordingSummary{}

	d := newDriver(t, Deps{
		Fetcher:  pageFetcher(`<html><div class="PLA_linia"><span id="x">?</span></div></html>`),
		OpenSink: open,
		Stdout:   &stdout,
		Summary:  summary,
	})
	_, err := d.Run(context.Background(), Options{Persist: true, EmitJSON: true})
	require.ErrorIs(t, err, parking.ErrExtractionEmpty)
	assert.Zero(t, *opened)
	assert.Empty(t, stdout.String())
	assert.Empty(t, summary.results)
}

func TestRunZeroConfirmedRowsIsPersistenceFailure(t *testing.T) {
	sink := sinkmemory.New(sinkmemory.WithConfirmed(func(int) int { return 0 }))
	open, _ := openerFor(sink)
	var stdout bytes.Buffer

	d := newDriver(t, Deps{Fetcher: pageFetcher(twoContainerPage), OpenSink: open, Stdout: &stdout})
	res, err := d.Run(context.Background(), Options{Persist: true, EmitJSON: true})
	require.ErrorIs(t, err, parking.ErrPersistence)
	assert.False(t, res.Persisted)
	assert.Empty(t, stdout.String())
}

func TestRunSinkErrorIsPersistenceFailure(t *testing.T) {
	boom := errors.New("connection refused")
	open, _ := openerFor(sinkmemory.New(sinkmemory.WithError(boom)))

	d := newDriver(t, Deps{Fetcher: pageFetcher(twoContainerPage), OpenSink: open})
	_, err := d.Run(context.Background(), Options{Persist: true})
	require.ErrorIs(t, err, parking.ErrPersistence)
	require.ErrorIs(t, err, boom)
}

func TestRunMissingCredentials(t *testing.T) {
	open := func(context.Context) (parking.Sink, error) {
		return nil, fmt.Errorf("%w: SUPABASE_URL and SUPABASE_KEY must be set", parking.ErrMissingCredentials)
	}

	d := newDriver(t, Deps{Fetcher: pageFetcher(twoContainerPage), OpenSink: open})
	_, err := d.Run(context.Background(), Options{Persist: true})
	require.ErrorIs(t, err, parking.ErrPersistence)
	require.ErrorIs(t, err, parking.ErrMissingCredentials)
}

func TestRunSideChannels(t *testing.T) {
	archive := blobmemory.NewBlobStore()
	pub := memory.New()
	summary := &recordingSummary{}
	pusher := &recordingPusher{}
	rec := metrics.New()
	open, _ := openerFor(sinkmemory.New())

	d := newDriver(t, Deps{
		Fetcher:   pageFetcher(twoContainerPage),
		OpenSink:  open,
		Hasher:    fakeHasher{},
		Archive:   archive,
		Publisher: pub,
		Summary:   summary,
		Metrics:   rec,
		Pusher:    pusher,
	})
	res, err := d.Run(context.Background(), Options{Persist: true})
	require.NoError(t, err)

	assert.Equal(t, "abc123", res.PageHash)
	assert.Equal(t, "memory://pages/2025/07/04/run-1.html", res.PageURI)
	stored, ok := archive.Object("pages/2025/07/04/run-1.html")
	require.True(t, ok)
	assert.Equal(t, twoContainerPage, string(stored))

	require.Len(t, summary.results, 1)
	assert.Equal(t, []string{"Platja X"}, summary.results[0].Beaches())

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	note, ok := msgs[0].(RunNotification)
	require.True(t, ok)
	assert.Equal(t, "run-1", note.RunID)
	assert.Equal(t, "abc123", note.PageSHA256)
	assert.True(t, note.Persisted)

	assert.Equal(t, 1, pusher.calls)
	count, err := testutil.GatherAndCount(rec.Registry(), "parking_records_written_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunSideChannelFailuresAreNonFatal(t *testing.T) {
	pub := memory.New()
	pub.FailWith(errors.New("topic gone"))
	pusher := &recordingPusher{err: errors.New("gateway down")}
	open, _ := openerFor(sinkmemory.New())

	d := newDriver(t, Deps{
		Fetcher:   pageFetcher(twoContainerPage),
		OpenSink:  open,
		Publisher: pub,
		Pusher:    pusher,
	})
	_, err := d.Run(context.Background(), Options{Persist: true})
	require.NoError(t, err)
	assert.Equal(t, 1, pusher.calls)
}

func TestRunPushesMetricsOnFailure(t *testing.T) {
	pusher := &recordingPusher{}
	d := newDriver(t, Deps{Fetcher: pageFetcher("<html></html>"), Pusher: pusher})
	_, err := d.Run(context.Background(), Options{})
	require.ErrorIs(t, err, parking.ErrExtractionEmpty)
	assert.Equal(t, 1, pusher.calls)
}

func TestRunIDFailure(t *testing.T) {
	d := newDriver(t, Deps{Fetcher: &mockFetcher{}, IDs: fixedIDs{err: errors.New("entropy")}})
	_, err := d.Run(context.Background(), Options{})
	require.ErrorContains(t, err, "generate run id")
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Deps{}, Config{SourceURL: sourceURL}, nil)
	require.Error(t, err)

	_, err = New(Deps{
		Fetcher:   &mockFetcher{},
		Extractor: newExtractor(),
		Clock:     fixedClock{runAt},
		IDs:       fixedIDs{id: "x"},
	}, Config{}, nil)
	require.ErrorContains(t, err, "source url")
}

func TestRunRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	open, _ := openerFor(sinkmemory.New(sinkmemory.WithConfirmed(func(int) int { return 0 })))
	d := newDriver(t, Deps{Fetcher: pageFetcher(twoContainerPage), OpenSink: open})
	_, err := d.Run(context.Background(), Options{Persist: true})
	require.ErrorIs(t, err, parking.ErrPersistence)

	names := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range sr.Ended() {
		names[s.Name()] = s
	}
	require.Contains(t, names, "parking.fetch")
	require.Contains(t, names, "parking.persist")
	require.Contains(t, names, "parking.run")
	assert.Equal(t, codes.Error, names["parking.run"].Status().Code)
	assert.Equal(t, names["parking.run"].SpanContext().TraceID(), names["parking.fetch"].Parent().TraceID())
}

type stalledPusher struct {
	err chan error
}

func (p *stalledPusher) Push(ctx context.Context, _ *metrics.Recorder, _ string) error {
	<-ctx.Done()
	p.err <- ctx.Err()
	return ctx.Err()
}

func TestRunMetricsPushIsBounded(t *testing.T) {
	pusher := &stalledPusher{err: make(chan error, 1)}
	d, err := New(Deps{
		Fetcher:   pageFetcher(twoContainerPage),
		Extractor: newExtractor(),
		Clock:     fixedClock{runAt},
		IDs:       fixedIDs{id: "run-1"},
		Pusher:    pusher,
	}, Config{SourceURL: sourceURL, PushTimeout: 100 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, runErr := d.Run(ctx, Options{})
		done <- runErr
	}()

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(3 * time.Second):
		t.Fatal("Run blocked on a stalled metrics push")
	}
	require.ErrorIs(t, <-pusher.err, context.DeadlineExceeded)
}

func TestRunNoDBWithJSONFlagPrintsOnce(t *testing.T) {
	sink := sinkmemory.New()
	open, opened := openerFor(sink)
	var stdout bytes.Buffer

	d := newDriver(t, Deps{Fetcher: pageFetcher(twoContainerPage), OpenSink: open, Stdout: &stdout})
	res, err := d.Run(context.Background(), Options{Persist: false, EmitJSON: true})
	require.NoError(t, err)
	assert.False(t, res.Persisted)
	assert.Zero(t, *opened)

	dec := json.NewDecoder(&stdout)
	var got []parking.Record
	require.NoError(t, dec.Decode(&got))
	assert.Equal(t, res.Records, got)
	assert.False(t, dec.More(), "JSON array printed more than once")
}

func TestRunEmptyExtractionLogsRunID(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	d, err := New(Deps{
		Fetcher:   pageFetcher(`<html><div class="PLA_linia"><span id="x">?</span></div></html>`),
		Extractor: newExtractor(),
		Clock:     fixedClock{runAt},
		IDs:       fixedIDs{id: "run-7"},
	}, Config{SourceURL: sourceURL}, zap.New(core))
	require.NoError(t, err)

	_, err = d.Run(context.Background(), Options{})
	require.ErrorIs(t, err, parking.ErrExtractionEmpty)

	entries := logs.FilterMessage("No parking data found").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "run-7", entries[0].ContextMap()["run_id"])
}
