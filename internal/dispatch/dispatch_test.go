package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"echohook/internal/capture"
	"echohook/internal/events"
	"echohook/internal/metrics"
	"echohook/internal/ratelimit"
	"echohook/internal/responses"
	"echohook/internal/storage"
	"echohook/internal/types"
)

const tenant = "7d0c6a4e-1b8f-4c0e-9a57-3f1d2e4b5c6a"

type testEnv struct {
	d       *Dispatcher
	db      *storage.Store
	clock   *clockwork.FakeClock
	events  *events.Broker
	metrics *metrics.Registry
}

func newTestEnv(t *testing.T, requestsPerMinute int) *testEnv {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "dispatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC))
	broker := events.NewBroker()
	reg := metrics.New()
	d := New(Deps{
		Requests:  db,
		Responses: responses.New(db, clock),
		Capturer:  capture.New(),
		Limiter: &ratelimit.Limiter{
			RequestsPerMinute: requestsPerMinute,
			Counter:           ratelimit.NewMemoryCounter(clock),
			Clock:             clock,
			Logger:            logger,
		},
		Events:  broker,
		Metrics: reg,
		Clock:   clock,
	}, logger)
	return &testEnv{d: d, db: db, clock: clock, events: broker, metrics: reg}
}

func (e *testEnv) configure(t *testing.T, in ConfigureInput) *types.ConfiguredResponse {
	t.Helper()
	rule, err := e.d.ConfigureResponse(context.Background(), tenant, in)
	require.NoError(t, err)
	return rule
}

func (e *testEnv) list(t *testing.T) []types.RequestSummary {
	t.Helper()
	now := e.clock.Now()
	out, err := e.d.ListRequests(context.Background(), tenant, now.Add(-time.Hour), now.Add(time.Hour), 0)
	require.NoError(t, err)
	return out
}

func Test_ValidateConfigure(t *testing.T) {
	valid := ConfigureInput{Path: "/hook", Body: `{"a":1}`, ContentKind: "json", StatusCode: 200}
	cases := []struct {
		name   string
		mutate func(*ConfigureInput)
		want   string
	}{
		{"empty path", func(in *ConfigureInput) { in.Path = "  " }, "Path cannot be null or whitespace."},
		{"no slash", func(in *ConfigureInput) { in.Path = "hook" }, "Path should start with a slash."},
		{"status low", func(in *ConfigureInput) { in.StatusCode = 99 }, "Status code must be between 100 and 599."},
		{"status high", func(in *ConfigureInput) { in.StatusCode = 999 }, "Status code must be between 100 and 599."},
		{"unknown kind", func(in *ConfigureInput) { in.ContentKind = "xml" }, "Invalid content type specified."},
		{"form kind", func(in *ConfigureInput) { in.ContentKind = "form" }, "Invalid content type specified."},
		{"empty json", func(in *ConfigureInput) { in.Body = " " }, "Invalid JSON body: unexpected end of JSON input"},
		{"first rule wins", func(in *ConfigureInput) { in.Path = "nope"; in.StatusCode = 999; in.ContentKind = "xml" }, "Path should start with a slash."},
		{"status before kind", func(in *ConfigureInput) { in.StatusCode = 1000; in.ContentKind = "xml" }, "Status code must be between 100 and 599."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mutate(&in)
			err := ValidateConfigure(in)
			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			require.Equal(t, tc.want, verr.Message)
		})
	}

	require.NoError(t, ValidateConfigure(valid))
	require.NoError(t, ValidateConfigure(ConfigureInput{Path: "/p", Body: "hello", ContentKind: "TEXT", StatusCode: 599}))
	require.NoError(t, ValidateConfigure(ConfigureInput{Path: "/p", Body: "<b/>", ContentKind: "html", StatusCode: 100}))
}

func Test_ValidateConfigure_invalidJSONMentionsJSON(t *testing.T) {
	err := ValidateConfigure(ConfigureInput{Path: "/hook", Body: "{not valid", ContentKind: "json", StatusCode: 200})
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "Invalid JSON body: "))
}

func Test_Dispatcher_Dispatch_configuredReply(t *testing.T) {
	e := newTestEnv(t, 0)
	e.configure(t, ConfigureInput{Path: "/hook", Body: `{"ok":true}`, ContentKind: "json", StatusCode: 201})

	r := httptest.NewRequest(http.MethodPost, "/"+tenant+"/hook", strings.NewReader(`{"x":1}`))
	r.Header.Set("Content-Type", "application/json")
	reply, err := e.d.Dispatch(context.Background(), tenant, r)
	require.NoError(t, err)
	require.Equal(t, 201, reply.StatusCode)
	require.Equal(t, "application/json; charset=utf-8", reply.ContentType)
	require.Equal(t, `{"ok":true}`, reply.Body)

	reqs := e.list(t)
	require.Len(t, reqs, 1)
	got, err := e.d.GetRequest(context.Background(), tenant, reqs[0].ID)
	require.NoError(t, err)
	require.Equal(t, "{\n  \"x\": 1\n}", got.Body)
	require.Equal(t, types.KindJSON, got.ContentKind)
	require.Equal(t, "192.0.2.1", got.ClientAddress)
	require.True(t, e.clock.Now().Equal(got.CreatedAt))
	require.Equal(t, 1.0, e.metrics.Replies.Value("configured"))
}

func Test_Dispatcher_Dispatch_defaultReply(t *testing.T) {
	e := newTestEnv(t, 0)
	reply, err := e.d.Dispatch(context.Background(), tenant, httptest.NewRequest(http.MethodGet, "/"+tenant+"/unconfigured", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, reply.StatusCode)
	require.Equal(t, DefaultReplyBody, reply.Body)
	require.Equal(t, "application/json; charset=utf-8", reply.ContentType)
	require.Len(t, e.list(t), 1)
}

func Test_Dispatcher_Dispatch_statusReplay(t *testing.T) {
	e := newTestEnv(t, 0)
	e.configure(t, ConfigureInput{Path: "/missing", Body: "gone", ContentKind: "text", StatusCode: 404})
	e.configure(t, ConfigureInput{Path: "/continue", Body: "<p>hi</p>", ContentKind: "html", StatusCode: 100})

	reply, err := e.d.Dispatch(context.Background(), tenant, httptest.NewRequest(http.MethodGet, "/"+tenant+"/MISSING", nil))
	require.NoError(t, err)
	require.Equal(t, 404, reply.StatusCode)
	require.Equal(t, "text/plain; charset=utf-8", reply.ContentType)
	require.Equal(t, "gone", reply.Body)

	reply, err = e.d.Dispatch(context.Background(), tenant, httptest.NewRequest(http.MethodGet, "/"+tenant+"/continue", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, reply.StatusCode)
	require.Equal(t, "text/html; charset=utf-8", reply.ContentType)
}

func Test_Dispatcher_Dispatch_rateLimited(t *testing.T) {
	e := newTestEnv(t, 2)
	do := func() *Reply {
		r := httptest.NewRequest(http.MethodGet, "/"+tenant+"/x", nil)
		r.Header.Set("X-Forwarded-For", "198.51.100.4")
		reply, err := e.d.Dispatch(context.Background(), tenant, r)
		require.NoError(t, err)
		return reply
	}

	require.Equal(t, http.StatusOK, do().StatusCode)
	require.Equal(t, http.StatusOK, do().StatusCode)
	denied := do()
	require.Equal(t, http.StatusTooManyRequests, denied.StatusCode)
	require.Equal(t, ratelimit.Message, denied.Body)
	require.Len(t, e.list(t), 2)

	e.clock.Advance(time.Minute)
	require.Equal(t, http.StatusOK, do().StatusCode)
	require.Equal(t, 1.0, e.metrics.RateLimited.Value(""))
}

func Test_Dispatcher_Dispatch_captureFailureStoresNothing(t *testing.T) {
	e := newTestEnv(t, 0)
	r := httptest.NewRequest(http.MethodPost, "/"+tenant+"/hook", strings.NewReader("{not json"))
	r.Header.Set("Content-Type", "application/json")

	_, err := e.d.Dispatch(context.Background(), tenant, r)
	require.ErrorIs(t, err, capture.ErrMalformedJSON)
	require.Empty(t, e.list(t))
	require.Equal(t, 1.0, e.metrics.CaptureFailures.Value("malformed_json"))

	r = httptest.NewRequest(http.MethodGet, "/"+tenant+"/hook", nil)
	r.RemoteAddr = ""
	_, err = e.d.Dispatch(context.Background(), tenant, r)
	require.ErrorIs(t, err, capture.ErrNoClientAddress)
	require.Empty(t, e.list(t))
}

func Test_Dispatcher_Dispatch_cancelledStoresNothing(t *testing.T) {
	e := newTestEnv(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.d.Dispatch(ctx, tenant, httptest.NewRequest(http.MethodGet, "/"+tenant+"/hook", nil))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, e.list(t))
}

func Test_Dispatcher_Dispatch_publishesSummary(t *testing.T) {
	e := newTestEnv(t, 0)
	feed, cancel := e.events.Subscribe(tenant)
	defer cancel()

	_, err := e.d.Dispatch(context.Background(), tenant, httptest.NewRequest(http.MethodDelete, "/"+tenant+"/item/7", nil))
	require.NoError(t, err)

	s := <-feed
	require.Equal(t, http.MethodDelete, s.Method)
	require.Equal(t, "/"+tenant+"/item/7", s.Path)
}

func Test_Dispatcher_multipartCapture(t *testing.T) {
	e := newTestEnv(t, 0)
	body := "--b\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n\r\n1\r\n" +
		"--b\r\n" +
		"Content-Disposition: form-data; name=\"upload\"; filename=\"x.txt\"\r\n" +
		"Content-Type: text/plain\r\n\r\n0123456789\r\n" +
		"--b--\r\n"
	r := httptest.NewRequest(http.MethodPost, "/"+tenant+"/upload", strings.NewReader(body))
	r.Header.Set("Content-Type", "multipart/form-data; boundary=b")

	rec, err := e.d.Capture(context.Background(), tenant, r)
	require.NoError(t, err)

	got, err := e.d.GetRequest(context.Background(), tenant, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "a=1\r\nupload=file:[x.txt,size:10,type:text/plain]", got.Body)
	require.Equal(t, types.KindForm, got.ContentKind)
}

func Test_Dispatcher_ListRequests(t *testing.T) {
	e := newTestEnv(t, 0)
	ctx := context.Background()
	for _, p := range []string{"/a", "/b", "/c"} {
		_, err := e.d.Dispatch(ctx, tenant, httptest.NewRequest(http.MethodGet, "/"+tenant+p, nil))
		require.NoError(t, err)
		e.clock.Advance(time.Second)
	}

	got := e.list(t)
	require.Len(t, got, 3)
	require.Equal(t, "/"+tenant+"/c", got[0].Path)
	require.Equal(t, "/"+tenant+"/a", got[2].Path)

	now := e.clock.Now()
	_, err := e.d.ListRequests(ctx, tenant, now, now.Add(-time.Second), 0)
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))

	_, err = e.d.GetRequest(ctx, tenant, "nope")
	require.ErrorIs(t, err, types.ErrNotFound)

	n, err := e.d.PurgeRequests(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Empty(t, e.list(t))
}

func Test_Dispatcher_responsesFacade(t *testing.T) {
	e := newTestEnv(t, 0)
	ctx := context.Background()

	first := e.configure(t, ConfigureInput{Path: "/hook", Body: `{"v":1}`, ContentKind: "json", StatusCode: 200})
	e.clock.Advance(time.Second)
	second := e.configure(t, ConfigureInput{Path: "/HOOK", Body: `{"v":2}`, ContentKind: "json", StatusCode: 202})
	require.Equal(t, first.ID, second.ID)
	require.True(t, second.LastModifiedAt.After(first.LastModifiedAt))

	_, err := e.d.ConfigureResponse(ctx, tenant, ConfigureInput{Path: "/blank", Body: "  ", ContentKind: "text", StatusCode: 200})
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))

	list, err := e.d.ListResponses(ctx, tenant)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, e.d.DeleteResponse(ctx, tenant, "/hook"))
	require.NoError(t, e.d.DeleteResponse(ctx, tenant, "/hook"))

	e.configure(t, ConfigureInput{Path: "/a", Body: "a", ContentKind: "text", StatusCode: 200})
	n, err := e.d.PurgeResponses(ctx, tenant)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
