package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"echohook/internal/capture"
	"echohook/internal/metrics"
	"echohook/internal/types"
)

const tenant = "7d0c6a4e-1b8f-4c0e-9a57-3f1d2e4b5c6a"

type fakeRecorder struct {
	capturer *capture.Capturer
	err      error

	mu  sync.Mutex
	got []*types.CapturedRequest
}

func (f *fakeRecorder) Capture(ctx context.Context, tenantID string, r *http.Request) (*types.CapturedRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	res, err := f.capturer.Capture(ctx, r)
	if err != nil {
		return nil, err
	}
	rec := res.Record("id-1", tenantID)
	f.mu.Lock()
	f.got = append(f.got, rec)
	f.mu.Unlock()
	return rec, nil
}

func newClient(t *testing.T, p *Proxy) *http.Client {
	t.Helper()
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	proxyURL, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("upstream saw " + string(b)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestProxy_recordsAndForwards(t *testing.T) {
	upstream := newUpstream(t)
	rec := &fakeRecorder{capturer: capture.New()}
	reg := metrics.New()
	client := newClient(t, NewProxy(tenant, rec, reg, discard()))

	resp, err := client.Post(upstream.URL+"/orders?x=1", "text/plain", strings.NewReader("payload"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "upstream saw payload", string(body))

	require.Len(t, rec.got, 1)
	require.Equal(t, tenant, rec.got[0].TenantID)
	require.Equal(t, "/orders", rec.got[0].Path)
	require.Equal(t, "?x=1", rec.got[0].QueryString)
	require.Equal(t, "payload", rec.got[0].Body)
	require.Equal(t, 1.0, reg.Proxied.Value(""))
}

func TestProxy_forwardsWhenRecordingFails(t *testing.T) {
	upstream := newUpstream(t)
	rec := &fakeRecorder{err: errors.New("store down")}
	client := newClient(t, NewProxy(tenant, rec, nil, discard()))

	resp, err := client.Post(upstream.URL, "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestProxy_rejectsOversizeBody(t *testing.T) {
	upstream := newUpstream(t)
	rec := &fakeRecorder{capturer: capture.New(capture.WithMaxBodyBytes(4))}
	client := newClient(t, NewProxy(tenant, rec, nil, discard()))

	resp, err := client.Post(upstream.URL, "text/plain", strings.NewReader("too large"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.Empty(t, rec.got)
}

func TestProxy_nonProxyRequest(t *testing.T) {
	rec := &fakeRecorder{capturer: capture.New()}
	srv := httptest.NewServer(NewProxy(tenant, rec, nil, discard()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/direct")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Empty(t, rec.got)
}
