package data

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/savid/iptv-epg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

const sampleGuide = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="tvguide.local5"><display-name>Local 5</display-name></channel>
  <programme start="20250716230000 +0000" stop="20250717000000 +0000" channel="tvguide.local5"><title>News</title></programme>
</tv>
`

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.FetchTimeout = 2 * time.Second
	return cfg
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func xzBytes(t *testing.T, s string) []byte {
	t.Helper()

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = xw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, xw.Close())
	return buf.Bytes()
}

// newGuideServer serves the sample guide in several encodings plus a few
// failure modes.
func newGuideServer(t *testing.T) *httptest.Server {
	t.Helper()

	gz := gzipBytes(t, sampleGuide)
	xzData := xzBytes(t, sampleGuide)

	mux := http.NewServeMux()
	mux.HandleFunc("/guide.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleGuide))
	})
	mux.HandleFunc("/guide.xml.gz", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "identity" {
			http.Error(w, "expected identity encoding", http.StatusBadRequest)
			return
		}
		_, _ = w.Write(gz)
	})
	mux.HandleFunc("/guide.xml.xz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(xzData)
	})
	mux.HandleFunc("/broken.xml.gz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("this is not gzip"))
	})
	mux.HandleFunc("/truncated.xml.gz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(gz[:len(gz)/2])
	})
	mux.HandleFunc("/missing.xml", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/r1", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/r2", http.StatusFound)
	})
	mux.HandleFunc("/r2", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/guide.xml", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/nolocation", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/slow.xml", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
			_, _ = w.Write([]byte(sampleGuide))
		case <-r.Context().Done():
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchSource(t *testing.T) {
	server := newGuideServer(t)
	fetcher := NewFetcher(testConfig(), quietLogger())

	tests := []struct {
		name string
		path string
	}{
		{"plain", "/guide.xml"},
		{"gzip", "/guide.xml.gz"},
		{"xz", "/guide.xml.xz"},
		{"redirect chain", "/r1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := fetcher.FetchSource(context.Background(), server.URL+tt.path)
			require.NoError(t, err)
			assert.Equal(t, sampleGuide, doc)
		})
	}
}

func TestFetchSourceErrors(t *testing.T) {
	server := newGuideServer(t)

	tests := []struct {
		name    string
		path    string
		mutate  func(cfg *config.Config)
		wantErr error
		wantMsg string
	}{
		{name: "not found", path: "/missing.xml", wantErr: ErrUnexpectedStatus},
		{name: "redirect without location", path: "/nolocation", wantErr: ErrUnexpectedStatus},
		{name: "redirect loop", path: "/loop", wantErr: ErrTooManyRedirects},
		{
			name:    "redirect limit",
			path:    "/r1",
			mutate:  func(cfg *config.Config) { cfg.MaxRedirects = 1 },
			wantErr: ErrTooManyRedirects,
		},
		{name: "not gzip", path: "/broken.xml.gz", wantMsg: "gzip"},
		{name: "truncated gzip", path: "/truncated.xml.gz", wantMsg: "failed to read guide body"},
		{
			name:    "body too large",
			path:    "/guide.xml",
			mutate:  func(cfg *config.Config) { cfg.MaxBodyBytes = 16 },
			wantErr: ErrBodyTooLarge,
		},
		{
			name:    "timeout",
			path:    "/slow.xml",
			mutate:  func(cfg *config.Config) { cfg.FetchTimeout = 50 * time.Millisecond },
			wantErr: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			_, err := NewFetcher(cfg, quietLogger()).FetchSource(context.Background(), server.URL+tt.path)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestFetchFallsThroughSources(t *testing.T) {
	server := newGuideServer(t)
	fetcher := NewFetcher(testConfig(), quietLogger())

	sources := []string{
		server.URL + "/missing.xml",
		server.URL + "/broken.xml.gz",
		server.URL + "/guide.xml.gz",
		server.URL + "/guide.xml",
	}

	result, err := fetcher.Fetch(context.Background(), sources)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/guide.xml.gz", result.Source)
	assert.Equal(t, sampleGuide, result.Document)
}

func TestFetchStopsAtFirstSuccess(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(sampleGuide))
	}))
	defer server.Close()

	fetcher := NewFetcher(testConfig(), quietLogger())

	result, err := fetcher.Fetch(context.Background(), []string{server.URL + "/a.xml", server.URL + "/b.xml"})
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/a.xml", result.Source)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchAllSourcesFail(t *testing.T) {
	server := newGuideServer(t)
	fetcher := NewFetcher(testConfig(), quietLogger())

	_, err := fetcher.Fetch(context.Background(), []string{
		server.URL + "/missing.xml",
		server.URL + "/loop",
		"http://127.0.0.1:1/unreachable.xml",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSourceAvailable)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.ErrorIs(t, err, ErrTooManyRedirects)
	assert.True(t, strings.Contains(err.Error(), "/missing.xml"), "error names the failing source")

	_, err = fetcher.Fetch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSourceAvailable)
}

func TestFetchInvalidURL(t *testing.T) {
	fetcher := NewFetcher(testConfig(), quietLogger())

	_, err := fetcher.Fetch(context.Background(), []string{"://bad"})
	assert.ErrorIs(t, err, ErrNoSourceAvailable)
}

func TestCompressionFor(t *testing.T) {
	tests := []struct {
		source   string
		expected Compression
	}{
		{"http://example.com/guide.xml", CompressionNone},
		{"http://example.com/guide.xml.gz", CompressionGzip},
		{"http://example.com/guide.XML.GZ", CompressionGzip},
		{"http://example.com/guide.xml.gz?token=abc", CompressionGzip},
		{"http://example.com/guide.xml.xz", CompressionXZ},
		{"http://example.com/gz", CompressionNone},
		{"http://example.com/guide?format=.gz", CompressionNone},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.expected, CompressionFor(tt.source))
		})
	}

	assert.Equal(t, "gzip", CompressionGzip.String())
	assert.Equal(t, "xz", CompressionXZ.String())
	assert.Equal(t, "none", CompressionNone.String())
}
