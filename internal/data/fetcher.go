// Package data fetches remote guides and drives guide generation runs.
package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/savid/iptv-epg/config"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

var (
	// ErrUnexpectedStatus is returned when the HTTP response has an unexpected status code.
	ErrUnexpectedStatus = errors.New("unexpected status code")
	// ErrTooManyRedirects is returned when a source redirects more than the configured limit.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrBodyTooLarge is returned when a decompressed guide exceeds the size limit.
	ErrBodyTooLarge = errors.New("guide exceeds size limit")
	// ErrNoSourceAvailable is returned when every guide source failed.
	ErrNoSourceAvailable = errors.New("no guide source available")
)

const userAgent = "iptv-epg/1.0"

// Compression is the encoding of a guide payload, chosen by URL suffix.
type Compression int

const (
	// CompressionNone is a plain-text guide.
	CompressionNone Compression = iota
	// CompressionGzip is a .gz guide.
	CompressionGzip
	// CompressionXZ is a .xz guide.
	CompressionXZ
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionXZ:
		return "xz"
	default:
		return "none"
	}
}

// CompressionFor returns the compression implied by the path of source.
func CompressionFor(source string) Compression {
	p := source
	if u, err := url.Parse(source); err == nil {
		p = u.Path
	}

	switch strings.ToLower(path.Ext(p)) {
	case ".gz":
		return CompressionGzip
	case ".xz":
		return CompressionXZ
	default:
		return CompressionNone
	}
}

// FetchResult is the first guide that could be retrieved and decoded.
type FetchResult struct {
	Source   string
	Document string
}

// Fetcher retrieves guide documents from remote sources.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	maxBody int64
	logger  *logrus.Logger
}

// NewFetcher creates a new fetcher instance.
func NewFetcher(cfg *config.Config, logger *logrus.Logger) *Fetcher {
	maxRedirects := cfg.MaxRedirects

	return &Fetcher{
		client: &http.Client{
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("%w: limit %d", ErrTooManyRedirects, maxRedirects)
				}
				return nil
			},
		},
		timeout: cfg.FetchTimeout,
		maxBody: cfg.MaxBodyBytes,
		logger:  logger,
	}
}

// Fetch tries sources in order, one at a time, and returns the first one
// that succeeds. A failing source is logged and skipped. When every source
// fails the error wraps ErrNoSourceAvailable.
func (f *Fetcher) Fetch(ctx context.Context, sources []string) (*FetchResult, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources configured", ErrNoSourceAvailable)
	}

	errs := make([]error, 0, len(sources))

	for _, source := range sources {
		doc, err := f.FetchSource(ctx, source)
		if err == nil {
			return &FetchResult{Source: source, Document: doc}, nil
		}

		f.logger.WithFields(logrus.Fields{
			"url":   source,
			"error": err,
		}).Warn("Failed to fetch guide source")
		errs = append(errs, fmt.Errorf("%s: %w", source, err))

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrNoSourceAvailable, errors.Join(errs...))
}

// FetchSource downloads and decodes a single guide source.
func (f *Fetcher) FetchSource(ctx context.Context, source string) (string, error) {
	compression := CompressionFor(source)

	f.logger.WithFields(logrus.Fields{
		"url":         source,
		"compression": compression,
	}).Info("Fetching guide")

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/xml,text/xml,*/*")
	if compression != CompressionNone {
		// Keep the transport from decoding a Content-Encoding layer on top of the file's own compression.
		req.Header.Set("Accept-Encoding", "identity")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch guide: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := decompress(resp.Body, compression)
	if err != nil {
		return "", err
	}

	raw, err := io.ReadAll(io.LimitReader(body, f.maxBody+1))
	if err != nil {
		return "", fmt.Errorf("failed to read guide body: %w", err)
	}
	if int64(len(raw)) > f.maxBody {
		return "", fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, f.maxBody)
	}

	f.logger.WithFields(logrus.Fields{
		"url":   source,
		"bytes": len(raw),
	}).Debug("Fetched guide")

	return string(raw), nil
}

func decompress(r io.Reader, compression Compression) (io.Reader, error) {
	switch compression {
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return zr, nil
	case CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open xz stream: %w", err)
		}
		return xr, nil
	default:
		return r, nil
	}
}
