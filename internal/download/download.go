// File: internal/download/download.go

// Package download fetches candidate documents over plain HTTP and derives
// their deterministic local filenames.
package download

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/sec-bihar/candidate-crawler/internal/extract"
)

// Error reports a failed document fetch: a transport failure or a
// non-success HTTP status. It is always row-level recoverable; the owning
// record is still written, with an empty path.
type Error struct {
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download of %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("download of %s returned status %d", e.URL, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Client performs direct-URL fetches. One instance serves the whole run.
type Client struct {
	logger *zap.Logger
	http   *resty.Client
}

// NewClient builds a download client with a bounded per-request timeout.
func NewClient(logger *zap.Logger, timeout time.Duration) *Client {
	return &Client{
		logger: logger.Named("download"),
		http:   resty.New().SetTimeout(timeout),
	}
}

// FetchDirect GETs url and writes the response body to dest. A non-2xx
// status or transport failure yields a *Error. On a status failure dest may
// hold the error body; callers drop the path, so nothing references it.
func (c *Client) FetchDirect(ctx context.Context, rawURL, dest string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(rawURL)
	if err != nil {
		return &Error{URL: rawURL, Err: err}
	}
	if !resp.IsSuccess() {
		return &Error{URL: rawURL, Status: resp.StatusCode()}
	}
	c.logger.Debug("Fetched document",
		zap.String("url", rawURL),
		zap.String("dest", dest),
		zap.Int64("bytes", resp.Size()))
	return nil
}

// SanitizeName makes a candidate name safe to use as a filename: path
// separators and other non-filename-safe runes become underscores. The
// mapping is deterministic so repeated runs overwrite their own files.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	mapped := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
	if mapped == "" {
		return "_"
	}
	return mapped
}

// LocalPath derives the destination path for one document:
// <dir>/<sanitized-name>_<kind><ext> for the extended schema, or the bare
// sanitized name with a .pdf extension for the minimal schema's affidavit.
func LocalPath(dir, candidateName string, kind extract.DocumentKind, sourceURL string, bare bool) string {
	base := SanitizeName(candidateName)
	ext := extensionFor(kind, sourceURL)
	if bare {
		return filepath.Join(dir, base+ext)
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", base, kind, ext))
}

// extensionFor takes the extension from the source URL's path when it has
// one, else falls back to the conventional extension for the kind.
func extensionFor(kind extract.DocumentKind, sourceURL string) string {
	if u, err := url.Parse(sourceURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if kind == extract.KindPhoto {
		return ".jpg"
	}
	return ".pdf"
}
