// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

var (
	ErrUnsafeURL = errors.New("url must be http(s) and must not target a private address")
	ErrFetch     = errors.New("fetch failed")
)

// FetcherConfig tunes URL ingestion.
type FetcherConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string

	// AllowPrivateHosts disables the loopback/private address check. Only
	// tests and local development should set it.
	AllowPrivateHosts bool
}

func (c *FetcherConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = MaxUploadBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = "frontera-ingest/1.0"
	}
}

// Page is a fetched web page reduced to markdown.
type Page struct {
	URL      string
	Title    string
	Markdown string
}

// Fetcher downloads pages for the URL upload route.
type Fetcher struct {
	client *http.Client
	config FetcherConfig
	policy *bluemonday.Policy
	md     *converter.Converter
}

// NewFetcher builds a Fetcher. Unless AllowPrivateHosts is set, every
// connection is checked against the address actually dialled, so a name
// that resolves to a private address is refused even after a redirect or
// a DNS change between lookups.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	cfg.defaults()
	f := &Fetcher{
		config: cfg,
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !cfg.AllowPrivateHosts {
		dialer.Control = guardDial
	}
	f.client = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (%d)", len(via))
			}
			return f.validate(req.URL)
		},
	}
	return f
}

// FetchURL retrieves rawURL and returns its readable content.
//
// # Description
//
// HTML responses are sanitised with a UGC policy, which strips scripts,
// styles and event handlers, then converted to markdown with links resolved
// against the page URL. text/plain and text/markdown bodies are returned
// unchanged. Any other content type is rejected.
//
// # Limitations
//
//   - No JavaScript is executed; client-rendered pages come back mostly empty.
//   - Bodies larger than MaxBytes are rejected rather than truncated.
func (f *Fetcher) FetchURL(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if err := f.validate(u); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,text/markdown;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrUnsafeURL) {
			return nil, fmt.Errorf("%w: %s", ErrUnsafeURL, u.Hostname())
		}
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: http %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, ErrTooLarge
	}

	page := &Page{URL: resp.Request.URL.String(), Title: path.Base(resp.Request.URL.Path)}
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mt {
	case "text/plain", "text/markdown":
		page.Markdown = strings.TrimSpace(string(body))
	case "text/html", "application/xhtml+xml", "":
		doc := string(body)
		if t := htmlTitle(doc); t != "" {
			page.Title = t
		}
		clean := f.policy.Sanitize(doc)
		md, err := f.md.ConvertString(clean, converter.WithDomain(page.URL))
		if err != nil {
			return nil, fmt.Errorf("convert html: %w", err)
		}
		page.Markdown = strings.TrimSpace(md)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mt)
	}

	if page.Markdown == "" {
		return nil, ErrNoText
	}
	if page.Title == "" || page.Title == "/" || page.Title == "." {
		page.Title = u.Host
	}
	return page, nil
}

// htmlTitle returns the text of the first <title> element. The sanitiser
// drops <head>, so the title is read before sanitising.
func htmlTitle(doc string) string {
	lower := strings.ToLower(doc)
	start := strings.Index(lower, "<title")
	if start < 0 {
		return ""
	}
	open := strings.Index(lower[start:], ">")
	if open < 0 {
		return ""
	}
	start += open + 1
	end := strings.Index(lower[start:], "</title>")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(bluemonday.StrictPolicy().Sanitize(doc[start : start+end])))
}

// validate checks the parts of a URL that are known before dialling.
// Address checks happen in guardDial.
func (f *Fetcher) validate(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeURL
	}
	if u.Hostname() == "" {
		return ErrUnsafeURL
	}
	return nil
}

// guardDial is a net.Dialer Control hook. It runs after name resolution,
// once per address tried, and refuses private destinations.
func guardDial(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return ErrUnsafeURL
	}
	ip := net.ParseIP(host)
	if ip == nil || isPrivateIP(ip) {
		return ErrUnsafeURL
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast()
}
