package evidence

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/c360studio/semstreams/pkg/retry"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Snapshot is one captured piece of external evidence.
type Snapshot struct {
	// ID is the stable slug derived from the URL.
	ID string `json:"id"`

	// URL is the source location at capture time.
	URL string `json:"url"`

	// Title is the document title, when one could be extracted.
	Title string `json:"title,omitempty"`

	// Markdown is the readable content, reduced from the raw page.
	Markdown string `json:"markdown"`

	// Digest is the sha256 of the markdown, cited in challenge
	// evidence refs.
	Digest string `json:"digest"`

	FetchedAt time.Time `json:"fetched_at"`
}

// Snapshotter fetches evidence URLs and reduces them to markdown
// snapshots.
type Snapshotter struct {
	client         *http.Client
	converter      *md.Converter
	userAgent      string
	maxContentSize int64
}

// Option configures a Snapshotter.
type Option func(*Snapshotter)

// WithUserAgent sets the request user agent.
func WithUserAgent(ua string) Option {
	return func(s *Snapshotter) { s.userAgent = ua }
}

// WithMaxContentSize caps the fetched body size in bytes.
func WithMaxContentSize(n int64) Option {
	return func(s *Snapshotter) { s.maxContentSize = n }
}

// NewSnapshotter creates a snapshotter with the given fetch timeout.
// Connections to private address space are refused even when DNS points
// there after validation.
func NewSnapshotter(timeout time.Duration, opts ...Option) *Snapshotter {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	safeDialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}

		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("DNS lookup failed: %w", err)
		}

		for _, ipAddr := range ips {
			if IsPrivateIP(ipAddr.IP) {
				return nil, fmt.Errorf("connection to private IP %s is not allowed", ipAddr.IP)
			}
		}

		for _, ipAddr := range ips {
			connAddr := net.JoinHostPort(ipAddr.IP.String(), port)
			conn, err := dialer.DialContext(ctx, network, connAddr)
			if err == nil {
				return conn, nil
			}
		}

		return nil, fmt.Errorf("failed to connect to any resolved IP")
	}

	transport := &http.Transport{
		DialContext:           safeDialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}

	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	s := &Snapshotter{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				if err := ValidateURL(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		converter:      converter,
		userAgent:      "veriflow-evidence/1.0",
		maxContentSize: 5 << 20, // 5 MB
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture fetches a URL and returns its snapshot.
func (s *Snapshotter) Capture(ctx context.Context, rawURL string) (*Snapshot, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}

	// Transient fetch failures retry; malformed requests and client-level
	// rejections do not.
	var body []byte
	retryConfig := retry.DefaultConfig()
	err := retry.Do(ctx, retryConfig, func() error {
		b, err := s.fetch(ctx, rawURL)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	title, markdown, err := s.reduce(rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("reduce %s: %w", rawURL, err)
	}

	digest := sha256.Sum256([]byte(markdown))
	return &Snapshot{
		ID:        SnapshotID(rawURL),
		URL:       rawURL,
		Title:     title,
		Markdown:  markdown,
		Digest:    hex.EncodeToString(digest[:]),
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (s *Snapshotter) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.NonRetryable(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, retry.NonRetryable(err)
		}
		return nil, err
	}

	limitReader := io.LimitReader(resp.Body, s.maxContentSize+1)
	body, err := io.ReadAll(limitReader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > s.maxContentSize {
		return nil, retry.NonRetryable(fmt.Errorf("content too large (exceeds %d bytes)", s.maxContentSize))
	}
	return body, nil
}

// reduce extracts the readable article and converts it to markdown.
func (s *Snapshotter) reduce(rawURL string, body []byte) (title, markdown string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse url: %w", err)
	}

	content := string(body)
	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err == nil && article.Content != "" {
		content = article.Content
		title = article.Title
	}

	markdown, err = s.converter.ConvertString(content)
	if err != nil {
		return "", "", fmt.Errorf("convert to markdown: %w", err)
	}
	markdown = strings.TrimSpace(markdown)

	if title == "" {
		title = extractHTMLTitle(body)
	}
	return title, markdown, nil
}

// extractHTMLTitle extracts the <title> text from raw HTML.
func extractHTMLTitle(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return ""
	}

	var title string
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if title != "" {
				return
			}
			extract(c)
		}
	}
	extract(doc)

	return title
}
