package evidence

import (
	"net"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{
			name:    "valid https URL",
			url:     "https://numpy.org/doc/stable/reference/generated/numpy.linalg.svd.html",
			wantErr: false,
		},
		{
			name:    "http URL rejected",
			url:     "http://example.com",
			wantErr: true,
		},
		{
			name:    "localhost rejected",
			url:     "https://localhost:8080",
			wantErr: true,
		},
		{
			name:    "private IP rejected",
			url:     "https://192.168.1.1/path",
			wantErr: true,
		},
		{
			name:    "local domain rejected",
			url:     "https://build.internal/logs",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{"10.0.0.1", "172.16.0.1", "192.168.1.1", "127.0.0.1", "169.254.1.1", "100.64.0.1", "::1", "fe80::1", "fc00::1", "::ffff:192.168.1.1"}
	for _, s := range private {
		if !IsPrivateIP(net.ParseIP(s)) {
			t.Errorf("expected %s to be private", s)
		}
	}

	public := []string{"8.8.8.8", "1.1.1.1", "2606:4700::1111"}
	for _, s := range public {
		if IsPrivateIP(net.ParseIP(s)) {
			t.Errorf("expected %s to be public", s)
		}
	}
}

func TestSnapshotID(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://numpy.org/doc/stable", "evidence.web.numpy-org-doc-stable"},
		{"https://example.com", "evidence.web.example-com"},
		{"https://example.com/path/to/page", "evidence.web.example-com-path-to-page"},
	}

	for _, tt := range tests {
		got := SnapshotID(tt.url)
		if got != tt.expected {
			t.Errorf("SnapshotID(%q) = %q, want %q", tt.url, got, tt.expected)
		}
		if !ValidateSnapshotID(got) {
			t.Errorf("generated ID %q should validate", got)
		}
	}
}

func TestSnapshotID_Deterministic(t *testing.T) {
	a := SnapshotID("https://example.com/docs")
	b := SnapshotID("https://example.com/docs")
	if a != b {
		t.Errorf("same URL must produce same ID: %q vs %q", a, b)
	}
}

func TestSnapshotID_Truncated(t *testing.T) {
	long := "https://example.com/" + strings.Repeat("segment/", 30)
	id := SnapshotID(long)
	if len(id) > len("evidence.web.")+80 {
		t.Errorf("ID too long: %d chars", len(id))
	}
	if !ValidateSnapshotID(id) {
		t.Errorf("truncated ID %q should validate", id)
	}
}

func TestExtractHTMLTitle(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "simple title",
			html:     "<html><head><title>SVD Reference</title></head><body></body></html>",
			expected: "SVD Reference",
		},
		{
			name:     "title with whitespace",
			html:     "<html><head><title>  Spaced Title  </title></head></html>",
			expected: "Spaced Title",
		},
		{
			name:     "no title",
			html:     "<html><head></head><body>Content</body></html>",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractHTMLTitle([]byte(tt.html))
			if got != tt.expected {
				t.Errorf("extractHTMLTitle() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestReduce_ConvertsToMarkdown(t *testing.T) {
	s := NewSnapshotter(0)
	body := []byte(`<html><head><title>Tolerance Notes</title></head><body><article><h1>Tolerance Notes</h1><p>Relative tolerance is <strong>1e-10</strong>.</p></article></body></html>`)

	title, markdown, err := s.reduce("https://example.com/notes", body)
	if err != nil {
		t.Fatalf("reduce failed: %v", err)
	}
	if title != "Tolerance Notes" {
		t.Errorf("expected title extracted, got %q", title)
	}
	if !strings.Contains(markdown, "**1e-10**") {
		t.Errorf("expected bold markdown, got %q", markdown)
	}
}
