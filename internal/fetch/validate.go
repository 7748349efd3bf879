package fetch

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"
)

// ValidateURL parses raw and rejects anything that could probe internal
// infrastructure: non-http(s) schemes, loopback, RFC1918 ranges, link-local
// addresses and .local hosts. No network call is made.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q (only http and https are allowed)", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("url missing host")
	}
	if host == "localhost" || strings.HasSuffix(host, ".local") {
		return nil, fmt.Errorf("host %q is not allowed", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return nil, fmt.Errorf("address %q is not allowed", host)
		}
	}
	return u, nil
}

// ContentType classifies what a URL points at.
type ContentType string

const (
	ContentHTML ContentType = "html"
	ContentPDF  ContentType = "pdf"
)

// classifyByExtension inspects only the URL path.
func classifyByExtension(u *url.URL) (ContentType, bool) {
	if strings.EqualFold(path.Ext(u.Path), ".pdf") {
		return ContentPDF, true
	}
	return ContentHTML, false
}

// classifyByHeader inspects a Content-Type header value.
func classifyByHeader(contentType string) (ContentType, bool) {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "application/pdf") {
		return ContentPDF, true
	}
	if strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") {
		return ContentHTML, true
	}
	return ContentHTML, false
}

// slugFromURL derives a readable fallback title from the URL path.
func slugFromURL(u *url.URL) string {
	segment := path.Base(u.Path)
	if segment == "/" || segment == "." || segment == "" {
		return u.Hostname()
	}
	segment = strings.TrimSuffix(segment, path.Ext(segment))
	segment = strings.NewReplacer("-", " ", "_", " ").Replace(segment)
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return u.Hostname()
	}
	return segment
}
