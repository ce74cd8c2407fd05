package tracking

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ClickPath is the route prefix of tracked-link redirects.
const ClickPath = "/api/track/click/"

// OpenPath is the route of the open-tracking pixel.
const OpenPath = "/api/track/open"

// tokenBytes is the digest prefix kept for link tokens.
const tokenBytes = 12

// URLBuilder builds the public tracking URLs embedded in outgoing email.
type URLBuilder struct {
	baseURL string
}

// NewURLBuilder creates a URL builder rooted at baseURL.
func NewURLBuilder(baseURL string) *URLBuilder {
	return &URLBuilder{baseURL: strings.TrimRight(baseURL, "/")}
}

// LinkToken derives an opaque, URL-safe token for a tracked link.
func LinkToken(campaignID, originalURL string, createdAt time.Time) string {
	sum := sha256.Sum256([]byte(campaignID + "|" + originalURL + "|" + strconv.FormatInt(createdAt.UnixNano(), 10)))
	return base64.RawURLEncoding.EncodeToString(sum[:tokenBytes])
}

// ClickURL returns the redirect URL for a link token.
func (b *URLBuilder) ClickURL(token string) string {
	return b.baseURL + ClickPath + token
}

// OpenURL returns the pixel URL for a campaign, contact and email.
func (b *URLBuilder) OpenURL(campaignID, contactID, emailID string) string {
	q := url.Values{}
	q.Set("c", campaignID)
	if contactID != "" {
		q.Set("ct", contactID)
	}
	if emailID != "" {
		q.Set("e", emailID)
	}
	return b.baseURL + OpenPath + "?" + q.Encode()
}

// ClientIP extracts the originating client address from a request.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}

// TransparentPixel is a 1x1 transparent GIF
var TransparentPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00,
	0x01, 0x00, 0x80, 0x00, 0x00, 0xFF, 0xFF, 0xFF,
	0x00, 0x00, 0x00, 0x21, 0xF9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2C, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44,
	0x01, 0x00, 0x3B,
}

// WritePixel serves the transparent GIF with no-cache headers.
func WritePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(TransparentPixel)
}
