package capture

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/snapstash/snapstash/pkg/models"
)

const (
	keyPrefix = "captures"

	// Capture ids are a fixed marker plus six random alphanumerics.
	// Uniqueness is probabilistic; collisions at this length are an
	// accepted risk and are not checked against existing keys.
	idMarker   = "s"
	idLength   = 6
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// NewCaptureID returns a fresh capture id, e.g. "sK3n9Qx".
func NewCaptureID() string {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; there is no
		// reasonable fallback for id generation.
		panic(fmt.Sprintf("capture: read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return idMarker + string(buf)
}

// EncodeUserID stably encodes an opaque user identifier so it is safe in
// object keys and URLs.
func EncodeUserID(userID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID))
}

// ObjectKey builds the storage key for a single default-viewport capture:
// captures/user-{encodedUserId}/{captureId}.jpg
func ObjectKey(userID, captureID string) string {
	return fmt.Sprintf("%s/user-%s/%s.jpg", keyPrefix, EncodeUserID(userID), captureID)
}

// VariantKey builds the storage key for one viewport variant of a
// multi-viewport capture:
// captures/user-{encodedUserId}/{urlDerivedName}_{width}x{height}.jpg
func VariantKey(userID string, target *url.URL, vp models.Viewport) string {
	return fmt.Sprintf("%s/user-%s/%s_%dx%d.jpg",
		keyPrefix, EncodeUserID(userID), urlDerivedName(target), vp.Width, vp.Height)
}

// urlDerivedName flattens a URL's host and path into a key-safe name.
func urlDerivedName(u *url.URL) string {
	raw := u.Host + u.Path
	var b strings.Builder
	lastDash := false
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		return "page"
	}
	return name
}
