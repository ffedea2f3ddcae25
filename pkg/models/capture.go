package models

import "time"

// Viewport is a browser viewport size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultViewport is used when a capture request names no viewport.
var DefaultViewport = Viewport{Width: 1920, Height: 1080}

// CaptureRequest describes one screenshot request. It is not persisted.
type CaptureRequest struct {
	URL       string     `json:"url"`
	UserID    string     `json:"userId"`
	FullPage  bool       `json:"fullPage,omitempty"`
	Viewports []Viewport `json:"viewports,omitempty"`
}

// CaptureResult carries the storage keys of a successful capture,
// one per viewport variant.
type CaptureResult struct {
	Keys []string `json:"keys"`
}

// CaptureRecord is the indexed metadata of one stored artifact.
type CaptureRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ObjectKey string    `json:"objectKey"`
	TargetURL string    `json:"targetUrl"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	FullPage  bool      `json:"fullPage"`
	CreatedAt time.Time `json:"createdAt"`
}
