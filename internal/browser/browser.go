package browser

import "context"

// Launcher acquires a browser handle. Implementations exist for a local
// Chrome process and for a docker-managed headless container.
type Launcher interface {
	Launch(ctx context.Context) (Handle, error)
}

// Handle is an open connection to a headless rendering engine. A handle
// is exclusively owned by one capture session.
type Handle interface {
	// Connected reports whether the underlying connection is still usable.
	Connected() bool

	// NewPage opens a fresh, isolated page context. Callers must Close it.
	NewPage(ctx context.Context) (Page, error)

	// ConnectURL returns the CDP endpoint of the browser, for debugging.
	ConnectURL() string

	// Close tears down the browser and any resources backing it.
	Close() error
}

// Page is a single-use navigable surface within a handle.
type Page interface {
	SetViewport(width, height int) error
	Navigate(ctx context.Context, url string) error
	Screenshot(fullPage bool) ([]byte, error)
	Close() error
}
