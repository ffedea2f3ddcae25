package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const jpegQuality = 80

// rodHandle adapts a rod browser connection to the Handle interface.
// cleanup runs after the CDP connection is closed and releases whatever
// launched the browser (local process or container).
type rodHandle struct {
	browser    *rod.Browser
	connectURL string
	cleanup    func() error
}

func (h *rodHandle) Connected() bool {
	_, err := proto.BrowserGetVersion{}.Call(h.browser)
	return err == nil
}

func (h *rodHandle) NewPage(ctx context.Context) (Page, error) {
	page, err := h.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	return &rodPage{page: page.Context(ctx)}, nil
}

func (h *rodHandle) ConnectURL() string {
	return h.connectURL
}

func (h *rodHandle) Close() error {
	err := h.browser.Close()
	if h.cleanup != nil {
		if cerr := h.cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) SetViewport(width, height int) error {
	return p.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) Screenshot(fullPage bool) ([]byte, error) {
	quality := jpegQuality
	bin, err := p.page.Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return bin, nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

// LocalLauncher starts a Chrome process on the host via rod's launcher.
type LocalLauncher struct{}

func NewLocalLauncher() *LocalLauncher {
	return &LocalLauncher{}
}

func (l *LocalLauncher) Launch(ctx context.Context) (Handle, error) {
	ln := launcher.New().Headless(true)

	u, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		ln.Kill()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	return &rodHandle{
		browser:    b,
		connectURL: u,
		cleanup: func() error {
			ln.Kill()
			return nil
		},
	}, nil
}
