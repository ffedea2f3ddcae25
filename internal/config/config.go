package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/snapstash/snapstash/pkg/models"
)

// Launcher modes.
const (
	LauncherDocker = "docker"
	LauncherLocal  = "local"
)

// Config is the service configuration, read from the environment
// (main loads a .env file first).
type Config struct {
	Addr       string
	StorageDir string
	IndexPath  string
	Launcher   string

	// AuthTokens maps API tokens to user identities; empty means dev
	// mode, where identity comes from the X-User-ID header.
	AuthTokens map[string]string

	TickPeriod        time.Duration
	KeepAlive         time.Duration
	DefaultViewport   models.Viewport
	NavigationTimeout time.Duration

	MaxBrowsers        int64
	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:               getEnv("LISTEN_ADDR", ":8080"),
		StorageDir:         getEnv("STORAGE_DIR", "./storage/artifacts"),
		IndexPath:          getEnv("INDEX_PATH", "./storage/captures.db"),
		Launcher:           getEnv("BROWSER_LAUNCHER", LauncherDocker),
		TickPeriod:         getDuration("IDLE_TICK_PERIOD", 10*time.Second),
		KeepAlive:          getDuration("KEEP_ALIVE_THRESHOLD", 60*time.Second),
		NavigationTimeout:  getDuration("NAVIGATION_TIMEOUT", 30*time.Second),
		MaxBrowsers:        int64(getInt("MAX_BROWSERS", 4)),
		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 10),
	}

	if cfg.Launcher != LauncherDocker && cfg.Launcher != LauncherLocal {
		return nil, fmt.Errorf("unsupported BROWSER_LAUNCHER %q", cfg.Launcher)
	}

	viewport, err := parseViewport(getEnv("DEFAULT_VIEWPORT", "1920x1080"))
	if err != nil {
		return nil, err
	}
	cfg.DefaultViewport = viewport

	tokens, err := parseTokens(os.Getenv("AUTH_TOKENS"))
	if err != nil {
		return nil, err
	}
	cfg.AuthTokens = tokens

	return cfg, nil
}

// parseTokens parses "token:user,token:user" pairs.
func parseTokens(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || user == "" {
			return nil, fmt.Errorf("malformed AUTH_TOKENS entry %q", pair)
		}
		tokens[token] = user
	}
	return tokens, nil
}

func parseViewport(raw string) (models.Viewport, error) {
	wstr, hstr, ok := strings.Cut(raw, "x")
	if !ok {
		return models.Viewport{}, fmt.Errorf("malformed DEFAULT_VIEWPORT %q", raw)
	}
	width, werr := strconv.Atoi(wstr)
	height, herr := strconv.Atoi(hstr)
	if werr != nil || herr != nil || width <= 0 || height <= 0 {
		return models.Viewport{}, fmt.Errorf("malformed DEFAULT_VIEWPORT %q", raw)
	}
	return models.Viewport{Width: width, Height: height}, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
