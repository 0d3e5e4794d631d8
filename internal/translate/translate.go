// Package translate wraps the machine translation providers used by the
// chat bridge: DeepL when a key is configured, LibreTranslate otherwise.
//
// Translate never fails outright. On any provider error or timeout the
// original text comes back with Translated=false and the error in Err.
package translate

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"allybot/internal/telemetry"
	logx "allybot/pkg/logx"

	"golang.org/x/time/rate"
)

const (
	DefaultDeepLURL = "https://api-free.deepl.com/v2/translate"
	DefaultLibreURL = "https://libretranslate.com/translate"
	DefaultTimeout  = 12 * time.Second
)

var ErrDisabled = errors.New("translation disabled")

type Config struct {
	// Provider is auto, deepl, libre or none.
	Provider   string
	DeepLKey   string
	DeepLURL   string
	LibreURL   string
	Timeout    time.Duration
	RatePerSec int
}

type Result struct {
	Text       string
	Translated bool
	Provider   string
	Err        error
}

// Provider translates text into the target language (lower-case ISO 639-1).
type Provider interface {
	Name() string
	Translate(ctx context.Context, text, target string) (string, error)
}

type Client struct {
	mu      sync.Mutex
	cfg     Config
	p       Provider
	limiter *rate.Limiter
	http    *http.Client
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{http: &http.Client{}, log: log}
	c.Apply(cfg)
	return c
}

func (c *Client) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if strings.TrimSpace(cfg.DeepLURL) == "" {
		cfg.DeepLURL = DefaultDeepLURL
	}
	if strings.TrimSpace(cfg.LibreURL) == "" {
		cfg.LibreURL = DefaultLibreURL
	}

	var p Provider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "none", "off":
	case "deepl":
		p = &deepL{url: cfg.DeepLURL, key: cfg.DeepLKey, http: c.http}
	case "libre":
		p = &libre{url: cfg.LibreURL, http: c.http}
	default:
		if strings.TrimSpace(cfg.DeepLKey) != "" {
			p = &deepL{url: cfg.DeepLURL, key: cfg.DeepLKey, http: c.http}
		} else {
			p = &libre{url: cfg.LibreURL, http: c.http}
		}
	}

	c.mu.Lock()
	c.cfg = cfg
	c.p = p
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	c.mu.Unlock()
	name := "none"
	if p != nil {
		name = p.Name()
	}
	c.log.Debug("translate provider selected", logx.String("provider", name))
}

// SetProvider replaces the provider, keeping timeout and rate limits.
func (c *Client) SetProvider(p Provider) {
	c.mu.Lock()
	c.p = p
	c.mu.Unlock()
}

// Provider returns the active provider name, "none" when disabled.
func (c *Client) Provider() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.p == nil {
		return "none"
	}
	return c.p.Name()
}

// Translate translates text into lang under the configured timeout.
func (c *Client) Translate(ctx context.Context, text, lang string) Result {
	c.mu.Lock()
	p, lim, timeout := c.p, c.limiter, c.cfg.Timeout
	c.mu.Unlock()

	text = strings.TrimSpace(text)
	res := Result{Text: text}
	if text == "" {
		return res
	}
	if p == nil {
		res.Err = ErrDisabled
		return res
	}
	res.Provider = p.Name()
	defer func() { telemetry.ObserveTranslation(res.Provider, res.Translated) }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := lim.Wait(ctx); err != nil {
		res.Err = err
		return res
	}
	out, err := p.Translate(ctx, text, strings.ToLower(strings.TrimSpace(lang)))
	if err != nil {
		c.log.Warn("translation failed", logx.String("provider", p.Name()), logx.String("lang", lang), logx.Err(err))
		res.Err = err
		return res
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return res
	}
	res.Text = out
	res.Translated = true
	return res
}

var reSpace = regexp.MustCompile(`\s+`)

// Normalize collapses runs of whitespace and trims the ends.
func Normalize(s string) string {
	return strings.TrimSpace(reSpace.ReplaceAllString(s, " "))
}
