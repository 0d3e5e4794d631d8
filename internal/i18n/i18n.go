// Package i18n renders user-facing text in de, en, es and fr.
//
// Message files live in locales/ and are embedded at build time. Unknown
// languages fall back to the catalog default, missing keys fall back to
// English and then to the key itself.
package i18n

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"allybot/internal/schedule"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.yaml.in/yaml/v3"
	"golang.org/x/text/language"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Data is template data for a message.
type Data map[string]any

type Catalog struct {
	bundle *i18n.Bundle
	def    string
	langs  []string

	mu   sync.Mutex
	locs map[string]*i18n.Localizer
}

// New loads the embedded catalogs. defaultLang must be one of them;
// empty means "de".
func New(defaultLang string) (*Catalog, error) {
	b := i18n.NewBundle(language.English)
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, err := fs.Glob(localeFS, "locales/*.yaml")
	if err != nil {
		return nil, err
	}
	c := &Catalog{bundle: b, locs: map[string]*i18n.Localizer{}}
	for _, f := range files {
		mf, err := b.LoadMessageFileFS(localeFS, f)
		if err != nil {
			return nil, fmt.Errorf("i18n: %s: %w", path.Base(f), err)
		}
		base, _ := mf.Tag.Base()
		c.langs = append(c.langs, base.String())
	}

	def := strings.ToLower(strings.TrimSpace(defaultLang))
	if def == "" {
		def = "de"
	}
	if !c.Supports(def) {
		return nil, fmt.Errorf("i18n: default language %q has no catalog (have %s)", def, strings.Join(c.langs, ","))
	}
	c.def = def
	return c, nil
}

// MustNew is New for tests and static wiring.
func MustNew(defaultLang string) *Catalog {
	c, err := New(defaultLang)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Default() string { return c.def }

func (c *Catalog) Languages() []string { return append([]string(nil), c.langs...) }

func (c *Catalog) Supports(lang string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	for _, l := range c.langs {
		if l == lang {
			return true
		}
	}
	return false
}

// Normalize maps lang ("DE", "de-AT", "") to a supported base language.
func (c *Catalog) Normalize(lang string) string {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return c.def
	}
	base, _ := tag.Base()
	if c.Supports(base.String()) {
		return base.String()
	}
	return c.def
}

// T renders id in lang. It never fails: a broken or missing message
// renders as the id.
func (c *Catalog) T(lang, id string, data Data) string {
	s, err := c.localizer(lang).Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: map[string]any(data)})
	if err != nil || s == "" {
		return id
	}
	return s
}

func (c *Catalog) localizer(lang string) *i18n.Localizer {
	lang = c.Normalize(lang)
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locs[lang]
	if !ok {
		l = i18n.NewLocalizer(c.bundle, lang, "en")
		c.locs[lang] = l
	}
	return l
}

// ErrorText maps a schedule sentinel to a localized message.
func (c *Catalog) ErrorText(lang string, err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, schedule.ErrNotFound):
		return c.T(lang, "err.not_found", nil)
	case errors.Is(err, schedule.ErrInvalidStatus):
		return c.T(lang, "err.invalid_status", nil)
	case errors.Is(err, schedule.ErrSlotsFull):
		return c.T(lang, "err.slots_full", nil)
	case errors.Is(err, schedule.ErrAlreadyClosed):
		return c.T(lang, "err.already_closed", nil)
	case errors.Is(err, schedule.ErrMalformedSchedule):
		return c.T(lang, "err.malformed", Data{"Detail": err.Error()})
	case errors.Is(err, schedule.ErrStoreUnavailable):
		return c.T(lang, "err.store", nil)
	default:
		return c.T(lang, "err.generic", nil)
	}
}

// StatusLabel returns the display label of a participant status for kind.
func (c *Catalog) StatusLabel(lang string, k schedule.Kind, st schedule.Status) string {
	if k == schedule.KindWarplan {
		return c.T(lang, "warplan."+string(st), nil)
	}
	return c.T(lang, "status."+string(st), nil)
}
