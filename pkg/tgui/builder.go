package tgui

import (
	"strings"

	kit "allybot/internal/transport"

	tele "gopkg.in/telebot.v4"
)

const (
	defaultPreChunk = 3500
	minPreWindow    = 128
	// len("<pre><code></code></pre>")
	preOverhead = 24
)

// Builder assembles a Message line by line. It starts in HTML mode with
// previews off; text passed to Title, Line and KV is escaped in HTML mode.
type Builder struct {
	mode      string
	noPreview bool
	markup    *tele.ReplyMarkup
	lines     []string
	more      []string
}

func New() *Builder { return &Builder{mode: "HTML", noPreview: true} }

// ParseMode "" sends plain text.
func (b *Builder) ParseMode(mode string) *Builder {
	b.mode = strings.TrimSpace(mode)
	return b
}

func (b *Builder) DisablePreview(v bool) *Builder {
	b.noPreview = v
	return b
}

func (b *Builder) Inline(kb *Inline) *Builder {
	b.markup = nil
	if kb != nil {
		b.markup = kb.Markup()
	}
	return b
}

func (b *Builder) isHTML() bool { return strings.EqualFold(b.mode, "HTML") }

// text and strong render s for the current mode.
func (b *Builder) text(s string) string {
	if !b.isHTML() {
		return s
	}
	return Esc(s).String()
}

func (b *Builder) strong(s string) string {
	if !b.isHTML() {
		return s
	}
	return B(s).String()
}

func (b *Builder) push(line string) *Builder {
	b.lines = append(b.lines, line)
	return b
}

func (b *Builder) Title(emoji, title string) *Builder {
	title, emoji = strings.TrimSpace(title), strings.TrimSpace(emoji)
	switch {
	case title == "":
		return b
	case emoji == "":
		return b.push(b.strong(title))
	}
	return b.push(b.text(emoji) + " " + b.strong(title))
}

// Line adds escaped text. A whitespace-only s becomes an empty line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		return b.push("")
	}
	return b.push(b.text(s))
}

// RawLine is not escaped; s must already suit the parse mode.
func (b *Builder) RawLine(s string) *Builder { return b.push(s) }

func (b *Builder) Blank() *Builder { return b.push("") }

// KV adds "• key: value" with a bold key, or just "• key" for an empty
// value.
func (b *Builder) KV(key, value string) *Builder {
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if key == "" {
		return b
	}
	if value == "" {
		return b.push("• " + b.strong(key))
	}
	return b.push("• " + b.strong(key) + ": " + b.text(value))
}

// PreMulti renders code as <pre> blocks of at most chunkLimit bytes of
// markup (default 3500; Telegram caps messages at 4096). The first block
// joins the message and the rest become follow-ups. Plain mode appends
// code as is.
func (b *Builder) PreMulti(code string, chunkLimit ...int) *Builder {
	code = strings.TrimRight(code, "\n")
	switch {
	case code == "":
		return b
	case !b.isHTML():
		return b.push(code)
	}
	limit := defaultPreChunk
	if len(chunkLimit) > 0 && chunkLimit[0] > 0 {
		limit = chunkLimit[0]
	}
	chunks := chunkLines(code, max(limit-preOverhead, minPreWindow))
	b.push(Pre(chunks[0]).String())
	for _, c := range chunks[1:] {
		b.more = append(b.more, Pre(c).String())
	}
	return b
}

// chunkLines cuts s into pieces of at most window runes, preferring the
// last newline past the first third of the window.
func chunkLines(s string, window int) []string {
	var out []string
	for len(s) > 0 {
		end, cut := len(s), -1
		n := 0
		for i, r := range s {
			if n == window {
				end = i
				break
			}
			n++
			if r == '\n' && n >= window/3 {
				cut = i + 1
			}
		}
		if end < len(s) && cut > 0 {
			end = cut
		}
		if c := strings.TrimRight(s[:end], "\n"); c != "" {
			out = append(out, c)
		}
		s = strings.TrimLeft(s[end:], "\n")
	}
	return out
}

func (b *Builder) Build() Message {
	opt := &kit.SendOptions{ParseMode: b.mode, DisablePreview: b.noPreview}
	if b.markup != nil {
		opt.ReplyMarkupAdapter = b.markup
	}
	return Message{
		Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"),
		Opt:  opt,
		More: append([]string(nil), b.more...),
	}
}
