package tgui

import "html"

// H is text already escaped for Telegram's HTML parse mode.
type H string

func (h H) String() string { return string(h) }

func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks s as safe HTML.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Pre renders a preformatted block. Long content belongs in Builder.PreMulti,
// which keeps every message chunk balanced.
func Pre(s string) H { return H("<pre><code>" + html.EscapeString(s) + "</code></pre>") }
