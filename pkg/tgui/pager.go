package tgui

import "fmt"

const defaultPageSize = 10

// Page is one window of a paginated list. Index is 0-based and clamped to
// the last page.
type Page struct {
	Index, Size int
	From, To    int
	Total       int
}

func Paginate(total, index, size int) Page {
	if size <= 0 {
		size = defaultPageSize
	}
	pages := max((total+size-1)/size, 1)
	index = min(max(index, 0), pages-1)
	from := min(index*size, total)
	return Page{Index: index, Size: size, From: from, To: min(from+size, total), Total: total}
}

func (p Page) HasPrev() bool { return p.Index > 0 }
func (p Page) HasNext() bool { return p.To < p.Total }

// Label renders "Page 2/3, 11-20 of 27".
func (p Page) Label() string {
	pages := max((p.Total+p.Size-1)/p.Size, 1)
	if p.Total == 0 {
		return fmt.Sprintf("Page 1/%d", pages)
	}
	return fmt.Sprintf("Page %d/%d, %d-%d of %d", p.Index+1, pages, p.From+1, p.To, p.Total)
}

// PageOf returns the items of pg.
func PageOf[T any](items []T, pg Page) []T { return items[pg.From:pg.To] }
