package models

// PageType defines what a page holds.
type PageType string

const (
	PageTypePrompt  PageType = "PROMPT"
	PageTypeDrawing PageType = "DRAWING"
	PageTypeSkipped PageType = "SKIPPED"
)

// Valid reports whether t is a known page type.
func (t PageType) Valid() bool {
	switch t {
	case PageTypePrompt, PageTypeDrawing, PageTypeSkipped:
		return true
	}
	return false
}

// Page is one round's entry in a notebook. Pages are written once and never edited.
type Page struct {
	Type   PageType `json:"type"`
	Value  string   `json:"value"` // prompt text, serialized drawing, or carried-forward value
	Author string   `json:"author"`
}

// Notebook is the round-indexed page history of one owner.
type Notebook map[int]Page
