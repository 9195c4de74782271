// Package quickreply implements the slash command that searches and expands
// stored reply templates in the composer input.
package quickreply

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
)

const Trigger = '/'

// Query is an active quick reply search inside the composer input.
type Query struct {
	// Start is the byte offset of the trigger character.
	Start int
	Term  string
}

// Detect finds the trigger the cursor is in. The trigger counts only at the
// start of the input or right after whitespace, and the term ends at the cursor.
func Detect(input string, cursor int) (Query, bool) {
	if cursor < 0 || cursor > len(input) {
		cursor = len(input)
	}
	head := input[:cursor]
	idx := strings.LastIndexByte(head, Trigger)
	if idx < 0 {
		return Query{}, false
	}
	if idx > 0 {
		prev, _ := utf8.DecodeLastRuneInString(head[:idx])
		if !unicode.IsSpace(prev) {
			return Query{}, false
		}
	}
	term := head[idx+1:]
	if strings.IndexFunc(term, unicode.IsSpace) >= 0 {
		return Query{}, false
	}
	return Query{Start: idx, Term: term}, true
}

// Replace removes the command text from input so the template can be sent.
func (q Query) Replace(input string, cursor int) string {
	if cursor < q.Start || cursor > len(input) {
		cursor = len(input)
	}
	return input[:q.Start] + input[cursor:]
}

// Filter keeps templates whose title, content or category contain term,
// ignoring case. An empty term keeps everything.
func Filter(items []models.QuickReply, term string) []models.QuickReply {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]models.QuickReply, 0, len(items))
	for _, it := range items {
		if term == "" ||
			strings.Contains(strings.ToLower(it.Title), term) ||
			strings.Contains(strings.ToLower(it.Content), term) ||
			strings.Contains(strings.ToLower(it.Category), term) {
			out = append(out, it)
		}
	}
	return out
}

// Selector tracks keyboard highlight over a filtered list.
type Selector struct {
	items []models.QuickReply
	index int
}

func NewSelector(items []models.QuickReply) *Selector {
	return &Selector{items: items}
}

func (s *Selector) Reset(items []models.QuickReply) {
	s.items = items
	s.index = 0
}

func (s *Selector) Len() int {
	return len(s.items)
}

func (s *Selector) Index() int {
	return s.index
}

// Next moves down, wrapping from the last item to the first.
func (s *Selector) Next() {
	if len(s.items) == 0 {
		return
	}
	s.index = (s.index + 1) % len(s.items)
}

// Prev moves up, wrapping from the first item to the last.
func (s *Selector) Prev() {
	if len(s.items) == 0 {
		return
	}
	s.index = (s.index - 1 + len(s.items)) % len(s.items)
}

func (s *Selector) Selected() (models.QuickReply, bool) {
	if len(s.items) == 0 {
		return models.QuickReply{}, false
	}
	return s.items[s.index], true
}

// Step is one send of an expanded template.
type Step struct {
	Type    models.MessageType
	Content string
	FileURL string
}

// Expand returns the ordered sends of a template: the primary content and,
// when present, the additional text.
func Expand(qr models.QuickReply) ([]Step, error) {
	const op = "quick_reply"
	var primary Step
	switch qr.Type {
	case models.MessageTypeText, "":
		if strings.TrimSpace(qr.Content) == "" {
			return nil, models.NewPreconditionError(op, "template has no text")
		}
		primary = Step{Type: models.MessageTypeText, Content: qr.Content}
	case models.MessageTypeAudio, models.MessageTypeImage, models.MessageTypeVideo, models.MessageTypeDocument:
		url := qr.FileURL
		if url == "" {
			url = qr.Content
		}
		if url == "" {
			return nil, models.NewPreconditionError(op, "template has no file")
		}
		primary = Step{Type: qr.Type, FileURL: url}
	default:
		return nil, models.NewPreconditionError(op, "unsupported template type "+string(qr.Type))
	}

	steps := []Step{primary}
	if text := strings.TrimSpace(qr.AdditionalText); text != "" {
		steps = append(steps, Step{Type: models.MessageTypeText, Content: text})
	}
	return steps, nil
}
