package outbound

import (
	"strings"
	"sync"
)

// Draft is the text being composed by the user. It is safe for concurrent use
// so a presentation layer can keep editing while a submission is in flight.
type Draft struct {
	mu   sync.Mutex
	text string
	side string
}

func NewDraft(text string) *Draft {
	return &Draft{text: text}
}

func (d *Draft) Set(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
}

func (d *Draft) SetSide(side string) {
	d.mu.Lock()
	d.side = strings.TrimSpace(side)
	d.mu.Unlock()
}

func (d *Draft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *Draft) Side() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.side
}

func (d *Draft) Blank() bool {
	return strings.TrimSpace(d.Text()) == ""
}

// Clear empties the text. The side tag is sticky.
func (d *Draft) Clear() {
	d.mu.Lock()
	d.text = ""
	d.mu.Unlock()
}

// take returns the current request and clears the text in one step.
func (d *Draft) take() (Request, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if strings.TrimSpace(d.text) == "" {
		return Request{}, false
	}
	req := Request{Message: d.text, Side: d.side}
	d.text = ""
	return req, true
}
