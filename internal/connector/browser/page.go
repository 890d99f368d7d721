// Package browser implements a portal connector that logs in and scrapes
// through an automated page session, driven by an explicit state machine.
package browser

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Driver opens automated page sessions.
type Driver interface {
	// Open starts a session, restoring state from an earlier Page.State when non-nil.
	Open(ctx context.Context, state []byte) (Page, error)
}

// Page is one automated browsing session. Every call on a closed page
// returns connector.ErrSessionDestroyed.
type Page interface {
	Goto(ctx context.Context, url string) error
	Snapshot(ctx context.Context) (*Snapshot, error)
	Fill(ctx context.Context, ref, value string) error
	Click(ctx context.Context, ref string) error
	PressEnter(ctx context.Context, ref string) error
	WaitIdle(ctx context.Context) error
	// FollowLink navigates via the first link whose text matches text
	// (case-insensitive). It reports false when no such link exists.
	FollowLink(ctx context.Context, text string) (bool, error)
	State(ctx context.Context) ([]byte, error)
	Close() error
	Closed() bool
}

// Field is an input element in a snapshot.
type Field struct {
	Ref         string `json:"ref"`
	Form        int    `json:"form"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	ID          string `json:"id"`
	Placeholder string `json:"placeholder"`
	Label       string `json:"label"`
}

// ControlKind distinguishes clickable elements.
type ControlKind string

const (
	KindButton ControlKind = "button"
	KindInput  ControlKind = "input"
	KindLink   ControlKind = "link"
)

// Control is a button, submit input or link.
type Control struct {
	Ref  string      `json:"ref"`
	Form int         `json:"form"`
	Kind ControlKind `json:"kind"`
	Type string      `json:"type"`
	Text string      `json:"text"`
	Href string      `json:"href,omitempty"`
}

// Table is a flattened HTML table.
type Table struct {
	Caption string     `json:"caption,omitempty"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Snapshot is the serializable content of a page at one moment. Detectors
// work only on snapshots, never on a live page.
type Snapshot struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Text     string    `json:"text"`
	Fields   []Field   `json:"fields"`
	Controls []Control `json:"controls"`
	Tables   []Table   `json:"tables"`
}

// HasText reports whether the visible text or title matches re.
func (s *Snapshot) HasText(re *regexp.Regexp) bool {
	return re.MatchString(s.Text) || re.MatchString(s.Title)
}

// Links returns link controls whose text matches re.
func (s *Snapshot) Links(re *regexp.Regexp) []Control {
	var out []Control
	for _, c := range s.Controls {
		if c.Kind == KindLink && re.MatchString(c.Text) {
			out = append(out, c)
		}
	}
	return out
}

// Options bound every wait of an attempt.
type Options struct {
	NavTimeout    time.Duration
	SubmitTimeout time.Duration
	MaxItems      int
}

// DefaultOptions mirror the portal's usual page timings.
func DefaultOptions() Options {
	return Options{NavTimeout: 30 * time.Second, SubmitTimeout: 30 * time.Second, MaxItems: 10}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.NavTimeout <= 0 {
		o.NavTimeout = d.NavTimeout
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = d.SubmitTimeout
	}
	if o.MaxItems <= 0 {
		o.MaxItems = d.MaxItems
	}
	return o
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
