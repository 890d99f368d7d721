package browser

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/portal-keeper/internal/connector"
	"github.com/and161185/portal-keeper/internal/importer"
	"github.com/and161185/portal-keeper/internal/sessioncache"
)

const (
	siteBase   = "https://portal.test/"
	siteLogin  = "https://portal.test/login"
	siteHome   = "https://portal.test/home"
	siteMFA    = "https://portal.test/mfa"
	siteDenied = "https://portal.test/login?error=1"
)

// fakeSite is an in-memory portal: a login form, a home page and section pages.
type fakeSite struct {
	mu       sync.Mutex
	pages    map[string]*Snapshot
	user     string
	pass     string
	mfa      bool
	hang     bool
	opens    []string
	filled   map[string]string
	submits  int
	validTok string
}

func newFakeSite() *fakeSite {
	nav := []Control{
		{Ref: "n1", Kind: KindLink, Text: "Labs", Href: "/labs"},
		{Ref: "n2", Kind: KindLink, Text: "Notes", Href: "/notes"},
		{Ref: "n3", Kind: KindLink, Text: "Medications", Href: "/meds"},
		{Ref: "n4", Kind: KindLink, Text: "Sign out", Href: "/logout"},
	}
	loginForm := []Field{
		{Ref: "f1", Form: 1, Type: "text", Name: "username"},
		{Ref: "f2", Form: 1, Type: "password", Name: "password"},
	}
	submit := []Control{{Ref: "s1", Form: 1, Kind: KindButton, Type: "submit", Text: "Sign In"}}
	return &fakeSite{
		user: "alice", pass: "s3cret", validTok: "authed",
		filled: map[string]string{},
		pages: map[string]*Snapshot{
			siteLogin:  {URL: siteLogin, Title: "Sign in", Text: "Sign in to your portal", Fields: loginForm, Controls: submit},
			siteDenied: {URL: siteDenied, Title: "Sign in", Text: "Invalid username or password", Fields: loginForm, Controls: submit},
			siteMFA: {URL: siteMFA, Title: "Verify", Text: "Enter the verification code we sent you",
				Fields: []Field{{Ref: "m1", Form: 1, Type: "text", Name: "otp", Placeholder: "6-digit code"}}},
			siteHome: {URL: siteHome, Title: "Home", Text: "Welcome back", Controls: nav},
			"https://portal.test/labs": {URL: "https://portal.test/labs", Title: "Labs", Text: "Lab results", Controls: nav,
				Tables: []Table{{Headers: []string{"Test", "Value"}, Rows: [][]string{{"WBC", "5.1"}, {"HGB", "13"}, {"PLT", "250"}}}}},
			"https://portal.test/notes": {URL: "https://portal.test/notes", Title: "Documents", Controls: nav,
				Tables: []Table{{Headers: []string{"Name", "Type"}, Rows: [][]string{{"Visit 1", "Provider Note"}, {"Vitals", "Nurse Note"}}}}},
			"https://portal.test/meds": {URL: "https://portal.test/meds", Title: "Medications", Controls: nav,
				Tables: []Table{{Headers: []string{"Drug"}, Rows: [][]string{{"Metformin"}, {"Lisinopril"}}}}},
		},
	}
}

func (s *fakeSite) Open(_ context.Context, state []byte) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens = append(s.opens, string(state))
	return &fakePage{site: s, authed: state != nil && string(state) == s.validTok}, nil
}

type fakePage struct {
	site   *fakeSite
	url    string
	authed bool
	closed bool
}

func (p *fakePage) Goto(ctx context.Context, target string) error {
	if p.closed {
		return connector.ErrSessionDestroyed
	}
	switch {
	case target == siteBase:
		if p.authed {
			target = siteHome
		} else {
			target = siteLogin
		}
	case strings.HasSuffix(target, "/logout"):
		p.authed = false
		target = siteLogin
	}
	if _, ok := p.site.pages[target]; !ok {
		return errors.New("404 " + target)
	}
	p.url = target
	return nil
}

func (p *fakePage) Snapshot(context.Context) (*Snapshot, error) {
	if p.closed {
		return nil, connector.ErrSessionDestroyed
	}
	s := *p.site.pages[p.url]
	return &s, nil
}

func (p *fakePage) Fill(_ context.Context, ref, value string) error {
	p.site.filled[ref] = value
	return nil
}

func (p *fakePage) Click(ctx context.Context, ref string) error {
	snap := p.site.pages[p.url]
	for _, c := range snap.Controls {
		if c.Ref != ref {
			continue
		}
		if c.Kind == KindLink {
			return p.Goto(ctx, "https://portal.test"+c.Href)
		}
		return p.submitForm()
	}
	return errors.New("no control " + ref)
}

func (p *fakePage) PressEnter(context.Context, string) error { return p.submitForm() }

func (p *fakePage) submitForm() error {
	p.site.submits++
	if p.site.filled["f1"] != p.site.user || p.site.filled["f2"] != p.site.pass {
		p.url = siteDenied
		return nil
	}
	if p.site.mfa {
		p.url = siteMFA
		return nil
	}
	p.authed = true
	p.url = siteHome
	return nil
}

func (p *fakePage) WaitIdle(ctx context.Context) error {
	if p.site.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *fakePage) FollowLink(ctx context.Context, text string) (bool, error) {
	if p.closed {
		return false, connector.ErrSessionDestroyed
	}
	for _, c := range p.site.pages[p.url].Controls {
		if c.Kind == KindLink && strings.EqualFold(c.Text, text) {
			return true, p.Goto(ctx, "https://portal.test"+c.Href)
		}
	}
	return false, nil
}

func (p *fakePage) State(context.Context) ([]byte, error) {
	if p.authed {
		return []byte(p.site.validTok), nil
	}
	return []byte("anonymous"), nil
}

func (p *fakePage) Close() error { p.closed = true; return nil }
func (p *fakePage) Closed() bool { return p.closed }

// memCache records every call.
type memCache struct {
	data    map[uuid.UUID][]byte
	loads   int
	saves   int
	deletes int
	saveErr error
}

var _ sessioncache.Cache = (*memCache)(nil)

func newMemCache() *memCache { return &memCache{data: map[uuid.UUID][]byte{}} }

func (m *memCache) Load(_ context.Context, id uuid.UUID) ([]byte, error) {
	m.loads++
	d, ok := m.data[id]
	if !ok {
		return nil, sessioncache.ErrCacheMiss
	}
	return d, nil
}

func (m *memCache) Save(_ context.Context, id uuid.UUID, data []byte) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[id] = data
	return nil
}

func (m *memCache) Delete(_ context.Context, id uuid.UUID) error {
	m.deletes++
	delete(m.data, id)
	return nil
}

// countImporter accepts every item.
type countImporter struct{ items map[string][]importer.Item }

func (c *countImporter) set(keys ...string) importer.Set {
	s := importer.Set{}
	for _, k := range keys {
		k := k
		s[k] = importFunc(func(items []importer.Item) (int, error) {
			c.items[k] = append(c.items[k], items...)
			return len(items), nil
		})
	}
	return s
}

type importFunc func([]importer.Item) (int, error)

func (f importFunc) ImportRecords(_ context.Context, _ uuid.UUID, items []importer.Item) (int, error) {
	return f(items)
}
