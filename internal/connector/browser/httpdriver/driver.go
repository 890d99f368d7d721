// Package httpdriver is a browser.Driver over plain HTTP. Pages are fetched
// with a cookie-carrying client and parsed with x/net/html; no scripts run.
package httpdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/and161185/portal-keeper/internal/connector"
	"github.com/and161185/portal-keeper/internal/connector/browser"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) portal-keeper/1.0"
	defaultMaxBody   = 4 << 20
	maxRedirects     = 10
)

// Driver opens HTTP page sessions.
type Driver struct {
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
	UserAgent string
	MaxBody   int64
}

// New returns a Driver with default limits.
func New() *Driver {
	return &Driver{UserAgent: defaultUserAgent, MaxBody: defaultMaxBody}
}

var _ browser.Driver = (*Driver)(nil)

// savedCookie is one entry of a serialized session. URL is the request the
// cookie arrived on; the remaining fields keep its scope across restores.
type savedCookie struct {
	URL      string     `json:"url"`
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain,omitempty"`
	Path     string     `json:"path,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	HTTPOnly bool       `json:"http_only,omitempty"`
}

func (c savedCookie) cookie() *http.Cookie {
	hc := &http.Cookie{
		Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
		Secure: c.Secure, HttpOnly: c.HTTPOnly,
	}
	if c.Expires != nil {
		hc.Expires = *c.Expires
	}
	return hc
}

// recordingJar remembers each cookie as it was set, attributes included,
// since cookiejar.Jar only hands back names and values.
type recordingJar struct {
	*cookiejar.Jar
	mu   sync.Mutex
	seen map[string]savedCookie
	now  func() time.Time
}

func newRecordingJar() (*recordingJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &recordingJar{Jar: jar, seen: map[string]savedCookie{}, now: time.Now}, nil
}

func (j *recordingJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.Jar.SetCookies(u, cookies)
	j.mu.Lock()
	defer j.mu.Unlock()
	origin := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	for _, c := range cookies {
		domain := strings.ToLower(strings.TrimPrefix(c.Domain, "."))
		if domain == "" {
			domain = u.Hostname()
		}
		key := domain + "\x00" + c.Path + "\x00" + c.Name
		now := j.now()
		if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(now)) {
			delete(j.seen, key)
			continue
		}
		sc := savedCookie{
			URL: origin.String(), Name: c.Name, Value: c.Value,
			Domain: c.Domain, Path: c.Path, Secure: c.Secure, HTTPOnly: c.HttpOnly,
		}
		switch {
		case c.MaxAge > 0:
			exp := now.Add(time.Duration(c.MaxAge) * time.Second).UTC()
			sc.Expires = &exp
		case !c.Expires.IsZero():
			exp := c.Expires.UTC()
			sc.Expires = &exp
		}
		j.seen[key] = sc
	}
}

// live returns recorded cookies the jar would still send, in stable order.
func (j *recordingJar) live() []savedCookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	keys := make([]string, 0, len(j.seen))
	for k := range j.seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []savedCookie{}
	for _, k := range keys {
		sc := j.seen[k]
		u, err := url.Parse(sc.URL)
		if err != nil {
			continue
		}
		if sc.Path != "" {
			u.Path = sc.Path
		}
		for _, c := range j.Jar.Cookies(u) {
			if c.Name == sc.Name && c.Value == sc.Value {
				out = append(out, sc)
				break
			}
		}
	}
	return out
}

// Open implements browser.Driver. state is the output of an earlier Page.State.
func (d *Driver) Open(_ context.Context, state []byte) (browser.Page, error) {
	jar, err := newRecordingJar()
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	p := &page{
		jar:     jar,
		ua:      d.UserAgent,
		maxBody: d.MaxBody,
	}
	if p.ua == "" {
		p.ua = defaultUserAgent
	}
	if p.maxBody <= 0 {
		p.maxBody = defaultMaxBody
	}
	p.client = &http.Client{
		Transport: d.Transport,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	if len(state) > 0 {
		var saved []savedCookie
		if err := json.Unmarshal(state, &saved); err != nil {
			return nil, fmt.Errorf("decode session state: %w", err)
		}
		for _, c := range saved {
			u, err := url.Parse(c.URL)
			if err != nil || u.Host == "" {
				continue
			}
			jar.SetCookies(u, []*http.Cookie{c.cookie()})
		}
	}
	return p, nil
}

type page struct {
	mu      sync.Mutex
	client  *http.Client
	jar     *recordingJar
	ua      string
	maxBody int64
	closed  bool

	cur     *url.URL
	doc     *document
	values  map[string]string
}

func (p *page) alive() error {
	if p.closed {
		return connector.ErrSessionDestroyed
	}
	return nil
}

func (p *page) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", ref, err)
	}
	if p.cur != nil {
		u = p.cur.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("relative url %q with no current page", ref)
	}
	u.Fragment = ""
	return u, nil
}

// load performs req and replaces the current document with the response.
func (p *page) load(req *http.Request) error {
	req.Header.Set("User-Agent", p.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 401 and 403 usually render a login page worth inspecting.
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, p.maxBody))
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Redacted(), resp.Status)
	}
	root, err := html.Parse(io.LimitReader(resp.Body, p.maxBody))
	if err != nil {
		return fmt.Errorf("parse %s: %w", resp.Request.URL.Redacted(), err)
	}
	p.cur = resp.Request.URL
	p.doc = index(root)
	p.values = map[string]string{}
	return nil
}

func (p *page) get(ctx context.Context, u *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return p.load(req)
}

func (p *page) Goto(ctx context.Context, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.alive(); err != nil {
		return err
	}
	u, err := p.resolve(target)
	if err != nil {
		return err
	}
	return p.get(ctx, u)
}

func (p *page) Snapshot(context.Context) (*browser.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.alive(); err != nil {
		return nil, err
	}
	if p.doc == nil {
		return &browser.Snapshot{}, nil
	}
	s := p.doc.snapshot()
	s.URL = p.cur.String()
	return s, nil
}

func (p *page) element(ref string) (*element, error) {
	if p.doc == nil {
		return nil, fmt.Errorf("no page loaded")
	}
	el, ok := p.doc.refs[ref]
	if !ok {
		return nil, fmt.Errorf("no element %q", ref)
	}
	return el, nil
}

func (p *page) Fill(_ context.Context, ref, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.alive(); err != nil {
		return err
	}
	el, err := p.element(ref)
	if err != nil {
		return err
	}
	if !el.fillable() {
		return fmt.Errorf("element %q is not an input", ref)
	}
	p.values[ref] = value
	return nil
}

func (p *page) Click(ctx context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.alive(); err != nil {
		return err
	}
	el, err := p.element(ref)
	if err != nil {
		return err
	}
	switch {
	case el.tag == "a":
		u, err := p.resolve(attr(el.node, "href"))
		if err != nil {
			return err
		}
		return p.get(ctx, u)
	case el.submits():
		return p.submit(ctx, el.form, el)
	}
	// Scripted buttons do nothing without a script engine.
	return nil
}

func (p *page) PressEnter(ctx context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.alive(); err != nil {
		return err
	}
	el, err := p.element(ref)
	if err != nil {
		return err
	}
	if el.form == 0 {
		return fmt.Errorf("element %q is outside any form", ref)
	}
	return p.submit(ctx, el.form, p.doc.defaultButton(el.form))
}

// submit encodes form the way a browser would, with submitter as the
// activating button when non-nil.
func (p *page) submit(ctx context.Context, form int, submitter *element) error {
	fn := p.doc.forms[form-1]
	action := attr(fn, "action")
	method := strings.ToUpper(attr(fn, "method"))
	if submitter != nil {
		if v := attr(submitter.node, "formaction"); v != "" {
			action = v
		}
		if v := attr(submitter.node, "formmethod"); v != "" {
			method = strings.ToUpper(v)
		}
	}
	if method != http.MethodPost {
		method = http.MethodGet
	}
	u, err := p.resolve(action)
	if err != nil {
		return err
	}

	vals := url.Values{}
	for _, el := range p.doc.elements {
		if el.form != form {
			continue
		}
		name := attr(el.node, "name")
		if name == "" || hasAttr(el.node, "disabled") {
			continue
		}
		if el.isButton() {
			if el == submitter {
				vals.Add(name, attr(el.node, "value"))
			}
			continue
		}
		v, ok := p.values[el.ref]
		if !ok {
			v, ok = el.defaultValue()
		}
		if ok {
			vals.Add(name, v)
		}
	}

	var req *http.Request
	if method == http.MethodGet {
		u.RawQuery = vals.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u.String(), strings.NewReader(vals.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}
	if p.cur != nil {
		req.Header.Set("Referer", p.cur.String())
	}
	return p.load(req)
}

// WaitIdle returns once the current response is loaded; without scripts
// there is nothing left to settle.
func (p *page) WaitIdle(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.alive(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *page) FollowLink(ctx context.Context, text string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.alive(); err != nil {
		return false, err
	}
	if p.doc == nil {
		return false, nil
	}
	for _, el := range p.doc.elements {
		if el.tag != "a" || !strings.EqualFold(el.text, strings.TrimSpace(text)) {
			continue
		}
		u, err := p.resolve(attr(el.node, "href"))
		if err != nil {
			return true, err
		}
		return true, p.get(ctx, u)
	}
	return false, nil
}

// State serializes the live cookies with their domain, path and flags.
func (p *page) State(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.alive(); err != nil {
		return nil, err
	}
	return json.Marshal(p.jar.live())
}

func (p *page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.client.CloseIdleConnections()
	}
	return nil
}

func (p *page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
