package browser

import (
	"net/url"
	"regexp"
	"strings"
)

// Match is a detector hit. Rank is the index of the rule that matched; lower is better.
type Match struct {
	Ref  string
	Form int
	Rule string
	Rank int
}

type fieldRule struct {
	name  string
	match func(Field) bool
}

type controlRule struct {
	name  string
	match func(Control) bool
}

func nameIs(v string) func(Field) bool {
	return func(f Field) bool { return strings.EqualFold(f.Name, v) }
}

func typeIs(v string) func(Field) bool {
	return func(f Field) bool { return strings.EqualFold(f.Type, v) }
}

func idHas(v string) func(Field) bool {
	return func(f Field) bool { return containsFold(f.ID, v) }
}

func placeholderHas(v string) func(Field) bool {
	return func(f Field) bool { return containsFold(f.Placeholder, v) }
}

func labelHas(v string) func(Field) bool {
	return func(f Field) bool { return containsFold(f.Label, v) }
}

// usernameRules are tried in order; the first rule with any hit wins.
var usernameRules = []fieldRule{
	{"name=username", nameIs("username")},
	{"name=email", nameIs("email")},
	{"type=email", typeIs("email")},
	{"id~username", idHas("username")},
	{"id~email", idHas("email")},
	{"placeholder~username", placeholderHas("username")},
	{"placeholder~email", placeholderHas("email")},
	{"label~username", labelHas("username")},
	{"label~email", labelHas("email")},
	{"name~login", func(f Field) bool { return containsFold(f.Name, "login") || containsFold(f.Name, "user") }},
}

var passwordRules = []fieldRule{
	{"type=password", typeIs("password")},
	{"name=password", nameIs("password")},
	{"id~password", idHas("password")},
}

var (
	signInText = regexp.MustCompile(`(?i)^\s*(sign in|log in|login|sign on)\s*$`)

	submitRules = []controlRule{
		{"button[type=submit]", func(c Control) bool { return c.Kind == KindButton && strings.EqualFold(c.Type, "submit") }},
		{"input[type=submit]", func(c Control) bool { return c.Kind == KindInput && strings.EqualFold(c.Type, "submit") }},
		{"button~sign in", func(c Control) bool { return c.Kind == KindButton && signInText.MatchString(c.Text) }},
		{"link~sign in", func(c Control) bool { return c.Kind == KindLink && signInText.MatchString(c.Text) }},
	}
)

// textual field types that can hold a username.
var textTypes = map[string]bool{"": true, "text": true, "email": true, "tel": true}

func detectField(fields []Field, rules []fieldRule, accept func(Field) bool) (Match, bool) {
	for rank, r := range rules {
		for _, f := range fields {
			if accept(f) && r.match(f) {
				return Match{Ref: f.Ref, Form: f.Form, Rule: r.name, Rank: rank}, true
			}
		}
	}
	return Match{}, false
}

// DetectUsername finds the most likely username input.
func DetectUsername(s *Snapshot) (Match, bool) {
	return detectField(s.Fields, usernameRules, func(f Field) bool {
		return textTypes[strings.ToLower(f.Type)]
	})
}

// DetectPassword finds the most likely password input.
func DetectPassword(s *Snapshot) (Match, bool) {
	return detectField(s.Fields, passwordRules, func(f Field) bool {
		t := strings.ToLower(f.Type)
		return t != "hidden" && t != "submit" && t != "checkbox"
	})
}

// DetectSubmit finds the submit control, preferring one in form.
func DetectSubmit(s *Snapshot, form int) (Match, bool) {
	for _, sameForm := range []bool{true, false} {
		for rank, r := range submitRules {
			for _, c := range s.Controls {
				if sameForm && c.Form != form {
					continue
				}
				if r.match(c) {
					return Match{Ref: c.Ref, Form: c.Form, Rule: r.name, Rank: rank}, true
				}
			}
		}
	}
	return Match{}, false
}

var mfaText = regexp.MustCompile(`(?i)verification code|two.factor|authenticator|one.time (pass)?code|security code`)

// DetectMFA reports whether the page is asking for a second factor.
func DetectMFA(s *Snapshot) bool {
	if s.HasText(mfaText) {
		return true
	}
	for _, f := range s.Fields {
		if containsFold(f.Placeholder, "code") || containsFold(f.Name, "otp") || containsFold(f.Name, "mfa") {
			return true
		}
	}
	return false
}

// secondFactorPending reports an MFA prompt after submit. On an authenticated
// page only the prompt text counts; a bare "code" field there is ordinary.
func secondFactorPending(s *Snapshot, p *Profile) bool {
	if s.HasText(mfaText) {
		return true
	}
	return DetectMFA(s) && !LoggedIn(s, p)
}

var (
	defaultAuthText = regexp.MustCompile(`(?i)dashboard|welcome|log ?out|sign ?out|my records|health records`)
	loginErrorText  = regexp.MustCompile(`(?i)(invalid|incorrect|wrong) (username|user ?name|password|credentials|login|e-?mail)|(username|password|credentials) (is |are )?(invalid|incorrect)|login failed`)
	loginPath       = regexp.MustCompile(`(?i)/(login|signin|sign-in|logon)\b`)
)

// Authenticated reports positive markers of an authenticated area.
func Authenticated(s *Snapshot, p *Profile) bool {
	if p != nil && p.AuthHost != "" {
		if u, err := url.Parse(s.URL); err == nil && containsFold(u.Host, p.AuthHost) && !loginPath.MatchString(u.Path) {
			return true
		}
	}
	authText := defaultAuthText
	if p != nil && p.AuthText != nil {
		authText = p.AuthText
	}
	if s.HasText(authText) {
		return true
	}
	for _, c := range s.Controls {
		if c.Kind == KindLink && (containsFold(c.Href, "logout") || containsFold(c.Href, "signout")) {
			return true
		}
	}
	return false
}

// AtLogin reports markers that the page is still a login page or a login error.
func AtLogin(s *Snapshot) bool {
	if _, ok := DetectPassword(s); ok {
		return true
	}
	if u, err := url.Parse(s.URL); err == nil && loginPath.MatchString(u.Path) {
		return true
	}
	return s.HasText(loginErrorText)
}

// LoggedIn is the post-login verdict: authenticated markers present and login
// markers absent. Ambiguous pages are not logged in.
func LoggedIn(s *Snapshot, p *Profile) bool {
	return Authenticated(s, p) && !AtLogin(s)
}
