package httpdriver

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/and161185/portal-keeper/internal/connector/browser"
)

// element is an interactive node addressed by ref.
type element struct {
	ref   string
	tag   string
	typ   string
	node  *html.Node
	form  int // 1-based form index, 0 outside forms
	text  string
	label string
}

func (e *element) isButton() bool {
	if e.tag == "button" {
		return true
	}
	if e.tag != "input" {
		return false
	}
	switch e.typ {
	case "submit", "button", "image", "reset":
		return true
	}
	return false
}

func (e *element) submits() bool {
	if e.form == 0 {
		return false
	}
	switch e.tag {
	case "button":
		return e.typ == "submit"
	case "input":
		return e.typ == "submit" || e.typ == "image"
	}
	return false
}

func (e *element) fillable() bool {
	switch e.tag {
	case "textarea", "select":
		return true
	case "input":
		switch e.typ {
		case "submit", "button", "image", "reset", "hidden", "checkbox", "radio", "file":
			return false
		}
		return true
	}
	return false
}

// defaultValue is the value sent when the form is submitted untouched.
func (e *element) defaultValue() (string, bool) {
	switch e.tag {
	case "textarea":
		return textOf(e.node), true
	case "select":
		var first *html.Node
		var pick func(*html.Node) *html.Node
		pick = func(n *html.Node) *html.Node {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.DataAtom == atom.Option {
					if first == nil {
						first = c
					}
					if hasAttr(c, "selected") {
						return c
					}
				}
				if got := pick(c); got != nil {
					return got
				}
			}
			return nil
		}
		opt := pick(e.node)
		if opt == nil {
			opt = first
		}
		if opt == nil {
			return "", false
		}
		if v, ok := attrOK(opt, "value"); ok {
			return v, true
		}
		return textOf(opt), true
	case "input":
		switch e.typ {
		case "checkbox", "radio":
			if !hasAttr(e.node, "checked") {
				return "", false
			}
			if v, ok := attrOK(e.node, "value"); ok {
				return v, true
			}
			return "on", true
		case "file":
			return "", false
		}
		return attr(e.node, "value"), true
	}
	return "", false
}

type document struct {
	title    string
	text     string
	forms    []*html.Node
	elements []*element
	refs     map[string]*element
	tables   []browser.Table
}

func (d *document) defaultButton(form int) *element {
	for _, el := range d.elements {
		if el.form == form && el.submits() {
			return el
		}
	}
	return nil
}

var invisible = map[atom.Atom]bool{
	atom.Head: true, atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
}

// index walks the parsed tree once, collecting forms, interactive elements,
// labels, tables and visible text.
func index(root *html.Node) *document {
	d := &document{refs: map[string]*element{}}
	labelFor := map[string]string{}
	inLabel := map[*element]string{}
	var text []string

	var walk func(n *html.Node, form int, label string)
	walk = func(n *html.Node, form int, label string) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				text = append(text, s)
			}
			return
		case html.ElementNode:
			if invisible[n.DataAtom] || hasAttr(n, "hidden") {
				return
			}
			switch n.DataAtom {
			case atom.Form:
				d.forms = append(d.forms, n)
				form = len(d.forms)
			case atom.Label:
				label = textOf(n)
				if id := attr(n, "for"); id != "" {
					labelFor[id] = label
				}
			case atom.Table:
				d.tables = append(d.tables, parseTable(n))
			case atom.Input, atom.Textarea, atom.Select, atom.Button, atom.A:
				if el := d.add(n, form); el != nil && label != "" {
					inLabel[el] = label
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, form, label)
		}
	}
	walk(root, 0, "")
	if t := findFirst(root, atom.Title); t != nil {
		d.title = textOf(t)
	}

	for _, el := range d.elements {
		if l, ok := labelFor[attr(el.node, "id")]; ok && attr(el.node, "id") != "" {
			el.label = l
		} else {
			el.label = inLabel[el]
		}
	}
	d.text = strings.Join(text, " ")
	return d
}

func (d *document) add(n *html.Node, form int) *element {
	el := &element{tag: n.Data, node: n, form: form}
	switch n.DataAtom {
	case atom.A:
		if _, ok := attrOK(n, "href"); !ok {
			return nil
		}
		el.text = textOf(n)
		if el.text == "" {
			el.text = attr(n, "aria-label")
		}
	case atom.Input:
		el.typ = strings.ToLower(attr(n, "type"))
		if el.typ == "" {
			el.typ = "text"
		}
		el.text = attr(n, "value")
		if el.text == "" && el.typ == "submit" {
			el.text = "Submit"
		}
	case atom.Button:
		el.typ = strings.ToLower(attr(n, "type"))
		if el.typ == "" {
			el.typ = "submit"
		}
		el.text = textOf(n)
	case atom.Textarea, atom.Select:
		el.typ = n.Data
	}
	el.ref = fmt.Sprintf("e%d", len(d.elements)+1)
	d.elements = append(d.elements, el)
	d.refs[el.ref] = el
	return el
}

func (d *document) snapshot() *browser.Snapshot {
	s := &browser.Snapshot{Title: d.title, Text: d.text, Tables: d.tables}
	for _, el := range d.elements {
		switch {
		case el.fillable():
			s.Fields = append(s.Fields, browser.Field{
				Ref:         el.ref,
				Form:        el.form,
				Type:        el.typ,
				Name:        attr(el.node, "name"),
				ID:          attr(el.node, "id"),
				Placeholder: attr(el.node, "placeholder"),
				Label:       el.label,
			})
		case el.tag == "a":
			s.Controls = append(s.Controls, browser.Control{
				Ref: el.ref, Form: el.form, Kind: browser.KindLink, Text: el.text, Href: attr(el.node, "href"),
			})
		case el.tag == "button":
			s.Controls = append(s.Controls, browser.Control{
				Ref: el.ref, Form: el.form, Kind: browser.KindButton, Type: el.typ, Text: el.text,
			})
		case el.isButton():
			s.Controls = append(s.Controls, browser.Control{
				Ref: el.ref, Form: el.form, Kind: browser.KindInput, Type: el.typ, Text: el.text,
			})
		}
	}
	return s
}

// parseTable flattens t. A leading row made only of th cells becomes the header.
func parseTable(t *html.Node) browser.Table {
	var tb browser.Table
	var rows func(n *html.Node)
	rows = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Table:
				// nested tables are indexed on their own
			case atom.Caption:
				tb.Caption = textOf(c)
			case atom.Tr:
				cells, allTH := rowCells(c)
				if len(cells) == 0 {
					continue
				}
				if allTH && tb.Headers == nil && tb.Rows == nil {
					tb.Headers = cells
				} else {
					tb.Rows = append(tb.Rows, cells)
				}
			default:
				rows(c)
			}
		}
	}
	rows(t)
	return tb
}

func rowCells(tr *html.Node) ([]string, bool) {
	var cells []string
	allTH := true
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		if c.DataAtom == atom.Td {
			allTH = false
		}
		cells = append(cells, textOf(c))
	}
	return cells, allTH
}

// textOf returns the whitespace-collapsed text under n.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		if n.Type == html.ElementNode && invisible[n.DataAtom] && n.DataAtom != atom.Head {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if got := findFirst(c, a); got != nil {
			return got
		}
	}
	return nil
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := attrOK(n, key)
	return ok
}
