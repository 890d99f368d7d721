package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/and161185/portal-keeper/internal/connector"
	"github.com/and161185/portal-keeper/internal/importer"
	"github.com/and161185/portal-keeper/internal/model"
)

// ScrapeFunc reads one section and returns the number of records imported.
type ScrapeFunc func(ctx context.Context, sec Section) (int, error)

// tally is the aggregate of a section run.
type tally struct {
	details map[string]int
	errors  []string
	total   int
	// ran counts sections whose scrape was attempted, failed or not.
	ran int
}

// scrapeSections runs sections in order against one page. A section failure
// is recorded and the loop moves on, unless the session is gone, in which
// case the remaining sections are skipped.
func scrapeSections(ctx context.Context, sections []Section, page Page, scrape ScrapeFunc) tally {
	t := tally{details: make(map[string]int, len(sections))}
	for _, sec := range sections {
		t.details[sec.DetailKey] += 0
	}
	for _, sec := range sections {
		if page != nil && page.Closed() {
			t.errors = append(t.errors, (&connector.SectionError{Section: sec.Name, Err: connector.ErrSessionDestroyed}).Error())
			break
		}
		n, err := scrape(ctx, sec)
		t.ran++
		if err != nil {
			t.errors = append(t.errors, (&connector.SectionError{Section: sec.Name, Err: err}).Error())
			if errors.Is(err, connector.ErrSessionDestroyed) || (page != nil && page.Closed()) {
				break
			}
			continue
		}
		t.details[sec.DetailKey] += n
		t.total += n
	}
	return t
}

// scrapeSection navigates to sec, collects its rows and hands them to the section importer.
func (c *Connector) scrapeSection(ctx context.Context, page Page, cred model.DecryptedCredential, sec Section) (int, error) {
	for i, st := range sec.Steps {
		ok, err := c.step(ctx, page, cred.BaseURL, st)
		if err != nil {
			return 0, err
		}
		if !ok {
			if i == 0 {
				return 0, nil
			}
			break
		}
	}
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	var items []importer.Item
	if sec.Reports != nil {
		links := snap.Links(sec.Reports)
		if len(links) > c.opts.MaxItems {
			links = links[:c.opts.MaxItems]
		}
		for _, l := range links {
			target, err := resolve(snap.URL, l.Href)
			if err != nil || target == "" {
				continue
			}
			if err := c.navigate(ctx, page, target); err != nil {
				return 0, fmt.Errorf("open report %q: %w", l.Text, err)
			}
			rs, err := page.Snapshot(ctx)
			if err != nil {
				return 0, err
			}
			items = append(items, rowsOf(rs, sec, l.Text)...)
		}
	} else {
		items = rowsOf(snap, sec, "")
		if len(items) > c.opts.MaxItems {
			items = items[:c.opts.MaxItems]
		}
	}
	return c.importers.For(sec.DetailKey).ImportRecords(ctx, cred.ID, items)
}

// step performs one navigation hop. It reports false when no link matched.
func (c *Connector) step(ctx context.Context, page Page, base string, st Step) (bool, error) {
	if st.Path != "" {
		target, err := resolve(base, st.Path)
		if err != nil {
			return false, fmt.Errorf("%w: bad section path %q", connector.ErrConfiguration, st.Path)
		}
		return true, c.navigate(ctx, page, target)
	}
	for _, text := range st.Links {
		var followed bool
		err := c.bounded(ctx, c.opts.NavTimeout, func(ctx context.Context) error {
			ok, err := page.FollowLink(ctx, text)
			if err != nil || !ok {
				return err
			}
			followed = true
			return page.WaitIdle(ctx)
		})
		if err != nil {
			return false, err
		}
		if followed {
			return true, nil
		}
	}
	return false, nil
}

// rowsOf flattens snapshot tables into items, applying the section's row filters.
func rowsOf(s *Snapshot, sec Section, report string) []importer.Item {
	var out []importer.Item
	for _, tb := range s.Tables {
		for _, row := range tb.Rows {
			text := strings.Join(row, " ")
			if strings.TrimSpace(text) == "" {
				continue
			}
			if sec.Rows != nil && !sec.Rows.MatchString(text) {
				continue
			}
			if sec.Exclude != nil && sec.Exclude.MatchString(text) {
				continue
			}
			fields := make(map[string]string, len(row)+1)
			for i, cell := range row {
				name := fmt.Sprintf("col%d", i+1)
				if i < len(tb.Headers) && tb.Headers[i] != "" {
					name = tb.Headers[i]
				}
				fields[name] = cell
			}
			if report != "" {
				fields["report"] = report
			}
			out = append(out, importer.Item{Fields: fields})
		}
	}
	return out
}

func resolve(base, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}
