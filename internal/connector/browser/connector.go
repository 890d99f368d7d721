package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/portal-keeper/internal/connector"
	"github.com/and161185/portal-keeper/internal/importer"
	"github.com/and161185/portal-keeper/internal/model"
	"github.com/and161185/portal-keeper/internal/sessioncache"
)

// Connector logs into a portal described by a Profile and scrapes its sections.
type Connector struct {
	profile   *Profile
	driver    Driver
	cache     sessioncache.Cache
	importers importer.Set
	opts      Options
	log       *zap.Logger

	observe func(trace []State)
}

// New constructs a browser connector.
func New(p *Profile, d Driver, deps connector.Deps, opts Options) *Connector {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	cache := deps.Cache
	if cache == nil {
		cache = sessioncache.Nop{}
	}
	return &Connector{
		profile:   p,
		driver:    d,
		cache:     cache,
		importers: deps.Importers,
		opts:      opts.withDefaults(),
		log:       log.With(zap.String("component", "browser"), zap.String("portal_type", p.PortalType)),
	}
}

// Register adds the browser-backed portal types to r.
func Register(r *connector.Registry, d Driver, opts Options) {
	for _, mk := range []func() *Profile{CareSpace, Generic} {
		p := mk()
		r.Register(p.PortalType, func(deps connector.Deps) (connector.Connector, error) {
			if d == nil {
				return nil, fmt.Errorf("%w: no page driver", connector.ErrConfiguration)
			}
			return New(p, d, deps, opts), nil
		})
	}
}

// Sync implements connector.Connector.
func (c *Connector) Sync(ctx context.Context, cred model.DecryptedCredential) (model.SyncResult, error) {
	if strings.TrimSpace(cred.BaseURL) == "" {
		return model.SyncResult{}, fmt.Errorf("%w: base_url is required", connector.ErrConfiguration)
	}
	a := &attempt{c: c, cred: cred, log: c.log.With(zap.Stringer("credential_id", cred.ID))}
	defer a.closePage()

	m := a.machine()
	final, err := m.run(ctx, StateSessionResume)
	if c.observe != nil {
		c.observe(append([]State(nil), m.trace...))
	}
	a.log.Info("attempt finished", zap.Stringer("state", final), zap.Bool("resumed", a.resumed))
	if err != nil {
		return model.SyncResult{}, err
	}
	return a.result, nil
}

// attempt carries the mutable state of one Sync call.
type attempt struct {
	c    *Connector
	cred model.DecryptedCredential
	log  *zap.Logger

	page        Page
	snap        *Snapshot
	user, pass  Match
	resumeTried bool
	resumed     bool

	tally  tally
	result model.SyncResult
}

func (a *attempt) machine() *machine {
	return &machine{handlers: map[State]handler{
		StateSessionResume:   a.sessionResume,
		StateFreshLogin:      a.freshLogin,
		StateFormDetection:   a.formDetection,
		StateSubmit:          a.submit,
		StateMFACheck:        a.mfaCheck,
		StatePostLoginVerify: a.postLoginVerify,
		StateSectionScrape:   a.sectionScrape,
		StateAggregate:       a.aggregate,
	}}
}

func (a *attempt) closePage() {
	if a.page != nil && !a.page.Closed() {
		_ = a.page.Close()
	}
	a.page = nil
}

// sessionResume tries the cached session once. Any failure of that check
// discards the cache and falls through to a fresh login.
func (a *attempt) sessionResume(ctx context.Context) (State, error) {
	if a.resumeTried {
		return StateFreshLogin, nil
	}
	state, err := a.c.cache.Load(ctx, a.cred.ID)
	if err != nil {
		if !errors.Is(err, sessioncache.ErrCacheMiss) {
			a.log.Warn("session cache read failed", zap.Error(err))
		}
		return StateFreshLogin, nil
	}
	a.resumeTried = true

	ok, perr := a.checkCached(ctx, state)
	if ctx.Err() != nil {
		return StateFailed, ctx.Err()
	}
	if ok {
		a.resumed = true
		a.log.Info("cached session accepted")
		return StateSectionScrape, nil
	}
	a.log.Info("cached session rejected", zap.NamedError("reason", perr))
	if err := a.c.cache.Delete(ctx, a.cred.ID); err != nil {
		a.log.Warn("session cache delete failed", zap.Error(err))
	}
	a.closePage()
	return StateFreshLogin, nil
}

func (a *attempt) checkCached(ctx context.Context, state []byte) (bool, error) {
	page, err := a.c.driver.Open(ctx, state)
	if err != nil {
		return false, err
	}
	a.page = page
	if err := a.c.navigate(ctx, page, a.cred.BaseURL); err != nil {
		return false, err
	}
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return LoggedIn(snap, a.c.profile), nil
}

func (a *attempt) freshLogin(ctx context.Context) (State, error) {
	page, err := a.c.driver.Open(ctx, nil)
	if err != nil {
		return StateFailed, fmt.Errorf("open page: %w", err)
	}
	a.page = page
	if err := a.c.navigate(ctx, page, a.cred.BaseURL); err != nil {
		return StateFailed, fmt.Errorf("load login page: %w", err)
	}
	return StateFormDetection, nil
}

func (a *attempt) formDetection(ctx context.Context) (State, error) {
	snap, err := a.page.Snapshot(ctx)
	if err != nil {
		return StateFailed, err
	}
	user, uok := DetectUsername(snap)
	pass, pok := DetectPassword(snap)
	if !uok || !pok {
		return StateFailed, fmt.Errorf("%w: username=%t password=%t on %q (%s)",
			connector.ErrLoginFormNotDetected, uok, pok, snap.Title, snap.URL)
	}
	a.snap, a.user, a.pass = snap, user, pass
	a.log.Debug("login form detected", zap.String("username_rule", user.Rule), zap.String("password_rule", pass.Rule))
	return StateSubmit, nil
}

func (a *attempt) submit(ctx context.Context) (State, error) {
	if err := a.page.Fill(ctx, a.user.Ref, a.cred.Username); err != nil {
		return StateFailed, fmt.Errorf("fill username: %w", err)
	}
	if err := a.page.Fill(ctx, a.pass.Ref, a.cred.Password); err != nil {
		return StateFailed, fmt.Errorf("fill password: %w", err)
	}
	err := a.c.bounded(ctx, a.c.opts.SubmitTimeout, func(ctx context.Context) error {
		if btn, ok := DetectSubmit(a.snap, a.pass.Form); ok {
			if err := a.page.Click(ctx, btn.Ref); err != nil {
				return err
			}
		} else if err := a.page.PressEnter(ctx, a.pass.Ref); err != nil {
			return err
		}
		return a.page.WaitIdle(ctx)
	})
	if err != nil {
		return StateFailed, fmt.Errorf("submit login: %w", err)
	}
	return StateMFACheck, nil
}

func (a *attempt) mfaCheck(ctx context.Context) (State, error) {
	snap, err := a.page.Snapshot(ctx)
	if err != nil {
		return StateFailed, err
	}
	a.snap = snap
	if !secondFactorPending(snap, a.c.profile) {
		return StatePostLoginVerify, nil
	}
	a.log.Info("second factor requested")
	details := map[string]int{}
	for _, s := range a.c.profile.Sections {
		details[s.DetailKey] = 0
	}
	a.result = model.SyncResult{Summary: model.SyncSummary{
		Connector:   a.c.profile.ConnectorName,
		Status:      model.StatusMFARequired,
		Message:     "Multi-factor authentication detected. Manual intervention needed for first sync.",
		Details:     details,
		Remediation: append([]string(nil), a.c.profile.MFASteps...),
	}}
	return StateMFARequired, nil
}

func (a *attempt) postLoginVerify(ctx context.Context) (State, error) {
	if !LoggedIn(a.snap, a.c.profile) {
		return StateFailed, fmt.Errorf("%w: still at %q (%s)", connector.ErrLoginRejected, a.snap.Title, a.snap.URL)
	}
	state, err := a.page.State(ctx)
	if err == nil {
		err = a.c.cache.Save(ctx, a.cred.ID, state)
	}
	if err != nil {
		a.log.Warn("session not cached", zap.Error(err))
	}
	return StateSectionScrape, nil
}

func (a *attempt) sectionScrape(ctx context.Context) (State, error) {
	a.tally = scrapeSections(ctx, a.c.profile.Sections, a.page, func(ctx context.Context, sec Section) (int, error) {
		n, err := a.c.scrapeSection(ctx, a.page, a.cred, sec)
		if err != nil {
			a.log.Warn("section failed", zap.String("section", sec.Name), zap.Error(err))
		} else {
			a.log.Debug("section scraped", zap.String("section", sec.Name), zap.Int("records", n))
		}
		return n, err
	})
	return StateAggregate, nil
}

func (a *attempt) aggregate(context.Context) (State, error) {
	a.result = aggregateResult(a.c.profile, a.tally)
	return StateDone, nil
}

// aggregateResult turns a section tally into the attempt result.
func aggregateResult(p *Profile, t tally) model.SyncResult {
	s := model.SyncSummary{
		Connector: p.ConnectorName,
		Details:   t.details,
		Errors:    t.errors,
	}
	switch {
	case t.ran == 0:
		s.Status = model.StatusFailed
		s.Message = "No sections could be scraped"
		s.Remediation = p.Remediation
	case len(t.errors) > 0:
		s.Status = model.StatusPartialSuccess
		s.Message = fmt.Sprintf("Imported %d records; %d section(s) failed", t.total, len(t.errors))
		s.Remediation = p.Remediation
	default:
		s.Status = model.StatusSuccess
		s.Message = fmt.Sprintf("Imported %d records", t.total)
	}
	return model.SyncResult{RecordsImported: t.total, Summary: s}
}

// navigate loads target and waits for quiescence within NavTimeout.
func (c *Connector) navigate(ctx context.Context, page Page, target string) error {
	return c.bounded(ctx, c.opts.NavTimeout, func(ctx context.Context) error {
		if err := page.Goto(ctx, target); err != nil {
			return err
		}
		return page.WaitIdle(ctx)
	})
}

// bounded runs fn under a deadline; running past it is connector.ErrTimeout.
func (c *Connector) bounded(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, connector.ErrTimeout) {
		return fmt.Errorf("%w after %s: %v", connector.ErrTimeout, d, err)
	}
	return err
}
