// Command pk is a CLI client for the portal-keeper HTTP API.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/and161185/portal-keeper/internal/model"
)

// ---- config/token store ----

type tokenFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "portalkeeper")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "portalkeeper")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

// withTokenLock serializes token file access between concurrent pk runs.
func withTokenLock(fn func() error) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	fl := flock.New(tokenPath() + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock token file: %w", err)
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}

func saveToken(tok string, exp time.Time) error {
	return withTokenLock(func() error {
		b, err := json.MarshalIndent(tokenFile{Token: tok, ExpiresAt: exp}, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(tokenPath(), b, 0o600)
	})
}

func loadToken() (string, error) {
	var tf tokenFile
	err := withTokenLock(func() error {
		b, err := os.ReadFile(tokenPath())
		if err != nil {
			return err
		}
		return json.Unmarshal(b, &tf)
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if tf.Token == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (unlock required)")
	}
	return tf.Token, nil
}

func dropToken() error {
	return withTokenLock(func() error {
		err := os.Remove(tokenPath())
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	})
}

// ---- http client ----

// apiError is a non-2xx response from the server.
type apiError struct {
	Status int
	Msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Msg)
}

type client struct {
	base  string
	http  *http.Client
	token string
}

func newClient(addr, token string) *client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &client{base: base, http: &http.Client{Timeout: 10 * time.Minute}, token: token}
}

// do sends body as JSON and decodes a 2xx response into out when non-nil.
func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if json.Unmarshal(raw, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(raw))
		}
		return &apiError{Status: resp.StatusCode, Msg: eb.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

// readPassword returns p, or the first stdin line when p is "-".
func readPassword(p string, in io.Reader) (string, error) {
	if p != "-" {
		return p, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `pk CLI
Usage:
  pk -addr HOST:PORT <cmd> [args]

Commands:
  version
  status
  setup      -p <master password|->                 (saves token)
  unlock     -p <master password|->                 (saves token)
  lock
  reset      -confirm RESET
  list
  add        -service <name> -type <portal type> -u <user> -p <password> [options]
  get        -id <uuid>
  update     -id <uuid> [options]                   (only given flags change)
  rm         -id <uuid>
  sync       -id <uuid>
  history    [-id <uuid>] [-limit N]
  needs-sync -id <uuid>
`)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

var errUsage = errors.New("usage")

// main dispatches subcommands against the API.
func main() {
	addr := flag.String("addr", "localhost:8080", "server addr or base URL")
	flag.Usage = usage
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := run(ctx, *addr, flag.Args(), os.Stdin, os.Stdout); err != nil {
		cancel()
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		fail(err)
	}
}

// run executes one subcommand. Output goes to out.
func run(ctx context.Context, addr string, args []string, in io.Reader, out io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	// authed returns a client carrying the saved token.
	authed := func() (*client, error) {
		tok, err := loadToken()
		if err != nil {
			return nil, err
		}
		return newClient(addr, tok), nil
	}
	anon := newClient(addr, "")

	switch cmd {
	case "version":
		fmt.Fprintf(out, "pk %s (%s)\n", version, buildDate)

	case "status":
		var st model.VaultStatus
		if err := anon.do(ctx, http.MethodGet, "/api/vault/status", nil, &st); err != nil {
			return err
		}
		printJSON(out, st)

	case "setup", "unlock":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		p := fs.String("p", "", "master password ('-'=stdin)")
		if err := fs.Parse(rest); err != nil {
			return errUsage
		}
		pw, err := readPassword(*p, in)
		if err != nil {
			return err
		}
		if pw == "" {
			return errors.New("need -p")
		}
		var tr struct {
			Token     string    `json:"token"`
			ExpiresAt time.Time `json:"expires_at"`
		}
		if err := anon.do(ctx, http.MethodPost, "/api/vault/"+cmd, map[string]string{"password": pw}, &tr); err != nil {
			return err
		}
		if err := saveToken(tr.Token, tr.ExpiresAt); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")

	case "lock":
		c, err := authed()
		if err != nil {
			return err
		}
		if err := c.do(ctx, http.MethodPost, "/api/vault/lock", nil, nil); err != nil {
			return err
		}
		_ = dropToken()
		fmt.Fprintln(out, "locked")

	case "reset":
		fs := flag.NewFlagSet("reset", flag.ContinueOnError)
		confirm := fs.String("confirm", "", `type RESET to wipe the vault`)
		if err := fs.Parse(rest); err != nil {
			return errUsage
		}
		c, err := authed()
		if err != nil {
			return err
		}
		if err := c.do(ctx, http.MethodPost, "/api/vault/reset", map[string]string{"confirm": *confirm}, nil); err != nil {
			return err
		}
		_ = dropToken()
		fmt.Fprintln(out, "vault reset")

	case "list":
		var list []model.CredentialSummary
		if err := anon.do(ctx, http.MethodGet, "/api/portals/credentials", nil, &list); err != nil {
			return err
		}
		printJSON(out, list)

	case "add":
		in, err := inputFromFlags(rest)
		if err != nil {
			return err
		}
		c, err := authed()
		if err != nil {
			return err
		}
		var created struct {
			ID string `json:"id"`
		}
		if err := c.do(ctx, http.MethodPost, "/api/portals/credentials", in, &created); err != nil {
			return err
		}
		fmt.Fprintln(out, created.ID)

	case "update":
		id, p, err := patchFromFlags(rest)
		if err != nil {
			return err
		}
		c, err := authed()
		if err != nil {
			return err
		}
		if err := c.do(ctx, http.MethodPut, credPath(id), p, nil); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")

	case "get", "rm", "sync", "needs-sync":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		id := fs.String("id", "", "credential id (uuid)")
		if err := fs.Parse(rest); err != nil {
			return errUsage
		}
		if err := validID(*id); err != nil {
			return err
		}
		return idCommand(ctx, cmd, *id, anon, authed, out)

	case "history":
		fs := flag.NewFlagSet("history", flag.ContinueOnError)
		id := fs.String("id", "", "credential id (uuid, optional)")
		limit := fs.Int("limit", 0, "max entries (0 = server default)")
		if err := fs.Parse(rest); err != nil {
			return errUsage
		}
		path := "/api/portals/sync-history"
		if *id != "" {
			if err := validID(*id); err != nil {
				return err
			}
			path = credPath(*id) + "/sync-history"
		}
		if *limit > 0 {
			path += "?" + url.Values{"limit": {strconv.Itoa(*limit)}}.Encode()
		}
		var h []model.SyncLogEntry
		if err := anon.do(ctx, http.MethodGet, path, nil, &h); err != nil {
			return err
		}
		printJSON(out, h)

	default:
		return errUsage
	}
	return nil
}

func idCommand(ctx context.Context, cmd, id string, anon *client, authed func() (*client, error), out io.Writer) error {
	if cmd == "needs-sync" {
		var r struct {
			NeedsAutoSync bool `json:"needs_auto_sync"`
		}
		if err := anon.do(ctx, http.MethodGet, credPath(id)+"/needs-auto-sync", nil, &r); err != nil {
			return err
		}
		fmt.Fprintln(out, r.NeedsAutoSync)
		return nil
	}

	c, err := authed()
	if err != nil {
		return err
	}
	switch cmd {
	case "get":
		var dc model.DecryptedCredential
		if err := c.do(ctx, http.MethodGet, credPath(id), nil, &dc); err != nil {
			return err
		}
		printJSON(out, dc)
	case "rm":
		if err := c.do(ctx, http.MethodDelete, credPath(id), nil, nil); err != nil {
			return err
		}
		fmt.Fprintln(out, "deleted")
	case "sync":
		var so model.SyncOutcome
		if err := c.do(ctx, http.MethodPost, credPath(id)+"/sync", nil, &so); err != nil {
			return err
		}
		printJSON(out, so)
	}
	return nil
}

func credPath(id string) string { return "/api/portals/credentials/" + id }

// ---- helpers ----

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(os.Stderr, "api error: status=%d msg=%s\n", ae.Status, ae.Msg)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
