package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "portalkeeper")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	base := withTmpConfig(t)
	assert.Equal(t, base, cfgDir())
	assert.True(t, strings.HasPrefix(tokenPath(), base))
	assert.True(t, strings.HasSuffix(tokenPath(), "token.json"))
}

func Test_token_SaveLoadDrop(t *testing.T) {
	_ = withTmpConfig(t)

	_, err := loadToken()
	require.Error(t, err, "missing token file")

	require.NoError(t, saveToken("tok", time.Now().Add(time.Minute)))
	tok, err := loadToken()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)

	fi, err := os.Stat(tokenPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	require.NoError(t, saveToken("tok2", time.Now().Add(-time.Minute)))
	_, err = loadToken()
	require.Error(t, err, "expired token")

	require.NoError(t, dropToken())
	require.NoError(t, dropToken())
	_, err = loadToken()
	require.Error(t, err)
}

func Test_readPassword(t *testing.T) {
	t.Parallel()

	pw, err := readPassword("direct", strings.NewReader("ignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "direct", pw)

	pw, err = readPassword("-", strings.NewReader("from stdin\r\nrest"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", pw)

	pw, err = readPassword("-", strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", pw)
}

func Test_printJSON_WritesPretty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printJSON(&buf, map[string]int{"a": 1})
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())
}

func Test_newClient_Base(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http://localhost:8080", newClient("localhost:8080", "").base)
	assert.Equal(t, "https://pk.example", newClient("https://pk.example/", "").base)
}

// apiStub records requests and answers like the server would.
type apiStub struct {
	mu    sync.Mutex
	calls []string
	auth  []string
}

func (s *apiStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls = append(s.calls, r.Method+" "+r.URL.RequestURI())
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/api/vault/unlock":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "master-pw" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid master password"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "T1", "expires_at": time.Now().Add(time.Hour)})
	case r.URL.Path == "/api/vault/lock":
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/api/portals/credentials" && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8"}`))
	case strings.HasSuffix(r.URL.Path, "/sync"):
		_, _ = w.Write([]byte(`{"sync_log_id":"6ba7b811-9dad-11d1-80b4-00c04fd430c8","records_imported":3,"summary":{"connector":"generic","status":"Success","message":"","details":{}}}`))
	case strings.HasSuffix(r.URL.Path, "/needs-auto-sync"):
		_, _ = w.Write([]byte(`{"needs_auto_sync":true}`))
	case strings.HasSuffix(r.URL.Path, "sync-history"):
		_, _ = w.Write([]byte(`[]`))
	default:
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}
}

func Test_run_AgainstAPI(t *testing.T) {
	_ = withTmpConfig(t)
	stub := &apiStub{}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	ctx := context.Background()
	id := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

	var out bytes.Buffer
	err := run(ctx, srv.URL, []string{"unlock", "-p", "wrong"}, nil, &out)
	var ae *apiError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
	assert.Equal(t, "invalid master password", ae.Msg)

	// add needs a saved token
	err = run(ctx, srv.URL, []string{"add", "-service", "Clinic", "-type", "generic", "-u", "a", "-p", "b"}, nil, &out)
	require.Error(t, err)

	require.NoError(t, run(ctx, srv.URL, []string{"unlock", "-p", "-"}, strings.NewReader("master-pw\n"), &out))
	assert.Equal(t, "ok\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, srv.URL, []string{"add", "-service", "Clinic", "-type", "generic", "-u", "a", "-p", "b"}, nil, &out))
	assert.Equal(t, id+"\n", out.String())

	out.Reset()
	require.NoError(t, run(ctx, srv.URL, []string{"sync", "-id", id}, nil, &out))
	assert.Contains(t, out.String(), `"records_imported": 3`)

	out.Reset()
	require.NoError(t, run(ctx, srv.URL, []string{"needs-sync", "-id", id}, nil, &out))
	assert.Equal(t, "true\n", out.String())

	require.NoError(t, run(ctx, srv.URL, []string{"history", "-id", id, "-limit", "5"}, nil, &out))
	require.NoError(t, run(ctx, srv.URL, []string{"history"}, nil, &out))

	err = run(ctx, srv.URL, []string{"rm", "-id", id}, nil, &out)
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusBadGateway, ae.Status)
	assert.Equal(t, "upstream down", ae.Msg)

	require.NoError(t, run(ctx, srv.URL, []string{"lock"}, nil, &out))
	_, err = loadToken()
	require.Error(t, err, "lock drops the saved token")

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, []string{
		"POST /api/vault/unlock",
		"POST /api/vault/unlock",
		"POST /api/portals/credentials",
		"POST /api/portals/credentials/" + id + "/sync",
		"GET /api/portals/credentials/" + id + "/needs-auto-sync",
		"GET /api/portals/credentials/" + id + "/sync-history?limit=5",
		"GET /api/portals/sync-history",
		"DELETE /api/portals/credentials/" + id,
		"POST /api/vault/lock",
	}, stub.calls)
	assert.Equal(t, "", stub.auth[0])
	assert.Equal(t, "Bearer T1", stub.auth[2])
	assert.Equal(t, "", stub.auth[4], "needs-auto-sync is unauthenticated")
}

func Test_run_Usage(t *testing.T) {
	_ = withTmpConfig(t)
	var out bytes.Buffer
	ctx := context.Background()

	assert.ErrorIs(t, run(ctx, "localhost:1", nil, nil, &out), errUsage)
	assert.ErrorIs(t, run(ctx, "localhost:1", []string{"nope"}, nil, &out), errUsage)
	assert.ErrorContains(t, run(ctx, "localhost:1", []string{"get"}, nil, &out), "need -id")
	assert.ErrorContains(t, run(ctx, "localhost:1", []string{"sync", "-id", "x"}, nil, &out), "bad -id")

	require.NoError(t, run(ctx, "localhost:1", []string{"version"}, nil, &out))
	assert.True(t, strings.HasPrefix(out.String(), "pk dev"))
}
