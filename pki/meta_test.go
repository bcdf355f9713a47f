package pki_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/mupki/journal"
	"github.com/jmcleod/mupki/pki"
)

func (e *testEnv) readMeta(t *testing.T, parts ...string) string {
	t.Helper()
	data, err := os.ReadFile(e.path(append(parts, "meta.toml")...))
	require.NoError(t, err)
	return string(data)
}

func crlIDs(m *pki.Meta) []string {
	var ids []string
	for _, c := range m.CRL() {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestUpdateIdempotent(t *testing.T) {
	env := newTestEnv(t)
	root := env.root(t)
	svc := env.create(t, root, "svc", true)
	env.create(t, svc, "api", false, pki.WithEKUs(pki.CommonEKUs["serverAuth"]))
	env.create(t, root, "web", false)

	names, err := root.Children()
	require.NoError(t, err)
	assert.Equal(t, []string{"svc", "web"}, names)
	first := env.readMeta(t, "k1")

	for range 3 {
		_, err := root.Children()
		require.NoError(t, err)
		assert.Equal(t, first, env.readMeta(t, "k1"))
	}

	again, err := env.open(t, testKey).Root()
	require.NoError(t, err)
	_, err = again.Children()
	require.NoError(t, err)
	assert.Equal(t, first, env.readMeta(t, "k1"))
}

func TestRenameContinuity(t *testing.T) {
	env := newTestEnv(t)
	root := env.root(t)
	web := env.create(t, root, "web", false)
	id := web.Certificate().SerialNumber.Text(16)

	t.Run("missing then back under a new name", func(t *testing.T) {
		held := env.path("held.crt")
		require.NoError(t, os.Rename(env.path("k1", "web.crt"), held))

		names, err := root.Children()
		require.NoError(t, err)
		assert.Equal(t, []string{"web"}, names)
		assert.True(t, root.Meta().IsMissing("web"))

		require.NoError(t, os.Rename(held, env.path("k1", "www.crt")))
		require.NoError(t, os.Rename(env.path("k1", "web.key"), env.path("k1", "www.key")))

		names, err = root.Children()
		require.NoError(t, err)
		assert.Equal(t, []string{"www"}, names)
		info, ok := root.Meta().Info("www")
		require.True(t, ok)
		assert.Equal(t, id, info.ID)
		assert.False(t, root.Meta().IsMissing("www"))
		assert.Empty(t, root.Meta().CRL())
	})

	t.Run("renamed in one step", func(t *testing.T) {
		require.NoError(t, os.Rename(env.path("k1", "www.crt"), env.path("k1", "w3.crt")))

		names, err := root.Children()
		require.NoError(t, err)
		assert.Equal(t, []string{"w3"}, names)
		info, _ := root.Meta().Info("w3")
		assert.Equal(t, id, info.ID)
		assert.NotContains(t, env.readMeta(t, "k1"), "miss = ['")
	})
}

func TestRevocationSuppression(t *testing.T) {
	env := newTestEnv(t)
	root := env.root(t)
	web := env.create(t, root, "web", false)
	env.create(t, root, "api", false)
	id := web.Certificate().SerialNumber.Text(16)

	info, err := root.Revoke("web")
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.Contains(t, crlIDs(root.Meta()), id)

	for range 2 {
		names, err := root.Children()
		require.NoError(t, err)
		assert.Equal(t, []string{"api"}, names)
		assert.FileExists(t, env.path("k1", "web.crt"))
	}
	assert.Contains(t, env.readMeta(t, "k1"), id)

	_, err = root.Revoke("nobody")
	assert.ErrorIs(t, err, pki.ErrNotFound)

	entries, err := env.journal.List()
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, journal.ActionTombstone, last.Action)
	assert.Equal(t, "k1/web", last.Subject)
}

func TestExpiryRenewal(t *testing.T) {
	env := newTestEnv(t)
	root := env.root(t)
	web := env.create(t, root, "web", false)
	svc := env.create(t, root, "svc", true)
	oldWeb := web.Certificate().SerialNumber.Text(16)
	oldSvc := svc.Certificate().SerialNumber.Text(16)

	env.clock.t = date(2029, time.January, 2)
	_, err := root.Children()
	require.NoError(t, err)

	info, _ := root.Meta().Info("web")
	assert.NotEqual(t, oldWeb, info.ID)
	assert.WithinDuration(t, date(2032, time.August, 24), info.Exp, 0)
	svcInfo, _ := root.Meta().Info("svc")
	assert.Equal(t, oldSvc, svcInfo.ID)

	entries, err := env.journal.List()
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, journal.ActionRenew, last.Action)
	assert.Equal(t, "k1/web", last.Subject)
	assert.Equal(t, info.ID, last.Serial)

	env.clock.t = date(2037, time.January, 2)
	_, err = root.Children()
	require.NoError(t, err)

	svcInfo, _ = root.Meta().Info("svc")
	assert.NotEqual(t, oldSvc, svcInfo.ID)
	assert.True(t, root.Meta().IsCAChild("svc"))
	meta := env.readMeta(t, "k1")
	assert.NotContains(t, meta, oldSvc)
	assert.NotContains(t, meta, oldWeb)
	assert.Empty(t, root.Meta().CRL())

	reloaded, err := env.open(t, testKey).Lookup("k1/svc")
	require.NoError(t, err)
	assert.WithinDuration(t, date(2048, time.August, 24), reloaded.Certificate().NotAfter, 0)
	assert.NoError(t, reloaded.VerifyKey())
}

func TestTrustViolation(t *testing.T) {
	env := newTestEnv(t)
	root := env.root(t)
	env.create(t, root, "web", false)

	other := newTestEnv(t)
	env.create(t, other.root(t), "rogue", false)
	data, err := os.ReadFile(other.path("k1", "rogue.crt"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.path("k1", "rogue.crt"), data, 0o640))

	before := env.readMeta(t, "k1")
	_, err = root.Children()
	assert.ErrorIs(t, err, pki.ErrTrustViolation)
	assert.Equal(t, before, env.readMeta(t, "k1"))
}

func TestReplacedCertificateTombstoned(t *testing.T) {
	env := newTestEnv(t)
	root := env.root(t)
	a := env.create(t, root, "a", false)
	b := env.create(t, root, "b", false)
	aID := a.Certificate().SerialNumber.Text(16)
	bID := b.Certificate().SerialNumber.Text(16)

	data, err := os.ReadFile(env.path("k1", "b.crt"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.path("k1", "a.crt"), data, 0o640))

	_, err = root.Children()
	require.NoError(t, err)
	info, _ := root.Meta().Info("a")
	assert.Equal(t, bID, info.ID)
	assert.Equal(t, []string{aID}, crlIDs(root.Meta()))
}

func TestMetaPreservesHandEdits(t *testing.T) {
	env := newTestEnv(t)
	root := env.root(t)
	env.create(t, root, "svc", true)

	meta := env.readMeta(t, "k1")
	var svcLine string
	for _, line := range strings.Split(meta, "\n") {
		if strings.HasPrefix(line, "svc = ") {
			svcLine = line
		}
	}
	require.NotEmpty(t, svcLine)

	edited := "# hand edited\n" + strings.Replace(meta, svcLine, "# services\n"+svcLine+" # keep", 1)
	require.NoError(t, os.WriteFile(env.path("k1", "meta.toml"), []byte(edited), 0o644))

	fresh, err := env.open(t, testKey).Root()
	require.NoError(t, err)
	env.create(t, fresh, "web", false)
	_, err = fresh.Children()
	require.NoError(t, err)

	after := env.readMeta(t, "k1")
	assert.True(t, strings.HasPrefix(after, "# hand edited\n"))
	assert.Contains(t, after, "# services\n"+svcLine+" # keep\n")
	assert.Contains(t, after, "web = { id = '")
}

func TestRootMetaInitialized(t *testing.T) {
	env := newTestEnv(t)
	env.root(t)
	require.NoError(t, os.Remove(env.path("k1", "meta.toml")))

	_, err := env.open(t, testKey).Root()
	require.NoError(t, err)
	assert.FileExists(t, env.path("k1", "meta.toml"))
}

func TestWalk(t *testing.T) {
	env := newTestEnv(t)
	root := env.root(t)
	svc := env.create(t, root, "svc", true)
	env.create(t, svc, "api", false)
	env.create(t, root, "web", false)
	require.NoError(t, os.Remove(env.path("k1", "web.crt")))

	var visited []string
	var missing []string
	err := env.h.Walk(root, func(path string, n *pki.Node) error {
		if n == nil {
			missing = append(missing, path)
			return nil
		}
		visited = append(visited, path)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k1/svc", "k1/svc/api"}, visited)
	assert.Equal(t, []string{"k1/web"}, missing)
}

func TestTrustViolationAfterRenewal(t *testing.T) {
	env := newTestEnv(t)
	root := env.root(t)
	a := env.create(t, root, "a", false)
	oldA := a.Certificate().SerialNumber.Text(16)

	other := newTestEnv(t)
	env.create(t, other.root(t), "z", false)
	data, err := os.ReadFile(other.path("k1", "z.crt"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(env.path("k1", "z.crt"), data, 0o640))

	env.clock.t = date(2029, time.January, 2)
	_, err = root.Children()
	assert.ErrorIs(t, err, pki.ErrTrustViolation)

	// "a" sorts before "z": its renewal was saved while signing.
	info, ok := root.Meta().Info("a")
	require.True(t, ok)
	assert.NotEqual(t, oldA, info.ID)
	meta := env.readMeta(t, "k1")
	assert.Contains(t, meta, info.ID)
	assert.NotContains(t, meta, "z = ")
}

func TestMetaArrayOfTables(t *testing.T) {
	env := newTestEnv(t)
	root := env.root(t)
	web := env.create(t, root, "web", false)
	env.create(t, root, "api", false)
	webID := web.Certificate().SerialNumber.Text(16)
	_, err := root.Revoke("web")
	require.NoError(t, err)
	api, ok := root.Meta().Info("api")
	require.True(t, ok)

	exp := func(ts time.Time) string { return ts.UTC().Format(time.RFC3339) }
	edited := "ca = []\nmiss = []\nekus = []\n\n[certs]\n" +
		"api = { id = '" + api.ID + "', exp = " + exp(api.Exp) + " }\n\n" +
		"# revoked by hand\n[[crl]]\nid = '" + webID + "'\nexp = " + exp(web.Certificate().NotAfter) + "\n"
	require.NoError(t, os.WriteFile(env.path("k1", "meta.toml"), []byte(edited), 0o644))

	fresh, err := env.open(t, testKey).Root()
	require.NoError(t, err)
	names, err := fresh.Children()
	require.NoError(t, err)
	assert.Equal(t, []string{"api"}, names)
	assert.Equal(t, []string{webID}, crlIDs(fresh.Meta()))
	assert.Equal(t, edited, env.readMeta(t, "k1"))

	_, err = fresh.Revoke("api")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{webID, api.ID}, crlIDs(fresh.Meta()))
	assert.NotContains(t, env.readMeta(t, "k1"), "[[crl]]")

	again, err := env.open(t, testKey).Root()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{webID, api.ID}, crlIDs(again.Meta()))
}

func TestMetaDottedKeys(t *testing.T) {
	env := newTestEnv(t)
	root := env.root(t)
	env.create(t, root, "api", false)
	api, ok := root.Meta().Info("api")
	require.True(t, ok)

	edited := "# flattened by hand\n" +
		"certs.api.id = '" + api.ID + "'\n" +
		"certs.api.exp = " + api.Exp.UTC().Format(time.RFC3339) + " # pinned\n"
	require.NoError(t, os.WriteFile(env.path("k1", "meta.toml"), []byte(edited), 0o644))

	fresh, err := env.open(t, testKey).Root()
	require.NoError(t, err)
	names, err := fresh.Children()
	require.NoError(t, err)
	assert.Equal(t, []string{"api"}, names)
	first := env.readMeta(t, "k1")
	assert.True(t, strings.HasPrefix(first, edited))

	_, err = fresh.Children()
	require.NoError(t, err)
	assert.Equal(t, first, env.readMeta(t, "k1"))

	env.create(t, fresh, "web", false)
	after := env.readMeta(t, "k1")
	assert.True(t, strings.HasPrefix(after, edited))
	assert.Contains(t, after, "certs.web = { id = '")
}
