package storage

import (
	"context"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
)

func openTestStore(c *qt.C) *Store {
	s, err := Open(context.Background(), filepath.Join(c.TempDir(), "device.db"), nil)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { s.Close() })
	return s
}

func TestReplaceAndDeletePrefix(t *testing.T) {
	c := qt.New(t)
	s := openTestStore(c)
	ctx := context.Background()

	c.Assert(s.SetMany(ctx, map[string]string{
		"session.role":     "worker",
		"session.workerId": "AB12",
		"prefs.theme":      "dark",
	}), qt.IsNil)

	c.Assert(s.ReplacePrefix(ctx, "session.", map[string]string{
		"session.role":         "manager",
		"session.managerEmail": "gestor@qssma.com",
	}), qt.IsNil)

	got, err := s.All(ctx, "session.")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, map[string]string{
		"session.role":         "manager",
		"session.managerEmail": "gestor@qssma.com",
	})

	c.Assert(s.DeletePrefix(ctx, "session."), qt.IsNil)
	got, err = s.All(ctx, "session.")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.HasLen, 0)

	v, ok, err := s.Get(ctx, "prefs.theme")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(v, qt.Equals, "dark")
}

func TestReplacePrefixRejectsForeignKeys(t *testing.T) {
	c := qt.New(t)
	s := openTestStore(c)
	ctx := context.Background()

	c.Assert(s.SetMany(ctx, map[string]string{"session.role": "worker"}), qt.IsNil)
	err := s.ReplacePrefix(ctx, "session.", map[string]string{"prefs.theme": "dark"})
	c.Assert(err, qt.ErrorMatches, `key "prefs.theme" outside namespace "session."`)

	v, _, err := s.Get(ctx, "session.role")
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, "worker")
}

func TestPrefsRoundTrip(t *testing.T) {
	c := qt.New(t)
	s := openTestStore(c)
	p := NewPrefs(s)
	ctx := context.Background()

	got, err := p.Load(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, Preferences{Theme: "light"})

	want := Preferences{Theme: "dark", HighContrast: true}
	c.Assert(p.Save(ctx, want), qt.IsNil)
	got, err = p.Load(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, want)

	c.Assert(p.Save(ctx, Preferences{Theme: "neon"}), qt.ErrorMatches, `unknown theme "neon"`)
}
