package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/lalith-99/qssma-portal/internal/bus"
	"github.com/lalith-99/qssma-portal/internal/identity"
	"github.com/lalith-99/qssma-portal/internal/models"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	gw       *Gateway
	idp      *identityStub
	workers  *workerRepoStub
	managers *managerRepoStub
	notices  *noticeRepoFake
	bus      *bus.Memory
}

const managerToken = "token-manager"

func newFixture() *fixture {
	f := &fixture{
		idp: &identityStub{principals: map[string]*identity.Principal{
			managerToken:   {UID: "m1", Email: "gestor@qssma.com", Token: managerToken},
			"token-nobody": {UID: "u9", Email: "someone@qssma.com", Token: "token-nobody"},
		}},
		workers: &workerRepoStub{workers: map[string]*models.Worker{
			"AB12": {Badge: "AB12", Name: "Ana", Active: true},
			"X001": {Badge: "X001", Name: "Xavier", Active: false},
		}},
		managers: &managerRepoStub{managers: map[string]*models.Manager{
			"m1": {UID: "m1", Email: "gestor@qssma.com", DisplayName: "Gestor QSSMA", Role: models.ManagerRoleManager},
		}},
		notices: newNoticeRepoFake(),
		bus:     bus.NewMemory(),
	}
	f.gw = New(Deps{
		Identity: f.idp,
		Workers:  f.workers,
		Managers: f.managers,
		Notices:  f.notices,
		Bus:      f.bus,
		Now:      func() time.Time { return time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC) },
	})
	return f
}

func TestFindWorkerByBadge(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	ctx := context.Background()

	w, err := f.gw.FindWorkerByBadge(ctx, "AB12")
	c.Assert(err, qt.IsNil)
	c.Assert(w.Name, qt.Equals, "Ana")

	w, err = f.gw.FindWorkerByBadge(ctx, "NOPE")
	c.Assert(err, qt.IsNil)
	c.Assert(w, qt.IsNil)

	f.workers.err = errors.New("connection refused")
	_, err = f.gw.FindWorkerByBadge(ctx, "AB12")
	c.Assert(KindOf(err), qt.Equals, NetworkUnavailable)
}

func TestNormalizeBadge(t *testing.T) {
	qt.Assert(t, NormalizeBadge("  ab12 "), qt.Equals, "AB12")
}

func TestAuthenticateManagerTranslatesProviderCodes(t *testing.T) {
	tests := []struct {
		code string
		want AuthErrorKind
	}{
		{identity.CodeWrongPassword, AuthInvalidCredential},
		{identity.CodeUserNotFound, AuthInvalidCredential},
		{identity.CodeInvalidEmail, AuthInvalidCredential},
		{identity.CodeUserDisabled, AuthAccountDisabled},
		{identity.CodeTooManyRequests, AuthTooManyAttempts},
		{identity.CodeNetworkFailed, AuthNetworkUnavailable},
		{"auth/quota-exceeded", AuthUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			c := qt.New(t)
			f := newFixture()
			f.idp.signInErr = &identity.ProviderError{Code: tc.code, Err: errors.New("provider said something raw")}

			_, err := f.gw.AuthenticateManager(context.Background(), "gestor@qssma.com", "x")
			var authErr *AuthError
			c.Assert(errors.As(err, &authErr), qt.IsTrue)
			c.Assert(authErr.Kind, qt.Equals, tc.want)
			c.Assert(err.Error(), qt.Not(qt.Contains), "raw")
		})
	}
}

func TestAuthenticateManagerWithoutRoleIsSignedOut(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	f.idp.signInAs = &identity.Principal{UID: "u9", Email: "someone@qssma.com", Token: "token-nobody"}

	tok, err := f.gw.AuthenticateManager(context.Background(), "someone@qssma.com", "right-password")
	c.Assert(tok, qt.IsNil)
	var authErr *AuthError
	c.Assert(errors.As(err, &authErr), qt.IsTrue)
	c.Assert(authErr.Kind, qt.Equals, AuthInvalidCredential)
	c.Assert(f.idp.signedOut, qt.DeepEquals, []string{"token-nobody"})
}

func TestAuthenticateManager(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	f.idp.signInAs = f.idp.principals[managerToken]

	tok, err := f.gw.AuthenticateManager(context.Background(), "gestor@qssma.com", "s3nha")
	c.Assert(err, qt.IsNil)
	c.Assert(tok.DisplayName, qt.Equals, "Gestor QSSMA")
	c.Assert(tok.Token, qt.Equals, managerToken)
	c.Assert(f.idp.signedOut, qt.HasLen, 0)
}

func TestVerifyManager(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	ctx := context.Background()

	tok, err := f.gw.VerifyManager(ctx, managerToken)
	c.Assert(err, qt.IsNil)
	c.Assert(tok.Email, qt.Equals, "gestor@qssma.com")

	_, err = f.gw.VerifyManager(ctx, "expired")
	c.Assert(KindOf(err), qt.Equals, Unauthenticated)

	_, err = f.gw.VerifyManager(ctx, "token-nobody")
	c.Assert(KindOf(err), qt.Equals, Unauthorized)
}

func TestWritesRequireManagerToken(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	ctx := context.Background()
	draft := models.NoticeDraft{Title: "EPI", Body: "Use capacete", Active: true}

	_, err := f.gw.CreateNotice(ctx, "", draft)
	c.Assert(KindOf(err), qt.Equals, Unauthenticated)

	_, err = f.gw.CreateNotice(ctx, "token-nobody", draft)
	c.Assert(KindOf(err), qt.Equals, Unauthorized)

	err = f.gw.UpdateNotice(ctx, "", "n-1", models.NoticePatch{Title: ptr("x")})
	c.Assert(KindOf(err), qt.Equals, Unauthenticated)

	err = f.gw.DeleteNotice(ctx, "", "n-1")
	c.Assert(KindOf(err), qt.Equals, Unauthenticated)

	_, err = f.gw.ListNotices(ctx, "")
	c.Assert(KindOf(err), qt.Equals, Unauthenticated)
}

func TestCreateNoticeStampsAuthorAndPublishes(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	ctx := context.Background()

	events, cancel := f.bus.Subscribe(ctx, bus.TopicNotices)
	defer cancel()

	id, err := f.gw.CreateNotice(ctx, managerToken, models.NoticeDraft{Title: " EPI ", Body: "Use capacete", Active: true})
	c.Assert(err, qt.IsNil)

	all, err := f.gw.ListNotices(ctx, managerToken)
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.HasLen, 1)
	c.Assert(all[0].ID, qt.Equals, id)
	c.Assert(all[0].Title, qt.Equals, "EPI")
	c.Assert(all[0].AuthorIdentity, qt.Equals, "gestor@qssma.com")
	c.Assert(all[0].Audience, qt.Equals, models.AudienceAll)
	c.Assert(all[0].Priority, qt.Equals, models.PriorityInformative)

	select {
	case <-events:
	case <-time.After(time.Second):
		c.Fatal("no change event published")
	}
}

func TestWriteValidationAndNotFound(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	ctx := context.Background()

	_, err := f.gw.CreateNotice(ctx, managerToken, models.NoticeDraft{Title: " ", Body: "b"})
	c.Assert(KindOf(err), qt.Equals, InvalidInput)

	_, err = f.gw.CreateNotice(ctx, managerToken, models.NoticeDraft{Title: "t", Body: "b", Audience: "everyone"})
	c.Assert(KindOf(err), qt.Equals, InvalidInput)

	err = f.gw.UpdateNotice(ctx, managerToken, "n-404", models.NoticePatch{})
	c.Assert(KindOf(err), qt.Equals, InvalidInput)

	err = f.gw.UpdateNotice(ctx, managerToken, "n-404", models.NoticePatch{Active: ptr(false)})
	c.Assert(KindOf(err), qt.Equals, NotFound)

	err = f.gw.DeleteNotice(ctx, managerToken, "n-404")
	c.Assert(KindOf(err), qt.Equals, NotFound)
}

func TestUpdateNoticeStampsEditor(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	ctx := context.Background()

	id, err := f.gw.CreateNotice(ctx, managerToken, models.NoticeDraft{Title: "t", Body: "b", Active: true})
	c.Assert(err, qt.IsNil)
	c.Assert(f.gw.UpdateNotice(ctx, managerToken, id, models.NoticePatch{Active: ptr(false)}), qt.IsNil)

	all, err := f.gw.ListNotices(ctx, managerToken)
	c.Assert(err, qt.IsNil)
	c.Assert(all[0].Active, qt.IsFalse)
	c.Assert(all[0].UpdatedBy, qt.Equals, "gestor@qssma.com")
	c.Assert(all[0].UpdatedAt, qt.IsNotNil)
}

func TestListNoticesNewestFirst(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.notices.put(models.Notice{ID: "old", Active: true, CreatedAt: base})
	f.notices.put(models.Notice{ID: "new", Active: false, CreatedAt: base.Add(time.Hour)})

	all, err := f.gw.ListNotices(context.Background(), managerToken)
	c.Assert(err, qt.IsNil)
	c.Assert(ids(all), qt.DeepEquals, []string{"new", "old"})
}

func TestSubscribeActiveNoticesDeliversOnlyActive(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.notices.put(models.Notice{ID: "on", Active: true, CreatedAt: base})
	f.notices.put(models.Notice{ID: "off", Active: false, CreatedAt: base.Add(time.Hour)})

	snapshots := make(chan []models.Notice, 4)
	sub := f.gw.SubscribeActiveNotices(func(n []models.Notice) { snapshots <- n })
	defer sub.Cancel()

	c.Assert(ids(next(c, snapshots)), qt.DeepEquals, []string{"on"})

	f.notices.put(models.Notice{ID: "on2", Active: true, CreatedAt: base.Add(2 * time.Hour)})
	c.Assert(f.bus.Publish(context.Background(), bus.TopicNotices), qt.IsNil)
	c.Assert(ids(next(c, snapshots)), qt.DeepEquals, []string{"on2", "on"})
}

func TestSubscribeActiveNoticesReadErrorDeliversEmpty(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	f.notices.put(models.Notice{ID: "on", Active: true})
	f.notices.setListErr(errors.New("permission-denied"))

	snapshots := make(chan []models.Notice, 1)
	sub := f.gw.SubscribeActiveNotices(func(n []models.Notice) { snapshots <- n })
	defer sub.Cancel()

	got := next(c, snapshots)
	c.Assert(got, qt.IsNotNil)
	c.Assert(got, qt.HasLen, 0)
}

func TestSubscriptionCancelIsIdempotent(t *testing.T) {
	f := newFixture()
	sub := f.gw.SubscribeActiveNotices(func([]models.Notice) {})
	sub.Cancel()
	sub.Cancel()
}

func TestDashboardStats(t *testing.T) {
	c := qt.New(t)
	f := newFixture()
	f.notices.put(models.Notice{ID: "on", Active: true})
	f.notices.put(models.Notice{ID: "off", Active: false})

	stats, err := f.gw.DashboardStats(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(stats.WorkerCount, qt.Equals, 1)
	c.Assert(stats.ActiveNoticeCount, qt.Equals, 1)

	f.workers.err = errors.New("unavailable")
	stats, err = f.gw.DashboardStats(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(stats.WorkerCount, qt.Equals, 0)
	c.Assert(stats.ActiveNoticeCount, qt.Equals, 0)
}

func next(c *qt.C, ch <-chan []models.Notice) []models.Notice {
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		c.Fatal("no snapshot delivered")
		return nil
	}
}

func ids(notices []models.Notice) []string {
	out := make([]string, 0, len(notices))
	for _, n := range notices {
		out = append(out, n.ID)
	}
	return out
}

func ptr[T any](v T) *T { return &v }
