// Package screen decides which screen the local UI may show for a session.
// Routing here only keeps a guest away from admin screens in the UI; the
// gateway re-checks every write.
package screen

import (
	"github.com/lalith-99/qssma-portal/internal/models"
)

type Screen string

const (
	Welcome          Screen = "welcome"
	ProfileSelect    Screen = "profile-select"
	WorkerLogin      Screen = "worker-login"
	ManagerLogin     Screen = "manager-login"
	WorkerDashboard  Screen = "worker-dashboard"
	ManagerDashboard Screen = "manager-dashboard"
	FormEmbed        Screen = "form-embed"
	Emergency        Screen = "emergency"
)

type access int

const (
	public access = iota
	signedIn
	workerOnly
	managerOnly
	loginForm
)

var screens = map[Screen]access{
	Welcome:          public,
	ProfileSelect:    public,
	Emergency:        public,
	WorkerLogin:      loginForm,
	ManagerLogin:     loginForm,
	FormEmbed:        signedIn,
	WorkerDashboard:  workerOnly,
	ManagerDashboard: managerOnly,
}

// Resolved is the screen to render for a request.
type Resolved struct {
	Screen       Screen `json:"screen"`
	Requested    Screen `json:"requested"`
	Redirected   bool   `json:"redirected"`
	PanicVisible bool   `json:"panic_visible"`
}

// Next resolves a requested screen against the session. A screen the
// role may not see resolves to the matching login screen; an unknown one
// resolves to Welcome; a login screen while signed in resolves to the
// role's dashboard.
func Next(sess models.Session, requested Screen) Resolved {
	to := resolve(sess, requested)
	return Resolved{
		Screen:       to,
		Requested:    requested,
		Redirected:   to != requested,
		PanicVisible: PanicVisible(to),
	}
}

func resolve(sess models.Session, requested Screen) Screen {
	acc, ok := screens[requested]
	if !ok {
		return Welcome
	}
	switch acc {
	case workerOnly:
		if sess.Role != models.RoleWorker {
			return WorkerLogin
		}
	case managerOnly:
		if sess.Role != models.RoleManager {
			return ManagerLogin
		}
	case signedIn:
		if sess.Role == models.RoleGuest {
			return ProfileSelect
		}
	case loginForm:
		if d, ok := Dashboard(sess.Role); ok {
			return d
		}
	}
	return requested
}

// Dashboard is the home screen of a signed-in role.
func Dashboard(role models.Role) (Screen, bool) {
	switch role {
	case models.RoleWorker:
		return WorkerDashboard, true
	case models.RoleManager:
		return ManagerDashboard, true
	default:
		return "", false
	}
}

// PanicVisible reports whether the emergency call button shows on s. It is
// shown on the dashboards only.
func PanicVisible(s Screen) bool {
	return s == WorkerDashboard || s == ManagerDashboard
}
