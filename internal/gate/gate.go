// Package gate decides whether navigation into a protected page may proceed,
// based on session readiness. While the session is still loading the gate
// refuses to decide, so consumers never flash-redirect to the login page
// before bootstrap completes.
package gate

import (
	"github.com/sitwo-project/clinic-portal/internal/model"
	"github.com/sitwo-project/clinic-portal/internal/session"
)

type Decision int

const (
	// DecisionWait means session state is not yet known; render nothing.
	DecisionWait Decision = iota
	// DecisionAllow admits the navigation.
	DecisionAllow
	// DecisionRedirect sends the user to Result.RedirectTo.
	DecisionRedirect
)

// Requirement describes what a protected page needs. An empty Roles slice
// admits any authenticated identity.
type Requirement struct {
	Roles []model.Role
}

type Result struct {
	Decision   Decision
	RedirectTo string
	Reason     string
}

// SessionSource provides the current session view. Satisfied by
// *session.Manager and by test fakes.
type SessionSource interface {
	Snapshot() session.Snapshot
}

type Gate struct {
	sessions  SessionSource
	loginPath string
	homePath  string
}

func New(sessions SessionSource, loginPath, homePath string) *Gate {
	if loginPath == "" {
		loginPath = "/login"
	}
	if homePath == "" {
		homePath = "/dashboard"
	}
	return &Gate{sessions: sessions, loginPath: loginPath, homePath: homePath}
}

// Check evaluates a navigation attempt against the current session state.
func (g *Gate) Check(req Requirement) Result {
	snap := g.sessions.Snapshot()

	switch snap.Status {
	case session.StatusLoading:
		return Result{Decision: DecisionWait}
	case session.StatusAnonymous:
		return Result{Decision: DecisionRedirect, RedirectTo: g.loginPath, Reason: "not authenticated"}
	}

	if len(req.Roles) == 0 {
		return Result{Decision: DecisionAllow}
	}

	role := snap.Identity.Role()
	for _, allowed := range req.Roles {
		if role == allowed {
			return Result{Decision: DecisionAllow}
		}
	}
	return Result{Decision: DecisionRedirect, RedirectTo: g.homePath, Reason: "role not permitted"}
}
