package models

import (
	"time"
)

// Role is who is signed in on the device. Exactly one non-guest role is
// active at a time.
type Role string

const (
	RoleGuest   Role = "guest"
	RoleWorker  Role = "worker"
	RoleManager Role = "manager"
)

// Session is the signed-in identity of the device.
//
// WorkerID is set iff Role is RoleWorker; ManagerEmail (and ManagerToken)
// iff Role is RoleManager. DisplayName and JobTitle are copies of the
// server profile refreshed at login and restore.
type Session struct {
	Role         Role   `json:"role"`
	WorkerID     string `json:"worker_id,omitempty"`
	ManagerEmail string `json:"manager_email,omitempty"`
	ManagerToken string `json:"-"`
	DisplayName  string `json:"display_name,omitempty"`
	JobTitle     string `json:"job_title,omitempty"`
}

// Guest is the zero session.
func Guest() Session {
	return Session{Role: RoleGuest}
}

// Valid reports whether the session satisfies the role/identifier invariant.
func (s Session) Valid() bool {
	switch s.Role {
	case RoleGuest:
		return s.WorkerID == "" && s.ManagerEmail == ""
	case RoleWorker:
		return s.WorkerID != "" && s.ManagerEmail == ""
	case RoleManager:
		return s.ManagerEmail != "" && s.WorkerID == ""
	default:
		return false
	}
}

// Worker is a row of the workers table, keyed by badge number.
type Worker struct {
	Badge      string    `json:"badge"`
	Name       string    `json:"name"`
	JobTitle   string    `json:"job_title"`
	Email      string    `json:"email"`
	Department string    `json:"department"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Manager is the role record that authorizes an authenticated principal
// to reach the administration surface. Credentials live with the identity
// provider, not here.
type Manager struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// ManagerCredential is what the identity provider stores per account.
type ManagerCredential struct {
	UID          string
	Email        string
	PasswordHash string
	Disabled     bool
}

// Manager role record values.
const (
	ManagerRoleManager = "manager"
	ManagerRoleAdmin   = "admin"
)

type Audience string

const (
	AudienceAll          Audience = "all"
	AudienceWorkers      Audience = "workers"
	AudienceManagers     Audience = "managers"
	AudienceMyDepartment Audience = "my_department"
)

func (a Audience) Valid() bool {
	switch a {
	case AudienceAll, AudienceWorkers, AudienceManagers, AudienceMyDepartment:
		return true
	}
	return false
}

type Priority string

const (
	PriorityInformative Priority = "informative"
	PriorityImportant   Priority = "important"
	PriorityUrgent      Priority = "urgent"
	PriorityEmergency   Priority = "emergency"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityInformative, PriorityImportant, PriorityUrgent, PriorityEmergency:
		return true
	}
	return false
}

// Notice is an announcement. Only active notices reach the live feed;
// inactive ones stay for audit and editing.
//
// AuthorIdentity and UpdatedBy are stamped from the verified token on
// write, never taken from the client.
type Notice struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	Audience       Audience   `json:"audience"`
	Priority       Priority   `json:"priority"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
	AuthorIdentity string     `json:"author_identity"`
	UpdatedBy      string     `json:"updated_by,omitempty"`
}

// NoticeDraft is the client-controlled part of a new notice.
type NoticeDraft struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Audience Audience `json:"audience"`
	Priority Priority `json:"priority"`
	Active   bool     `json:"active"`
}

// NoticePatch carries the fields a manager edit may change. Nil fields are
// left untouched.
type NoticePatch struct {
	Title    *string   `json:"title,omitempty"`
	Body     *string   `json:"body,omitempty"`
	Audience *Audience `json:"audience,omitempty"`
	Priority *Priority `json:"priority,omitempty"`
	Active   *bool     `json:"active,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p NoticePatch) Empty() bool {
	return p.Title == nil && p.Body == nil && p.Audience == nil && p.Priority == nil && p.Active == nil
}

// Stats is the advisory dashboard aggregate.
type Stats struct {
	WorkerCount       int       `json:"worker_count"`
	ActiveNoticeCount int       `json:"active_notice_count"`
	UpdatedAt         time.Time `json:"updated_at"`
}
