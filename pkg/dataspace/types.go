package dataspace

import (
	"encoding/json"
	"time"
)

// Action is the kind of state-changing action recorded by an AuditEvent.
type Action string

// Action constants.
const (
	ActionCreate           Action = "Create"
	ActionUpdate           Action = "Update"
	ActionDelete           Action = "Delete"
	ActionPermissionChange Action = "PermissionChange"
	ActionLogin            Action = "Login"
	ActionInteraction      Action = "Interaction"
)

// IsValid reports whether a is one of the known actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionPermissionChange, ActionLogin, ActionInteraction:
		return true
	}
	return false
}

// AuditEvent is an immutable record of a single action taken by a principal.
//
// Extensions carries fields this version does not know about. They are kept
// verbatim so a record written by a newer writer survives a decode/encode pass.
type AuditEvent struct {
	Actor      string                     `json:"actor"`
	Action     Action                     `json:"action"`
	Object     string                     `json:"object,omitempty"`
	Target     string                     `json:"target,omitempty"`
	OccurredAt time.Time                  `json:"occurredAt"`
	Extensions map[string]json.RawMessage `json:"-"`
}

// EventHandle identifies a persisted event. It is the event's resource name,
// so handles compare in chronological order.
type EventHandle string

// Role is a principal's role within a data space.
type Role string

// Role constants.
const (
	RoleRead  Role = "read"
	RoleWrite Role = "write"
	RoleAdmin Role = "admin"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleRead || r == RoleWrite || r == RoleAdmin
}

// Modes returns the storage access modes that enforce r.
func (r Role) Modes() Mode {
	switch r {
	case RoleRead:
		return ModeRead
	case RoleWrite:
		return ModeRead | ModeWrite
	case RoleAdmin:
		return ModeRead | ModeWrite | ModeControl
	}
	return 0
}

// AccessMode is the visibility of a data space.
type AccessMode string

// AccessMode constants.
const (
	AccessPublic     AccessMode = "public"
	AccessPrivate    AccessMode = "private"
	AccessRestricted AccessMode = "restricted"
)

// IsValid reports whether m is a known access mode.
func (m AccessMode) IsValid() bool {
	return m == AccessPublic || m == AccessPrivate || m == AccessRestricted
}

// Member is one principal's membership in a data space.
type Member struct {
	Principal string    `json:"principal"`
	Role      Role      `json:"role"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// DataSpace is an application-level collection with its own membership.
// CreatorPrincipal always appears in Members with RoleAdmin.
type DataSpace struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Purpose          string     `json:"purpose,omitempty"`
	AccessMode       AccessMode `json:"accessMode"`
	StorageLocation  string     `json:"storageLocation"`
	CreatorPrincipal string     `json:"creatorPrincipal"`
	Members          []Member   `json:"members"`
	Tags             []string   `json:"tags,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Member returns the membership entry for principal.
func (s *DataSpace) Member(principal string) (Member, bool) {
	for _, m := range s.Members {
		if m.Principal == principal {
			return m, true
		}
	}
	return Member{}, false
}

// Clone returns a deep copy of s.
func (s *DataSpace) Clone() *DataSpace {
	if s == nil {
		return nil
	}
	c := *s
	c.Members = append([]Member(nil), s.Members...)
	c.Tags = append([]string(nil), s.Tags...)
	return &c
}

// ActivityIndexEntry summarizes one principal's activity in the audit log.
type ActivityIndexEntry struct {
	Principal  string    `json:"principal"`
	LoginCount int       `json:"loginCount"`
	LastSeen   time.Time `json:"lastSeen"`
}

// Invitation is a membership granted to a principal that the principal has
// not acknowledged yet.
type Invitation struct {
	SpaceID    string    `json:"spaceId"`
	SpaceTitle string    `json:"spaceTitle"`
	Role       Role      `json:"role"`
	GrantedAt  time.Time `json:"grantedAt"`
}

// Mode is a set of storage access modes.
type Mode uint8

// Mode flags. Write implies Append.
const (
	ModeRead Mode = 1 << iota
	ModeAppend
	ModeWrite
	ModeControl
)

// Has reports whether m includes every flag in other.
func (m Mode) Has(other Mode) bool {
	return m&other == other
}

// CanAppend reports whether m permits creating new resources.
func (m Mode) CanAppend() bool {
	return m&(ModeAppend|ModeWrite) != 0
}

func (m Mode) String() string {
	if m == 0 {
		return "none"
	}
	var out []byte
	for _, f := range []struct {
		mode Mode
		name string
	}{{ModeRead, "read"}, {ModeAppend, "append"}, {ModeWrite, "write"}, {ModeControl, "control"}} {
		if m&f.mode != 0 {
			if len(out) > 0 {
				out = append(out, '+')
			}
			out = append(out, f.name...)
		}
	}
	return string(out)
}

// AuthenticatedAgent is the ACL agent matching any authenticated principal.
const AuthenticatedAgent = "*authenticated"

// ACLEntry grants Modes on a resource tree to Agent.
type ACLEntry struct {
	Agent string `json:"agent"`
	Modes Mode   `json:"modes"`
}
