package types

import (
	"time"
)

// Role is the tagged identity role carried by a verified credential.
// Only two variants exist; the zero value is RoleParticipant so an
// unparsed role never grants mutation rights.
type Role uint8

const (
	RoleParticipant Role = iota
	RoleTeacher
)

// ParseRole maps a credential claim onto a Role variant.
// "student" is accepted as an alias used by older clients.
func ParseRole(s string) (Role, error) {
	switch s {
	case "teacher":
		return RoleTeacher, nil
	case "participant", "student":
		return RoleParticipant, nil
	default:
		return RoleParticipant, ErrInvalidRole
	}
}

func (r Role) String() string {
	if r == RoleTeacher {
		return "teacher"
	}
	return "participant"
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Authorize reports whether a holder of this role with the given user id may
// mutate a session owned by teacherUserID. A teacher credential alone is not
// enough: the identity must be the session's teacher.
func (r Role) Authorize(userID, teacherUserID string) error {
	switch r {
	case RoleTeacher:
		if userID != "" && userID == teacherUserID {
			return nil
		}
		return ErrUnauthorized
	default:
		return ErrUnauthorized
	}
}

// Identity is the verified (userId, role) pair bound to a connection.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// Verse is a single verse record of a passage.
type Verse struct {
	Reference string `json:"reference" validate:"max=100"`
	Number    int    `json:"number" validate:"min=0"`
	Text      string `json:"text" validate:"max=2000"`
}

// Passage is a structured reference plus its ordered verses.
type Passage struct {
	Reference string  `json:"reference"`
	Verses    []Verse `json:"verses"`
}

// Highlight is a committed highlight record. Seq is strictly increasing
// within a session and Timestamp never moves backwards.
type Highlight struct {
	Text         string    `json:"text"`
	Color        string    `json:"color"`
	Start        int       `json:"start"`
	End          int       `json:"end"`
	AuthorUserID string    `json:"authorUserId"`
	Timestamp    time.Time `json:"timestamp"`
	Seq          uint64    `json:"seq"`
}

// StudyStatus mirrors the persisted study lifecycle.
type StudyStatus string

const (
	StudyPending   StudyStatus = "pending"
	StudyActive    StudyStatus = "active"
	StudyCompleted StudyStatus = "completed"
)

// IsValid reports whether s is a known status.
func (s StudyStatus) IsValid() bool {
	switch s {
	case StudyPending, StudyActive, StudyCompleted:
		return true
	}
	return false
}

// Study is the persisted bootstrap record for a live session.
type Study struct {
	ID            string      `json:"id"`
	TeacherUserID string      `json:"teacherUserId"`
	JoinCode      string      `json:"joinCode"`
	Passage       Passage     `json:"passage"`
	Status        StudyStatus `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
	ExpiresAt     time.Time   `json:"expiresAt"`
}

// Joinable reports whether a live room may be bootstrapped from the study at now.
func (s *Study) Joinable(now time.Time) bool {
	if s.Status == StudyCompleted {
		return false
	}
	if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
		return false
	}
	return true
}

// Member is one connection's membership in a live room.
type Member struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	Role         Role      `json:"role"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// PresenceKind distinguishes join and leave deltas.
type PresenceKind string

const (
	PresenceJoined PresenceKind = "joined"
	PresenceLeft   PresenceKind = "left"
)

// PresenceDelta is derived from a membership change, never submitted.
type PresenceDelta struct {
	SessionID    string       `json:"sessionId"`
	Kind         PresenceKind `json:"kind"`
	ConnectionID string       `json:"connectionId"`
	Count        int          `json:"count"`
}

// SessionStats is a point-in-time view of a live room used by the HTTP API.
type SessionStats struct {
	SessionID        string `json:"sessionId"`
	TeacherUserID    string `json:"teacherUserId"`
	Members          int    `json:"members"`
	PassageReference string `json:"passageReference"`
	Highlights       int    `json:"highlights"`
	CameraActive     bool   `json:"cameraActive"`
}
