// Package matrixclient owns the Connection type and the external
// collaborator interfaces described in spec.md §4.8: the host chat UI, the
// credential store, randomness, and the clock. These are interfaces, not
// implementations — the host application supplies a UI adapter and wires a
// credential store; pkg/store provides a reference implementation for the
// cmd/matrix-sync-core demo harness only.
package matrixclient

// Membership mirrors the Member.membership enum from spec.md §3.
type Membership int

const (
	MembershipNone Membership = iota
	MembershipJoin
	MembershipInvite
	MembershipLeave
)

func (m Membership) String() string {
	switch m {
	case MembershipJoin:
		return "join"
	case MembershipInvite:
		return "invite"
	case MembershipLeave:
		return "leave"
	default:
		return "none"
	}
}

func ParseMembership(s string) Membership {
	switch s {
	case "join":
		return MembershipJoin
	case "invite":
		return MembershipInvite
	case "leave", "ban":
		return MembershipLeave
	default:
		return MembershipNone
	}
}

// MemberDiff is the (new/renamed/left) triple the room model emits after a
// batch of state updates, per spec.md §4.4.
type MemberDiff struct {
	New     []MemberInfo
	Renamed []RenamedMember
	Left    []MemberInfo
}

type MemberInfo struct {
	UserID      string
	DisplayName string
}

type RenamedMember struct {
	UserID         string
	OldDisplayName string
	NewDisplayName string
}

// Progress describes a multi-step operation in progress, e.g. "Initial Sync".
type Progress struct {
	Phase string
	Step  int
	Of    int
}

// ErrorKind classifies an error surfaced to the UI adapter, per spec.md §7.
type ErrorKind int

const (
	ErrorKindNetwork ErrorKind = iota
	ErrorKindOther
)

// Invite describes an invitation surfaced to the UI adapter (spec.md §4.6).
// Accept/Reject are bound closures so the UI need not know the room ID
// plumbing; calling either is a no-op after the first call.
type Invite struct {
	RoomID      string
	Inviter     string
	RoomName    string
	Accept      func()
	Reject      func()
}

// TimelineFlags carries auxiliary per-message flags the UI may want, kept as
// a struct (rather than positional bools) so new flags don't break callers.
type TimelineFlags struct {
	// Reserved for future flags (e.g. "highlight"); none are defined by this
	// spec today.
}

// UIAdapter is the host chat UI collaborator (spec.md §4.8).
type UIAdapter interface {
	RoomCreated(roomID string)
	RoomStateUpdated(roomID string, diff MemberDiff)
	TimelineMessage(roomID, senderDisplay, body string, tsSeconds int64, flags TimelineFlags)
	InviteReceived(invite Invite)
	Progress(p Progress)
	Error(kind ErrorKind, message string)
}

// CredentialStore is the persistent key/value collaborator (spec.md §4.8,
// §6 "Persisted state"). Every accessor is scoped to one account; the host
// application is responsible for keying separate stores per account.
type CredentialStore interface {
	GetAccessToken() (string, bool)
	SetAccessToken(token string)
	GetDeviceID() (string, bool)
	SetDeviceID(deviceID string)
	GetNextBatch() (string, bool)
	SetNextBatch(token string)
	GetOlmAccountPickle() (OlmAccountRecord, bool)
	SetOlmAccountPickle(rec OlmAccountRecord)
	GetSkipOldMessages() bool
	GetHomeServer(defaultValue string) string
}

// OlmAccountRecord is the persisted record described in spec.md §3:
// "{device_id, server, pickle}".
type OlmAccountRecord struct {
	DeviceID string
	Server   string
	Pickle   string
}
