package model

import (
	"strings"

	"github.com/google/uuid"
)

// Role identifies which side of the session a player is on.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"

	hostIDPrefix  = "tod-game-"
	guestIDPrefix = "tod-guest-"
)

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

func (r Role) Valid() bool {
	return r == RoleHost || r == RoleGuest
}

// HostPeerID derives the deterministic rendezvous id for a game code.
// Exactly one live registration of this id may exist per code.
func HostPeerID(gameCode string) string {
	return hostIDPrefix + strings.ToLower(gameCode)
}

// GuestPeerID derives a fresh disposable guest id. Guest ids are never
// reused across reconnects.
func GuestPeerID(gameCode string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return guestIDPrefix + strings.ToLower(gameCode) + "-" + suffix
}

// IsHostPeerID reports whether id is a host rendezvous id.
func IsHostPeerID(id string) bool {
	return strings.HasPrefix(id, hostIDPrefix)
}

// NewID mints a short unique id for turns and chat messages.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}
