package main

import (
	"encoding/json"

	"github.com/google/uuid"
)

// The server core is parametric over the game being hosted: it manages
// connections, games and storage without ever inspecting game state. A
// concrete game satisfies GameState; the universe and game actor do the
// rest.

// PlayerState is the per-player portion of a concrete game state.
type PlayerState interface {
	Player() PlayerInfo
}

// GameState is the capability contract a hosted game must implement. Every
// method is called with the owning game's mutex held, so implementations
// need no locking of their own. The whole state must serialize to JSON for
// storage and archival.
type GameState interface {
	// SetVariant configures game parameters from the raw new_game payload.
	// Only called before the first player joins.
	SetVariant(variant json.RawMessage)

	// IsJoinable reports whether more players may be added in the current
	// phase.
	IsJoinable() bool

	// GetPlayers returns the current players. Iteration over the result
	// must be stable between calls so broadcasts see a consistent order.
	GetPlayers() map[uuid.UUID]PlayerState

	// AddPlayer inserts the player and returns an opaque position token
	// for PlayerByPos.
	AddPlayer(player PlayerInfo) int

	// RemovePlayer removes the player, reporting whether they were present.
	RemovePlayer(playerID uuid.UUID) bool

	SetPlayerRole(playerID uuid.UUID, role json.RawMessage)
	GetPlayerRole(playerID uuid.UUID) (json.RawMessage, bool)

	// PlayerByPos is the reverse lookup for a just-inserted player.
	PlayerByPos(pos int) (PlayerState, bool)

	// MakeSnapshot projects the state for one player, hiding anything that
	// player should not see.
	MakeSnapshot(playerID uuid.UUID) any

	// SetPlayerReady marks the player ready and reports whether an
	// init-phase step may follow.
	SetPlayerReady(playerID uuid.UUID) bool

	// UpdateInitState advances the init phase by one step and reports
	// whether further steps remain.
	UpdateInitState() bool

	SetPlayerNotReady(playerID uuid.UUID)

	// ManageOperation applies an opaque admin/debug operation.
	ManageOperation(operation json.RawMessage)
}

// GamePlayHandler and SetPlayerRoleHandler are supplied by the hosted game
// to interpret the commands the core treats as opaque.
type GamePlayHandler func(universe *Universe, userID uuid.UUID, payload json.RawMessage) *ProtocolError

type SetPlayerRoleHandler func(universe *Universe, userID uuid.UUID, payload json.RawMessage) *ProtocolError

// GameHooks bundles everything the core needs from a concrete game.
type GameHooks struct {
	NewState        func() GameState
	OnGamePlay      GamePlayHandler
	OnSetPlayerRole SetPlayerRoleHandler
}
