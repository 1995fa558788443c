// Webgame ships with a small demonstration game exercising the full
// capability contract:
// - A lobby fills up to a configurable player limit
// - Players flag themselves ready; once everyone is, the pregame starts
// - The init phase deals a hand of tokens to each player over a few steps,
//   broadcasting a snapshot after each one
// - During play, game_play commands are echoed to the table as play events
// - Snapshots hide every other player's tokens and role

package main

import (
	"encoding/json"
	"math/rand"

	"github.com/google/uuid"
)

const (
	demoDefaultMaxPlayers = 4
	demoInitSteps         = 3
	demoTokensPerStep     = 2
)

type demoPlayer struct {
	Info   PlayerInfo      `json:"info"`
	Pos    int             `json:"pos"`
	Ready  bool            `json:"ready"`
	Role   json.RawMessage `json:"role,omitempty"`
	Tokens []int           `json:"tokens"`
}

func (p *demoPlayer) Player() PlayerInfo {
	return p.Info
}

type demoVariant struct {
	MaxPlayers int `json:"max_players"`
}

// demoState implements GameState. All methods run under the owning game's
// mutex.
type demoState struct {
	Variant  demoVariant               `json:"variant"`
	Players  map[uuid.UUID]*demoPlayer `json:"players"`
	InitStep int                       `json:"init_step"`
	Started  bool                      `json:"started"`
	NextPos  int                       `json:"next_pos"`
}

func newDemoState() GameState {
	return &demoState{
		Variant: demoVariant{MaxPlayers: demoDefaultMaxPlayers},
		Players: make(map[uuid.UUID]*demoPlayer),
	}
}

func (s *demoState) SetVariant(variant json.RawMessage) {
	var v demoVariant
	if err := json.Unmarshal(variant, &v); err != nil {
		return
	}
	if v.MaxPlayers > 0 {
		s.Variant.MaxPlayers = v.MaxPlayers
	}
}

func (s *demoState) IsJoinable() bool {
	return !s.Started && len(s.Players) < s.Variant.MaxPlayers
}

func (s *demoState) GetPlayers() map[uuid.UUID]PlayerState {
	players := make(map[uuid.UUID]PlayerState, len(s.Players))
	for id, player := range s.Players {
		players[id] = player
	}

	return players
}

func (s *demoState) AddPlayer(player PlayerInfo) int {
	if existing, ok := s.Players[player.ID]; ok {
		return existing.Pos
	}

	pos := s.NextPos
	s.NextPos++

	s.Players[player.ID] = &demoPlayer{
		Info:   player,
		Pos:    pos,
		Tokens: []int{},
	}

	return pos
}

func (s *demoState) RemovePlayer(playerID uuid.UUID) bool {
	if _, ok := s.Players[playerID]; !ok {
		return false
	}

	delete(s.Players, playerID)

	return true
}

func (s *demoState) SetPlayerRole(playerID uuid.UUID, role json.RawMessage) {
	if player, ok := s.Players[playerID]; ok {
		player.Role = role
	}
}

func (s *demoState) GetPlayerRole(playerID uuid.UUID) (json.RawMessage, bool) {
	player, ok := s.Players[playerID]
	if !ok || player.Role == nil {
		return nil, false
	}

	return player.Role, true
}

func (s *demoState) PlayerByPos(pos int) (PlayerState, bool) {
	for _, player := range s.Players {
		if player.Pos == pos {
			return player, true
		}
	}

	return nil, false
}

// demoSnapshot is one player's view of the table. Only their own tokens
// and role are visible.
type demoSnapshot struct {
	You      uuid.UUID           `json:"you"`
	Players  []demoSnapshotEntry `json:"players"`
	Started  bool                `json:"started"`
	InitStep int                 `json:"init_step"`
	Tokens   []int               `json:"tokens"`
	Role     json.RawMessage     `json:"role,omitempty"`
}

type demoSnapshotEntry struct {
	ID       uuid.UUID `json:"id"`
	Nickname string    `json:"nickname"`
	Pos      int       `json:"pos"`
	Ready    bool      `json:"ready"`
}

func (s *demoState) MakeSnapshot(playerID uuid.UUID) any {
	snapshot := demoSnapshot{
		You:      playerID,
		Players:  make([]demoSnapshotEntry, 0, len(s.Players)),
		Started:  s.Started,
		InitStep: s.InitStep,
		Tokens:   []int{},
	}

	for id, player := range s.Players {
		snapshot.Players = append(snapshot.Players, demoSnapshotEntry{
			ID:       id,
			Nickname: player.Info.Nickname,
			Pos:      player.Pos,
			Ready:    player.Ready,
		})

		if id == playerID {
			snapshot.Tokens = player.Tokens
			snapshot.Role = player.Role
		}
	}

	return snapshot
}

func (s *demoState) SetPlayerReady(playerID uuid.UUID) bool {
	player, ok := s.Players[playerID]
	if !ok {
		return false
	}

	player.Ready = true

	if s.Started {
		return false
	}

	for _, p := range s.Players {
		if !p.Ready {
			return false
		}
	}

	return true
}

func (s *demoState) UpdateInitState() bool {
	s.InitStep++

	for _, player := range s.Players {
		for i := 0; i < demoTokensPerStep; i++ {
			player.Tokens = append(player.Tokens, rand.Intn(100))
		}
	}

	if s.InitStep >= demoInitSteps {
		s.Started = true

		return false
	}

	return true
}

func (s *demoState) SetPlayerNotReady(playerID uuid.UUID) {
	if player, ok := s.Players[playerID]; ok {
		player.Ready = false
	}
}

// demoOperation is the debug/admin surface: force the started flag or
// clear every ready mark.
type demoOperation struct {
	SetStarted *bool `json:"set_started,omitempty"`
	ResetReady bool  `json:"reset_ready,omitempty"`
}

func (s *demoState) ManageOperation(operation json.RawMessage) {
	var op demoOperation
	if err := json.Unmarshal(operation, &op); err != nil {
		return
	}

	if op.SetStarted != nil {
		s.Started = *op.SetStarted
	}
	if op.ResetReady {
		for _, player := range s.Players {
			player.Ready = false
		}
	}
}

// demoPlayCommand is the game_play payload: an action name plus an
// optional token the player spends.
type demoPlayCommand struct {
	Action string `json:"action"`
	Token  *int   `json:"token,omitempty"`
}

type demoPlayEvent struct {
	PlayerID uuid.UUID `json:"player_id"`
	Action   string    `json:"action"`
	Token    *int      `json:"token,omitempty"`
}

func demoOnGamePlay(universe *Universe, userID uuid.UUID, payload json.RawMessage) *ProtocolError {
	var cmd demoPlayCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return protocolError(ErrInvalidCommand, err.Error())
	}
	if cmd.Action == "" {
		return protocolError(ErrBadInput, "missing action")
	}

	game, ok := universe.GetUserGame(userID)
	if !ok {
		return protocolError(ErrBadState, "not in a game")
	}

	game.Broadcast(MsgPlayEvent, demoPlayEvent{
		PlayerID: userID,
		Action:   cmd.Action,
		Token:    cmd.Token,
	})
	game.BroadcastCurrentState()

	return nil
}

type demoRoleCommand struct {
	Role json.RawMessage `json:"role"`
}

func demoOnSetPlayerRole(universe *Universe, userID uuid.UUID, payload json.RawMessage) *ProtocolError {
	var cmd demoRoleCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return protocolError(ErrInvalidCommand, err.Error())
	}
	if len(cmd.Role) == 0 {
		return protocolError(ErrBadInput, "missing role")
	}

	game, ok := universe.GetUserGame(userID)
	if !ok {
		return protocolError(ErrBadState, "not in a game")
	}

	game.SetPlayerRole(userID, cmd.Role)
	game.BroadcastCurrentState()

	return nil
}

func demoGameHooks() GameHooks {
	return GameHooks{
		NewState:        newDemoState,
		OnGamePlay:      demoOnGamePlay,
		OnSetPlayerRole: demoOnSetPlayerRole,
	}
}
