package main

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Game coordinates a single hosted game. The state sits behind a mutex;
// every method takes the lock for its critical section and releases it
// before calling back into the universe, so the only lock order in the
// program is universe -> game.
type Game struct {
	id       uuid.UUID
	joinCode string
	universe *Universe

	mu    sync.Mutex
	state GameState
}

func newGame(joinCode string, universe *Universe, variant json.RawMessage) *Game {
	state := universe.hooks.NewState()
	state.SetVariant(variant)

	return &Game{
		id:       uuid.New(),
		joinCode: joinCode,
		universe: universe,
		state:    state,
	}
}

func (g *Game) ID() uuid.UUID {
	return g.id
}

func (g *Game) JoinCode() string {
	return g.joinCode
}

func (g *Game) GameInfo() GameInfo {
	return GameInfo{
		GameID:   g.id,
		JoinCode: g.joinCode,
	}
}

// GameExtendedInfo is used for server diagnostics.
func (g *Game) GameExtendedInfo() GameExtendedInfo {
	return GameExtendedInfo{
		Game:    g.GameInfo(),
		Players: g.playerIDs(),
	}
}

func (g *Game) IsJoinable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state.IsJoinable()
}

func (g *Game) IsEmpty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.state.GetPlayers()) == 0
}

// playerIDs returns the current player set in a stable order.
func (g *Game) playerIDs() []uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.playerIDsLocked()
}

func (g *Game) playerIDsLocked() []uuid.UUID {
	players := g.state.GetPlayers()

	ids := make([]uuid.UUID, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	return ids
}

// ConnectedPlayers returns the in-game users currently authenticated on
// the universe.
func (g *Game) ConnectedPlayers() []uuid.UUID {
	connected := make([]uuid.UUID, 0)

	for _, id := range g.playerIDs() {
		if g.universe.UserIsAuthenticated(id) {
			connected = append(connected, id)
		}
	}

	return connected
}

func (g *Game) GetPlayer(playerID uuid.UUID) (PlayerInfo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, ok := g.state.GetPlayers()[playerID]
	if !ok {
		return PlayerInfo{}, false
	}

	return state.Player(), true
}

// AddPlayer registers the user with the universe, inserts them into the
// state, and announces them to the whole game. A user unknown to the
// universe is a silent no-op.
func (g *Game) AddPlayer(userID uuid.UUID) {
	if !g.universe.SetUserGameID(userID, &g.id) {
		return
	}

	user, ok := g.universe.GetUser(userID)
	if !ok {
		return
	}

	g.mu.Lock()
	pos := g.state.AddPlayer(PlayerInfo{ID: user.ID, Nickname: user.Nickname})
	player, ok := g.state.PlayerByPos(pos)
	g.mu.Unlock()

	if !ok {
		return
	}

	g.Broadcast(MsgPlayerConnected, player)
}

// RemoveUser takes the user out of the game, announcing the departure if
// they were a member, and removes the game from the universe once empty.
func (g *Game) RemoveUser(userID uuid.UUID) {
	g.universe.SetUserGameID(userID, nil)

	g.mu.Lock()
	removed := g.state.RemovePlayer(userID)
	g.mu.Unlock()

	if removed {
		g.Broadcast(MsgPlayerDisconnect, PlayerDisconnectedMessage{PlayerID: userID})
	}

	if g.IsEmpty() {
		g.universe.RemoveGame(g.id)
	}
}

func (g *Game) MarkPlayerReady(playerID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state.SetPlayerReady(playerID)
}

func (g *Game) SetPlayerNotReady(playerID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.SetPlayerNotReady(playerID)
}

func (g *Game) SetPlayerRole(playerID uuid.UUID, role json.RawMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.SetPlayerRole(playerID, role)
}

func (g *Game) GetPlayerRole(playerID uuid.UUID) (json.RawMessage, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state.GetPlayerRole(playerID)
}

func (g *Game) UpdateInitState() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state.UpdateInitState()
}

func (g *Game) ManageOperation(operation json.RawMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.ManageOperation(operation)
}

// Broadcast sends one message to every current player, then persists the
// game. The player list is captured under the lock; delivery happens after
// release.
func (g *Game) Broadcast(tag string, payload any) {
	for _, playerID := range g.playerIDs() {
		g.universe.Send(playerID, tag, payload)
	}

	g.universe.StoreState(g)
}

// BroadcastCurrentState sends each player their own projection of the
// state. Snapshots are computed under the lock, delivered after release.
func (g *Game) BroadcastCurrentState() {
	type playerSnapshot struct {
		playerID uuid.UUID
		snapshot any
	}

	g.mu.Lock()
	ids := g.playerIDsLocked()
	snapshots := make([]playerSnapshot, 0, len(ids))
	for _, playerID := range ids {
		snapshots = append(snapshots, playerSnapshot{
			playerID: playerID,
			snapshot: g.state.MakeSnapshot(playerID),
		})
	}
	g.mu.Unlock()

	for _, entry := range snapshots {
		g.universe.Send(entry.playerID, MsgGameStateSnapshot, entry.snapshot)
	}
}

// Send is a unicast to one player of this game.
func (g *Game) Send(playerID uuid.UUID, tag string, payload any) {
	g.universe.Send(playerID, tag, payload)
}

// makeRecord captures the current state as a storage record.
func (g *Game) makeRecord() (GameRecord, error) {
	g.mu.Lock()
	raw, err := json.Marshal(g.state)
	g.mu.Unlock()

	if err != nil {
		return GameRecord{}, err
	}

	return GameRecord{
		DateUpdated: time.Now().UTC(),
		Info:        g.GameInfo(),
		State:       raw,
	}, nil
}
