package main

import (
	"encoding/json"
	"math/rand"
	"net"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
)

// User is the session-lived identity of one connection.
type User struct {
	ID       uuid.UUID
	Nickname string
}

func (u User) PlayerInfo() PlayerInfo {
	return PlayerInfo{ID: u.ID, Nickname: u.Nickname}
}

// universeUserState carries a user's registry entry, including the outbound
// channel drained by that connection's write pump. The channel is closed
// exactly once, by RemoveUser, under the write lock.
type universeUserState struct {
	user          User
	authenticated bool
	gameID        *uuid.UUID
	outbound      chan []byte
}

type universeState struct {
	users         map[uuid.UUID]*universeUserState
	games         map[uuid.UUID]*Game
	joinableGames map[string]uuid.UUID
}

// Universe owns every connected user, every live game, and the join-code
// directory, behind a single RW lock. Mutators hold the write lock for the
// shortest possible critical section; lookups hand out the shared *Game so
// all further work happens unlocked.
type Universe struct {
	cfg   *Config
	hooks GameHooks
	store GameStore

	mu    sync.RWMutex
	state universeState
}

func newUniverse(cfg *Config, hooks GameHooks, store GameStore) *Universe {
	return &Universe{
		cfg:   cfg,
		hooks: hooks,
		store: store,
		state: universeState{
			users:         make(map[uuid.UUID]*universeUserState),
			games:         make(map[uuid.UUID]*Game),
			joinableGames: make(map[string]uuid.UUID),
		},
	}
}

const joinCodeLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateJoinCode produces a short human-typable code. Uniqueness is not
// its job; NewGame checks the directory before using one.
func generateJoinCode() string {
	code := make([]byte, 4)
	for i := range code {
		code[i] = joinCodeLetters[rand.Intn(len(joinCodeLetters))]
	}

	return string(code)
}

// AddUser registers a connection. A claimed "{game-guid}, {user-uuid}" pair
// naming a current player of a live game resumes that identity already
// authenticated; anything else gets a fresh anonymous user.
func (u *Universe) AddUser(outbound chan []byte, guid string, claimedUUID string) (User, *uuid.UUID) {
	userID := uuid.New()
	nickname := "anonymous"
	authenticated := false

	var gameID *uuid.UUID

	userUUID, userErr := uuid.Parse(claimedUUID)
	gameUUID, gameErr := uuid.Parse(guid)
	if userErr == nil && gameErr == nil {
		if player, ok := u.FindUserGame(gameUUID, userUUID); ok {
			userID = userUUID
			nickname = player.Nickname
			authenticated = true
			gameID = &gameUUID
		}
	}

	user := User{ID: userID, Nickname: nickname}

	u.mu.Lock()
	u.state.users[userID] = &universeUserState{
		user:          user,
		authenticated: authenticated,
		gameID:        gameID,
		outbound:      outbound,
	}
	u.mu.Unlock()

	return user, gameID
}

func (u *Universe) GetUser(userID uuid.UUID) (User, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	state, ok := u.state.users[userID]
	if !ok {
		return User{}, false
	}

	return state.user, true
}

// AuthenticateUser sets the user's nickname and flips them to
// authenticated. Authenticating twice is an error; so is a nickname that is
// empty after trimming or longer than 16 characters.
func (u *Universe) AuthenticateUser(userID uuid.UUID, nickname string) (User, *ProtocolError) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || utf8.RuneCountInString(nickname) > 16 {
		return User{}, protocolError(ErrBadInput, "nickname must be between 1 and 16 characters")
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	state, ok := u.state.users[userID]
	if !ok {
		return User{}, protocolError(ErrInternalError, "couldn't find user in state")
	}

	if state.authenticated {
		return User{}, protocolError(ErrAlreadyAuthenticated, "cannot authenticate twice")
	}

	state.authenticated = true
	state.user.Nickname = nickname

	return state.user, nil
}

func (u *Universe) UserIsAuthenticated(userID uuid.UUID) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()

	state, ok := u.state.users[userID]

	return ok && state.authenticated
}

// RemoveUser drops the registry entry and closes the outbound channel. The
// session handler calls this exactly once, on disconnect.
func (u *Universe) RemoveUser(userID uuid.UUID) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if state, ok := u.state.users[userID]; ok {
		delete(u.state.users, userID)
		close(state.outbound)
	}
}

// SetUserGameID records which game the user is in, reporting whether the
// user exists.
func (u *Universe) SetUserGameID(userID uuid.UUID, gameID *uuid.UUID) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	state, ok := u.state.users[userID]
	if !ok {
		return false
	}

	state.gameID = gameID

	return true
}

// NewGame creates a game under a fresh join code and registers it as
// joinable. Generated codes are retried until one is unused.
func (u *Universe) NewGame(variant json.RawMessage) *Game {
	u.mu.Lock()
	defer u.mu.Unlock()

	for {
		joinCode := generateJoinCode()
		if _, taken := u.state.joinableGames[joinCode]; taken {
			continue
		}

		game := newGame(joinCode, u, variant)
		u.state.games[game.ID()] = game
		u.state.joinableGames[joinCode] = game.ID()

		return game
	}
}

// JoinGame adds the user to the game behind the join code. An unknown code
// is NotFound; a known code whose game no longer accepts players is
// InvalidCommand.
func (u *Universe) JoinGame(userID uuid.UUID, joinCode string) (*Game, *ProtocolError) {
	u.mu.RLock()
	gameID, ok := u.state.joinableGames[joinCode]
	var game *Game
	if ok {
		game = u.state.games[gameID]
	}
	u.mu.RUnlock()

	if game == nil {
		return nil, protocolError(ErrNotFound, "game does not exist")
	}

	if !game.IsJoinable() {
		return nil, protocolError(ErrInvalidCommand, "game is currently not joinable")
	}

	game.AddPlayer(userID)

	return game, nil
}

// HasJoinableGame reports whether the join code maps to a live game.
func (u *Universe) HasJoinableGame(joinCode string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()

	_, ok := u.state.joinableGames[joinCode]

	return ok
}

func (u *Universe) GetGame(gameID uuid.UUID) (*Game, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	game, ok := u.state.games[gameID]

	return game, ok
}

// RemoveGame drops the game and its join-code entry, reporting whether the
// game existed.
func (u *Universe) RemoveGame(gameID uuid.UUID) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	game, ok := u.state.games[gameID]
	if !ok {
		return false
	}

	delete(u.state.games, gameID)
	delete(u.state.joinableGames, game.JoinCode())

	return true
}

// GetUserGame returns the game the user is in, if any.
func (u *Universe) GetUserGame(userID uuid.UUID) (*Game, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	state, ok := u.state.users[userID]
	if !ok || state.gameID == nil {
		return nil, false
	}

	game, ok := u.state.games[*state.gameID]

	return game, ok
}

// FindUserGame reports whether the user is currently a player of the named
// game.
func (u *Universe) FindUserGame(gameID uuid.UUID, userID uuid.UUID) (PlayerInfo, bool) {
	game, ok := u.GetGame(gameID)
	if !ok {
		return PlayerInfo{}, false
	}

	return game.GetPlayer(userID)
}

// RemoveUserFromGame makes the user leave whatever game they are in.
func (u *Universe) RemoveUserFromGame(userID uuid.UUID) {
	if game, ok := u.GetUserGame(userID); ok {
		game.RemoveUser(userID)
	}
}

// Send serializes one message and enqueues it on the user's outbound
// channel. A full or missing channel means the client is gone or going;
// the disconnect path cleans up, so failures are dropped here.
func (u *Universe) Send(userID uuid.UUID, tag string, payload any) {
	data, err := marshalMessage(tag, payload)
	if err != nil {
		logf(u.cfg, "SEND: Serializing %s for %s failed: %v", tag, userID, err)

		return
	}

	u.mu.RLock()
	defer u.mu.RUnlock()

	state, ok := u.state.users[userID]
	if !ok {
		return
	}

	select {
	case state.outbound <- data:
	default:
	}
}

// StoreState persists the game's current state.
func (u *Universe) StoreState(game *Game) bool {
	return u.store.Save(game)
}

// ShowGames lists extended info for every live game.
func (u *Universe) ShowGames() []GameExtendedInfo {
	u.mu.RLock()
	games := make([]*Game, 0, len(u.state.games))
	for _, game := range u.state.games {
		games = append(games, game)
	}
	u.mu.RUnlock()

	infos := make([]GameExtendedInfo, 0, len(games))
	for _, game := range games {
		infos = append(infos, game.GameExtendedInfo())
	}

	return infos
}

// ShowStoredGames lists every record currently in the store.
func (u *Universe) ShowStoredGames() []GameRecord {
	records := make([]GameRecord, 0)

	err := u.store.Each(func(record GameRecord) bool {
		records = append(records, record)

		return true
	})
	if err != nil {
		logf(u.cfg, "STORE: Listing stored games failed: %v", err)
	}

	return records
}

// ShowUsers lists every connected user except the given one.
func (u *Universe) ShowUsers(excluding uuid.UUID) []uuid.UUID {
	u.mu.RLock()
	defer u.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(u.state.users))
	for id := range u.state.users {
		if id != excluding {
			ids = append(ids, id)
		}
	}

	return ids
}

// InviteBot writes the join code to the local bot endpoint. There is no
// handshake; the bot side owns whatever protocol follows.
func (u *Universe) InviteBot(joinCode string) *ProtocolError {
	conn, err := net.Dial("unix", u.cfg.botSocket)
	if err != nil {
		return protocolError(ErrNotFound, "bots not available")
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(joinCode)); err != nil {
		return protocolError(ErrNotFound, "bots not writable")
	}

	return nil
}

// DebugGame applies an opaque operation to the named game.
func (u *Universe) DebugGame(gameID uuid.UUID, operation json.RawMessage) *ProtocolError {
	game, ok := u.GetGame(gameID)
	if !ok {
		return protocolError(ErrNotFound, "game does not exist")
	}

	game.ManageOperation(operation)

	return nil
}
