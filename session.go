package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// session owns one WebSocket connection: it parses inbound commands,
// routes them to the universe or the user's game, and reports protocol
// errors back on the same socket.
type session struct {
	cfg      *Config
	universe *Universe
	conn     *websocket.Conn
	userID   uuid.UUID
	outbound chan []byte
}

// serveWebsocket upgrades /ws/:sessionid connections. The session-id is
// either a plain GUID or "{guid}_{user-uuid}" for a reconnect attempt.
func serveWebsocket(cfg *Config, universe *Universe) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sessionID := ps.ByName("sessionid")
		if sessionID == "" {
			http.Error(w, "missing session id", http.StatusBadRequest)

			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "WS: Upgrade from %s failed: %v", realIP(r), err)

			return
		}

		guid, claimedUUID := parseSessionID(sessionID)

		outbound := make(chan []byte, 64)
		user, gameID := universe.AddUser(outbound, guid, claimedUUID)

		s := &session{
			cfg:      cfg,
			universe: universe,
			conn:     conn,
			userID:   user.ID,
			outbound: outbound,
		}

		go s.writePump()

		logf(cfg, "WS: User %s connected from %s", user.ID, realIP(r))

		// Transport-level pings get the same answer as protocol pings.
		conn.SetPingHandler(func(string) error {
			universe.Send(s.userID, MsgPong, nil)

			return nil
		})

		// Reconnect path: replay identity and game membership.
		if universe.UserIsAuthenticated(user.ID) {
			universe.Send(user.ID, MsgAuthenticated, user.PlayerInfo())
		}
		if gameID != nil {
			if game, ok := universe.GetGame(*gameID); ok {
				universe.Send(user.ID, MsgGameJoined, game.GameInfo())
				game.BroadcastCurrentState()
			}
		}

		s.readLoop()
		s.disconnect()
	}
}

func parseSessionID(sessionID string) (guid string, claimedUUID string) {
	parts := strings.SplitN(sessionID, "_", 2)
	guid = parts[0]
	claimedUUID = "none"
	if len(parts) > 1 {
		claimedUUID = parts[1]
	}

	return guid, claimedUUID
}

// readLoop processes inbound frames in order until the socket closes. A
// panic while handling one command ends only this session.
func (s *session) readLoop() {
	defer func() {
		if recovered := recover(); recovered != nil {
			logf(s.cfg, "WS: Session %s panicked: %v", s.userID, recovered)
		}
	}()
	defer s.conn.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		if perr := s.dispatch(data); perr != nil {
			s.universe.Send(s.userID, MsgError, perr)
		}
	}
}

func (s *session) writePump() {
	defer s.conn.Close()

	for data := range s.outbound {
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// disconnect unwinds one connection: a game left with fewer than two
// connected players is closed, then the user entry is dropped.
func (s *session) disconnect() {
	if game, ok := s.universe.GetUserGame(s.userID); ok {
		if len(game.ConnectedPlayers()) < 2 {
			s.universe.RemoveGame(game.ID())
			logf(s.cfg, "WS: Last user disconnecting, closing game %s", game.ID())
		}
	}

	s.universe.RemoveUser(s.userID)
	logf(s.cfg, "WS: User %s disconnected", s.userID)
}

// dispatch routes one parsed command. Diagnostics are reachable without
// authentication; everything else demands it first.
func (s *session) dispatch(data []byte) *ProtocolError {
	cmd, perr := parseCommand(data)
	if perr != nil {
		return perr
	}

	if !s.universe.UserIsAuthenticated(s.userID) {
		switch cmd {
		case CmdAuthenticate:
			return s.onAuthenticate(data)
		case CmdShowServerStatus:
			return s.onServerStatus()
		case CmdShowUuid:
			return s.onShowUuid()
		case CmdDebugUi:
			return s.onDebugUi(data)
		case CmdDebugGame:
			return s.onDebugGame(data)
		default:
			return protocolError(ErrNotAuthenticated, "cannot perform this command unauthenticated")
		}
	}

	switch cmd {
	case CmdPing:
		s.universe.Send(s.userID, MsgPong, nil)
		return nil
	case CmdAuthenticate:
		return protocolError(ErrAlreadyAuthenticated, "cannot authenticate twice")
	case CmdNewGame:
		return s.onNewGame(data)
	case CmdJoinGame:
		return s.onJoinGame(data)
	case CmdLeaveGame:
		return s.onLeaveGame()
	case CmdMarkReady:
		return s.onMarkReady()
	case CmdContinue:
		return s.onContinue()
	case CmdSendText:
		return s.onSendText(data)
	case CmdGamePlay:
		return s.universe.hooks.OnGamePlay(s.universe, s.userID, data)
	case CmdSetPlayerRole:
		return s.universe.hooks.OnSetPlayerRole(s.universe, s.userID, data)
	case CmdInviteBot:
		return s.onInviteBot()
	case CmdDebugUi:
		return s.onDebugUi(data)
	case CmdDebugGame:
		return s.onDebugGame(data)
	case CmdShowUuid:
		return s.onShowUuid()
	case CmdShowServerStatus:
		return s.onServerStatus()
	case CmdShowServerGames:
		return s.onShowServerGames()
	default:
		return protocolError(ErrInvalidCommand, "unknown command "+cmd)
	}
}

func (s *session) onAuthenticate(data []byte) *ProtocolError {
	var cmd AuthenticateCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return protocolError(ErrInvalidCommand, err.Error())
	}

	user, perr := s.universe.AuthenticateUser(s.userID, cmd.Nickname)
	if perr != nil {
		return perr
	}

	logf(s.cfg, "WS: User %s authenticated as %q", user.ID, user.Nickname)
	s.universe.Send(s.userID, MsgAuthenticated, user.PlayerInfo())

	return nil
}

// onNewGame leaves any current game, creates a fresh one with the raw
// envelope as its variant payload, and joins it.
func (s *session) onNewGame(data []byte) *ProtocolError {
	s.universe.RemoveUserFromGame(s.userID)

	game := s.universe.NewGame(json.RawMessage(data))
	game.AddPlayer(s.userID)

	s.universe.Send(s.userID, MsgGameJoined, game.GameInfo())
	game.BroadcastCurrentState()

	return nil
}

func (s *session) onJoinGame(data []byte) *ProtocolError {
	var cmd JoinGameCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return protocolError(ErrInvalidCommand, err.Error())
	}

	game, perr := s.universe.JoinGame(s.userID, cmd.JoinCode)
	if perr != nil {
		return perr
	}

	s.universe.Send(s.userID, MsgGameJoined, game.GameInfo())
	game.BroadcastCurrentState()

	return nil
}

func (s *session) onLeaveGame() *ProtocolError {
	logf(s.cfg, "WS: User %s leaving game", s.userID)

	s.universe.RemoveUserFromGame(s.userID)
	s.universe.Send(s.userID, MsgGameLeft, nil)

	return nil
}

// onMarkReady marks the player ready while the game is still joinable.
// Crossing the ready threshold starts the pregame and steps through the
// init phase, snapshotting after each step.
func (s *session) onMarkReady() *ProtocolError {
	game, ok := s.universe.GetUserGame(s.userID)
	if !ok || !game.IsJoinable() {
		return nil
	}

	needsUpdate := game.MarkPlayerReady(s.userID)
	if needsUpdate {
		game.Broadcast(MsgPregameStarted, nil)
	}
	game.BroadcastCurrentState()

	for needsUpdate {
		needsUpdate = game.UpdateInitState()
		game.BroadcastCurrentState()
	}

	return nil
}

func (s *session) onContinue() *ProtocolError {
	if game, ok := s.universe.GetUserGame(s.userID); ok {
		game.MarkPlayerReady(s.userID)
		game.BroadcastCurrentState()
	}

	return nil
}

func (s *session) onSendText(data []byte) *ProtocolError {
	var cmd SendTextCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return protocolError(ErrInvalidCommand, err.Error())
	}

	game, ok := s.universe.GetUserGame(s.userID)
	if !ok {
		return protocolError(ErrBadState, "not in a game")
	}

	game.Broadcast(MsgChat, ChatMessage{
		PlayerID: s.userID,
		Text:     cmd.Text,
	})

	return nil
}

func (s *session) onInviteBot() *ProtocolError {
	game, ok := s.universe.GetUserGame(s.userID)
	if !ok {
		return protocolError(ErrBadState, "not in a game")
	}

	return s.universe.InviteBot(game.JoinCode())
}

func (s *session) onDebugUi(data []byte) *ProtocolError {
	var cmd DebugUiCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return protocolError(ErrInvalidCommand, err.Error())
	}

	s.universe.Send(cmd.PlayerID, MsgGameStateSnapshot, cmd.Snapshot)

	return nil
}

func (s *session) onDebugGame(data []byte) *ProtocolError {
	var cmd DebugGameCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return protocolError(ErrInvalidCommand, err.Error())
	}

	game, ok := s.universe.GetGame(cmd.GameID)
	if !ok {
		return nil
	}

	game.ManageOperation(cmd.Operation)
	game.BroadcastCurrentState()

	return nil
}

func (s *session) onShowUuid() *ProtocolError {
	others := s.universe.ShowUsers(s.userID)
	if len(others) == 0 {
		return protocolError(ErrNotFound, "no other users connected")
	}

	s.universe.Send(s.userID, MsgChat, ChatMessage{PlayerID: others[0]})

	return nil
}

func (s *session) onServerStatus() *ProtocolError {
	s.universe.Send(s.userID, MsgServerStatus, ServerStatus{
		Players: s.universe.ShowUsers(s.userID),
		Games:   s.universe.ShowGames(),
	})

	return nil
}

func (s *session) onShowServerGames() *ProtocolError {
	s.universe.Send(s.userID, MsgServerStoredGames, ServerStoredGames{
		Games: s.universe.ShowStoredGames(),
	})

	return nil
}
