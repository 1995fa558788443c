package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Wire protocol. Client commands arrive as {"cmd": "<tag>", ...payload},
// server messages leave as {"type": "<tag>", ...payload}, with the payload
// fields inlined next to the tag.

// Command tags (client -> server).
const (
	CmdPing             = "ping"
	CmdAuthenticate     = "authenticate"
	CmdSendText         = "send_text"
	CmdNewGame          = "new_game"
	CmdJoinGame         = "join_game"
	CmdLeaveGame        = "leave_game"
	CmdMarkReady        = "mark_ready"
	CmdInviteBot        = "invite_bot"
	CmdContinue         = "continue"
	CmdGamePlay         = "game_play"
	CmdSetPlayerRole    = "set_player_role"
	CmdDebugUi          = "debug_ui"
	CmdDebugGame        = "debug_game"
	CmdShowUuid         = "show_uuid"
	CmdShowServerStatus = "show_server_status"
	CmdShowServerGames  = "show_server_games"
)

// Message tags (server -> client).
const (
	MsgConnected         = "connected"
	MsgPong              = "pong"
	MsgServerStatus      = "server_status"
	MsgServerStoredGames = "server_stored_games"
	MsgChat              = "chat"
	MsgPlayerConnected   = "player_connected"
	MsgPlayerDisconnect  = "player_disconnected"
	MsgPregameStarted    = "pregame_started"
	MsgGameJoined        = "game_joined"
	MsgGameLeft          = "game_left"
	MsgAuthenticated     = "authenticated"
	MsgError             = "error"
	MsgPlayEvent         = "play_event"
	MsgGameStateSnapshot = "game_state_snapshot"
	MsgDebugOperation    = "debug_operation"
)

type ProtocolErrorKind string

const (
	ErrAlreadyAuthenticated ProtocolErrorKind = "already_authenticated"
	ErrNotAuthenticated     ProtocolErrorKind = "not_authenticated"
	ErrInvalidCommand       ProtocolErrorKind = "invalid_command"
	ErrBadState             ProtocolErrorKind = "bad_state"
	ErrNotFound             ProtocolErrorKind = "not_found"
	ErrBadInput             ProtocolErrorKind = "bad_input"
	ErrInternalError        ProtocolErrorKind = "internal_error"
)

// ProtocolError is the only error shape that reaches a client. It is sent
// as an "error" message and never terminates the session.
type ProtocolError struct {
	Kind    ProtocolErrorKind `json:"kind"`
	Message string            `json:"message"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func protocolError(kind ProtocolErrorKind, message string) *ProtocolError {
	return &ProtocolError{Kind: kind, Message: message}
}

type PlayerInfo struct {
	ID       uuid.UUID `json:"id"`
	Nickname string    `json:"nickname"`
}

type GameInfo struct {
	GameID   uuid.UUID `json:"game_id"`
	JoinCode string    `json:"join_code"`
}

// GameExtendedInfo is used for server diagnostics.
type GameExtendedInfo struct {
	Game    GameInfo    `json:"game"`
	Players []uuid.UUID `json:"players"`
}

// GameRecord is the unit of storage and archival. State is kept as raw JSON
// so the store and archiver stay oblivious to the concrete game.
type GameRecord struct {
	DateUpdated time.Time       `json:"date_updated"`
	Info        GameInfo        `json:"info"`
	State       json.RawMessage `json:"state"`
}

type ServerStatus struct {
	Players []uuid.UUID        `json:"players"`
	Games   []GameExtendedInfo `json:"games"`
}

type ServerStoredGames struct {
	Games []GameRecord `json:"games"`
}

type ChatMessage struct {
	PlayerID uuid.UUID `json:"player_id"`
	Text     string    `json:"text"`
}

type PlayerDisconnectedMessage struct {
	PlayerID uuid.UUID `json:"player_id"`
}

// Per-command payloads. Each is unmarshaled from the full envelope, so the
// "cmd" tag is simply ignored.
type AuthenticateCommand struct {
	Nickname string `json:"nickname"`
}

type SendTextCommand struct {
	Text string `json:"text"`
}

type JoinGameCommand struct {
	JoinCode string `json:"join_code"`
}

type DebugUiCommand struct {
	PlayerID uuid.UUID       `json:"player_id"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type DebugGameCommand struct {
	GameID    uuid.UUID       `json:"game_id"`
	Operation json.RawMessage `json:"operation"`
}

// parseCommand extracts the command tag, leaving the payload to be decoded
// from the same bytes by the dispatcher.
func parseCommand(data []byte) (string, *ProtocolError) {
	var envelope struct {
		Cmd string `json:"cmd"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", protocolError(ErrInvalidCommand, err.Error())
	}
	if envelope.Cmd == "" {
		return "", protocolError(ErrInvalidCommand, "missing cmd tag")
	}
	return envelope.Cmd, nil
}

// marshalMessage serializes a server message, inlining the payload fields
// next to the "type" tag. Payloads that do not serialize to a JSON object
// (opaque snapshots may be anything) land under a "data" key instead.
func marshalMessage(tag string, payload any) ([]byte, error) {
	if payload == nil {
		return json.Marshal(map[string]string{"type": tag})
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		fields = map[string]json.RawMessage{"data": raw}
	}
	fields["type"] = json.RawMessage(`"` + tag + `"`)

	return json.Marshal(fields)
}
