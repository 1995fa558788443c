package main

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *Universe) {
	t.Helper()

	cfg := testConfig()
	universe := newUniverse(cfg, demoGameHooks(), newPrintStore(cfg, "test"))

	server := httptest.NewServer(newRouter(cfg, universe, make(chan error, 64)))
	t.Cleanup(server.Close)

	return server, universe
}

// wsClient drives one websocket session the way a browser client would.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialSession(t *testing.T, server *httptest.Server, sessionID string) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/" + sessionID

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
	})

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(command string) {
	c.t.Helper()

	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(command)))
}

func (c *wsClient) recv() map[string]any {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)

	var fields map[string]any
	require.NoError(c.t, json.Unmarshal(data, &fields))

	return fields
}

func (c *wsClient) expect(msgType string) map[string]any {
	c.t.Helper()

	msg := c.recv()
	require.Equal(c.t, msgType, msg["type"], "unexpected message %v", msg)

	return msg
}

func (c *wsClient) authenticate(nickname string) uuid.UUID {
	c.t.Helper()

	c.send(fmt.Sprintf(`{"cmd":"authenticate","nickname":%q}`, nickname))
	msg := c.expect(MsgAuthenticated)

	assert.Equal(c.t, nickname, msg["nickname"])

	userID, err := uuid.Parse(msg["id"].(string))
	require.NoError(c.t, err)

	return userID
}

// newGame creates a game and consumes the join handshake.
func (c *wsClient) newGame() (gameID uuid.UUID, joinCode string) {
	c.t.Helper()

	c.send(`{"cmd":"new_game"}`)
	c.expect(MsgPlayerConnected)
	joined := c.expect(MsgGameJoined)
	c.expect(MsgGameStateSnapshot)

	gameID, err := uuid.Parse(joined["game_id"].(string))
	require.NoError(c.t, err)

	return gameID, joined["join_code"].(string)
}

func TestSessionAuthenticateAndCreateGame(t *testing.T) {
	server, universe := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	aliceID := alice.authenticate("alice")

	alice.send(`{"cmd":"new_game"}`)

	connected := alice.expect(MsgPlayerConnected)
	assert.Equal(t, aliceID.String(), connected["info"].(map[string]any)["id"])

	joined := alice.expect(MsgGameJoined)
	assert.Len(t, joined["join_code"], 4)

	snapshot := alice.expect(MsgGameStateSnapshot)
	assert.Equal(t, aliceID.String(), snapshot["you"])
	assert.Equal(t, false, snapshot["started"])

	gameID, err := uuid.Parse(joined["game_id"].(string))
	require.NoError(t, err)
	_, ok := universe.GetGame(gameID)
	assert.True(t, ok)
}

func TestSessionPing(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	alice.authenticate("alice")

	alice.send(`{"cmd":"ping"}`)
	alice.expect(MsgPong)
}

func TestSessionUnauthenticatedCommandRejected(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())

	alice.send(`{"cmd":"ping"}`)

	msg := alice.expect(MsgError)
	assert.Equal(t, string(ErrNotAuthenticated), msg["kind"])
}

func TestSessionServerStatusWithoutAuth(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())

	alice.send(`{"cmd":"show_server_status"}`)

	msg := alice.expect(MsgServerStatus)
	assert.NotNil(t, msg["players"])
	assert.NotNil(t, msg["games"])
}

func TestSessionAuthenticateTwice(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	alice.authenticate("alice")

	alice.send(`{"cmd":"authenticate","nickname":"mallory"}`)

	msg := alice.expect(MsgError)
	assert.Equal(t, string(ErrAlreadyAuthenticated), msg["kind"])
}

func TestSessionChatOutsideGame(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	alice.authenticate("alice")

	alice.send(`{"cmd":"send_text","text":"hello?"}`)

	msg := alice.expect(MsgError)
	assert.Equal(t, string(ErrBadState), msg["kind"])
}

func TestSessionJoinGame(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	alice.authenticate("alice")
	_, joinCode := alice.newGame()

	bob := dialSession(t, server, uuid.NewString())
	bobID := bob.authenticate("bob")

	bob.send(fmt.Sprintf(`{"cmd":"join_game","join_code":%q}`, joinCode))

	connected := bob.expect(MsgPlayerConnected)
	assert.Equal(t, bobID.String(), connected["info"].(map[string]any)["id"])
	bob.expect(MsgGameJoined)
	snapshot := bob.expect(MsgGameStateSnapshot)
	assert.Equal(t, bobID.String(), snapshot["you"])
	assert.Len(t, snapshot["players"], 2)

	// Alice is told about the newcomer and re-snapshotted.
	connected = alice.expect(MsgPlayerConnected)
	assert.Equal(t, bobID.String(), connected["info"].(map[string]any)["id"])
	alice.expect(MsgGameStateSnapshot)
}

func TestSessionJoinUnknownCode(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	alice.authenticate("alice")

	alice.send(`{"cmd":"join_game","join_code":"ZZZZ"}`)

	msg := alice.expect(MsgError)
	assert.Equal(t, string(ErrNotFound), msg["kind"])
}

func TestSessionChat(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	aliceID := alice.authenticate("alice")
	_, joinCode := alice.newGame()

	bob := dialSession(t, server, uuid.NewString())
	bob.authenticate("bob")
	bob.send(fmt.Sprintf(`{"cmd":"join_game","join_code":%q}`, joinCode))
	bob.expect(MsgPlayerConnected)
	bob.expect(MsgGameJoined)
	bob.expect(MsgGameStateSnapshot)
	alice.expect(MsgPlayerConnected)
	alice.expect(MsgGameStateSnapshot)

	alice.send(`{"cmd":"send_text","text":"hello table"}`)

	for _, client := range []*wsClient{alice, bob} {
		msg := client.expect(MsgChat)
		assert.Equal(t, aliceID.String(), msg["player_id"])
		assert.Equal(t, "hello table", msg["text"])
	}
}

func TestSessionMarkReadyStartsGame(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	alice.authenticate("alice")
	_, joinCode := alice.newGame()

	bob := dialSession(t, server, uuid.NewString())
	bob.authenticate("bob")
	bob.send(fmt.Sprintf(`{"cmd":"join_game","join_code":%q}`, joinCode))
	bob.expect(MsgPlayerConnected)
	bob.expect(MsgGameJoined)
	bob.expect(MsgGameStateSnapshot)
	alice.expect(MsgPlayerConnected)
	alice.expect(MsgGameStateSnapshot)

	// First ready mark only re-snapshots.
	alice.send(`{"cmd":"mark_ready"}`)
	alice.expect(MsgGameStateSnapshot)
	bob.expect(MsgGameStateSnapshot)

	// Second mark crosses the threshold: the pregame starts and the init
	// phase snapshots after every dealing step.
	bob.send(`{"cmd":"mark_ready"}`)

	for _, client := range []*wsClient{alice, bob} {
		client.expect(MsgPregameStarted)

		var last map[string]any
		for i := 0; i < demoInitSteps+1; i++ {
			last = client.expect(MsgGameStateSnapshot)
		}

		assert.Equal(t, true, last["started"])
		assert.Len(t, last["tokens"], demoInitSteps*demoTokensPerStep)
	}
}

func TestSessionGamePlay(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	aliceID := alice.authenticate("alice")
	alice.newGame()

	alice.send(`{"cmd":"game_play","action":"draw","token":42}`)

	event := alice.expect(MsgPlayEvent)
	assert.Equal(t, aliceID.String(), event["player_id"])
	assert.Equal(t, "draw", event["action"])
	assert.Equal(t, float64(42), event["token"])

	alice.expect(MsgGameStateSnapshot)
}

func TestSessionSetPlayerRole(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	alice.authenticate("alice")
	alice.newGame()

	alice.send(`{"cmd":"set_player_role","role":"dealer"}`)

	snapshot := alice.expect(MsgGameStateSnapshot)
	assert.Equal(t, "dealer", snapshot["role"])
}

func TestSessionLeaveGame(t *testing.T) {
	server, universe := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	alice.authenticate("alice")
	gameID, joinCode := alice.newGame()

	bob := dialSession(t, server, uuid.NewString())
	bobID := bob.authenticate("bob")
	bob.send(fmt.Sprintf(`{"cmd":"join_game","join_code":%q}`, joinCode))
	bob.expect(MsgPlayerConnected)
	bob.expect(MsgGameJoined)
	bob.expect(MsgGameStateSnapshot)
	alice.expect(MsgPlayerConnected)
	alice.expect(MsgGameStateSnapshot)

	bob.send(`{"cmd":"leave_game"}`)

	gone := alice.expect(MsgPlayerDisconnect)
	assert.Equal(t, bobID.String(), gone["player_id"])
	bob.expect(MsgGameLeft)

	_, ok := universe.GetGame(gameID)
	assert.True(t, ok, "game survives while alice remains")

	alice.send(`{"cmd":"leave_game"}`)
	alice.expect(MsgGameLeft)

	require.Eventually(t, func() bool {
		_, ok := universe.GetGame(gameID)

		return !ok
	}, 5*time.Second, 10*time.Millisecond, "the last leaver empties the game out of the universe")
}

func TestSessionReconnectResumesGame(t *testing.T) {
	server, universe := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	alice.authenticate("alice")
	gameID, joinCode := alice.newGame()

	bob := dialSession(t, server, uuid.NewString())
	bobID := bob.authenticate("bob")
	bob.send(fmt.Sprintf(`{"cmd":"join_game","join_code":%q}`, joinCode))
	bob.expect(MsgPlayerConnected)
	bob.expect(MsgGameJoined)
	bob.expect(MsgGameStateSnapshot)
	alice.expect(MsgPlayerConnected)
	alice.expect(MsgGameStateSnapshot)

	// Bob drops off. The game stays up because alice is still connected;
	// wait for the server to unwind bob's old session first.
	bob.conn.Close()
	require.Eventually(t, func() bool {
		_, ok := universe.GetUser(bobID)

		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	_, ok := universe.GetGame(gameID)
	require.True(t, ok)

	// Reconnecting with "{game-id}_{user-id}" resumes the old identity.
	bob = dialSession(t, server, gameID.String()+"_"+bobID.String())

	authed := bob.expect(MsgAuthenticated)
	assert.Equal(t, bobID.String(), authed["id"])
	assert.Equal(t, "bob", authed["nickname"])

	joined := bob.expect(MsgGameJoined)
	assert.Equal(t, gameID.String(), joined["game_id"])

	snapshot := bob.expect(MsgGameStateSnapshot)
	assert.Equal(t, bobID.String(), snapshot["you"])

	// The resume re-snapshots the whole table.
	alice.expect(MsgGameStateSnapshot)
}

func TestSessionDisconnectClosesSoloGame(t *testing.T) {
	server, universe := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	alice.authenticate("alice")
	gameID, _ := alice.newGame()

	alice.conn.Close()

	require.Eventually(t, func() bool {
		_, ok := universe.GetGame(gameID)

		return !ok
	}, 5*time.Second, 10*time.Millisecond, "a game without connected players is closed")
}

func TestSessionDebugGame(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	alice.authenticate("alice")
	gameID, _ := alice.newGame()

	alice.send(fmt.Sprintf(`{"cmd":"debug_game","game_id":%q,"operation":{"set_started":true}}`, gameID))

	snapshot := alice.expect(MsgGameStateSnapshot)
	assert.Equal(t, true, snapshot["started"])
}

func TestSessionShowUuidAlone(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())

	alice.send(`{"cmd":"show_uuid"}`)

	msg := alice.expect(MsgError)
	assert.Equal(t, string(ErrNotFound), msg["kind"])
}

func TestSessionUnknownCommand(t *testing.T) {
	server, _ := newTestServer(t)

	alice := dialSession(t, server, uuid.NewString())
	alice.authenticate("alice")

	alice.send(`{"cmd":"frobnicate"}`)

	msg := alice.expect(MsgError)
	assert.Equal(t, string(ErrInvalidCommand), msg["kind"])
}

func TestParseSessionID(t *testing.T) {
	guid, claimed := parseSessionID("abc")
	assert.Equal(t, "abc", guid)
	assert.Equal(t, "none", claimed)

	guid, claimed = parseSessionID("abc_def")
	assert.Equal(t, "abc", guid)
	assert.Equal(t, "def", claimed)
}
