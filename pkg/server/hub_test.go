package server

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pixelchess/chess-server/pkg/chess"
	"github.com/pixelchess/chess-server/pkg/events"
	"github.com/pixelchess/chess-server/pkg/game"
	"github.com/pixelchess/chess-server/pkg/matchmaker"
	"github.com/pixelchess/chess-server/pkg/messages"
	"github.com/pixelchess/chess-server/pkg/rating"
	"github.com/pixelchess/chess-server/pkg/repository"
)

type hubFixture struct {
	hub       *Hub
	repo      *repository.InMemoryUserRepository
	publisher *events.Publisher
}

// The hub methods are exercised directly instead of through the Run loop so
// the tests stay synchronous.
func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	logger := zap.NewNop()
	repo := repository.NewInMemoryRepository(logger)
	for _, name := range []string{"alice", "bob"} {
		repo.SaveUser(&repository.User{
			ID:       name,
			Username: name,
			Ratings:  map[chess.Mode]int{chess.ModeBlitz: 1200},
		})
	}

	publisher := events.NewPublisher()
	hub := NewHub(repo, publisher, logger)

	updater := rating.NewUpdater(repo, logger)
	games := game.NewManager(hub, updater, publisher, logger)
	hub.Attach(games, matchmaker.NewMatchmaker(games, publisher, logger))

	return &hubFixture{hub: hub, repo: repo, publisher: publisher}
}

// connect registers a connection without a real websocket; only the send
// channel is exercised.
func (f *hubFixture) connect(userID string) *Connection {
	conn := NewConnection(nil, f.hub, userID, userID, zap.NewNop())
	f.hub.registerConnection(conn)
	return conn
}

func (f *hubFixture) inbound(conn *Connection, event, payload string) {
	f.hub.handleInbound(InboundHubMessage{
		Conn: conn,
		Message: messages.InboundMessage{
			Event:   event,
			Payload: json.RawMessage(payload),
		},
	})
}

type receivedMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// recvEvent waits for the next message of the given event, skipping over
// unrelated traffic such as clock updates.
func recvEvent(t *testing.T, conn *Connection, event string) json.RawMessage {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-conn.send:
			var msg receivedMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			if msg.Event == event {
				return msg.Payload
			}
		case <-deadline:
			t.Fatalf("no %q message received", event)
			return nil
		}
	}
}

func TestRegisterSendsConnected(t *testing.T) {
	f := newHubFixture(t)
	conn := f.connect("alice")

	var payload messages.ConnectedPayload
	require.NoError(t, json.Unmarshal(recvEvent(t, conn, messages.EventConnected), &payload))
	assert.Equal(t, "alice", payload.UserID)
	assert.Equal(t, "alice", payload.Username)
	assert.Equal(t, 1200, payload.Ratings["blitz"])
}

func TestJoinQueueAndMatch(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect("alice")
	bob := f.connect("bob")

	f.inbound(alice, messages.EventJoinQueue, `{"mode":"blitz"}`)

	var queued messages.QueueJoinedPayload
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventQueueJoined), &queued))
	assert.Equal(t, "blitz", queued.Mode)
	assert.Equal(t, 1, queued.QueuePosition)

	f.inbound(bob, messages.EventJoinQueue, `{"mode":"blitz"}`)

	var aliceStart, bobStart messages.GameStartPayload
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventGameStart), &aliceStart))
	require.NoError(t, json.Unmarshal(recvEvent(t, bob, messages.EventGameStart), &bobStart))
	assert.Equal(t, aliceStart.GameID, bobStart.GameID)
}

func TestJoinQueueInvalidMode(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect("alice")

	f.inbound(alice, messages.EventJoinQueue, `{"mode":"classical"}`)

	var payload messages.ErrorPayload
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventError), &payload))
	assert.Equal(t, "Invalid game mode", payload.Message)
}

func TestMakeMoveRouting(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect("alice")
	bob := f.connect("bob")

	f.inbound(alice, messages.EventJoinQueue, `{"mode":"blitz"}`)
	f.inbound(bob, messages.EventJoinQueue, `{"mode":"blitz"}`)

	var start messages.GameStartPayload
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventGameStart), &start))

	white, black := alice, bob
	if start.White.ID == "bob" {
		white, black = bob, alice
	}

	f.inbound(white, messages.EventMakeMove, `{"gameId":"`+start.GameID+`","move":"e2e4"}`)

	var move messages.MoveMadePayload
	require.NoError(t, json.Unmarshal(recvEvent(t, black, messages.EventMoveMade), &move))
	assert.Equal(t, "e4", move.Move)

	// Moving again out of turn is rejected toward the mover only.
	f.inbound(white, messages.EventMakeMove, `{"gameId":"`+start.GameID+`","move":"d2d4"}`)

	var invalid messages.InvalidMovePayload
	require.NoError(t, json.Unmarshal(recvEvent(t, white, messages.EventInvalidMove), &invalid))
	assert.Equal(t, game.ErrOutOfTurn.Error(), invalid.Error)
}

func TestMakeMoveUnknownGame(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect("alice")

	f.inbound(alice, messages.EventMakeMove, `{"gameId":"not-a-uuid","move":"e2e4"}`)

	var payload messages.InvalidMovePayload
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventInvalidMove), &payload))
	assert.Equal(t, game.ErrSessionNotFound.Error(), payload.Error)
}

func TestChatFanOut(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect("alice")
	bob := f.connect("bob")

	f.inbound(alice, messages.EventJoinQueue, `{"mode":"blitz"}`)
	f.inbound(bob, messages.EventJoinQueue, `{"mode":"blitz"}`)

	var start messages.GameStartPayload
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventGameStart), &start))

	f.inbound(alice, messages.EventSendMessage, `{"gameId":"`+start.GameID+`","message":"  gl hf  "}`)

	for _, conn := range []*Connection{alice, bob} {
		var chat messages.MessageReceivedPayload
		require.NoError(t, json.Unmarshal(recvEvent(t, conn, messages.EventMessageReceived), &chat))
		assert.Equal(t, "alice", chat.From)
		assert.Equal(t, "gl hf", chat.Message)
		assert.NotZero(t, chat.Timestamp)
	}
}

func TestChatRejectsBlankMessage(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect("alice")

	f.inbound(alice, messages.EventSendMessage, `{"gameId":"x","message":"   "}`)

	var payload messages.ErrorPayload
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventError), &payload))
	assert.Equal(t, "Invalid chat message", payload.Message)
}

func TestUnknownEvent(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect("alice")

	f.inbound(alice, "teleport", `{}`)

	var payload messages.ErrorPayload
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventError), &payload))
	assert.Equal(t, "Unknown message type", payload.Message)
}

func TestUnregisterPublishesConnectionClosed(t *testing.T) {
	f := newHubFixture(t)

	closed := make(chan string, 1)
	f.publisher.Subscribe(events.EventConnectionClosed, func(event events.Event) {
		payload := event.Payload.(events.ConnectionClosedPayload)
		closed <- payload.UserID
	})

	conn := f.connect("alice")
	f.hub.unregisterConnection(conn)

	select {
	case userID := <-closed:
		assert.Equal(t, "alice", userID)
	default:
		t.Fatal("no connection closed event published")
	}
}

func TestStaleConnectionDoesNotStealRouting(t *testing.T) {
	f := newHubFixture(t)

	old := f.connect("alice")
	fresh := f.connect("alice")

	// Closing the superseded connection must not tear down the fresh route.
	f.hub.unregisterConnection(old)

	f.hub.Send("alice", messages.OutboundMessage{Event: "ping", Payload: struct{}{}})
	recvEvent(t, fresh, "ping")
}

// Send runs on foreign goroutines (clock loops, session events) and may race
// a disconnect; tearing a connection down must never panic a sender.
func TestSendDuringDisconnect(t *testing.T) {
	f := newHubFixture(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := messages.OutboundMessage{
				Event:   messages.EventTimeUpdate,
				Payload: messages.TimeRemainingPayload{White: 1000, Black: 1000},
			}
			for {
				select {
				case <-stop:
					return
				default:
					f.hub.Send("alice", msg)
				}
			}
		}()
	}

	for i := 0; i < 2000; i++ {
		conn := f.connect("alice")
		f.hub.unregisterConnection(conn)
	}

	close(stop)
	wg.Wait()
}

func TestSendJSONAfterCloseIsDropped(t *testing.T) {
	f := newHubFixture(t)
	conn := f.connect("alice")
	f.hub.unregisterConnection(conn)

	// Must neither panic nor queue.
	pending := len(conn.send)
	conn.SendJSON(messages.OutboundMessage{Event: "ping", Payload: struct{}{}})
	assert.LessOrEqual(t, len(conn.send), pending)
}

func TestGetActiveGames(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect("alice")
	bob := f.connect("bob")

	f.inbound(alice, messages.EventGetActiveGames, `{}`)
	var listing messages.ActiveGamesPayload
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventActiveGames), &listing))
	assert.Empty(t, listing.Games)

	f.inbound(alice, messages.EventJoinQueue, `{"mode":"blitz"}`)
	f.inbound(bob, messages.EventJoinQueue, `{"mode":"blitz"}`)

	var start messages.GameStartPayload
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventGameStart), &start))

	f.inbound(alice, messages.EventGetActiveGames, `{}`)
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventActiveGames), &listing))
	require.Len(t, listing.Games, 1)
	assert.Equal(t, start.GameID, listing.Games[0].GameID)
	assert.Equal(t, "bob", listing.Games[0].Opponent)
}

func TestJoinGameSnapshot(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect("alice")
	bob := f.connect("bob")

	f.inbound(alice, messages.EventJoinQueue, `{"mode":"blitz"}`)
	f.inbound(bob, messages.EventJoinQueue, `{"mode":"blitz"}`)

	var start messages.GameStartPayload
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventGameStart), &start))

	f.inbound(alice, messages.EventJoinGame, `{"gameId":"`+start.GameID+`"}`)

	var snap messages.GameSnapshotPayload
	require.NoError(t, json.Unmarshal(recvEvent(t, alice, messages.EventGameJoined), &snap))
	assert.Equal(t, start.GameID, snap.GameID)
	assert.Equal(t, "ongoing", snap.Status)
	assert.Equal(t, start.FEN, snap.FEN)
}
