package matchmaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pixelchess/chess-server/pkg/chess"
	"github.com/pixelchess/chess-server/pkg/events"
	"github.com/pixelchess/chess-server/pkg/game"
	"github.com/pixelchess/chess-server/pkg/messages"
)

type captureBroadcaster struct {
	mu   sync.Mutex
	sent map[string][]messages.OutboundMessage
}

func newCaptureBroadcaster() *captureBroadcaster {
	return &captureBroadcaster{sent: make(map[string][]messages.OutboundMessage)}
}

func (b *captureBroadcaster) Send(userID string, msg messages.OutboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent[userID] = append(b.sent[userID], msg)
}

func (b *captureBroadcaster) gameStart(userID string) (messages.GameStartPayload, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, msg := range b.sent[userID] {
		if msg.Event == messages.EventGameStart {
			return msg.Payload.(messages.GameStartPayload), true
		}
	}
	return messages.GameStartPayload{}, false
}

type noopRatings struct{}

func (noopRatings) ApplyResult(context.Context, chess.Mode, string, string, string) error {
	return nil
}

type fixture struct {
	matchmaker  *Matchmaker
	games       *game.Manager
	broadcaster *captureBroadcaster
	publisher   *events.Publisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	broadcaster := newCaptureBroadcaster()
	publisher := events.NewPublisher()
	games := game.NewManager(broadcaster, noopRatings{}, publisher, zap.NewNop())
	return &fixture{
		matchmaker:  NewMatchmaker(games, publisher, zap.NewNop()),
		games:       games,
		broadcaster: broadcaster,
		publisher:   publisher,
	}
}

func TestJoinQueueWaitsWithoutOpponent(t *testing.T) {
	f := newFixture(t)

	result, err := f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBlitz)
	require.NoError(t, err)
	assert.True(t, result.Queued)
	assert.Equal(t, 1, result.QueuePosition)
	assert.Equal(t, 5, result.EstimatedWaitTime)

	_, ok := f.broadcaster.gameStart("alice")
	assert.False(t, ok)
}

func TestJoinQueueMatchesCompatibleRatings(t *testing.T) {
	f := newFixture(t)

	_, err := f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBlitz)
	require.NoError(t, err)

	// Within the initial 100-point window: matched on join.
	result, err := f.matchmaker.JoinQueue("bob", "bob", 1280, chess.ModeBlitz)
	require.NoError(t, err)
	assert.False(t, result.Queued)

	aliceStart, ok := f.broadcaster.gameStart("alice")
	require.True(t, ok)
	bobStart, ok := f.broadcaster.gameStart("bob")
	require.True(t, ok)

	assert.Equal(t, aliceStart.GameID, bobStart.GameID)
	assert.Equal(t, "blitz", aliceStart.Mode)
	assert.Equal(t, int64(300_000), aliceStart.White.Time)
	assert.Equal(t, int64(300_000), aliceStart.Black.Time)

	// One player per color.
	ids := []string{aliceStart.White.ID, aliceStart.Black.ID}
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)
}

func TestJoinQueueSkipsDistantRatings(t *testing.T) {
	f := newFixture(t)

	_, err := f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBlitz)
	require.NoError(t, err)

	result, err := f.matchmaker.JoinQueue("bob", "bob", 1800, chess.ModeBlitz)
	require.NoError(t, err)
	assert.True(t, result.Queued)
	assert.Equal(t, 2, result.QueuePosition)

	_, ok := f.broadcaster.gameStart("alice")
	assert.False(t, ok)
}

func TestJoinQueueModesAreSeparate(t *testing.T) {
	f := newFixture(t)

	_, err := f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBlitz)
	require.NoError(t, err)

	result, err := f.matchmaker.JoinQueue("bob", "bob", 1200, chess.ModeBullet)
	require.NoError(t, err)
	assert.True(t, result.Queued)
}

func TestJoinQueueRejectsDoubleEntry(t *testing.T) {
	f := newFixture(t)

	_, err := f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBlitz)
	require.NoError(t, err)

	_, err = f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBlitz)
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	// One entry across all modes.
	_, err = f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBullet)
	assert.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestJoinQueueRejectsPlayersInGame(t *testing.T) {
	f := newFixture(t)

	_, err := f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBlitz)
	require.NoError(t, err)
	_, err = f.matchmaker.JoinQueue("bob", "bob", 1200, chess.ModeBlitz)
	require.NoError(t, err)

	_, err = f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeRapid)
	assert.ErrorIs(t, err, ErrAlreadyInGame)
}

func TestLeaveQueueIsIdempotent(t *testing.T) {
	f := newFixture(t)

	_, err := f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBlitz)
	require.NoError(t, err)

	f.matchmaker.LeaveQueue("alice", chess.ModeBlitz)
	f.matchmaker.LeaveQueue("alice", chess.ModeBlitz)
	f.matchmaker.LeaveQueue("nobody", chess.ModeRapid)

	// Slot is free again.
	result, err := f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBlitz)
	require.NoError(t, err)
	assert.Equal(t, 1, result.QueuePosition)
}

func TestDisconnectPurgesQueues(t *testing.T) {
	f := newFixture(t)

	_, err := f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBlitz)
	require.NoError(t, err)

	f.publisher.Publish(events.Event{
		Type:    events.EventConnectionClosed,
		Payload: events.ConnectionClosedPayload{UserID: "alice"},
	})

	result, err := f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBlitz)
	require.NoError(t, err)
	assert.True(t, result.Queued)
	assert.Equal(t, 1, result.QueuePosition)
}

func TestSearchWidensRatingRange(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on the background search interval")
	}

	f := newFixture(t)

	// 120 apart: outside the initial window, inside the first widened one.
	_, err := f.matchmaker.JoinQueue("alice", "alice", 1200, chess.ModeBlitz)
	require.NoError(t, err)
	result, err := f.matchmaker.JoinQueue("bob", "bob", 1320, chess.ModeBlitz)
	require.NoError(t, err)
	require.True(t, result.Queued)

	require.Eventually(t, func() bool {
		_, aliceOk := f.broadcaster.gameStart("alice")
		_, bobOk := f.broadcaster.gameStart("bob")
		return aliceOk && bobOk
	}, 10*time.Second, 100*time.Millisecond)
}
