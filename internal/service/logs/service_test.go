package logs

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(s *Service) *slog.Logger {
	base := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(s.WrapHandler(base))
}

func TestWrapHandler_CapturesEntries(t *testing.T) {
	s := New()
	logger := captureLogger(s)

	logger.Info("device connected", slog.String("component", "hyperdeck"), slog.Int("device", 3))
	logger.Warn("poll failed", slog.String("component", "vmix"))

	recent := s.Recent(0, "", "")
	require.Len(t, recent, 2)
	assert.Equal(t, "device connected", recent[0].Message)
	assert.Equal(t, "hyperdeck", recent[0].Component)
	assert.Equal(t, 3, recent[0].Device)
	assert.Equal(t, "warn", recent[1].Level)
	assert.NotEmpty(t, recent[0].ID)
}

func TestWrapHandler_ComponentFromWithAttrs(t *testing.T) {
	s := New()
	logger := captureLogger(s).With(slog.String("component", "casparcg"))

	logger.Info("stale device")

	recent := s.Recent(0, "", "casparcg")
	require.Len(t, recent, 1)
	assert.Equal(t, "casparcg", recent[0].Component)
}

func TestRecent_FiltersAndLimits(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.Add(Entry{Level: "info", Component: "ws", Message: "tick " + strconv.Itoa(i)})
	}
	s.Add(Entry{Level: "error", Component: "emberplus", Message: "encode failed"})

	errorsOnly := s.Recent(0, "error", "")
	require.Len(t, errorsOnly, 1)
	assert.Equal(t, "encode failed", errorsOnly[0].Message)

	limited := s.Recent(2, "", "ws")
	require.Len(t, limited, 2)
	// Newest last.
	assert.Equal(t, "tick 4", limited[1].Message)
}

func TestRing_DropsOldest(t *testing.T) {
	s := New()
	s.maxEntries = 3
	for i := 0; i < 5; i++ {
		s.Add(Entry{Level: "info", Message: strconv.Itoa(i)})
	}

	recent := s.Recent(0, "", "")
	require.Len(t, recent, 3)
	assert.Equal(t, "2", recent[0].Message)
	assert.Equal(t, "4", recent[2].Message)
	assert.Equal(t, int64(5), s.GetStats().Total)
}

func TestSubscribe_ReceivesAndUnsubscribes(t *testing.T) {
	s := New()
	sub := s.Subscribe(context.Background())
	require.Equal(t, 1, s.SubscriberCount())

	s.Add(Entry{Level: "info", Message: "hello"})
	select {
	case e := <-sub.Events:
		assert.Equal(t, "hello", e.Message)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the entry")
	}

	close(sub.Done)
	require.Eventually(t, func() bool { return s.SubscriberCount() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestGetStats(t *testing.T) {
	s := New()
	s.Add(Entry{Level: "info", Component: "hyperdeck"})
	s.Add(Entry{Level: "error", Component: "hyperdeck", Message: "dial refused"})

	stats := s.GetStats()
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByLevel["error"])
	assert.Equal(t, int64(0), stats.ByLevel["trace"])
	assert.Equal(t, int64(2), stats.ByComponent["hyperdeck"])
	require.Len(t, stats.RecentErrors, 1)
	assert.Equal(t, "dial refused", stats.RecentErrors[0].Message)
}
