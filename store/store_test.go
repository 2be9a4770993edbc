package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/smenaria2/tnd3/model"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	logger := zerolog.Nop()
	s, err := New(dir, &logger)
	if err != nil {
		t.Fatal(err)
	}
	return s, dir
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	state := model.GameState{
		GameCode:       "AB12CD",
		IntensityLevel: model.IntensityRomantic,
		GameMode:       model.ModeStandard,
		CurrentTurn:    model.RoleGuest,
		Phase:          model.PhasePlaying,
		TurnHistory:    []model.TurnRecord{{ID: "t1", Status: model.TurnConfirmed}},
		HostName:       "Hank",
		GuestName:      "Ann",
		Scores:         model.Scores{Host: 30},
		LastUpdated:    time.Now().UnixMilli(),
	}
	if err := s.SaveSnapshot(state); err != nil {
		t.Fatal(err)
	}

	// Lookup is case-insensitive on the game code.
	got, ok := s.LoadSnapshot("ab12cd")
	if !ok {
		t.Fatal("snapshot not found")
	}
	if got.HostName != "Hank" || got.Scores.Host != 30 || len(got.TurnHistory) != 1 {
		t.Errorf("restored snapshot = %+v", got)
	}
}

func TestSnapshotStaleness(t *testing.T) {
	s, _ := newTestStore(t)

	state := model.GameState{
		GameCode:    "old123",
		LastUpdated: time.Now().Add(-25 * time.Hour).UnixMilli(),
	}
	if err := s.SaveSnapshot(state); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.LoadSnapshot("old123"); ok {
		t.Error("stale snapshot must read as absent")
	}
}

func TestSnapshotCorruptFile(t *testing.T) {
	s, dir := newTestStore(t)

	if err := os.WriteFile(filepath.Join(dir, "game_bad123.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.LoadSnapshot("bad123"); ok {
		t.Error("corrupt snapshot must read as absent")
	}
}

func TestQueuePersistsAcrossReopen(t *testing.T) {
	s, dir := newTestStore(t)

	for _, text := range []string{"first", "second"} {
		env, err := model.NewEnvelope(model.MsgChatMessage, model.ChatMessage{ID: text, Text: text})
		if err != nil {
			t.Fatal(err)
		}
		if err = s.AppendQueued(env); err != nil {
			t.Fatal(err)
		}
	}

	// A fresh store over the same directory sees the same queue.
	logger := zerolog.Nop()
	reopened, err := New(dir, &logger)
	if err != nil {
		t.Fatal(err)
	}
	queue, err := reopened.LoadQueue()
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(queue))
	}
	var first model.ChatMessage
	if err = queue[0].Decode(&first); err != nil {
		t.Fatal(err)
	}
	if first.Text != "first" {
		t.Errorf("queue order broken, first = %q", first.Text)
	}

	if err = reopened.ClearQueue(); err != nil {
		t.Fatal(err)
	}
	queue, _ = reopened.LoadQueue()
	if len(queue) != 0 {
		t.Errorf("queue length after clear = %d", len(queue))
	}
	// Clearing an already empty queue is fine.
	if err = reopened.ClearQueue(); err != nil {
		t.Errorf("second clear: %v", err)
	}
}

func TestSessionsDedupeAndCap(t *testing.T) {
	s, _ := newTestStore(t)

	for i := 0; i < 7; i++ {
		entry := model.SavedSession{
			GameCode:  fmt.Sprintf("code%d", i),
			HostName:  "Hank",
			GuestName: "Ann",
			MyRole:    model.RoleHost,
			Timestamp: int64(i),
		}
		if err := s.SaveSession(entry); err != nil {
			t.Fatal(err)
		}
	}

	sessions := s.Sessions()
	if len(sessions) != maxSessions {
		t.Fatalf("kept %d sessions, want cap of %d", len(sessions), maxSessions)
	}
	if sessions[0].GameCode != "code6" {
		t.Errorf("newest first violated, head = %q", sessions[0].GameCode)
	}

	// Re-saving an existing code replaces it and moves it to the front.
	if err := s.SaveSession(model.SavedSession{GameCode: "code3", HostName: "Hank", GuestName: "Bea"}); err != nil {
		t.Fatal(err)
	}
	sessions = s.Sessions()
	if len(sessions) != maxSessions {
		t.Fatalf("dedupe grew the list to %d", len(sessions))
	}
	if sessions[0].GameCode != "code3" || sessions[0].GuestName != "Bea" {
		t.Errorf("updated entry not at the front: %+v", sessions[0])
	}
	for _, entry := range sessions[1:] {
		if entry.GameCode == "code3" {
			t.Error("stale duplicate left in the list")
		}
	}
}

func TestClearSessions(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.SaveSession(model.SavedSession{GameCode: "abc123"}); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearSessions(); err != nil {
		t.Fatal(err)
	}
	if got := s.Sessions(); len(got) != 0 {
		t.Errorf("sessions after clear = %d", len(got))
	}
	if err := s.ClearSessions(); err != nil {
		t.Errorf("clearing empty sessions: %v", err)
	}
}
