package game

import (
	"testing"

	"github.com/smenaria2/tnd3/model"
)

func confirmed(player model.Role, turnType model.TurnType) model.TurnRecord {
	return model.TurnRecord{
		ID:         model.NewID(),
		PlayerRole: player,
		Type:       turnType,
		Status:     model.TurnConfirmed,
	}
}

func TestStreak(t *testing.T) {
	tests := []struct {
		name    string
		history []model.TurnRecord // newest first
		turn    model.TurnType
		player  model.Role
		want    int
	}{
		{
			name: "empty history",
			turn: model.TurnTruth, player: model.RoleHost,
			want: 0,
		},
		{
			name: "two truths in a row",
			history: []model.TurnRecord{
				confirmed(model.RoleHost, model.TurnTruth),
				confirmed(model.RoleHost, model.TurnTruth),
			},
			turn: model.TurnTruth, player: model.RoleHost,
			want: 2,
		},
		{
			name: "other player's turns are skipped",
			history: []model.TurnRecord{
				confirmed(model.RoleGuest, model.TurnDare),
				confirmed(model.RoleHost, model.TurnTruth),
				confirmed(model.RoleGuest, model.TurnTruth),
				confirmed(model.RoleHost, model.TurnTruth),
			},
			turn: model.TurnTruth, player: model.RoleHost,
			want: 2,
		},
		{
			name: "type mismatch breaks the streak",
			history: []model.TurnRecord{
				confirmed(model.RoleHost, model.TurnDare),
				confirmed(model.RoleHost, model.TurnTruth),
			},
			turn: model.TurnTruth, player: model.RoleHost,
			want: 0,
		},
		{
			name: "unconfirmed turn breaks the streak",
			history: []model.TurnRecord{
				{PlayerRole: model.RoleHost, Type: model.TurnTruth, Status: model.TurnFailed},
				confirmed(model.RoleHost, model.TurnTruth),
			},
			turn: model.TurnTruth, player: model.RoleHost,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Streak(tt.turn, tt.history, tt.player); got != tt.want {
				t.Errorf("Streak() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreValue(t *testing.T) {
	repeat := func(n int, player model.Role, turnType model.TurnType) []model.TurnRecord {
		out := make([]model.TurnRecord, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, confirmed(player, turnType))
		}
		return out
	}

	tests := []struct {
		name    string
		turn    model.TurnType
		history []model.TurnRecord
		want    int
	}{
		{"first truth", model.TurnTruth, nil, 30},
		{"second truth", model.TurnTruth, repeat(1, model.RoleHost, model.TurnTruth), 25},
		{"truth floors at 5", model.TurnTruth, repeat(10, model.RoleHost, model.TurnTruth), 5},
		{"first dare", model.TurnDare, nil, 60},
		{"third dare", model.TurnDare, repeat(2, model.RoleHost, model.TurnDare), 80},
		{"dares are unbounded", model.TurnDare, repeat(10, model.RoleHost, model.TurnDare), 160},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreValue(tt.turn, tt.history, model.RoleHost); got != tt.want {
				t.Errorf("ScoreValue() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestScoreValueIsPure(t *testing.T) {
	history := []model.TurnRecord{
		confirmed(model.RoleGuest, model.TurnDare),
		confirmed(model.RoleGuest, model.TurnDare),
	}
	first := ScoreValue(model.TurnDare, history, model.RoleGuest)
	for i := 0; i < 5; i++ {
		if got := ScoreValue(model.TurnDare, history, model.RoleGuest); got != first {
			t.Fatalf("ScoreValue not deterministic: %d != %d", got, first)
		}
	}
}
