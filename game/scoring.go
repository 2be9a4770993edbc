package game

import "github.com/smenaria2/tnd3/model"

// Streak counts the player's immediately-preceding confirmed turns of
// the same type, scanning history from most recent. Turns by the other
// player are skipped; the first same-player turn that is not confirmed,
// or confirmed with a different type, ends the streak.
func Streak(t model.TurnType, history []model.TurnRecord, player model.Role) int {
	streak := 0
	for _, turn := range history { // newest first
		if turn.PlayerRole != player {
			continue
		}
		if turn.Status != model.TurnConfirmed {
			break
		}
		if turn.Type != t {
			break
		}
		streak++
	}
	return streak
}

// ScoreValue is the reward for confirming a turn of the given type.
// Truth rewards shrink with the streak, floored at 5; dare rewards grow
// without bound. Pure function of the inputs.
func ScoreValue(t model.TurnType, history []model.TurnRecord, player model.Role) int {
	streak := Streak(t, history, player)
	if t == model.TurnTruth {
		score := 30 - streak*5
		if score < 5 {
			score = 5
		}
		return score
	}
	return 60 + streak*10
}
