package game

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/smenaria2/tnd3/model"
)

// WaitingName is the placeholder shown until PLAYER_INFO binds a name.
const WaitingName = "Waiting..."

var (
	ErrNotYourMove  = errors.New("the other peer is permitted to act now")
	ErrBadTurnState = errors.New("action is not valid for the current turn status")
	ErrNoActiveTurn = errors.New("no active turn")
	ErrHostOnly     = errors.New("only the host may do this")
)

type (
	// Sender delivers protocol messages to the remote peer.
	Sender interface {
		Send(model.Envelope) error
	}

	// SnapshotStore persists local state between tab reloads. Optional.
	SnapshotStore interface {
		SaveSnapshot(model.GameState) error
		SaveSession(model.SavedSession) error
	}

	// Events are observation hooks for the presentation layer. All are
	// optional and are invoked without internal locks held.
	Events struct {
		OnStateChange      func(model.GameState)
		OnChat             func(model.ChatMessage)
		OnEmoji            func(string)
		OnIntensityRequest func(model.IntensityLevel)
		OnIntensityResult  func(accepted bool, level model.IntensityLevel)
		OnLevelUp          func(model.IntensityLevel)
		OnTurnRejected     func()
		OnCallSignal       func(model.MessageType)
	}

	Config struct {
		Role       model.Role
		PlayerName string
		GameCode   string
		Intensity  model.IntensityLevel
		Mode       model.GameMode

		Sender Sender
		Store  SnapshotStore
		Logger *zerolog.Logger
		Events Events

		// Restore seeds the session from a persisted snapshot.
		Restore *model.GameState

		// Now overrides the clock, for tests.
		Now func() time.Time
	}

	// Session is the replicated game aggregate plus the turn state
	// machine. Local mutations are gated by the actor rule; every
	// mutation re-broadcasts the full state, and a received snapshot
	// replaces local state unconditionally.
	Session struct {
		mu     sync.Mutex
		cfg    Config
		logger zerolog.Logger
		now    func() time.Time

		state model.GameState

		turnTimer   *time.Timer
		timerTurnID string
		timerEpoch  uint64
		closed      bool
	}
)

func NewSession(cfg Config) *Session {
	s := &Session{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "session").Str("role", string(cfg.Role)).Logger(),
		now:    cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	if cfg.Restore != nil {
		s.state = cfg.Restore.Clone()
	} else {
		s.state = initialState(cfg)
	}
	s.armTurnTimerLocked()
	return s
}

func initialState(cfg Config) model.GameState {
	randomIntensity := cfg.Intensity
	if cfg.Mode == model.ModeRandom {
		randomIntensity = model.RandomModeIntensityOrder[0]
	}
	hostName, guestName := WaitingName, WaitingName
	if cfg.Role == model.RoleHost {
		hostName = cfg.PlayerName
	} else {
		guestName = cfg.PlayerName
	}
	return model.GameState{
		GameCode:                   cfg.GameCode,
		IntensityLevel:             cfg.Intensity,
		GameMode:                   cfg.Mode,
		CurrentRandomModeIntensity: randomIntensity,
		CurrentTurn:                model.RoleGuest, // guest goes first
		Phase:                      model.PhaseWaiting,
		TurnHistory:                []model.TurnRecord{},
		HostName:                   hostName,
		GuestName:                  guestName,
		ChatMessages:               []model.ChatMessage{},
	}
}

// State returns a deep copy of the current aggregate.
func (s *Session) State() model.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// IsMyTurn reports whether the local player logically owns the next turn.
func (s *Session) IsMyTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentTurn == s.cfg.Role
}

// CanAct applies the actor rule: with no active turn the turn holder
// may start one; otherwise permission follows the turn status alone.
func (s *Session) CanAct() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canActLocked()
}

func (s *Session) canActLocked() bool {
	myTurn := s.state.CurrentTurn == s.cfg.Role
	t := s.state.ActiveTurn
	if t == nil {
		return myTurn
	}
	switch t.Status {
	case model.TurnSelecting:
		return !myTurn
	case model.TurnPending:
		return myTurn
	case model.TurnAnswered:
		return !myTurn
	default:
		return false
	}
}

// StartTurn opens a new exchange: the turn holder picks truth or dare
// and becomes the turn's owner (the one who must answer it).
func (s *Session) StartTurn(t model.TurnType) error {
	s.mu.Lock()
	if s.state.ActiveTurn != nil {
		s.mu.Unlock()
		return ErrBadTurnState
	}
	if s.state.CurrentTurn != s.cfg.Role {
		s.mu.Unlock()
		return ErrNotYourMove
	}

	s.state.ActiveTurn = &model.TurnRecord{
		ID:         model.NewID(),
		PlayerRole: s.cfg.Role,
		Type:       t,
		Status:     model.TurnSelecting,
		Timestamp:  s.nowMillis(),
	}
	s.state.Phase = model.PhasePlaying
	return s.broadcastAndUnlock()
}

// SendQuestion is performed by the non-owning peer: it poses the
// question and moves the turn to pending, starting the countdown when a
// limit is set.
func (s *Session) SendQuestion(text string, timeLimitSeconds int) error {
	s.mu.Lock()
	t := s.state.ActiveTurn
	if t == nil {
		s.mu.Unlock()
		return ErrNoActiveTurn
	}
	if t.Status != model.TurnSelecting {
		s.mu.Unlock()
		return ErrBadTurnState
	}
	if t.PlayerRole == s.cfg.Role {
		s.mu.Unlock()
		return ErrNotYourMove
	}

	t.QuestionText = text
	t.Status = model.TurnPending
	t.TimeLimit = timeLimitSeconds
	t.StartedAt = s.nowMillis()
	return s.broadcastAndUnlock()
}

// SubmitAnswer is performed by the turn owner while pending.
func (s *Session) SubmitAnswer(response string, mediaType model.MediaType, mediaData string) error {
	s.mu.Lock()
	t := s.state.ActiveTurn
	if t == nil {
		s.mu.Unlock()
		return ErrNoActiveTurn
	}
	if t.Status != model.TurnPending {
		s.mu.Unlock()
		return ErrBadTurnState
	}
	if t.PlayerRole != s.cfg.Role {
		s.mu.Unlock()
		return ErrNotYourMove
	}

	t.Response = response
	if mediaType != "" {
		t.MediaType = mediaType
		t.MediaData = mediaData
	}
	t.Status = model.TurnAnswered
	t.Timestamp = s.nowMillis()
	return s.broadcastAndUnlock()
}

// AttachTurnMedia sets captured media on the pending turn without
// broadcasting; the following SubmitAnswer carries it over the wire.
func (s *Session) AttachTurnMedia(mediaType model.MediaType, mediaData string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.state.ActiveTurn
	if t == nil {
		return ErrNoActiveTurn
	}
	if t.Status != model.TurnPending || t.PlayerRole != s.cfg.Role {
		return ErrBadTurnState
	}
	t.MediaType = mediaType
	t.MediaData = mediaData
	return nil
}

// CompleteTurn is the judge's verdict on an answered turn. Accepting
// confirms the turn, awards streak-based points and flips turn
// ownership; rejecting reopens the turn as a retry with a fresh
// countdown and pairs the state sync with a REJECT_TURN signal.
func (s *Session) CompleteTurn(accepted bool, loved bool) error {
	s.mu.Lock()
	t := s.state.ActiveTurn
	if t == nil {
		s.mu.Unlock()
		return ErrNoActiveTurn
	}
	if t.Status != model.TurnAnswered {
		s.mu.Unlock()
		return ErrBadTurnState
	}
	if t.PlayerRole == s.cfg.Role {
		s.mu.Unlock()
		return ErrNotYourMove
	}

	if !accepted {
		t.Status = model.TurnPending
		t.IsRetry = true
		t.StartedAt = s.nowMillis()
		err := s.broadcastAndUnlock()

		if env, eErr := model.NewEnvelope(model.MsgRejectTurn, nil); eErr == nil {
			if sErr := s.cfg.Sender.Send(env); sErr != nil {
				s.logger.Error().Err(sErr).Msg("failed to send reject signal")
			}
		}
		return err
	}

	points := ScoreValue(t.Type, s.state.TurnHistory, t.PlayerRole)

	var levelUp model.IntensityLevel
	if s.state.GameMode == model.ModeRandom {
		s.state.QuestionsAnsweredInCurrentLevel++
		threshold := model.QuestionsPerRandomLevel * 2 // both players
		if s.state.QuestionsAnsweredInCurrentLevel >= threshold {
			if next, ok := nextIntensity(s.state.CurrentRandomModeIntensity); ok {
				s.state.CurrentRandomModeIntensity = next
				s.state.QuestionsAnsweredInCurrentLevel = 0
				levelUp = next
			}
		}
	}

	completed := *t
	completed.Status = model.TurnConfirmed
	completed.Loved = loved

	s.state.TurnHistory = append([]model.TurnRecord{completed}, s.state.TurnHistory...)
	s.state.ActiveTurn = nil
	s.state.CurrentTurn = s.state.CurrentTurn.Other()
	s.state.Scores = s.state.Scores.Add(completed.PlayerRole, points)

	err := s.broadcastAndUnlock()

	if levelUp != "" && s.cfg.Events.OnLevelUp != nil {
		s.cfg.Events.OnLevelUp(levelUp)
	}
	return err
}

// FailTurn expires the pending turn: it moves to history as failed and
// turn ownership flips. Fired by the local countdown of the acting peer.
func (s *Session) FailTurn() error {
	s.mu.Lock()
	return s.failTurnAndUnlock()
}

func (s *Session) failTurnAndUnlock() error {
	t := s.state.ActiveTurn
	if t == nil {
		s.mu.Unlock()
		return ErrNoActiveTurn
	}
	if t.Status != model.TurnPending {
		s.mu.Unlock()
		return ErrBadTurnState
	}

	failed := *t
	failed.Status = model.TurnFailed
	failed.Timestamp = s.nowMillis()

	s.state.TurnHistory = append([]model.TurnRecord{failed}, s.state.TurnHistory...)
	s.state.ActiveTurn = nil
	s.state.CurrentTurn = s.state.CurrentTurn.Other()
	return s.broadcastAndUnlock()
}

// SendChat appends locally and ships only the chat message; the log is
// an always-allowed unsynchronized append from either side.
func (s *Session) SendChat(text string, mediaType model.MediaType, mediaData string) error {
	if text == "" && mediaData == "" {
		return nil
	}
	msg := model.ChatMessage{
		ID:         model.NewID(),
		SenderRole: s.cfg.Role,
		SenderName: s.cfg.PlayerName,
		Text:       text,
		MediaType:  mediaType,
		MediaData:  mediaData,
		Timestamp:  s.nowMillis(),
	}

	s.mu.Lock()
	s.state.ChatMessages = append(s.state.ChatMessages, msg)
	s.persistLocked()
	s.mu.Unlock()

	env, err := model.NewEnvelope(model.MsgChatMessage, msg)
	if err != nil {
		return err
	}
	return s.cfg.Sender.Send(env)
}

// SendEmoji ships a transient visual ping. Never persisted.
func (s *Session) SendEmoji(emoji string) error {
	env, err := model.NewEnvelope(model.MsgPingEmoji, model.PingEmoji{Emoji: emoji})
	if err != nil {
		return err
	}
	return s.cfg.Sender.Send(env)
}

// LoveTurn marks a history record as loved and re-broadcasts.
func (s *Session) LoveTurn(turnID string) error {
	s.mu.Lock()
	found := false
	for i := range s.state.TurnHistory {
		if s.state.TurnHistory[i].ID == turnID {
			s.state.TurnHistory[i].Loved = true
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return ErrNoActiveTurn
	}
	return s.broadcastAndUnlock()
}

// RequestIntensity asks for a level change. The host is the single
// writer for this field: it applies immediately; a guest only requests.
func (s *Session) RequestIntensity(level model.IntensityLevel) error {
	if s.cfg.Role == model.RoleHost {
		s.mu.Lock()
		s.state.IntensityLevel = level
		return s.broadcastAndUnlock()
	}

	env, err := model.NewEnvelope(model.MsgIntensityRequest, model.IntensityRequest{Level: level})
	if err != nil {
		return err
	}
	return s.cfg.Sender.Send(env)
}

// RespondIntensity is the host's verdict on a guest request. Accepting
// applies the change and broadcasts the resulting state.
func (s *Session) RespondIntensity(accepted bool, level model.IntensityLevel) error {
	if s.cfg.Role != model.RoleHost {
		return ErrHostOnly
	}

	env, err := model.NewEnvelope(model.MsgIntensityResponse, model.IntensityResponse{
		Accepted: accepted,
		Level:    level,
	})
	if err != nil {
		return err
	}
	if err = s.cfg.Sender.Send(env); err != nil {
		return err
	}

	if !accepted {
		return nil
	}
	s.mu.Lock()
	s.state.IntensityLevel = level
	return s.broadcastAndUnlock()
}

// HandleEnvelope applies one inbound protocol message. This is the
// replication half of the engine: snapshots replace local state
// unconditionally, everything else is an incremental append or signal.
func (s *Session) HandleEnvelope(env model.Envelope) {
	switch env.Type {
	case model.MsgGameStateSync:
		var incoming model.GameState
		if err := env.Decode(&incoming); err != nil {
			s.logger.Error().Err(err).Msg("malformed state sync")
			return
		}
		s.mu.Lock()
		s.state = incoming
		s.persistLocked()
		s.armTurnTimerLocked()
		st := s.state.Clone()
		s.mu.Unlock()
		if s.cfg.Events.OnStateChange != nil {
			s.cfg.Events.OnStateChange(st)
		}

	case model.MsgPlayerInfo:
		// Only the host finalizes the roster and promotes the phase.
		if s.cfg.Role != model.RoleHost {
			return
		}
		var info model.PlayerInfo
		if err := env.Decode(&info); err != nil {
			s.logger.Error().Err(err).Msg("malformed player info")
			return
		}
		s.mu.Lock()
		s.state.GuestName = info.Name
		s.state.Phase = model.PhasePlaying
		if err := s.broadcastAndUnlock(); err != nil {
			s.logger.Error().Err(err).Msg("failed to rebroadcast after player info")
		}

	case model.MsgChatMessage:
		var msg model.ChatMessage
		if err := env.Decode(&msg); err != nil {
			s.logger.Error().Err(err).Msg("malformed chat message")
			return
		}
		s.mu.Lock()
		s.state.ChatMessages = append(s.state.ChatMessages, msg)
		s.persistLocked()
		s.mu.Unlock()
		if s.cfg.Events.OnChat != nil {
			s.cfg.Events.OnChat(msg)
		}

	case model.MsgPingEmoji:
		var ping model.PingEmoji
		if err := env.Decode(&ping); err != nil {
			return
		}
		if s.cfg.Events.OnEmoji != nil {
			s.cfg.Events.OnEmoji(ping.Emoji)
		}

	case model.MsgCallOffer, model.MsgCallAccept, model.MsgCallReject, model.MsgCallEnd:
		if s.cfg.Events.OnCallSignal != nil {
			s.cfg.Events.OnCallSignal(env.Type)
		}

	case model.MsgIntensityRequest:
		if s.cfg.Role != model.RoleHost {
			return
		}
		var req model.IntensityRequest
		if err := env.Decode(&req); err != nil {
			return
		}
		if s.cfg.Events.OnIntensityRequest != nil {
			s.cfg.Events.OnIntensityRequest(req.Level)
		}

	case model.MsgIntensityResponse:
		var resp model.IntensityResponse
		if err := env.Decode(&resp); err != nil {
			return
		}
		if resp.Accepted && resp.Level != "" && s.cfg.Role == model.RoleHost {
			s.mu.Lock()
			s.state.IntensityLevel = resp.Level
			if err := s.broadcastAndUnlock(); err != nil {
				s.logger.Error().Err(err).Msg("failed to broadcast intensity change")
			}
		}
		if s.cfg.Events.OnIntensityResult != nil {
			s.cfg.Events.OnIntensityResult(resp.Accepted, resp.Level)
		}

	case model.MsgRejectTurn:
		// Informational; the paired state sync reopens the turn.
		if s.cfg.Events.OnTurnRejected != nil {
			s.cfg.Events.OnTurnRejected()
		}

	default:
		s.logger.Debug().Str("type", string(env.Type)).Msg("ignoring unknown message")
	}
}

// Close cancels the turn countdown. Safe to call multiple times.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTurnTimerLocked()
}

// broadcastAndUnlock stamps, persists and replicates the current state,
// then fires the state-change hook. Must be entered with the lock held.
func (s *Session) broadcastAndUnlock() error {
	s.state.LastUpdated = s.nowMillis()
	s.persistLocked()
	s.armTurnTimerLocked()
	st := s.state.Clone()
	s.mu.Unlock()

	if s.cfg.Events.OnStateChange != nil {
		s.cfg.Events.OnStateChange(st)
	}

	env, err := model.NewEnvelope(model.MsgGameStateSync, st)
	if err != nil {
		return err
	}
	return s.cfg.Sender.Send(env)
}

func (s *Session) persistLocked() {
	if s.cfg.Store == nil {
		return
	}
	if err := s.cfg.Store.SaveSnapshot(s.state.Clone()); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist snapshot")
	}
	if s.state.HostName != WaitingName && s.state.GuestName != WaitingName {
		entry := model.SavedSession{
			GameCode:  s.state.GameCode,
			HostName:  s.state.HostName,
			GuestName: s.state.GuestName,
			MyRole:    s.cfg.Role,
			MyName:    s.cfg.PlayerName,
			Scores:    s.state.Scores,
			Timestamp: s.nowMillis(),
			Intensity: s.state.IntensityLevel,
			GameMode:  s.state.GameMode,
		}
		if err := s.cfg.Store.SaveSession(entry); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist session entry")
		}
	}
}

// armTurnTimerLocked (re)arms the countdown when the replicated state
// says the local side is the acting peer of a limited pending turn.
// Enforcement is deliberately one-sided: only the acting peer's
// countdown fires the failed transition.
func (s *Session) armTurnTimerLocked() {
	s.stopTurnTimerLocked()

	t := s.state.ActiveTurn
	if s.closed || t == nil || t.Status != model.TurnPending ||
		t.TimeLimit <= 0 || t.PlayerRole != s.cfg.Role {
		return
	}

	deadline := time.UnixMilli(t.StartedAt).Add(time.Duration(t.TimeLimit) * time.Second)
	d := deadline.Sub(s.now())
	if d < 0 {
		d = 0
	}
	id, epoch := t.ID, s.timerEpoch
	s.timerTurnID = id
	s.turnTimer = time.AfterFunc(d, func() {
		s.turnDeadlineExpired(id, epoch)
	})
}

// stopTurnTimerLocked also bumps the timer epoch, which invalidates any
// callback that already fired and is waiting on the lock.
func (s *Session) stopTurnTimerLocked() {
	s.timerEpoch++
	if s.turnTimer != nil {
		s.turnTimer.Stop()
		s.turnTimer = nil
		s.timerTurnID = ""
	}
}

// turnDeadlineExpired fires the failed transition, unless completion or
// cancellation won the race. Checking turn id and status alone is not
// enough: a rejected answer reopens the turn as pending under the same
// id, and a countdown callback from before the answer would fail the
// fresh retry immediately. The epoch ties the callback to the exact arm
// event that created it.
func (s *Session) turnDeadlineExpired(turnID string, epoch uint64) {
	s.mu.Lock()
	t := s.state.ActiveTurn
	if s.closed || epoch != s.timerEpoch || t == nil || t.ID != turnID || t.Status != model.TurnPending {
		s.mu.Unlock()
		return
	}
	if err := s.failTurnAndUnlock(); err != nil {
		s.logger.Error().Err(err).Msg("failed to expire turn")
	}
}

func (s *Session) nowMillis() int64 {
	return s.now().UnixMilli()
}

func nextIntensity(current model.IntensityLevel) (model.IntensityLevel, bool) {
	for i, level := range model.RandomModeIntensityOrder {
		if level == current && i < len(model.RandomModeIntensityOrder)-1 {
			return model.RandomModeIntensityOrder[i+1], true
		}
	}
	return current, false
}
