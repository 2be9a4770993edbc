package model

// IntensityLevel orders question spiciness.
type IntensityLevel string

const (
	IntensityFriendly IntensityLevel = "friendly"
	IntensityRomantic IntensityLevel = "romantic"
	IntensityHot      IntensityLevel = "hot"
	IntensityVeryHot  IntensityLevel = "very_hot"
)

// RandomModeIntensityOrder is the fixed progression used by random mode.
var RandomModeIntensityOrder = []IntensityLevel{
	IntensityFriendly,
	IntensityRomantic,
	IntensityHot,
	IntensityVeryHot,
}

// QuestionsPerRandomLevel is the per-player confirmed-turn count before
// random mode advances a level. Both players contribute, so the shared
// threshold is twice this.
const QuestionsPerRandomLevel = 5

type GameMode string

const (
	ModeStandard GameMode = "standard"
	ModeRandom   GameMode = "random"
)

type GamePhase string

const (
	PhaseWaiting GamePhase = "waiting"
	PhasePlaying GamePhase = "playing"
)

type MediaType string

const (
	MediaPhoto MediaType = "photo"
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

type TurnType string

const (
	TurnTruth TurnType = "truth"
	TurnDare  TurnType = "dare"
)

// TurnStatus tracks a single truth/dare exchange through its lifecycle.
type TurnStatus string

const (
	TurnSelecting TurnStatus = "selecting"
	TurnPending   TurnStatus = "pending"
	TurnAnswered  TurnStatus = "answered"
	TurnConfirmed TurnStatus = "confirmed"
	TurnRejected  TurnStatus = "rejected"
	TurnFailed    TurnStatus = "failed"
)

// ChatMessage is immutable once created and append-only in the log.
type ChatMessage struct {
	ID         string    `json:"id"`
	SenderRole Role      `json:"senderRole"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text,omitempty"`
	MediaType  MediaType `json:"mediaType,omitempty"`
	MediaData  string    `json:"mediaData,omitempty"` // base64
	Timestamp  int64     `json:"timestamp"`
}

// TurnRecord is one truth/dare exchange. PlayerRole is the player who
// chose the type and must answer; the other side poses and judges.
type TurnRecord struct {
	ID           string     `json:"id"`
	PlayerRole   Role       `json:"playerRole"`
	QuestionText string     `json:"questionText"`
	Type         TurnType   `json:"type"`
	Response     string     `json:"response,omitempty"`
	MediaType    MediaType  `json:"mediaType,omitempty"`
	MediaData    string     `json:"mediaData,omitempty"`
	Status       TurnStatus `json:"status"`
	Timestamp    int64      `json:"timestamp"`
	TimeLimit    int        `json:"timeLimit,omitempty"` // seconds, 0 = no limit
	StartedAt    int64      `json:"startedAt,omitempty"` // unix ms when pending began
	Loved        bool       `json:"loved,omitempty"`
	IsRetry      bool       `json:"isRetry,omitempty"`
}

type Scores struct {
	Host  int `json:"host"`
	Guest int `json:"guest"`
}

// Get returns the score for a role.
func (s Scores) Get(r Role) int {
	if r == RoleHost {
		return s.Host
	}
	return s.Guest
}

// Add returns a copy with points added to a role's score.
func (s Scores) Add(r Role, points int) Scores {
	if r == RoleHost {
		s.Host += points
	} else {
		s.Guest += points
	}
	return s
}

// GameState is the shared replicated aggregate. Any peer may produce a
// new snapshot; the snapshot most recently received on a peer replaces
// its local state wholesale.
type GameState struct {
	GameCode                        string         `json:"gameCode"`
	IntensityLevel                  IntensityLevel `json:"intensityLevel"`
	GameMode                        GameMode       `json:"gameMode"`
	CurrentRandomModeIntensity      IntensityLevel `json:"currentRandomModeIntensity"`
	QuestionsAnsweredInCurrentLevel int            `json:"questionsAnsweredInCurrentLevel"`
	CurrentTurn                     Role           `json:"currentTurn"`
	Phase                           GamePhase      `json:"phase"`
	TurnHistory                     []TurnRecord   `json:"turnHistory"` // newest first
	ActiveTurn                      *TurnRecord    `json:"activeTurn"`
	HostName                        string         `json:"hostName"`
	GuestName                       string         `json:"guestName"`
	Scores                          Scores         `json:"scores"`
	ChatMessages                    []ChatMessage  `json:"chatMessages"`
	LastUpdated                     int64          `json:"lastUpdated"`
}

// Clone returns a deep copy, safe to mutate independently.
func (gs GameState) Clone() GameState {
	out := gs
	if gs.ActiveTurn != nil {
		t := *gs.ActiveTurn
		out.ActiveTurn = &t
	}
	out.TurnHistory = make([]TurnRecord, len(gs.TurnHistory))
	copy(out.TurnHistory, gs.TurnHistory)
	out.ChatMessages = make([]ChatMessage, len(gs.ChatMessages))
	copy(out.ChatMessages, gs.ChatMessages)
	return out
}

// ActiveIntensity resolves the intensity questions should be drawn from,
// accounting for random-mode progression.
func (gs GameState) ActiveIntensity() IntensityLevel {
	if gs.GameMode == ModeRandom {
		return gs.CurrentRandomModeIntensity
	}
	return gs.IntensityLevel
}

// SavedSession is the local-only recent-sessions entry used for the
// rejoin flow. Never sent over the wire.
type SavedSession struct {
	GameCode  string         `json:"gameCode"`
	HostName  string         `json:"hostName"`
	GuestName string         `json:"guestName"`
	MyRole    Role           `json:"myRole"`
	MyName    string         `json:"myName"`
	Scores    Scores         `json:"scores"`
	Timestamp int64          `json:"timestamp"`
	Intensity IntensityLevel `json:"intensity"`
	GameMode  GameMode       `json:"gameMode"`
}
