package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	qrcode "github.com/skip2/go-qrcode"
	"github.com/smenaria2/tnd3/call"
	"github.com/smenaria2/tnd3/game"
	"github.com/smenaria2/tnd3/model"
	"github.com/smenaria2/tnd3/peer"
	"github.com/smenaria2/tnd3/store"
)

func runGame(ctx context.Context, cfg *Config) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	lvl, err := zerolog.ParseLevel(cfg.logLevel)
	if err != nil {
		return err
	}
	logger = logger.Level(lvl)

	if cfg.gameCode == "" {
		cfg.gameCode = model.NewID()[:6]
	}
	code := strings.ToLower(cfg.gameCode)
	role := model.Role(cfg.role)

	st, err := store.New(cfg.stateDir, &logger)
	if err != nil {
		return err
	}

	var restore *model.GameState
	if !cfg.loopback {
		if snap, ok := st.LoadSnapshot(code); ok {
			logger.Info().Str("gameCode", code).Msg("restored previous game state")
			restore = snap
		}
	}

	var (
		sess    *game.Session
		machine *call.Machine
	)

	mgr := peer.NewManager(peer.Config{
		Role:       role,
		GameCode:   code,
		PlayerName: cfg.name,
		BrokerURL:  cfg.brokerURL,
		ICEServers: []webrtc.ICEServer{{URLs: cfg.stun}},
		Queue:      st,
		Logger:     &logger,
		Handler: func(env model.Envelope) {
			if sess != nil {
				sess.HandleEnvelope(env)
			}
		},
		OnStatus: func(status peer.Status, conn peer.ConnectionStatus, msg string) {
			evt := logger.Info().Str("status", string(status)).Str("connection", string(conn))
			if msg != "" {
				evt = evt.Str("error", msg)
			}
			evt.Msg("connection status")
		},
		Loopback: cfg.loopback,
	})

	machine = call.NewMachine(call.Config{
		Sender: mgr,
		Media:  mgr,
		Logger: &logger,
		OnStatus: func(status call.Status) {
			logger.Info().Str("call", string(status)).Msg("call status")
		},
	})

	var pendingIntensity model.IntensityLevel

	sess = game.NewSession(game.Config{
		Role:       role,
		PlayerName: cfg.name,
		GameCode:   code,
		Intensity:  model.IntensityLevel(cfg.intensity),
		Mode:       model.GameMode(cfg.mode),
		Sender:     mgr,
		Store:      st,
		Logger:     &logger,
		Restore:    restore,
		Events: game.Events{
			OnStateChange: func(state model.GameState) {
				printState(state, role)
			},
			OnChat: func(msg model.ChatMessage) {
				fmt.Printf("[chat] %s: %s\n", msg.SenderName, msg.Text)
			},
			OnEmoji: func(emoji string) {
				fmt.Printf("[ping] %s\n", emoji)
			},
			OnIntensityRequest: func(level model.IntensityLevel) {
				pendingIntensity = level
				fmt.Printf("partner asks to change intensity to %q (approve / deny)\n", level)
			},
			OnIntensityResult: func(accepted bool, level model.IntensityLevel) {
				if accepted {
					fmt.Printf("intensity changed to %q\n", level)
				} else {
					fmt.Println("partner declined intensity change")
				}
			},
			OnLevelUp: func(level model.IntensityLevel) {
				fmt.Printf("level up! intensity is now %q\n", level)
			},
			OnTurnRejected: func() {
				fmt.Println("answer was not accepted, try again")
			},
			OnCallSignal: func(t model.MessageType) {
				machine.HandleSignal(t)
			},
		},
	})

	if role == model.RoleHost {
		printInvite(cfg.inviteBase, code)
	}

	if err = mgr.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		sess.Close()
		machine.End(false)
		mgr.Close()
	}()

	repl(ctx, &logger, sess, machine, mgr, &pendingIntensity)
	return nil
}

func printInvite(base, code string) {
	link := strings.TrimRight(base, "/") + "/?code=" + code
	fmt.Printf("game code: %s\ninvite link: %s\n", code, link)
	q, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return
	}
	fmt.Print(q.ToSmallString(false))
}

func printState(state model.GameState, role model.Role) {
	if state.ActiveTurn != nil {
		t := state.ActiveTurn
		fmt.Printf("[turn %s/%s] %s  q=%q a=%q\n", t.Type, t.Status, t.PlayerRole, t.QuestionText, t.Response)
		return
	}
	whose := "partner's"
	if state.CurrentTurn == role {
		whose = "your"
	}
	fmt.Printf("[%s] %s vs %s  %d:%d  next: %s turn\n",
		state.Phase, state.HostName, state.GuestName,
		state.Scores.Get(model.RoleHost), state.Scores.Get(model.RoleGuest), whose)
}

// repl reads one command per line until EOF or cancellation.
func repl(
	ctx context.Context,
	logger *zerolog.Logger,
	sess *game.Session,
	machine *call.Machine,
	mgr *peer.Manager,
	pendingIntensity *model.IntensityLevel,
) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleCommand(logger, sess, machine, mgr, pendingIntensity, line); quit {
				return
			}
		}
	}
}

func handleCommand(
	logger *zerolog.Logger,
	sess *game.Session,
	machine *call.Machine,
	mgr *peer.Manager,
	pendingIntensity *model.IntensityLevel,
	line string,
) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, rest := fields[0], strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	var err error
	switch cmd {
	case "truth":
		err = sess.StartTurn(model.TurnTruth)
	case "dare":
		err = sess.StartTurn(model.TurnDare)
	case "ask":
		// Optional leading integer sets the timer in seconds.
		limit := 0
		if len(fields) > 1 {
			if n, convErr := strconv.Atoi(fields[1]); convErr == nil {
				limit = n
				rest = strings.TrimSpace(strings.TrimPrefix(rest, fields[1]))
			}
		}
		err = sess.SendQuestion(rest, limit)
	case "answer":
		err = sess.SubmitAnswer(rest, "", "")
	case "accept":
		err = sess.CompleteTurn(true, false)
	case "love":
		err = sess.CompleteTurn(true, true)
	case "reject":
		err = sess.CompleteTurn(false, false)
	case "chat":
		err = sess.SendChat(rest, "", "")
	case "ping":
		err = sess.SendEmoji("💖")
	case "intensity":
		err = sess.RequestIntensity(model.IntensityLevel(rest))
	case "approve":
		err = sess.RespondIntensity(true, *pendingIntensity)
	case "deny":
		err = sess.RespondIntensity(false, *pendingIntensity)
	case "call":
		err = machine.Start(nullCapture{})
	case "pickup":
		err = machine.Accept(nullCapture{})
	case "decline":
		err = machine.Reject()
	case "hangup":
		machine.End(true)
	case "retry":
		mgr.Retry()
	case "state":
		fmt.Printf("%+v\n", sess.State())
	case "quit", "exit":
		return true
	default:
		fmt.Println("commands: truth dare ask answer accept love reject chat ping intensity approve deny call pickup decline hangup retry state quit")
	}

	if err != nil {
		logger.Warn().Err(err).Str("command", cmd).Msg("command failed")
	}
	return false
}

// nullCapture stands in for real camera/microphone acquisition, which
// lives outside this binary. Calls still negotiate, with no local tracks.
type nullCapture struct{}

func (nullCapture) Tracks() []webrtc.TrackLocal { return nil }
func (nullCapture) Close() error                { return nil }
