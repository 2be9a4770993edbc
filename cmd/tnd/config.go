package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smenaria2/tnd3/model"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	role       string
	name       string
	gameCode   string
	brokerURL  string
	inviteBase string
	stateDir   string
	intensity  string
	mode       string
	stun       []string
	loopback   bool
	logLevel   string
}

func (c *Config) validate() error {
	if !model.Role(c.role).Valid() {
		return fmt.Errorf("invalid role (must be host or guest): %s", c.role)
	}
	if strings.TrimSpace(c.name) == "" {
		return errors.New("player name must not be empty")
	}
	if c.role == string(model.RoleGuest) && len(c.gameCode) != 6 {
		return fmt.Errorf("invalid game code (must be 6 characters): %s", c.gameCode)
	}
	switch model.IntensityLevel(c.intensity) {
	case model.IntensityFriendly, model.IntensityRomantic, model.IntensityHot, model.IntensityVeryHot:
	default:
		return fmt.Errorf("invalid intensity level: %s", c.intensity)
	}
	switch model.GameMode(c.mode) {
	case model.ModeStandard, model.ModeRandom:
	default:
		return fmt.Errorf("invalid game mode: %s", c.mode)
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TND")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "tnd",
		Short:         "Play truth & dare with a partner over a direct peer-to-peer link.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return runGame(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.role, "role", "r", "host", "play as host or guest (env: TND_ROLE)")
	fs.StringVarP(&cfg.name, "name", "n", "", "player name (env: TND_NAME)")
	fs.StringVarP(&cfg.gameCode, "code", "c", "", "6-character game code; generated for hosts when empty (env: TND_CODE)")
	fs.StringVarP(&cfg.brokerURL, "broker-url", "b", "ws://localhost:8888", "signaling broker websocket url (env: TND_BROKER_URL)")
	fs.StringVar(&cfg.inviteBase, "invite-base", "https://tnd3.app", "base url for shareable invite links (env: TND_INVITE_BASE)")
	fs.StringVar(&cfg.stateDir, "state-dir", defaultStateDir(), "directory for local game state (env: TND_STATE_DIR)")
	fs.StringVar(&cfg.intensity, "intensity", "friendly", "starting intensity level (env: TND_INTENSITY)")
	fs.StringVar(&cfg.mode, "mode", "standard", "game mode, standard or random (env: TND_MODE)")
	fs.StringSliceVar(&cfg.stun, "stun", []string{"stun:stun.l.google.com:19302"}, "stun server urls (env: TND_STUN)")
	fs.BoolVar(&cfg.loopback, "sandbox", false, "solo sandbox mode, no network (env: TND_SANDBOX)")
	fs.StringVarP(&cfg.logLevel, "log-level", "l", "info", "log level (env: TND_LOG_LEVEL)")

	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			return
		}
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, v.GetString(f.Name))
		}
	})

	return cmd
}
