package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/smenaria2/tnd3/broker/registry"
	"github.com/smenaria2/tnd3/model"
)

var (
	ErrIDTaken    = errors.New("peer id is taken by a live session")
	ErrRegister   = errors.New("unable to register peer")
	ErrConnect    = errors.New("unable to connect")
	ErrDisconnect = errors.New("unable to disconnect")
)

type (
	PeerRegistry interface {
		Register(peerID string) error
		Unregister(peerID string) error
		Exists(peerID string) bool
	}

	Relay interface {
		Connect(ctx context.Context, peerID string, wire model.Wire) error
		Disconnect(peerID string) error
	}

	Service struct {
		registry PeerRegistry
		relay    Relay
		logger   zerolog.Logger
	}

	Config struct {
		Registry PeerRegistry
		Relay    Relay
		Logger   *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		registry: cfg.Registry,
		relay:    cfg.Relay,
		logger:   cfg.Logger.With().Str("component", "signaling").Logger(),
	}
}

// CreateSignalingSession claims peerID and attaches the wire to the
// relay. ErrIDTaken means another live session holds the id; the caller
// must report it to the client so host collision handling can kick in.
func (svc *Service) CreateSignalingSession(ctx context.Context, peerID string, wire model.Wire) error {
	if err := svc.registry.Register(peerID); err != nil {
		if errors.Is(err, registry.ErrIDTaken) {
			return ErrIDTaken
		}
		return errors.Join(ErrRegister, err)
	}
	if err := svc.relay.Connect(ctx, peerID, wire); err != nil {
		_ = svc.registry.Unregister(peerID)
		return errors.Join(ErrConnect, err)
	}
	svc.logger.Debug().
		Str("peerID", peerID).
		Msg("signaling session connected")
	return nil
}

func (svc *Service) DeleteSignalingSession(_ context.Context, peerID string) error {
	if err := svc.relay.Disconnect(peerID); err != nil {
		return errors.Join(ErrDisconnect, err)
	}
	_ = svc.registry.Unregister(peerID)
	svc.logger.Debug().
		Str("peerID", peerID).
		Msg("signaling session deleted")
	return nil
}

// PeerOnline reports whether a peer id currently holds a live session.
// Used by the invite-flow presence check.
func (svc *Service) PeerOnline(peerID string) bool {
	return svc.registry.Exists(peerID)
}
