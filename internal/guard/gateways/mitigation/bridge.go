package mitigation

import (
	"context"
	"errors"

	"github.com/haukened/callguard/internal/guard/domain"
	"github.com/haukened/callguard/internal/guard/gateways/wire"
)

// Sender delivers a command to the platform bridge.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// BridgeStrategy asks the platform bridge to hang up the session.
type BridgeStrategy struct {
	Sender Sender
	Codec  wire.Codec
}

func (b BridgeStrategy) Name() string { return "bridge" }

func (b BridgeStrategy) Terminate(ctx context.Context, s domain.CallSessionState) error {
	if b.Sender == nil {
		return errors.New("no bridge sender")
	}
	codec := b.Codec
	if codec == nil {
		codec = wire.NewTextCodec()
	}
	return b.Sender.Send(ctx, codec.EncodeHangup(s.SessionID, s.ActiveNumber))
}
