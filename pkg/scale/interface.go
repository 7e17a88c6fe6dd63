package scale

import (
	"context"

	"github.com/itohio/goweigh/pkg/link"
	"github.com/itohio/goweigh/pkg/stabilize"
)

// Device defines the driver surface consumed by applications.
type Device interface {
	Open(cfg link.Config) error
	Close() error
	IsOpen() bool
	Config() link.Config

	Write(p []byte) (int, error)
	WriteString(s string) (int, error)
	SendCommand(ctx context.Context, request []byte, responseLen int) ([]byte, error)

	OnStableWeight(fn func(StableWeight))
	OnSample(fn func(Sample))
	OnPortError(fn func(PortError))
	NotifyStableWeight(ch chan<- StableWeight)
	NotifyPortError(ch chan<- PortError)

	Stabilization() stabilize.State
}

// Ensure Scale implements Device.
var _ Device = (*Scale)(nil)
