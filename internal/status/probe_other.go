//go:build !linux

package status

import "context"

// NullProber reports zero usage on platforms without a native prober. The
// gateway targets Linux hosts; other platforms still get process status.
type NullProber struct{}

// NewProber returns the platform prober.
func NewProber(_ string) *NullProber {
	return &NullProber{}
}

// Probe returns zero usage.
func (p *NullProber) Probe(_ context.Context) (*Resources, error) {
	return &Resources{}, nil
}
