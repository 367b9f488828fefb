package system

import (
	"context"
	"fmt"
)

// Manager starts a set of Services in registration order and stops them in
// reverse order, collecting (not short-circuiting on) stop errors so every
// service gets a chance to shut down cleanly.
type Manager struct {
	services []Service
}

// NewManager constructs a Manager over the given services, in the order
// they should be started.
func NewManager(services ...Service) *Manager {
	return &Manager{services: services}
}

// Start starts every service in order, stopping whatever already started if
// one fails.
func (m *Manager) Start(ctx context.Context) error {
	for i, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			_ = m.stopFrom(ctx, i-1)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// Stop stops every service in reverse start order, collecting every error
// encountered rather than stopping at the first.
func (m *Manager) Stop(ctx context.Context) error {
	return m.stopFrom(ctx, len(m.services)-1)
}

func (m *Manager) stopFrom(ctx context.Context, from int) error {
	var errs []error
	for i := from; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	joined := errs[0]
	for _, e := range errs[1:] {
		joined = fmt.Errorf("%w; %v", joined, e)
	}
	return joined
}

// DescriptorProviders returns the subset of managed services that also
// implement DescriptorProvider, in registration order.
func (m *Manager) DescriptorProviders() []DescriptorProvider {
	var out []DescriptorProvider
	for _, svc := range m.services {
		if dp, ok := svc.(DescriptorProvider); ok {
			out = append(out, dp)
		}
	}
	return out
}
