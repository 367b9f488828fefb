package system

import (
	"context"

	core "github.com/atomrun/kernel/internal/app/core/service"
)

// Service is a long-running background component of the kernel (the registry
// rescan loop, the execution dispatcher). The manager starts and stops every
// Service deterministically; synchronous collaborators (scanner, runner,
// asset manager) are not Services.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider optionally advertises service metadata (layer,
// capabilities) for the diagnostics surface.
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}
