// Package system defines the lifecycle contract shared by every
// long-running component in the pipeline.
package system

import (
	"context"

	core "github.com/ringlogic/fightcore/internal/core/service"
)

// Service represents a lifecycle-managed component. The stream ingestor,
// the worker manager (health sweep) and the harmonizer (whose Start and
// Stop are no-ops) implement this interface so a composition root can
// start and stop them deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DescriptorProvider optionally advertises component metadata (layer, capabilities).
type DescriptorProvider interface {
	Descriptor() core.Descriptor
}
