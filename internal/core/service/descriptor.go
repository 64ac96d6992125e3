// Package service provides small scaffolding shared by every engine in the
// pipeline: placement descriptors, observation hooks, and a retry helper.
package service

// Layer describes the architectural slice a component belongs to.
type Layer string

const (
	LayerIngest   Layer = "ingest"
	LayerCompute  Layer = "compute"
	LayerAudit    Layer = "audit"
	LayerExternal Layer = "external"
)

// Descriptor advertises a component's placement and capabilities. It is
// optional and does not change runtime behavior, but lets a composition
// root and documentation reason about components consistently.
type Descriptor struct {
	Name         string
	Domain       string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of the descriptor with additional
// capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}
