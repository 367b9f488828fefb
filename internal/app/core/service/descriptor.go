package service

// Layer describes the architectural slice a component belongs to: the
// operator-facing ingress surface, adapters that bridge the host filesystem
// and subprocess world into the kernel, the engines that drive state
// machines, and the data layer backing them.
type Layer string

const (
	LayerIngress Layer = "ingress"
	LayerAdapter Layer = "adapter"
	LayerEngine  Layer = "engine"
	LayerData    Layer = "data"
)

// Descriptor advertises a service's placement and capabilities. It is optional
// and does not change runtime behavior, but lets the diagnostics surface and
// documentation reason about the running components consistently.
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
