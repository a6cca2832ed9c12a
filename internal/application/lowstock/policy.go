package lowstock

// Policy resolves the low-stock threshold of a SKU: a per-SKU override if
// configured, otherwise the default.
type Policy struct {
	defaultThreshold int
	overrides        map[string]int
}

// NewPolicy copies overrides, so later changes to the map have no effect.
func NewPolicy(defaultThreshold int, overrides map[string]int) *Policy {
	copied := make(map[string]int, len(overrides))
	for sku, t := range overrides {
		copied[sku] = t
	}
	return &Policy{
		defaultThreshold: defaultThreshold,
		overrides:        copied,
	}
}

// Threshold returns the threshold that applies to sku.
func (p *Policy) Threshold(sku string) int {
	if t, ok := p.overrides[sku]; ok {
		return t
	}
	return p.defaultThreshold
}

// Crossed reports whether a change of available quantity from before to after
// newly reaches the SKU's threshold. Staying below it does not count again.
func (p *Policy) Crossed(sku string, before, after int) (threshold int, crossed bool) {
	threshold = p.Threshold(sku)
	return threshold, before > threshold && after <= threshold
}
