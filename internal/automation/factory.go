package automation

import "fmt"

// Factory builds strategies from configuration records.
type Factory struct {
	registry *Registry
	deps     Deps
}

// NewFactory creates a Factory resolving devices through registry.
// Every strategy it builds shares deps, including one WindowIndex.
func NewFactory(registry *Registry, deps Deps) *Factory {
	return &Factory{registry: registry, deps: deps.withDefaults()}
}

// Windows returns the index shared by the built strategies.
func (f *Factory) Windows() *WindowIndex { return f.deps.Windows }

// Build returns the strategy for cfg. Settings that fail to parse still
// build a strategy; it stays inert and holds the device OFF.
func (f *Factory) Build(cfg Config) (Strategy, error) {
	dev, ok := f.registry.ByID(cfg.DeviceID)
	if !ok {
		return nil, fmt.Errorf("automation for device %d: %w", cfg.DeviceID, ErrDeviceNotFound)
	}
	switch cfg.Category {
	case CategoryRange:
		return NewRange(dev, cfg, f.deps), nil
	case CategoryInterval:
		return NewInterval(dev, cfg, f.deps), nil
	case CategoryTarget:
		s, err := NewTarget(dev, cfg, f.deps, f.registry)
		if err != nil {
			return nil, fmt.Errorf("target automation for %s: %w", dev.Name, err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("device %s category %q: %w", dev.Name, cfg.Category, ErrUnknownCategory)
}

// BuildAll builds every record. Range records are built first so the
// window index is populated before light-correlated strategies first run.
// A record that fails is reported in errs and skipped.
func (f *Factory) BuildAll(cfgs []Config) ([]Strategy, []error) {
	var out []Strategy
	var errs []error
	seen := make(map[int]bool)
	for _, pass := range []func(Category) bool{
		func(c Category) bool { return c == CategoryRange },
		func(c Category) bool { return c != CategoryRange },
	} {
		for _, cfg := range cfgs {
			if !pass(cfg.Category) {
				continue
			}
			if seen[cfg.DeviceID] {
				errs = append(errs, fmt.Errorf("device %d: %w", cfg.DeviceID, ErrDuplicateAutomation))
				continue
			}
			s, err := f.Build(cfg)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			seen[cfg.DeviceID] = true
			out = append(out, s)
		}
	}
	return out, errs
}
