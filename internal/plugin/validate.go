package plugin

import (
	"context"
	"fmt"
)

// ValidateConfig vets every enabled plugin's section of cfg before a reload
// is committed. Only ConfigValidator is called; nothing is started or stopped.
func (pm *PluginManager) ValidateConfig(ctx context.Context, cfg *Config) error {
	for _, name := range pm.names() {
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		if err := validateStandardTimeouts(name, raw.Config); err != nil {
			return err
		}
		s := pm.lookup(name)
		v, ok := s.p.(ConfigValidator)
		if !ok {
			continue
		}
		if err := pm.call(ctx, "plugin.validate."+name, validateTimeout, func(c context.Context) error { return v.ValidateConfig(c, raw.Config) }); err != nil {
			return fmt.Errorf("plugin %s: config validate: %w", name, err)
		}
	}
	return nil
}
