// internal/core/plugins/directory.go
package plugins

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/solatis/pmengine/internal/core/config"
	"github.com/solatis/pmengine/internal/core/manager"
)

// Directory resolves a policy type to its plugin. Types without their own
// entry share one HTTP plugin rooted at plugins.default_url; with no
// default every lookup for them fails.
type Directory struct {
	mu       sync.RWMutex
	byType   map[string]manager.Plugin
	fallback manager.Plugin
}

var _ manager.PluginSet = (*Directory)(nil)

// NewDirectory builds every configured plugin up front.
func NewDirectory(cfg config.PluginsConfig, logger *zap.Logger) (*Directory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Directory{byType: make(map[string]manager.Plugin, len(cfg.Types))}

	httpOpts := []HTTPOption{WithHTTPLogger(logger.With(zap.String("component", "plugins.HTTP")))}
	if cfg.User != "" {
		httpOpts = append(httpOpts, WithBasicAuth(cfg.User, cfg.Password))
	}

	if cfg.DefaultURL != "" {
		h, err := NewHTTP(cfg.DefaultURL, cfg.Timeout, httpOpts...)
		if err != nil {
			return nil, fmt.Errorf("default plugin: %w", err)
		}
		d.fallback = h
	}

	for name, t := range cfg.Types {
		name = strings.ToUpper(name)
		switch t.Driver {
		case config.DriverLocal:
			l, err := NewLocal(name, t, logger)
			if err != nil {
				return nil, fmt.Errorf("plugin %s: %w", name, err)
			}
			d.byType[name] = l
		case config.DriverHTTP, "":
			base := t.URL
			if base == "" {
				base = cfg.DefaultURL
			}
			h, err := NewHTTP(base, cfg.Timeout, httpOpts...)
			if err != nil {
				return nil, fmt.Errorf("plugin %s: %w", name, err)
			}
			d.byType[name] = h
		default:
			return nil, fmt.Errorf("plugin %s: unknown driver %q", name, t.Driver)
		}
	}
	return d, nil
}

// Set installs p for policyType, replacing any configured plugin.
func (d *Directory) Set(policyType string, p manager.Plugin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byType[strings.ToUpper(policyType)] = p
}

// Lookup returns the plugin for policyType.
func (d *Directory) Lookup(policyType string) (manager.Plugin, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.byType[strings.ToUpper(policyType)]; ok {
		return p, nil
	}
	if d.fallback != nil {
		return d.fallback, nil
	}
	return nil, fmt.Errorf("no plugin configured for policy type %s", policyType)
}
