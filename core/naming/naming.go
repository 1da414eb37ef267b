// Package naming provides a directory of named objects, such as data sources,
// that components look up by a slash-separated name. The directory is a
// service: it is registered with a service.Registry through Initiator and
// configured from the "loom.naming." keys.
package naming

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/asaidimu/go-loom/core/service"
	"go.uber.org/zap"
)

const (
	// Prefix marks the configuration keys of the naming service.
	Prefix = "loom.naming."
	// ProviderKey selects the directory implementation.
	ProviderKey = Prefix + "provider"
	// URLKey is the context relative names are resolved against.
	URLKey = Prefix + "url"

	// ProviderMemory is the in-process directory.
	ProviderMemory = "memory"
)

var (
	ErrNameNotFound     = errors.New("name not found")
	ErrNameAlreadyBound = errors.New("name already bound")
	ErrInvalidName      = errors.New("invalid name")
)

// Service binds objects to names.
type Service interface {
	Lookup(name string) (any, error)
	Bind(name string, value any) error
	Rebind(name string, value any) error
	Unbind(name string) error
	// List returns the names bound below prefix, relative to it.
	List(prefix string) ([]string, error)
}

// Settings configure a directory.
type Settings struct {
	Provider   string
	URL        string
	Properties map[string]any
}

// SettingsFrom extracts the naming settings from a service configuration. Every
// "loom.naming." key other than provider and url ends up in Properties.
func SettingsFrom(cfg service.Config) Settings {
	props := cfg.Properties(Prefix)
	delete(props, "provider")
	delete(props, "url")
	return Settings{
		Provider:   cfg.StringOr(ProviderKey, ""),
		URL:        cfg.StringOr(URLKey, ""),
		Properties: props,
	}
}

// Directory is an in-memory Service. It is safe for concurrent use.
type Directory struct {
	mu       sync.RWMutex
	base     []string
	entries  map[string]any
	settings Settings
	logger   *zap.Logger
}

var (
	_ Service           = (*Directory)(nil)
	_ service.Stoppable = (*Directory)(nil)
)

// NewDirectory creates an empty directory whose relative names resolve
// against settings.URL.
func NewDirectory(settings Settings, logger *zap.Logger) (*Directory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var base []string
	if settings.URL != "" {
		var err error
		if base, _, err = split(settings.URL); err != nil {
			return nil, fmt.Errorf("invalid naming url %q: %w", settings.URL, err)
		}
	}
	return &Directory{
		base:     base,
		entries:  make(map[string]any),
		settings: settings,
		logger:   logger,
	}, nil
}

// Settings returns the directory settings.
func (d *Directory) Settings() Settings { return d.settings }

// split parses "scheme:a/b/c" or "a/b/c" into its segments and reports whether
// the name carried a scheme.
func split(name string) ([]string, bool, error) {
	name = strings.TrimSpace(name)
	absolute := false
	if i := strings.Index(name, ":"); i >= 0 && !strings.Contains(name[:i], "/") {
		name = name[i+1:]
		absolute = true
	}
	if strings.HasPrefix(name, "/") {
		absolute = true
	}
	var segments []string
	for _, s := range strings.Split(name, "/") {
		switch s {
		case "":
			continue
		case ".", "..":
			return nil, false, fmt.Errorf("%w: segment %q", ErrInvalidName, s)
		}
		segments = append(segments, s)
	}
	return segments, absolute, nil
}

func (d *Directory) resolve(name string) (string, error) {
	segments, absolute, err := split(name)
	if err != nil {
		return "", err
	}
	if len(segments) == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !absolute && len(d.base) > 0 {
		segments = append(append([]string(nil), d.base...), segments...)
	}
	return strings.Join(segments, "/"), nil
}

func (d *Directory) Lookup(name string) (any, error) {
	key, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNameNotFound, key)
	}
	return v, nil
}

func (d *Directory) Bind(name string, value any) error {
	key, err := d.resolve(name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[key]; ok {
		return fmt.Errorf("%w: %s", ErrNameAlreadyBound, key)
	}
	d.entries[key] = value
	d.logger.Debug("Bound name", zap.String("name", key))
	return nil
}

func (d *Directory) Rebind(name string, value any) error {
	key, err := d.resolve(name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = value
	d.logger.Debug("Rebound name", zap.String("name", key))
	return nil
}

func (d *Directory) Unbind(name string) error {
	key, err := d.resolve(name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNameNotFound, key)
	}
	delete(d.entries, key)
	return nil
}

func (d *Directory) List(prefix string) ([]string, error) {
	root := strings.Join(d.base, "/")
	if strings.Trim(prefix, "/ ") != "" {
		var err error
		if root, err = d.resolve(prefix); err != nil {
			return nil, err
		}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0)
	for key := range d.entries {
		if root == "" {
			names = append(names, key)
			continue
		}
		if rest, ok := strings.CutPrefix(key, root+"/"); ok {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stop empties the directory.
func (d *Directory) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]any)
	return nil
}

// Initiator creates the naming Service from configuration.
type Initiator struct{}

var _ service.Initiator[Service] = Initiator{}

func (Initiator) InitiateService(cfg service.Config, reg *service.Registry) (Service, error) {
	settings := SettingsFrom(cfg)
	switch settings.Provider {
	case "", ProviderMemory:
		return NewDirectory(settings, reg.Logger().Named("naming"))
	}
	return nil, fmt.Errorf("unsupported naming provider %q", settings.Provider)
}
