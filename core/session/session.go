// Package session implements the unit-of-work identity map: within one session
// every persistent identifier resolves to a single in-memory instance.
package session

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// EntityKey identifies a persistent instance. ID is the msgpack encoding of the
// identifier values, so two keys are equal whenever their values are equal,
// whatever the number of identifier columns.
type EntityKey struct {
	Entity string
	ID     string
}

// NewEntityKey encodes identifier values into a key. Values should already be
// normalized to their semantic types (int64, float64, string, bool).
func NewEntityKey(entity string, id ...any) (EntityKey, error) {
	var payload any = id
	if len(id) == 1 {
		payload = id[0]
	}
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return EntityKey{}, fmt.Errorf("failed to encode identifier of %s: %w", entity, err)
	}
	return EntityKey{Entity: entity, ID: string(raw)}, nil
}

// Values decodes the identifier values of the key.
func (k EntityKey) Values() ([]any, error) {
	var decoded any
	if err := msgpack.Unmarshal([]byte(k.ID), &decoded); err != nil {
		return nil, err
	}
	if values, ok := decoded.([]any); ok {
		return values, nil
	}
	return []any{decoded}, nil
}

func (k EntityKey) String() string {
	values, err := k.Values()
	if err != nil {
		return k.Entity + "#?"
	}
	if len(values) == 1 {
		return fmt.Sprintf("%s#%v", k.Entity, values[0])
	}
	return fmt.Sprintf("%s#%v", k.Entity, values)
}

// IdentityMap is the collaborator the result set processor resolves instances
// through.
type IdentityMap interface {
	GetExisting(key EntityKey) (any, bool)
	Register(key EntityKey, instance any)
}

// ReadOnlyMarker is implemented by identity maps that track read-only instances.
type ReadOnlyMarker interface {
	MarkReadOnly(key EntityKey)
	IsReadOnly(key EntityKey) bool
}

// ProxySource is implemented by identity maps that can hand out proxies in
// place of loaded instances.
type ProxySource interface {
	Proxy(key EntityKey) (any, bool)
}

// Session is the default IdentityMap. It belongs to a single unit of work and
// is not safe for concurrent use.
type Session struct {
	id        string
	instances map[EntityKey]any
	readOnly  map[EntityKey]bool
	proxies   map[EntityKey]any
	logger    *zap.Logger
}

var (
	_ IdentityMap    = (*Session)(nil)
	_ ReadOnlyMarker = (*Session)(nil)
	_ ProxySource    = (*Session)(nil)
)

// New opens a session.
func New(logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		instances: make(map[EntityKey]any),
		readOnly:  make(map[EntityKey]bool),
		proxies:   make(map[EntityKey]any),
		logger:    logger.With(zap.String("session", id)),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// GetExisting returns the instance registered under key.
func (s *Session) GetExisting(key EntityKey) (any, bool) {
	instance, ok := s.instances[key]
	return instance, ok
}

// Register stores instance under key, replacing any previous instance.
func (s *Session) Register(key EntityKey, instance any) {
	s.instances[key] = instance
	s.logger.Debug("Registered instance", zap.Stringer("key", key))
}

// MarkReadOnly flags the instance under key so later loads do not refresh it.
func (s *Session) MarkReadOnly(key EntityKey) {
	s.readOnly[key] = true
}

// IsReadOnly reports whether the instance under key was marked read-only.
func (s *Session) IsReadOnly(key EntityKey) bool {
	return s.readOnly[key]
}

// RegisterProxy associates a proxy with a key.
func (s *Session) RegisterProxy(key EntityKey, proxy any) {
	s.proxies[key] = proxy
}

// Proxy returns the proxy registered for a key.
func (s *Session) Proxy(key EntityKey) (any, bool) {
	p, ok := s.proxies[key]
	return p, ok
}

// Evict removes the instance and proxy registered under key.
func (s *Session) Evict(key EntityKey) {
	delete(s.instances, key)
	delete(s.readOnly, key)
	delete(s.proxies, key)
}

// Clear empties the session.
func (s *Session) Clear() {
	s.instances = make(map[EntityKey]any)
	s.readOnly = make(map[EntityKey]bool)
	s.proxies = make(map[EntityKey]any)
}

// Len returns the number of registered instances.
func (s *Session) Len() int {
	return len(s.instances)
}
