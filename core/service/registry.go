// Package service is a small service registry. Services are registered at
// startup through explicit initiators keyed by their contract type and are
// initiated lazily, at most once per registry.
package service

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrUnknownService is returned by Get for a contract nobody registered.
	ErrUnknownService = errors.New("service not registered")
	// ErrDuplicateService is returned by Register when the contract already
	// has an initiator.
	ErrDuplicateService = errors.New("service already registered")
	// ErrRegistryClosed is returned once Close was called.
	ErrRegistryClosed = errors.New("service registry closed")
)

// Initiator creates the service of contract S from configuration. It may look
// up other services through the registry, but not S itself.
type Initiator[S any] interface {
	InitiateService(cfg Config, reg *Registry) (S, error)
}

// InitiatorFunc adapts a function to Initiator.
type InitiatorFunc[S any] func(cfg Config, reg *Registry) (S, error)

func (f InitiatorFunc[S]) InitiateService(cfg Config, reg *Registry) (S, error) {
	return f(cfg, reg)
}

// Stoppable services are stopped by Registry.Close.
type Stoppable interface {
	Stop() error
}

type entry struct {
	contract string
	initiate func(Config, *Registry) (any, error)
	once     sync.Once
	service  any
	err      error
}

// Registry holds the initiators and initiated services of one application.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	entries map[reflect.Type]*entry
	started []*entry
	closed  bool
	logger  *zap.Logger
}

// NewRegistry creates a registry over cfg.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = Config{}
	}
	return &Registry{
		cfg:     cfg,
		entries: make(map[reflect.Type]*entry),
		logger:  logger,
	}
}

// Config returns the configuration services are initiated from.
func (r *Registry) Config() Config { return r.cfg }

// Logger returns the registry logger.
func (r *Registry) Logger() *zap.Logger { return r.logger }

// Register binds an initiator to the contract type S.
func Register[S any](reg *Registry, initiator Initiator[S]) error {
	contract := reflect.TypeFor[S]()
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.closed {
		return ErrRegistryClosed
	}
	if _, exists := reg.entries[contract]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateService, contract)
	}
	reg.entries[contract] = &entry{
		contract: contract.String(),
		initiate: func(cfg Config, r *Registry) (any, error) {
			return initiator.InitiateService(cfg, r)
		},
	}
	reg.logger.Debug("Registered service initiator", zap.String("contract", contract.String()))
	return nil
}

// Get returns the service of contract S, initiating it on first use. The
// outcome of the first initiation, service or error, is returned to every
// later caller.
func Get[S any](reg *Registry) (S, error) {
	var zero S
	contract := reflect.TypeFor[S]()

	reg.mu.Lock()
	if reg.closed {
		reg.mu.Unlock()
		return zero, ErrRegistryClosed
	}
	e, ok := reg.entries[contract]
	reg.mu.Unlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnknownService, contract)
	}

	e.once.Do(func() {
		e.service, e.err = e.initiate(reg.cfg, reg)
		if e.err != nil {
			reg.logger.Error("Service initiation failed", zap.String("contract", e.contract), zap.Error(e.err))
			return
		}
		reg.mu.Lock()
		if reg.closed {
			reg.mu.Unlock()
			// Close already took its snapshot, so nobody else would stop it.
			if stoppable, ok := e.service.(Stoppable); ok {
				if err := stoppable.Stop(); err != nil {
					reg.logger.Warn("Stopping service initiated after close", zap.String("contract", e.contract), zap.Error(err))
				}
			}
			e.service, e.err = nil, ErrRegistryClosed
			return
		}
		reg.started = append(reg.started, e)
		reg.mu.Unlock()
		reg.logger.Info("Service initiated", zap.String("contract", e.contract))
	})
	if e.err != nil {
		return zero, fmt.Errorf("failed to initiate %s: %w", e.contract, e.err)
	}
	svc, _ := e.service.(S)
	return svc, nil
}

// Close stops every initiated Stoppable service in reverse initiation order.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	started := r.started
	r.started = nil
	r.mu.Unlock()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		stoppable, ok := started[i].service.(Stoppable)
		if !ok {
			continue
		}
		if err := stoppable.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", started[i].contract, err))
			continue
		}
		r.logger.Debug("Service stopped", zap.String("contract", started[i].contract))
	}
	return errors.Join(errs...)
}
