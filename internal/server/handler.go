package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"example.com/h3serve/internal/h3"
	"example.com/h3serve/internal/logger"
)

// Handler is the interface that processes requests for a given route. The
// handler receives its specific configuration during instantiation via its
// factory; per request it gets the validated request and the stream writer.
type Handler interface {
	ServeStream(sw h3.StreamWriter, req *http.Request)
}

// HandlerFactory defines the function signature for creating handler
// instances from the opaque per-route configuration.
type HandlerFactory func(handlerConfig json.RawMessage, lg *logger.Logger) (Handler, error)

// HandlerRegistry manages the registration and retrieval of HandlerFactory
// instances. It provides a thread-safe mapping from HandlerType strings
// (from configuration) to their factory functions.
type HandlerRegistry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

// NewHandlerRegistry creates and returns a new HandlerRegistry instance.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		factories: make(map[string]HandlerFactory),
	}
}

// Register associates a HandlerType string with a factory function.
// It returns an error if a HandlerType is registered more than once.
func (r *HandlerRegistry) Register(handlerType string, factory HandlerFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[handlerType]; exists {
		return fmt.Errorf("handler type '%s' already registered", handlerType)
	}
	r.factories[handlerType] = factory
	return nil
}

// GetFactory retrieves a registered HandlerFactory for the given handlerType.
func (r *HandlerRegistry) GetFactory(handlerType string) (HandlerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[handlerType]
	return factory, ok
}

// CreateHandler creates a new handler instance for the given HandlerType
// string using its registered factory, passing the route's opaque
// handlerConfig through. Returns an error if the HandlerType is not
// registered or if the factory rejects the configuration.
func (r *HandlerRegistry) CreateHandler(handlerType string, handlerConfig json.RawMessage, lg *logger.Logger) (Handler, error) {
	factory, ok := r.GetFactory(handlerType)
	if !ok {
		return nil, fmt.Errorf("no handler factory registered for type '%s'", handlerType)
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil when creating handler type '%s'", handlerType)
	}
	return factory(handlerConfig, lg)
}

// ClearFactories removes all registered handler factories. Intended for
// tests that need a clean registry.
func (r *HandlerRegistry) ClearFactories() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]HandlerFactory)
}
