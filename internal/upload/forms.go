package upload

import (
	"sync"

	"github.com/taptoon/taptoon-fe/internal/bus"
	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"go.uber.org/zap"
)

// Forms keeps one coordinator per post or portfolio being edited. Chat
// attachments belong to their room and are not tracked here.
type Forms struct {
	limits  Limits
	backend Backend
	bus     *bus.Bus
	logger  *zap.Logger

	mu    sync.Mutex
	forms map[formKey]*Coordinator
}

type formKey struct {
	scope   Scope
	ownerID string
}

// NewForms creates an empty registry. b may be nil.
func NewForms(limits Limits, backend Backend, b *bus.Bus, logger *zap.Logger) *Forms {
	return &Forms{
		limits:  limits,
		backend: backend,
		bus:     b,
		logger:  logger,
		forms:   make(map[formKey]*Coordinator),
	}
}

// ParseScope accepts "post" or "portfolio".
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopePost, ScopePortfolio:
		return Scope(s), nil
	default:
		return "", &chaterr.ValidationError{Field: "scope", Reason: "expected post or portfolio, got " + s}
	}
}

// Open returns the coordinator of the form, creating it on first use with
// the scope's limit.
func (f *Forms) Open(scope Scope, ownerID string) (*Coordinator, error) {
	if _, err := ParseScope(string(scope)); err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, &chaterr.ValidationError{Field: "owner_id", Reason: "required"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := formKey{scope, ownerID}
	if c, ok := f.forms[key]; ok {
		return c, nil
	}
	c := NewCoordinator(scope, ownerID, f.limits.For(scope), f.backend, f.bus, f.logger)
	f.forms[key] = c
	return c, nil
}

// Get returns the form's coordinator if attachments were ever selected for it.
func (f *Forms) Get(scope Scope, ownerID string) (*Coordinator, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.forms[formKey{scope, ownerID}]
	return c, ok
}
