package labels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/teemow/inboxresponder/internal/logging"
)

var (
	// ErrLabelNotFound is returned when a label name cannot be resolved to an ID.
	ErrLabelNotFound = errors.New("label not found")

	// ErrLabelExists is returned by a Transport when a label with the same
	// name already exists.
	ErrLabelExists = errors.New("label already exists")

	// ErrUnknownLabelID is returned by a Transport when a label ID passed to
	// ModifyMessageLabels no longer exists.
	ErrUnknownLabelID = errors.New("unknown label id")
)

// resolveTimeout bounds a shared lookup-or-create, which is not tied to the
// context of any single caller.
const resolveTimeout = 30 * time.Second

// Label is a mailbox label.
type Label struct {
	ID   string
	Name string
}

// Transport is the subset of the mail service the manager needs.
type Transport interface {
	ListLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, name string) (Label, error)
	ModifyMessageLabels(ctx context.Context, messageID string, add, remove []string) error
}

// Manager resolves label names and applies labels to messages. It is safe for
// concurrent use.
type Manager struct {
	transport Transport
	logger    *slog.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]Label
}

// NewManager creates a Manager. A nil logger uses slog.Default().
func NewManager(transport Transport, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		transport: transport,
		logger:    logging.WithComponent(logger, "labels"),
		cache:     make(map[string]Label),
	}
}

// EnsureLabel returns the label called name, creating it if it does not
// exist. Names match exactly and case-sensitively.
func (m *Manager) EnsureLabel(ctx context.Context, name string) (Label, error) {
	if name == "" {
		return Label{}, errors.New("label name is required")
	}
	if l, ok := m.cached(name); ok {
		return l, nil
	}

	ch := m.group.DoChan(name, func() (interface{}, error) {
		// Another caller may have filled the cache while we waited.
		if l, ok := m.cached(name); ok {
			return l, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return m.resolve(rctx, name)
	})

	select {
	case <-ctx.Done():
		return Label{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Label{}, res.Err
		}
		return res.Val.(Label), nil
	}
}

// resolve looks the label up at the source and creates it when missing.
func (m *Manager) resolve(ctx context.Context, name string) (Label, error) {
	l, err := m.lookup(ctx, name)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, ErrLabelNotFound) {
		return Label{}, err
	}

	created, err := m.transport.CreateLabel(ctx, name)
	switch {
	case err == nil:
		m.store(created)
		m.logger.Info("label created", slog.String("label", created.Name), slog.String("label_id", created.ID))
		return created, nil
	case errors.Is(err, ErrLabelExists):
		// Lost a race with another process; the label is there now.
		m.logger.Debug("label created concurrently", slog.String("label", name))
		return m.lookup(ctx, name)
	default:
		return Label{}, fmt.Errorf("failed to create label %q: %w", name, err)
	}
}

// lookup lists labels and caches every one of them.
func (m *Manager) lookup(ctx context.Context, name string) (Label, error) {
	all, err := m.transport.ListLabels(ctx)
	if err != nil {
		return Label{}, fmt.Errorf("failed to list labels: %w", err)
	}

	var found *Label
	m.mu.Lock()
	for i := range all {
		m.cache[all[i].Name] = all[i]
		if all[i].Name == name {
			found = &all[i]
		}
	}
	m.mu.Unlock()

	if found == nil {
		return Label{}, fmt.Errorf("%w: %s", ErrLabelNotFound, name)
	}
	return *found, nil
}

// ApplyLabel adds the named label to a message, creating the label when
// needed. Existing labels on the message are left untouched.
func (m *Manager) ApplyLabel(ctx context.Context, messageID, name string) error {
	if messageID == "" {
		return errors.New("message ID is required")
	}

	l, err := m.EnsureLabel(ctx, name)
	if err != nil {
		return err
	}

	err = m.transport.ModifyMessageLabels(ctx, messageID, []string{l.ID}, nil)
	if errors.Is(err, ErrUnknownLabelID) {
		// The label was deleted behind our back; resolve it again once.
		m.Invalidate(name)
		if l, err = m.EnsureLabel(ctx, name); err != nil {
			return err
		}
		err = m.transport.ModifyMessageLabels(ctx, messageID, []string{l.ID}, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to apply label %q to message %s: %w", name, messageID, err)
	}
	return nil
}

// LabelID returns the cached or freshly resolved ID of an existing label
// without creating it.
func (m *Manager) LabelID(ctx context.Context, name string) (string, error) {
	if l, ok := m.cached(name); ok {
		return l.ID, nil
	}
	l, err := m.lookup(ctx, name)
	if err != nil {
		return "", err
	}
	return l.ID, nil
}

// Invalidate drops the cached entry for name.
func (m *Manager) Invalidate(name string) {
	m.mu.Lock()
	delete(m.cache, name)
	m.mu.Unlock()
}

func (m *Manager) cached(name string) (Label, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.cache[name]
	return l, ok
}

func (m *Manager) store(l Label) {
	m.mu.Lock()
	m.cache[l.Name] = l
	m.mu.Unlock()
}

// HasLabel reports whether labelIDs contains the ID of the named label. A
// label that does not exist yet is never present.
func (m *Manager) HasLabel(ctx context.Context, labelIDs []string, name string) (bool, error) {
	id, err := m.LabelID(ctx, name)
	if errors.Is(err, ErrLabelNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, l := range labelIDs {
		if l == id {
			return true, nil
		}
	}
	return false, nil
}
