package labels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory mailbox that rejects duplicate label names.
type fakeTransport struct {
	mu          sync.Mutex
	labels      []Label
	applied     map[string][]string
	listCalls   int
	createCalls int
	createDelay time.Duration
	listErr     error
	createErr   error
	// staleIDs are IDs rejected by ModifyMessageLabels.
	staleIDs map[string]bool
}

func newFakeTransport(existing ...Label) *fakeTransport {
	return &fakeTransport{
		labels:   existing,
		applied:  make(map[string][]string),
		staleIDs: make(map[string]bool),
	}
}

func (f *fakeTransport) ListLabels(ctx context.Context) ([]Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]Label, len(f.labels))
	copy(out, f.labels)
	return out, nil
}

func (f *fakeTransport) CreateLabel(ctx context.Context, name string) (Label, error) {
	select {
	case <-ctx.Done():
		return Label{}, ctx.Err()
	case <-time.After(f.createDelay):
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return Label{}, f.createErr
	}
	for _, l := range f.labels {
		if l.Name == name {
			return Label{}, ErrLabelExists
		}
	}
	l := Label{ID: fmt.Sprintf("Label_%d", len(f.labels)+1), Name: name}
	f.labels = append(f.labels, l)
	return l, nil
}

func (f *fakeTransport) ModifyMessageLabels(ctx context.Context, messageID string, add, remove []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range add {
		if f.staleIDs[id] {
			return ErrUnknownLabelID
		}
	}
	f.applied[messageID] = append(f.applied[messageID], add...)
	return nil
}

func (f *fakeTransport) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.labels {
		if l.Name == name {
			n++
		}
	}
	return n
}

func TestEnsureLabel_ExistingLabel(t *testing.T) {
	ft := newFakeTransport(Label{ID: "Label_9", Name: "PROCESSED"})
	m := NewManager(ft, nil)

	l, err := m.EnsureLabel(context.Background(), "PROCESSED")
	require.NoError(t, err)
	assert.Equal(t, "Label_9", l.ID)
	assert.Equal(t, 0, ft.createCalls)

	// Second call is served from the cache.
	_, err = m.EnsureLabel(context.Background(), "PROCESSED")
	require.NoError(t, err)
	assert.Equal(t, 1, ft.listCalls)
}

func TestEnsureLabel_CaseSensitive(t *testing.T) {
	ft := newFakeTransport(Label{ID: "Label_1", Name: "processed"})
	m := NewManager(ft, nil)

	l, err := m.EnsureLabel(context.Background(), "PROCESSED")
	require.NoError(t, err)
	assert.NotEqual(t, "Label_1", l.ID)
	assert.Equal(t, 1, ft.count("PROCESSED"))
}

func TestEnsureLabel_ConcurrentCallersCreateOnce(t *testing.T) {
	ft := newFakeTransport()
	ft.createDelay = 20 * time.Millisecond
	m := NewManager(ft, nil)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	errs := make([]error, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := m.EnsureLabel(context.Background(), "INTERESTED")
			ids[i], errs[i] = l.ID, err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, ft.count("INTERESTED"))
}

func TestEnsureLabel_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	ft := newFakeTransport()
	ft.createDelay = 100 * time.Millisecond
	m := NewManager(ft, nil)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := m.EnsureLabel(ctx, "INTERESTED")
		firstErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	type result struct {
		label Label
		err   error
	}
	second := make(chan result, 1)
	go func() {
		l, err := m.EnsureLabel(context.Background(), "INTERESTED")
		second <- result{l, err}
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)

	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "INTERESTED", res.label.Name)
	assert.Equal(t, 1, ft.count("INTERESTED"))
}

func TestEnsureLabel_RacingManagersShareOneLabel(t *testing.T) {
	// Two managers model two processes sharing one mailbox.
	ft := newFakeTransport()
	ft.createDelay = 10 * time.Millisecond
	a := NewManager(ft, nil)
	b := NewManager(ft, nil)

	var wg sync.WaitGroup
	var la, lb Label
	var ea, eb error
	wg.Add(2)
	go func() { defer wg.Done(); la, ea = a.EnsureLabel(context.Background(), "PROCESSED") }()
	go func() { defer wg.Done(); lb, eb = b.EnsureLabel(context.Background(), "PROCESSED") }()
	wg.Wait()

	require.NoError(t, ea)
	require.NoError(t, eb)
	assert.Equal(t, la.ID, lb.ID)
	assert.Equal(t, 1, ft.count("PROCESSED"))
}

func TestEnsureLabel_Errors(t *testing.T) {
	t.Run("empty name", func(t *testing.T) {
		_, err := NewManager(newFakeTransport(), nil).EnsureLabel(context.Background(), "")
		assert.Error(t, err)
	})

	t.Run("list failure", func(t *testing.T) {
		ft := newFakeTransport()
		ft.listErr = errors.New("network down")
		_, err := NewManager(ft, nil).EnsureLabel(context.Background(), "PROCESSED")
		assert.ErrorContains(t, err, "network down")
	})

	t.Run("create failure", func(t *testing.T) {
		ft := newFakeTransport()
		ft.createErr = errors.New("quota exceeded")
		_, err := NewManager(ft, nil).EnsureLabel(context.Background(), "PROCESSED")
		assert.ErrorContains(t, err, "quota exceeded")
	})
}

func TestApplyLabel(t *testing.T) {
	ft := newFakeTransport(Label{ID: "INBOX", Name: "INBOX"})
	m := NewManager(ft, nil)

	require.NoError(t, m.ApplyLabel(context.Background(), "msg-1", "INTERESTED"))
	require.NoError(t, m.ApplyLabel(context.Background(), "msg-1", "PROCESSED"))

	interested, err := m.LabelID(context.Background(), "INTERESTED")
	require.NoError(t, err)
	processed, err := m.LabelID(context.Background(), "PROCESSED")
	require.NoError(t, err)
	assert.Equal(t, []string{interested, processed}, ft.applied["msg-1"])

	assert.Error(t, m.ApplyLabel(context.Background(), "", "PROCESSED"))
}

func TestApplyLabel_StaleCachedID(t *testing.T) {
	ft := newFakeTransport(Label{ID: "Label_old", Name: "PROCESSED"})
	m := NewManager(ft, nil)
	_, err := m.EnsureLabel(context.Background(), "PROCESSED")
	require.NoError(t, err)

	// The label is deleted and recreated out of band.
	ft.mu.Lock()
	ft.labels = []Label{{ID: "Label_new", Name: "PROCESSED"}}
	ft.staleIDs["Label_old"] = true
	ft.mu.Unlock()

	require.NoError(t, m.ApplyLabel(context.Background(), "msg-1", "PROCESSED"))
	assert.Equal(t, []string{"Label_new"}, ft.applied["msg-1"])
}

func TestLabelID_NotFound(t *testing.T) {
	m := NewManager(newFakeTransport(), nil)
	_, err := m.LabelID(context.Background(), "PROCESSED")
	assert.ErrorIs(t, err, ErrLabelNotFound)
}

func TestHasLabel(t *testing.T) {
	ft := newFakeTransport(Label{ID: "Label_7", Name: "PROCESSED"})
	m := NewManager(ft, nil)

	ok, err := m.HasLabel(context.Background(), []string{"INBOX", "Label_7"}, "PROCESSED")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.HasLabel(context.Background(), []string{"INBOX"}, "PROCESSED")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.HasLabel(context.Background(), []string{"INBOX"}, "INTERESTED")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, ft.createCalls)
}
