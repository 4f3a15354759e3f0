package queue

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Valkey tests need a live server; set INBOXRESPONDER_TEST_VALKEY_ADDR to run them.
func valkeyAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("INBOXRESPONDER_TEST_VALKEY_ADDR")
	if addr == "" {
		t.Skip("INBOXRESPONDER_TEST_VALKEY_ADDR not set")
	}
	return addr
}

func TestValkeyQueue(t *testing.T) {
	addr := valkeyAddr(t)

	runQueueSuite(t, func(t *testing.T, cfg Config) Queue {
		prefix := "inboxresponder-test:" + uuid.New().String() + ":"
		q, err := OpenValkey(ValkeyConfig{Address: addr, KeyPrefix: prefix}, cfg)
		require.NoError(t, err)
		t.Cleanup(func() {
			for _, key := range q.keys {
				q.client.Do(context.Background(), q.client.B().Del().Key(key).Build())
			}
			q.Close()
		})
		return q
	})
}

func TestOpenValkey_RequiresAddress(t *testing.T) {
	_, err := OpenValkey(ValkeyConfig{}, Config{})
	require.Error(t, err)
}

func TestScriptError(t *testing.T) {
	err := scriptError(errString("ERR invalid_state dead script: abc"), "job-1")
	require.ErrorIs(t, err, ErrInvalidState)

	err = scriptError(errString("not_found"), "job-1")
	require.ErrorIs(t, err, ErrNotFound)
}

type errString string

func (e errString) Error() string { return string(e) }
