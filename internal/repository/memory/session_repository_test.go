package memory

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	id        string
	cancelled atomic.Int32
}

func (h *fakeHandle) ID() string { return h.id }
func (h *fakeHandle) Cancel()    { h.cancelled.Add(1) }

func TestSessionRepository_SaveGet(t *testing.T) {
	repo := NewSessionRepository[*fakeHandle](time.Minute)
	h := &fakeHandle{id: "s1"}
	repo.Save(h)

	got, ok := repo.Get("s1")
	require.True(t, ok)
	assert.Same(t, h, got)
	assert.Equal(t, 1, repo.Count())

	_, ok = repo.Get("missing")
	assert.False(t, ok)
}

func TestSessionRepository_DeleteCancels(t *testing.T) {
	repo := NewSessionRepository[*fakeHandle](time.Minute)
	h := &fakeHandle{id: "s1"}
	repo.Save(h)

	repo.Delete("s1")

	_, ok := repo.Get("s1")
	assert.False(t, ok)
	assert.Equal(t, int32(1), h.cancelled.Load())
}

func TestSessionRepository_CancelAll(t *testing.T) {
	repo := NewSessionRepository[*fakeHandle](time.Minute)
	a, b := &fakeHandle{id: "a"}, &fakeHandle{id: "b"}
	repo.Save(a)
	repo.Save(b)

	repo.CancelAll()

	assert.Equal(t, 0, repo.Count())
	assert.Equal(t, int32(1), a.cancelled.Load())
	assert.Equal(t, int32(1), b.cancelled.Load())
}
