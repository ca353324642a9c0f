package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/feed"
	"github.com/feedpilot/feedpilot/internal/history"
	"github.com/feedpilot/feedpilot/internal/pacing"
	"github.com/feedpilot/feedpilot/internal/rules"
	"github.com/feedpilot/feedpilot/internal/streaming"
)

func idleSession(t *testing.T) *Session {
	t.Helper()
	sess, err := NewSession(Config{
		Platform:      &fakePlatform{},
		Settings:      testSettings(1),
		Matcher:       rules.NewMatcher(nil, zap.NewNop()),
		Pacer:         pacing.NewWithRand(rand.New(rand.NewSource(1))),
		Recorder:      &fakeRecorder{},
		Events:        streaming.NewManager(16),
		Logger:        zap.NewNop(),
		EmptyFeedWait: time.Millisecond,
	})
	require.NoError(t, err)
	return sess
}

func TestRegistrySingleActiveSlot(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx := context.Background()

	first := idleSession(t)
	id, err := r.Start(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), id)

	_, err = r.Start(ctx, idleSession(t))
	assert.ErrorIs(t, err, ErrSessionActive)

	r.StopAll()
}

func TestRegistryStopAndStatus(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	sess := idleSession(t)
	id, err := r.Start(context.Background(), sess)
	require.NoError(t, err)

	st, err := r.Get(id)
	require.NoError(t, err)
	assert.Equal(t, history.StatusRunning, st.State)

	require.NoError(t, r.Stop(id))
	r.StopAll()

	require.Eventually(t, func() bool {
		st, err := r.Get(id)
		return err == nil && st.State == history.StatusStopped
	}, 2*time.Second, 10*time.Millisecond, "finished session remains queryable")
}

func TestRegistrySlotFreesAfterCompletion(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ctx := context.Background()

	quick, err := NewSession(Config{
		Platform: &fakePlatform{items: []feed.ContentItem{{ID: "v1", Description: "cat"}}},
		Settings: testSettings(1),
		Matcher:  rules.NewMatcher(nil, zap.NewNop()),
		Pacer:    pacing.NewWithRand(rand.New(rand.NewSource(1))),
		Recorder: &fakeRecorder{},
		Events:   streaming.NewManager(16),
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)

	_, err = r.Start(ctx, quick)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := r.Start(ctx, idleSession(t))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "slot frees once the first session finishes")
	r.StopAll()
}

func TestRegistryUnknownSession(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	assert.ErrorIs(t, r.Stop("ghost"), ErrSessionNotFound)
	_, err := r.Get("ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, r.List())
}

func TestRegistryListIncludesFinished(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	sess := idleSession(t)
	id, err := r.Start(context.Background(), sess)
	require.NoError(t, err)
	require.NoError(t, r.Stop(id))
	r.StopAll()

	require.Eventually(t, func() bool {
		list := r.List()
		return len(list) == 1 && list[0].ID == id
	}, 2*time.Second, 10*time.Millisecond)
}
