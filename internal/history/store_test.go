package history

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestCreateAndGetRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.CreateRecord(ctx, "douyin", json.RawMessage(`{"maxCount":5}`))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, StatusRunning, rec.Status)

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "douyin", got.Platform)
	assert.JSONEq(t, `{"maxCount":5}`, string(got.SettingsSnapshot))
	assert.Zero(t, got.CommentCount)
	assert.Empty(t, got.Videos)
}

func TestGetUnknownRecord(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRecord(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestAppendVideoRecordBumpsCommentCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.CreateRecord(ctx, "douyin", nil)
	require.NoError(t, err)

	require.NoError(t, store.AppendVideoRecord(ctx, rec.ID, VideoRecord{
		ItemID: "v1", AuthorName: "a", Description: "cat", Action: ActionCommented,
		Detail: "nice one", MatchedGroup: "cats",
	}))
	require.NoError(t, store.AppendVideoRecord(ctx, rec.ID, VideoRecord{
		ItemID: "v2", AuthorName: "b", Description: "ad", Action: ActionSkipped,
		Detail: "blocked keyword",
	}))
	require.NoError(t, store.AppendVideoRecord(ctx, rec.ID, VideoRecord{
		ItemID: "v3", AuthorName: "c", Description: "cat 2", Action: ActionCommented,
	}))

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CommentCount, "only commented records count")
	require.Len(t, got.Videos, 3)
	assert.Equal(t, "v1", got.Videos[0].ItemID, "trail keeps insertion order")
	assert.Equal(t, ActionSkipped, got.Videos[1].Action)
}

func TestAppendVideoRecordKeepsTagsAndWatchTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.CreateRecord(ctx, "douyin", nil)
	require.NoError(t, err)

	require.NoError(t, store.AppendVideoRecord(ctx, rec.ID, VideoRecord{
		ItemID: "v1", AuthorName: "a", Description: "cat video",
		Tags: Tags{"cats", "cute"}, WatchMS: 4500, Action: ActionCommented,
	}))
	require.NoError(t, store.AppendVideoRecord(ctx, rec.ID, VideoRecord{
		ItemID: "v2", AuthorName: "b", Description: "no tags", Action: ActionSkipped,
	}))

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got.Videos, 2)
	assert.Equal(t, Tags{"cats", "cute"}, got.Videos[0].Tags)
	assert.EqualValues(t, 4500, got.Videos[0].WatchMS)
	assert.Empty(t, got.Videos[1].Tags)
	assert.Zero(t, got.Videos[1].WatchMS)
}

func TestFinalize(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.CreateRecord(ctx, "xhs", nil)
	require.NoError(t, err)

	require.NoError(t, store.Finalize(ctx, rec.ID, StatusCompleted, ""))

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
}

func TestFinalizeIsFirstWriterWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.CreateRecord(ctx, "xhs", nil)
	require.NoError(t, err)

	require.NoError(t, store.Finalize(ctx, rec.ID, StatusStopped, ""))
	require.NoError(t, store.Finalize(ctx, rec.ID, StatusError, "late failure"))

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status, "a finalized record never changes status")
	assert.Empty(t, got.ErrorMessage)
}

func TestListRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.CreateRecord(ctx, "douyin", nil)
	require.NoError(t, err)
	_, err = store.CreateRecord(ctx, "xhs", nil)
	require.NoError(t, err)

	all, err := store.ListRecords(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	douyin, err := store.ListRecords(ctx, "douyin", 10)
	require.NoError(t, err)
	require.Len(t, douyin, 1)
	assert.Equal(t, a.ID, douyin[0].ID)
	assert.Empty(t, douyin[0].Videos, "listing omits per-item trails")
}

func TestDeleteRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.CreateRecord(ctx, "douyin", nil)
	require.NoError(t, err)
	require.NoError(t, store.AppendVideoRecord(ctx, rec.ID, VideoRecord{ItemID: "v1", Action: ActionSkipped}))

	require.NoError(t, store.DeleteRecord(ctx, rec.ID))
	_, err = store.GetRecord(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	assert.ErrorIs(t, store.DeleteRecord(ctx, rec.ID), ErrRecordNotFound)
}

func TestFixAbnormalRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	crashed, err := store.CreateRecord(ctx, "douyin", nil)
	require.NoError(t, err)
	done, err := store.CreateRecord(ctx, "douyin", nil)
	require.NoError(t, err)
	require.NoError(t, store.Finalize(ctx, done.ID, StatusCompleted, ""))

	n, err := store.FixAbnormalRecords(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := store.GetRecord(ctx, crashed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)

	kept, err := store.GetRecord(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, kept.Status, "finalized records are untouched")
}
