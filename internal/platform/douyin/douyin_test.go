package douyin

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/browser/browsertest"
	"github.com/feedpilot/feedpilot/internal/engine"
	"github.com/feedpilot/feedpilot/internal/feed"
	"github.com/feedpilot/feedpilot/internal/humantype"
	"github.com/feedpilot/feedpilot/internal/pacing"
	"github.com/feedpilot/feedpilot/internal/settings"
	"github.com/feedpilot/feedpilot/internal/storage"
)

func instantTyper() *humantype.Typer {
	return humantype.NewWithRand(humantype.Options{}, rand.New(rand.NewSource(1)),
		func(ctx context.Context, _ time.Duration) error { return ctx.Err() })
}

func newFixture(t *testing.T, cfg Config, s settings.Settings) (*Platform, *browsertest.Page, *browsertest.Driver, *storage.KV) {
	t.Helper()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	kv, err := storage.NewKV(db, zap.NewNop())
	require.NoError(t, err)

	page := browsertest.NewPage()
	driver := browsertest.NewDriver(page)
	p := New(driver, kv, instantTyper(), pacing.NewInstant(), cfg, s, zap.NewNop())
	return p, page, driver, kv
}

func launched(t *testing.T, cfg Config, s settings.Settings) (*Platform, *browsertest.Page, *browsertest.Driver, *storage.KV) {
	t.Helper()
	p, page, driver, kv := newFixture(t, cfg, s)
	require.NoError(t, p.Launch(context.Background()))
	return p, page, driver, kv
}

// emitWhenListening waits for the one-shot await listener to register
// before delivering the response, as network latency would in production.
func emitWhenListening(page *browsertest.Page, listeners int, r browsertest.Response) {
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for page.ListenerCount() < listeners && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}
		page.EmitResponse(r)
	}()
}

func testItem(id, kind string, commentCount int) feed.ContentItem {
	return feed.ContentItem{
		ID:           id,
		AuthorName:   "author-" + id,
		Description:  "desc",
		CommentCount: commentCount,
		RawKind:      kind,
	}
}

func videoJSON(id, desc string, commentCount, awemeType int) string {
	return fmt.Sprintf(`{
		"aweme_id": %q,
		"desc": %q,
		"aweme_type": %d,
		"share_url": "https://v.douyin.com/%s",
		"author": {"nickname": "author-%s"},
		"video_tag": [{"tag_name": "tag1"}, {"tag_name": ""}],
		"statistics": {"comment_count": %d}
	}`, id, desc, awemeType, id, id, commentCount)
}

func feedBody(items ...string) []byte {
	out := `{"aweme_list":[`
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return []byte(out + `]}`)
}

func TestLaunchRestoresSessionAndNavigates(t *testing.T) {
	p, page, driver, kv := newFixture(t, Config{}, settings.Default())
	require.NoError(t, kv.Set(context.Background(), storage.KeyAuthDouyin,
		json.RawMessage(`{"cookies":[{"name":"s"}]}`)))

	require.NoError(t, p.Launch(context.Background()))

	assert.JSONEq(t, `{"cookies":[{"name":"s"}]}`, string(driver.LaunchedWith))
	require.Len(t, page.Navigations, 1)
	assert.Contains(t, page.Navigations[0], "douyin.com")
	assert.Equal(t, 1, page.ListenerCount(), "feed interception installed")
}

func TestInterceptionFillsCache(t *testing.T) {
	p, page, _, _ := launched(t, Config{}, settings.Default())

	page.EmitResponse(browsertest.Response{
		RespURL:  "https://www.douyin.com/aweme/v1/web/tab/feed/?device=pc",
		RespBody: feedBody(videoJSON("v1", "cat video", 100, 0), videoJSON("v2", "dog", 50, 0)),
	})

	require.Eventually(t, func() bool { return p.cache.Len() == 2 },
		time.Second, 5*time.Millisecond)

	item, ok := p.cache.TakeByID("v1")
	require.True(t, ok)
	assert.Equal(t, "author-v1", item.AuthorName)
	assert.Equal(t, "cat video", item.Description)
	assert.Equal(t, []string{"tag1"}, item.Tags, "empty tag names are dropped")
	assert.Equal(t, 100, item.CommentCount)
	assert.Equal(t, "0", item.RawKind)
}

func TestInterceptionParsesSearchResponses(t *testing.T) {
	p, page, _, _ := launched(t, Config{}, settings.Default())

	body := fmt.Sprintf(`{"data":[{"aweme_info":%s},{"other":1}]}`, videoJSON("s1", "found", 80, 0))
	page.EmitResponse(browsertest.Response{
		RespURL:  "https://www.douyin.com/aweme/v1/web/general/search/single/?q=x",
		RespBody: []byte(body),
	})

	require.Eventually(t, func() bool { return p.cache.Len() == 1 },
		time.Second, 5*time.Millisecond)
	_, ok := p.cache.TakeByID("s1")
	assert.True(t, ok)
}

func TestInterceptionIgnoresOtherEndpoints(t *testing.T) {
	p, page, _, _ := launched(t, Config{}, settings.Default())

	page.EmitResponse(browsertest.Response{
		RespURL:  "https://www.douyin.com/aweme/v1/web/other/",
		RespBody: feedBody(videoJSON("v1", "x", 100, 0)),
	})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, p.cache.Len())
}

func TestNextItemLooksUpActiveVideo(t *testing.T) {
	p, page, _, _ := launched(t, Config{}, settings.Default())

	page.EmitResponse(browsertest.Response{
		RespURL:  "https://www.douyin.com/aweme/v1/web/tab/feed/",
		RespBody: feedBody(videoJSON("v1", "cat", 100, 0)),
	})
	require.Eventually(t, func() bool { return p.cache.Len() == 1 },
		time.Second, 5*time.Millisecond)

	// Two stacked feed elements; the newest (last) is the active one.
	page.SetElement(selActiveVideo,
		&browsertest.Element{Attrs: map[string]string{attrActiveVideoID: "old"}},
		&browsertest.Element{Attrs: map[string]string{attrActiveVideoID: "v1"}},
	)

	item, ok, err := p.NextItem(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", item.ID)

	_, ok, err = p.NextItem(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "take is destructive; second lookup misses")
}

func TestNextItemWithoutActiveElement(t *testing.T) {
	p, _, _, _ := launched(t, Config{}, settings.Default())

	_, ok, err := p.NextItem(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEligibleCommentBand(t *testing.T) {
	p, _, _, _ := launched(t, Config{}, settings.Default())

	cases := []struct {
		count int
		kind  string
		want  bool
	}{
		{100, "0", true},
		{40, "0", true},
		{2000, "0", true},
		{39, "0", false},
		{2001, "0", false},
		{100, "2", false},
	}
	for _, tc := range cases {
		ok, reason := p.Eligible(testItem("v", tc.kind, tc.count))
		assert.Equal(t, tc.want, ok, "count=%d kind=%s reason=%s", tc.count, tc.kind, reason)
		if !tc.want {
			assert.NotEmpty(t, reason)
		}
	}
}

func TestAdvancePressesArrowDown(t *testing.T) {
	p, page, _, _ := launched(t, Config{VideoLoadTimeout: 20 * time.Millisecond}, settings.Default())
	page.SetElement(selActiveVideo, &browsertest.Element{})

	require.NoError(t, p.Advance(context.Background()))
	assert.Contains(t, page.Pressed, keyAdvance)
}

func TestOpenAndFetchComments(t *testing.T) {
	p, page, _, _ := launched(t, Config{}, settings.Default())

	now := time.Now().Unix()
	page.OnPress = func(key string) {
		if key == keyToggleComments {
			emitWhenListening(page, 2, browsertest.Response{
				RespURL: "https://www.douyin.com/aweme/v1/web/comment/list/?id=v1",
				RespBody: []byte(fmt.Sprintf(
					`{"comments":[{"text":"first","create_time":%d,"user":{"nickname":"u1"}}]}`, now-3600)),
			})
		}
	}

	require.NoError(t, p.OpenComments(context.Background(), testItem("v1", "0", 100)))

	comments, err := p.FetchComments(context.Background(), testItem("v1", "0", 100))
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "first", comments[0].Text)
	assert.Equal(t, "u1", comments[0].Author)
	assert.WithinDuration(t, time.Unix(now-3600, 0), comments[0].CreatedAt, time.Second)
}

func TestFetchCommentsTimesOut(t *testing.T) {
	p, _, _, _ := launched(t, Config{CommentListTimeout: 30 * time.Millisecond}, settings.Default())

	require.NoError(t, p.OpenComments(context.Background(), testItem("v1", "0", 100)))
	_, err := p.FetchComments(context.Background(), testItem("v1", "0", 100))
	assert.Error(t, err, "no comment-list response within the bound")
}

func TestPostCommentSuccess(t *testing.T) {
	p, page, _, _ := launched(t, Config{}, settings.Default())
	page.SetElement(selCommentInput, &browsertest.Element{})
	page.OnPress = func(key string) {
		if key == "Enter" {
			emitWhenListening(page, 2, browsertest.Response{
				RespURL:  "https://www.douyin.com/aweme/v1/web/comment/publish?id=v1",
				RespBody: []byte(`{"status_code":0}`),
			})
		}
	}

	err := p.PostComment(context.Background(), testItem("v1", "0", 100), "nice cat", nil)
	require.NoError(t, err)
	assert.Equal(t, "nice cat", string(page.Typed), "typed character by character")
	assert.Contains(t, page.Pressed, "Enter")
}

func TestPostCommentRejectedStatus(t *testing.T) {
	p, page, _, _ := launched(t, Config{
		PublishAckTimeout: 200 * time.Millisecond,
		VerifyAppearWait:  20 * time.Millisecond,
	}, settings.Default())
	page.SetElement(selCommentInput, &browsertest.Element{})
	page.OnPress = func(key string) {
		if key == "Enter" {
			emitWhenListening(page, 2, browsertest.Response{
				RespURL:  "https://www.douyin.com/aweme/v1/web/comment/publish",
				RespBody: []byte(`{"status_code":3}`),
			})
		}
	}

	err := p.PostComment(context.Background(), testItem("v1", "0", 100), "x", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, engine.ErrVerificationTimeout)
	assert.Contains(t, err.Error(), "status_code 3")
}

func TestPostCommentNoAckTimesOut(t *testing.T) {
	p, page, _, _ := launched(t, Config{
		PublishAckTimeout: 30 * time.Millisecond,
		VerifyAppearWait:  20 * time.Millisecond,
	}, settings.Default())
	page.SetElement(selCommentInput, &browsertest.Element{})

	err := p.PostComment(context.Background(), testItem("v1", "0", 100), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish not acknowledged")
}

func TestPostCommentVerificationCleared(t *testing.T) {
	p, page, _, _ := launched(t, Config{
		PublishAckTimeout:  30 * time.Millisecond,
		VerifyAppearWait:   200 * time.Millisecond,
		VerifyClearTimeout: time.Second,
	}, settings.Default())
	page.SetElement(selCommentInput, &browsertest.Element{})
	page.SetElement(selVerifyPanel, &browsertest.Element{})
	go func() {
		time.Sleep(100 * time.Millisecond)
		page.RemoveElement(selVerifyPanel)
	}()

	err := p.PostComment(context.Background(), testItem("v1", "0", 100), "x", nil)
	assert.NoError(t, err, "a cleared challenge counts as success without resubmitting")
}

func TestPostCommentVerificationTimeoutIsFatal(t *testing.T) {
	p, page, _, _ := launched(t, Config{
		PublishAckTimeout:  30 * time.Millisecond,
		VerifyAppearWait:   50 * time.Millisecond,
		VerifyClearTimeout: 50 * time.Millisecond,
	}, settings.Default())
	page.SetElement(selCommentInput, &browsertest.Element{})
	page.SetElement(selVerifyPanel, &browsertest.Element{})

	err := p.PostComment(context.Background(), testItem("v1", "0", 100), "x", nil)
	assert.ErrorIs(t, err, engine.ErrVerificationTimeout)
}

func TestPostCommentAttachesImage(t *testing.T) {
	p, page, _, _ := launched(t, Config{}, settings.Default())
	page.SetElement(selCommentInput, &browsertest.Element{})
	upload := &browsertest.Element{}
	page.SetElement(selImageUploadBtn, upload)
	page.OnPress = func(key string) {
		if key == "Enter" {
			emitWhenListening(page, 2, browsertest.Response{
				RespURL:  "https://www.douyin.com/aweme/v1/web/comment/publish",
				RespBody: []byte(`{"status_code":0}`),
			})
		}
	}

	err := p.PostComment(context.Background(), testItem("v1", "0", 100), "x", []string{"/img/cat.png"})
	require.NoError(t, err)
	require.Len(t, upload.SetPaths, 1)
	assert.Equal(t, []string{"/img/cat.png"}, upload.SetPaths[0])
}

func TestCloseCommentsFallsBackToIcon(t *testing.T) {
	p, page, _, _ := launched(t, Config{}, settings.Default())
	page.SetElement(selCommentSection, &browsertest.Element{})
	page.SetElement(selCommentTab, &browsertest.Element{})
	icon := &browsertest.Element{}
	page.SetElement(selCommentIcon, icon)

	require.NoError(t, p.CloseComments(context.Background()))
	assert.Contains(t, page.Pressed, keyToggleComments)
	assert.Equal(t, 1, icon.Clicks, "section stayed open so the icon is clicked")
}

func TestCloseCommentsNoopWhenClosed(t *testing.T) {
	p, page, _, _ := launched(t, Config{}, settings.Default())
	page.SetElement(selCommentSection, &browsertest.Element{Hidden: true})

	require.NoError(t, p.CloseComments(context.Background()))
	assert.NotContains(t, page.Pressed, keyToggleComments)
}

func TestTeardownPersistsSessionState(t *testing.T) {
	p, _, driver, kv := launched(t, Config{}, settings.Default())
	driver.State = []byte(`{"cookies":[{"name":"fresh"}]}`)

	require.NoError(t, p.Teardown(context.Background()))
	assert.True(t, driver.Closed)

	raw, ok, err := kv.GetRaw(context.Background(), storage.KeyAuthDouyin)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"cookies":[{"name":"fresh"}]}`, string(raw))
}

func TestSearchFlowOpensFirstResult(t *testing.T) {
	s := settings.Default()
	s.SearchEnabled = true
	s.SearchWord = "cats"
	s.SearchSort = "最多点赞"
	p, page, _, _ := newFixture(t, Config{}, s)

	page.SetElement(selSearchInput, &browsertest.Element{})
	page.SetElement(selSearchResults, &browsertest.Element{})
	card := &browsertest.Element{}
	page.SetElement(selSearchCard, card)
	menu := &browsertest.Element{}
	page.SetTextElement(searchFilterLabel, menu)
	sortOpt := &browsertest.Element{}
	page.SetTextElement("最多点赞", sortOpt)

	require.NoError(t, p.Launch(context.Background()))

	assert.Equal(t, "cats", string(page.Typed))
	assert.Equal(t, 1, menu.Hovers)
	assert.Equal(t, 1, sortOpt.Clicks)
	assert.Equal(t, 1, card.Clicks)
}
