// Package douyin automates the Douyin web feed: a keyed cache fed by
// response interception, keyboard-driven navigation and an intercepted
// publish acknowledgement for comments.
package douyin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/browser"
	"github.com/feedpilot/feedpilot/internal/engine"
	"github.com/feedpilot/feedpilot/internal/feed"
	"github.com/feedpilot/feedpilot/internal/humantype"
	"github.com/feedpilot/feedpilot/internal/metrics"
	"github.com/feedpilot/feedpilot/internal/pacing"
	"github.com/feedpilot/feedpilot/internal/settings"
	"github.com/feedpilot/feedpilot/internal/storage"
)

// Selectors and keys observed on the Douyin web app.
const (
	feedURL = "https://www.douyin.com/?recommend=1"

	selActiveVideo     = `[data-e2e="feed-active-video"]`
	selFakeVideoImg    = ".recommend-fake-video-img"
	selCommentSection  = "#videoSideCard"
	selCommentTab      = "#semiTabcomment"
	selCommentIcon     = `[data-e2e="feed-comment-icon"]`
	selCommentInput    = ".comment-input-inner-container"
	selImageUploadBtn  = ".commentInput-right-ct > div > span:nth-child(2)"
	selVerifyPanel     = ".second-verify-panel"
	selSearchInput     = `[data-e2e="searchbar-input"]`
	selSearchResults   = "#search-result-container"
	selSearchCard      = ".search-result-card"
	attrActiveVideoID  = "data-e2e-vid"
	keyToggleComments  = "x"
	keyLike            = "z"
	keyAdvance         = "ArrowDown"
	searchFilterLabel  = "筛选"
	searchDefaultSort  = "综合排序"
	searchDefaultRange = "不限"
)

// Config bounds the intercepted waits and the comment-volume pre-filter.
type Config struct {
	CommentBand        [2]int        `mapstructure:"comment_band"`
	PublishAckTimeout  time.Duration `mapstructure:"publish_ack_timeout"`
	CommentListTimeout time.Duration `mapstructure:"comment_list_timeout"`
	VerifyAppearWait   time.Duration `mapstructure:"verify_appear_wait"`
	VerifyClearTimeout time.Duration `mapstructure:"verify_clear_timeout"`
	VideoLoadTimeout   time.Duration `mapstructure:"video_load_timeout"`
}

// DefaultConfig returns the observed production bounds.
func DefaultConfig() Config {
	return Config{
		CommentBand:        [2]int{40, 2000},
		PublishAckTimeout:  5 * time.Second,
		CommentListTimeout: 10 * time.Second,
		VerifyAppearWait:   3 * time.Second,
		VerifyClearTimeout: 60 * time.Second,
		VideoLoadTimeout:   5 * time.Second,
	}
}

type commentListResult struct {
	comments []feed.Comment
	err      error
}

// Platform implements engine.Platform for the Douyin web feed.
type Platform struct {
	driver browser.Driver
	kv     *storage.KV
	typer  *humantype.Typer
	pacer  *pacing.Pacer
	cfg    Config
	search settings.Settings
	logger *zap.Logger

	mu            sync.Mutex
	page          browser.Page
	cache         *feed.KeyedCache
	stopIntercept func()
	commentsCh    chan commentListResult
}

// New builds the platform. The settings value supplies the search flow
// configuration; policy filters stay with the session runner.
func New(driver browser.Driver, kv *storage.KV, typer *humantype.Typer, pacer *pacing.Pacer, cfg Config, s settings.Settings, logger *zap.Logger) *Platform {
	def := DefaultConfig()
	if cfg.CommentBand == [2]int{} {
		cfg.CommentBand = def.CommentBand
	}
	if cfg.PublishAckTimeout <= 0 {
		cfg.PublishAckTimeout = def.PublishAckTimeout
	}
	if cfg.CommentListTimeout <= 0 {
		cfg.CommentListTimeout = def.CommentListTimeout
	}
	if cfg.VerifyAppearWait <= 0 {
		cfg.VerifyAppearWait = def.VerifyAppearWait
	}
	if cfg.VerifyClearTimeout <= 0 {
		cfg.VerifyClearTimeout = def.VerifyClearTimeout
	}
	if cfg.VideoLoadTimeout <= 0 {
		cfg.VideoLoadTimeout = def.VideoLoadTimeout
	}
	return &Platform{
		driver: driver,
		kv:     kv,
		typer:  typer,
		pacer:  pacer,
		cfg:    cfg,
		search: s,
		logger: logger.With(zap.String("platform", "douyin")),
		cache:  feed.NewKeyedCache(),
	}
}

func (p *Platform) Name() string { return "douyin" }

// Launch restores the persisted session, opens the feed, installs
// response interception and runs the configured search flow.
func (p *Platform) Launch(ctx context.Context) error {
	state, _, err := p.kv.GetRaw(ctx, storage.KeyAuthDouyin)
	if err != nil {
		return fmt.Errorf("load douyin session state: %w", err)
	}

	page, err := p.driver.Launch(ctx, state)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	p.mu.Lock()
	p.page = page
	p.stopIntercept = page.OnResponse(p.handleResponse)
	p.mu.Unlock()

	if err := page.Navigate(ctx, feedURL); err != nil {
		return fmt.Errorf("open feed: %w", err)
	}

	if p.search.SearchEnabled && p.search.SearchWord != "" {
		if err := p.runSearch(ctx, page); err != nil {
			return fmt.Errorf("search flow: %w", err)
		}
	}

	// The recommend feed shows a placeholder image until the first
	// video is ready.
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.WaitForHidden(loadCtx, selFakeVideoImg); err != nil {
		p.logger.Warn("Feed placeholder never cleared, continuing", zap.Error(err))
	}
	p.logger.Info("Douyin feed ready")
	return nil
}

// Teardown writes the session state back and releases the browser.
func (p *Platform) Teardown(ctx context.Context) error {
	p.mu.Lock()
	page := p.page
	stop := p.stopIntercept
	p.page = nil
	p.stopIntercept = nil
	p.mu.Unlock()
	if page == nil {
		return nil
	}
	if stop != nil {
		stop()
	}

	if state, err := p.driver.SessionState(ctx); err != nil {
		p.logger.Warn("Failed to capture session state", zap.Error(err))
	} else if err := p.kv.Set(ctx, storage.KeyAuthDouyin, json.RawMessage(state)); err != nil {
		p.logger.Warn("Failed to persist session state", zap.Error(err))
	}
	return p.driver.Close(ctx)
}

// handleResponse feeds the item cache from feed and search responses.
// Runs on the driver's event goroutine; body reads are pushed to their
// own goroutine.
func (p *Platform) handleResponse(r browser.Response) {
	url := r.URL()
	isFeed := strings.Contains(url, feedEndpoint)
	isSearch := strings.Contains(url, searchEndpoint)
	if !isFeed && !isSearch {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		body, err := r.Body(ctx)
		if err != nil {
			p.logger.Debug("Failed to read intercepted response", zap.Error(err))
			return
		}
		var items []feedItem
		if isFeed {
			items = parseFeedItems(body)
		} else {
			items = parseSearchItems(body)
		}
		for _, v := range items {
			p.cache.Put(v.toContentItem())
		}
		if len(items) > 0 {
			p.logger.Debug("Cached intercepted items",
				zap.Int("count", len(items)),
				zap.Int("cache_size", p.cache.Len()))
		}
	}()
}

// NextItem resolves the on-screen video id and takes its data from the
// cache.
func (p *Platform) NextItem(ctx context.Context) (feed.ContentItem, bool, error) {
	page := p.currentPage()
	if page == nil {
		return feed.ContentItem{}, false, errors.New("page not launched")
	}

	els, err := page.QueryAll(ctx, selActiveVideo)
	if err != nil {
		return feed.ContentItem{}, false, fmt.Errorf("locate active video: %w", err)
	}
	if len(els) == 0 {
		return feed.ContentItem{}, false, nil
	}
	id, ok, err := els[len(els)-1].Attribute(ctx, attrActiveVideoID)
	if err != nil {
		return feed.ContentItem{}, false, fmt.Errorf("read active video id: %w", err)
	}
	if !ok || id == "" {
		return feed.ContentItem{}, false, nil
	}

	item, ok := p.cache.TakeByID(id)
	if !ok {
		metrics.CacheMisses.WithLabelValues(p.Name()).Inc()
		return feed.ContentItem{}, false, nil
	}
	metrics.CacheHits.WithLabelValues(p.Name()).Inc()
	return item, true, nil
}

// Advance closes the comment section if open and moves one video down.
func (p *Platform) Advance(ctx context.Context) error {
	page := p.currentPage()
	if page == nil {
		return errors.New("page not launched")
	}
	if err := p.CloseComments(ctx); err != nil {
		p.logger.Debug("Close comments before advance failed", zap.Error(err))
	}
	if err := page.Press(ctx, keyAdvance); err != nil {
		return fmt.Errorf("advance to next video: %w", err)
	}

	loadCtx, cancel := context.WithTimeout(ctx, p.cfg.VideoLoadTimeout)
	defer cancel()
	if _, err := page.WaitForSelector(loadCtx, selActiveVideo); err != nil {
		p.logger.Debug("Next video load wait expired, continuing")
	}
	return nil
}

// Eligible rejects non-standard item kinds and items outside the
// comment-volume band.
func (p *Platform) Eligible(item feed.ContentItem) (bool, string) {
	if item.RawKind != "0" {
		return false, "non-standard item kind " + item.RawKind
	}
	if item.CommentCount < p.cfg.CommentBand[0] || item.CommentCount > p.cfg.CommentBand[1] {
		return false, fmt.Sprintf("comment count %d outside band %d-%d",
			item.CommentCount, p.cfg.CommentBand[0], p.cfg.CommentBand[1])
	}
	return true, ""
}

// Like presses the like shortcut.
func (p *Platform) Like(ctx context.Context, _ feed.ContentItem) error {
	page := p.currentPage()
	if page == nil {
		return errors.New("page not launched")
	}
	if err := page.Press(ctx, keyLike); err != nil {
		return err
	}
	return p.pacer.SleepRange(ctx, 500*time.Millisecond, 500*time.Millisecond)
}

// OpenComments arms the comment-list interception and opens the comment
// section. The intercepted data is consumed by FetchComments.
func (p *Platform) OpenComments(ctx context.Context, _ feed.ContentItem) error {
	page := p.currentPage()
	if page == nil {
		return errors.New("page not launched")
	}

	ch := make(chan commentListResult, 1)
	p.mu.Lock()
	p.commentsCh = ch
	p.mu.Unlock()
	go func() {
		resp, err := browser.AwaitResponse(ctx, page, func(r browser.Response) bool {
			return strings.Contains(r.URL(), commentListEndpoint)
		}, p.cfg.CommentListTimeout)
		if err != nil {
			ch <- commentListResult{err: err}
			return
		}
		body, err := resp.Body(ctx)
		if err != nil {
			ch <- commentListResult{err: err}
			return
		}
		var parsed commentListResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			ch <- commentListResult{err: fmt.Errorf("decode comment list: %w", err)}
			return
		}
		ch <- commentListResult{comments: parsed.toComments()}
	}()

	return page.Press(ctx, keyToggleComments)
}

// FetchComments returns the comment data captured when the section
// opened. An expired wait is an error; the caller treats it as inactive.
func (p *Platform) FetchComments(ctx context.Context, _ feed.ContentItem) ([]feed.Comment, error) {
	p.mu.Lock()
	ch := p.commentsCh
	p.mu.Unlock()
	if ch == nil {
		return nil, errors.New("comment section not opened")
	}
	select {
	case res := <-ch:
		return res.comments, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PostComment types the text, attaches images, submits and awaits the
// publish acknowledgement.
func (p *Platform) PostComment(ctx context.Context, _ feed.ContentItem, text string, imagePaths []string) error {
	page := p.currentPage()
	if page == nil {
		return errors.New("page not launched")
	}

	// Linger in the comment section before typing.
	if err := p.pacer.SleepRange(ctx, 2*time.Second, 4*time.Second); err != nil {
		return err
	}

	inputCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	input, err := page.WaitForSelector(inputCtx, selCommentInput)
	cancel()
	if err != nil {
		return fmt.Errorf("comment input not found: %w", err)
	}
	if err := input.Click(ctx); err != nil {
		return fmt.Errorf("focus comment input: %w", err)
	}
	if err := p.pacer.SleepRange(ctx, time.Second, time.Second); err != nil {
		return err
	}

	err = p.typer.Type(ctx, text, func(ctx context.Context, ch string) error {
		for _, r := range ch {
			if err := page.Type(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("type comment: %w", err)
	}
	if err := p.pacer.SleepRange(ctx, time.Second, 3*time.Second); err != nil {
		return err
	}

	if len(imagePaths) > 0 {
		if err := p.attachImages(ctx, page, imagePaths); err != nil {
			// An image failure cancels the whole submission.
			return fmt.Errorf("attach comment image: %w", err)
		}
	}

	if err := p.pacer.SleepRange(ctx, 500*time.Millisecond, time.Second); err != nil {
		return err
	}

	ackCh := make(chan error, 1)
	go func() {
		resp, err := browser.AwaitResponse(ctx, page, func(r browser.Response) bool {
			return strings.Contains(r.URL(), publishEndpoint)
		}, p.cfg.PublishAckTimeout)
		if err != nil {
			ackCh <- fmt.Errorf("publish not acknowledged: %w", err)
			return
		}
		body, err := resp.Body(ctx)
		if err != nil {
			ackCh <- fmt.Errorf("read publish response: %w", err)
			return
		}
		var parsed publishResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			ackCh <- fmt.Errorf("decode publish response: %w", err)
			return
		}
		if parsed.StatusCode != 0 {
			ackCh <- fmt.Errorf("publish rejected with status_code %d", parsed.StatusCode)
			return
		}
		ackCh <- nil
	}()

	if err := page.Press(ctx, "Enter"); err != nil {
		return fmt.Errorf("submit comment: %w", err)
	}

	ackErr := <-ackCh
	if ackErr == nil {
		return nil
	}
	p.logger.Warn("Publish acknowledgement failed, checking for verification", zap.Error(ackErr))
	return p.handleVerification(ctx, page, ackErr)
}

// handleVerification suspends while a verification challenge is on
// screen. A cleared challenge counts as success without resubmitting.
func (p *Platform) handleVerification(ctx context.Context, page browser.Page, ackErr error) error {
	appearCtx, cancel := context.WithTimeout(ctx, p.cfg.VerifyAppearWait)
	_, err := page.WaitForSelector(appearCtx, selVerifyPanel)
	cancel()
	if err != nil {
		// No challenge; the submission simply failed.
		return ackErr
	}

	p.logger.Warn("Verification challenge detected, waiting for manual completion")
	clearCtx, cancel := context.WithTimeout(ctx, p.cfg.VerifyClearTimeout)
	defer cancel()
	if err := page.WaitForHidden(clearCtx, selVerifyPanel); err != nil {
		return engine.ErrVerificationTimeout
	}
	p.logger.Info("Verification challenge cleared")
	return nil
}

// CloseComments collapses the comment section, falling back to the
// comment icon when the shortcut leaves it open.
func (p *Platform) CloseComments(ctx context.Context) error {
	page := p.currentPage()
	if page == nil {
		return errors.New("page not launched")
	}
	open, err := p.commentSectionOpen(ctx, page)
	if err != nil || !open {
		return err
	}

	if tab, ok, _ := page.Query(ctx, selCommentTab); ok {
		if err := tab.Click(ctx); err == nil {
			if err := p.pacer.SleepRange(ctx, time.Second, 2*time.Second); err != nil {
				return err
			}
		}
	}
	if err := page.Press(ctx, keyToggleComments); err != nil {
		return err
	}
	if err := p.pacer.SleepRange(ctx, 500*time.Millisecond, 500*time.Millisecond); err != nil {
		return err
	}

	open, err = p.commentSectionOpen(ctx, page)
	if err != nil || !open {
		return err
	}
	// Shortcut did not work; click the comment icon instead.
	if icon, ok, _ := page.Query(ctx, selCommentIcon); ok {
		if err := icon.Click(ctx); err != nil {
			return err
		}
	}
	return p.pacer.SleepRange(ctx, 500*time.Millisecond, 500*time.Millisecond)
}

func (p *Platform) commentSectionOpen(ctx context.Context, page browser.Page) (bool, error) {
	el, ok, err := page.Query(ctx, selCommentSection)
	if err != nil || !ok {
		return false, err
	}
	return el.Visible(ctx)
}

// runSearch types the configured query and opens the first result,
// applying sort and recency filters when they differ from the defaults.
func (p *Platform) runSearch(ctx context.Context, page browser.Page) error {
	input, err := page.WaitForSelector(ctx, selSearchInput)
	if err != nil {
		return fmt.Errorf("search input not found: %w", err)
	}
	if err := input.Click(ctx); err != nil {
		return err
	}
	err = p.typer.Type(ctx, p.search.SearchWord, func(ctx context.Context, ch string) error {
		for _, r := range ch {
			if err := page.Type(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := page.Press(ctx, "Enter"); err != nil {
		return err
	}
	if _, err := page.WaitForSelector(ctx, selSearchResults); err != nil {
		return fmt.Errorf("search results never appeared: %w", err)
	}

	if err := p.applySearchFilter(ctx, page, p.search.SearchSort, searchDefaultSort); err != nil {
		return err
	}
	if err := p.applySearchFilter(ctx, page, p.search.SearchTimeRange, searchDefaultRange); err != nil {
		return err
	}

	if err := p.pacer.SleepRange(ctx, time.Second, 2*time.Second); err != nil {
		return err
	}
	if _, err := page.WaitForSelector(ctx, selSearchResults); err != nil {
		return err
	}
	cards, err := page.QueryAll(ctx, selSearchCard)
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		return errors.New("no search results to open")
	}
	p.logger.Info("Opening first search result", zap.String("query", p.search.SearchWord))
	return cards[0].Click(ctx)
}

func (p *Platform) applySearchFilter(ctx context.Context, page browser.Page, value, defaultValue string) error {
	if value == "" || value == defaultValue {
		return nil
	}
	menu, ok, err := page.QueryByText(ctx, searchFilterLabel)
	if err != nil || !ok {
		return fmt.Errorf("search filter menu not found")
	}
	if err := menu.Hover(ctx); err != nil {
		return err
	}
	if err := p.pacer.SleepRange(ctx, time.Second, 2*time.Second); err != nil {
		return err
	}
	option, ok, err := page.QueryByText(ctx, value)
	if err != nil || !ok {
		return fmt.Errorf("search filter option %q not found", value)
	}
	return option.Click(ctx)
}

func (p *Platform) attachImages(ctx context.Context, page browser.Page, paths []string) error {
	btnCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	btn, err := page.WaitForSelector(btnCtx, selImageUploadBtn)
	cancel()
	if err != nil {
		return fmt.Errorf("image upload control not found: %w", err)
	}
	if err := btn.SetFiles(ctx, paths); err != nil {
		return err
	}
	// Give the preview time to render before submitting.
	return p.pacer.SleepRange(ctx, 2*time.Second, 2*time.Second)
}

func (p *Platform) currentPage() browser.Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}
