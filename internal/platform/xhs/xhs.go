// Package xhs automates the Xiaohongshu explore grid: intercepted feed and
// search responses fill a FIFO note queue, matched notes are opened by
// clicking their explore link and comments are confirmed through the
// submit button state.
package xhs

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
	"github.com/feedpilot/feedpilot/internal/feed"
	"github.com/feedpilot/feedpilot/internal/humantype"
	"github.com/feedpilot/feedpilot/internal/metrics"
	"github.com/feedpilot/feedpilot/internal/pacing"
	"github.com/feedpilot/feedpilot/internal/settings"
	"github.com/feedpilot/feedpilot/internal/storage"
)

// Selectors and keys observed on the Xiaohongshu web app.
const (
	homeURL = "https://www.xiaohongshu.com"

	selNoteItem       = ".note-item"
	selCommentSection = ".comments-container"
	selCommentTrigger = ".content-edit"
	selCommentInput   = ".content-input"
	selSubmitIdle     = ".not-active"
	selLikeButton     = ".like-wrapper"
	selSearchInput    = "#search-input"
	selSearchResults  = ".feeds-container"
	keyClose          = "Escape"

	searchFilterLabel  = "筛选"
	searchDefaultSort  = "综合排序"
	searchDefaultRange = "不限"
)

// Config bounds the waits around note navigation and comment submission.
type Config struct {
	NoteClickTimeout     time.Duration `mapstructure:"note_click_timeout"`
	CommentOpenTimeout   time.Duration `mapstructure:"comment_open_timeout"`
	LikeTimeout          time.Duration `mapstructure:"like_timeout"`
	SubmitConfirmTimeout time.Duration `mapstructure:"submit_confirm_timeout"`
	ContentLoadTimeout   time.Duration `mapstructure:"content_load_timeout"`
	ScrollDistance       int           `mapstructure:"scroll_distance"`
}

// DefaultConfig returns the observed production bounds.
func DefaultConfig() Config {
	return Config{
		NoteClickTimeout:     5 * time.Second,
		CommentOpenTimeout:   3 * time.Second,
		LikeTimeout:          3 * time.Second,
		SubmitConfirmTimeout: 5 * time.Second,
		ContentLoadTimeout:   5 * time.Second,
		ScrollDistance:       1000,
	}
}

// Platform implements engine.Platform for the Xiaohongshu explore grid.
// It also implements engine.ItemOpener: notes live in a grid and must be
// clicked into before engagement.
type Platform struct {
	driver browser.Driver
	kv     *storage.KV
	typer  *humantype.Typer
	pacer  *pacing.Pacer
	cfg    Config
	search settings.Settings
	logger *zap.Logger

	queue *feed.Queue

	mu            sync.Mutex
	page          browser.Page
	stopIntercept func()
}

// New builds the platform. The settings value supplies the search flow
// configuration; policy filters stay with the session runner.
func New(driver browser.Driver, kv *storage.KV, typer *humantype.Typer, pacer *pacing.Pacer, cfg Config, s settings.Settings, logger *zap.Logger) *Platform {
	def := DefaultConfig()
	if cfg.NoteClickTimeout <= 0 {
		cfg.NoteClickTimeout = def.NoteClickTimeout
	}
	if cfg.CommentOpenTimeout <= 0 {
		cfg.CommentOpenTimeout = def.CommentOpenTimeout
	}
	if cfg.LikeTimeout <= 0 {
		cfg.LikeTimeout = def.LikeTimeout
	}
	if cfg.SubmitConfirmTimeout <= 0 {
		cfg.SubmitConfirmTimeout = def.SubmitConfirmTimeout
	}
	if cfg.ContentLoadTimeout <= 0 {
		cfg.ContentLoadTimeout = def.ContentLoadTimeout
	}
	if cfg.ScrollDistance <= 0 {
		cfg.ScrollDistance = def.ScrollDistance
	}
	return &Platform{
		driver: driver,
		kv:     kv,
		typer:  typer,
		pacer:  pacer,
		cfg:    cfg,
		search: s,
		logger: logger.With(zap.String("platform", "xhs")),
		queue:  feed.NewQueue(),
	}
}

func (p *Platform) Name() string { return "xhs" }

// Launch restores the persisted session, opens the explore grid, installs
// response interception and runs the configured search flow.
func (p *Platform) Launch(ctx context.Context) error {
	state, _, err := p.kv.GetRaw(ctx, storage.KeyAuthXHS)
	if err != nil {
		return fmt.Errorf("load xhs session state: %w", err)
	}

	page, err := p.driver.Launch(ctx, state)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	p.mu.Lock()
	p.page = page
	p.stopIntercept = page.OnResponse(p.handleResponse)
	p.mu.Unlock()

	if err := page.Navigate(ctx, homeURL); err != nil {
		return fmt.Errorf("open explore grid: %w", err)
	}

	if p.search.SearchEnabled && p.search.SearchWord != "" {
		if err := p.runSearch(ctx, page); err != nil {
			return fmt.Errorf("search flow: %w", err)
		}
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := page.WaitForSelector(loadCtx, selNoteItem); err != nil {
		p.logger.Warn("Note grid never rendered, continuing", zap.Error(err))
	}
	p.logger.Info("Xiaohongshu grid ready")
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
	} else if err := p.kv.Set(ctx, storage.KeyAuthXHS, json.RawMessage(state)); err != nil {
		p.logger.Warn("Failed to persist session state", zap.Error(err))
	}
	return p.driver.Close(ctx)
}

// handleResponse enqueues notes from homefeed and search responses. Runs
// on the driver's event goroutine; body reads are pushed to their own
// goroutine.
func (p *Platform) handleResponse(r browser.Response) {
	url := r.URL()
	if !strings.Contains(url, homefeedEndpoint) && !strings.Contains(url, searchEndpoint) {
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
		items := parseNoteItems(body)
		for _, n := range items {
			p.queue.Enqueue(n.toContentItem())
		}
		if len(items) > 0 {
			p.logger.Debug("Enqueued intercepted notes",
				zap.Int("count", len(items)),
				zap.Int("queue_size", p.queue.Len()))
		}
	}()
}

// NextItem pops the oldest intercepted note. Unlike the full-screen feed
// platforms there is no on-screen position to resolve; the queue order is
// the processing order.
func (p *Platform) NextItem(_ context.Context) (feed.ContentItem, bool, error) {
	item, ok := p.queue.Dequeue()
	if !ok {
		metrics.CacheMisses.WithLabelValues(p.Name()).Inc()
		return feed.ContentItem{}, false, nil
	}
	metrics.CacheHits.WithLabelValues(p.Name()).Inc()
	return item, true, nil
}

// Advance leaves any open note and scrolls the grid in steps to trigger
// the next homefeed page load.
func (p *Platform) Advance(ctx context.Context) error {
	page := p.currentPage()
	if page == nil {
		return errors.New("page not launched")
	}
	if err := page.Press(ctx, keyClose); err != nil {
		return err
	}
	if err := p.pacer.SleepRange(ctx, 500*time.Millisecond, 500*time.Millisecond); err != nil {
		return err
	}

	const steps = 5
	step := p.cfg.ScrollDistance / steps
	for i := 0; i < steps; i++ {
		if err := page.Scroll(ctx, step); err != nil {
			return err
		}
		if err := p.pacer.SleepRange(ctx, 200*time.Millisecond, 200*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// Eligible accepts every note; the explore grid carries no comment-volume
// data to pre-filter on.
func (p *Platform) Eligible(feed.ContentItem) (bool, string) {
	return true, ""
}

// OpenItem clicks through to the note's detail view. The anchor carries
// the note id and its xsec token in the href.
func (p *Platform) OpenItem(ctx context.Context, item feed.ContentItem) error {
	page := p.currentPage()
	if page == nil {
		return errors.New("page not launched")
	}
	clickCtx, cancel := context.WithTimeout(ctx, p.cfg.NoteClickTimeout)
	defer cancel()
	link, err := page.WaitForSelector(clickCtx, fmt.Sprintf(`a[href*="%s?xsec_token"]`, item.ID))
	if err != nil {
		return fmt.Errorf("note link not on screen: %w", err)
	}
	if err := link.Click(ctx); err != nil {
		return fmt.Errorf("open note: %w", err)
	}
	return p.pacer.SleepRange(ctx, time.Second, time.Second)
}

// Like clicks the like control on the open note.
func (p *Platform) Like(ctx context.Context, _ feed.ContentItem) error {
	page := p.currentPage()
	if page == nil {
		return errors.New("page not launched")
	}
	likeCtx, cancel := context.WithTimeout(ctx, p.cfg.LikeTimeout)
	defer cancel()
	btn, err := page.WaitForSelector(likeCtx, selLikeButton)
	if err != nil {
		return fmt.Errorf("like control not found: %w", err)
	}
	if err := btn.Click(ctx); err != nil {
		return err
	}
	return p.pacer.SleepRange(ctx, 500*time.Millisecond, 500*time.Millisecond)
}

// OpenComments clicks the comment trigger under the open note.
func (p *Platform) OpenComments(ctx context.Context, _ feed.ContentItem) error {
	page := p.currentPage()
	if page == nil {
		return errors.New("page not launched")
	}
	openCtx, cancel := context.WithTimeout(ctx, p.cfg.CommentOpenTimeout)
	defer cancel()
	trigger, err := page.WaitForSelector(openCtx, selCommentTrigger)
	if err != nil {
		return fmt.Errorf("comment trigger not found: %w", err)
	}
	if err := trigger.Click(ctx); err != nil {
		return fmt.Errorf("open comment section: %w", err)
	}
	return p.pacer.SleepRange(ctx, time.Second, time.Second)
}

// FetchComments is unsupported: the explore grid exposes no interceptable
// comment-list endpoint, so the activity check cannot run here.
func (p *Platform) FetchComments(context.Context, feed.ContentItem) ([]feed.Comment, error) {
	return nil, errors.New("comment sampling not available on xiaohongshu")
}

// PostComment types the text, submits and confirms through the submit
// button returning to its idle state. Image attachments are not supported
// on this surface.
func (p *Platform) PostComment(ctx context.Context, _ feed.ContentItem, text string, imagePaths []string) error {
	page := p.currentPage()
	if page == nil {
		return errors.New("page not launched")
	}
	if len(imagePaths) > 0 {
		p.logger.Warn("Image comments are not supported here, posting text only")
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
	if err := p.pacer.SleepRange(ctx, 500*time.Millisecond, time.Second); err != nil {
		return err
	}

	if err := page.Press(ctx, "Enter"); err != nil {
		return fmt.Errorf("submit comment: %w", err)
	}
	if err := p.pacer.SleepRange(ctx, time.Second, time.Second); err != nil {
		return err
	}

	// The submit button drops back to its inactive class once the
	// comment has gone through and the input has cleared.
	confirmCtx, cancel := context.WithTimeout(ctx, p.cfg.SubmitConfirmTimeout)
	defer cancel()
	if _, err := page.WaitForSelector(confirmCtx, selSubmitIdle); err != nil {
		return fmt.Errorf("comment submission not confirmed: %w", err)
	}
	return nil
}

// CloseComments collapses the comment section with Escape.
func (p *Platform) CloseComments(ctx context.Context) error {
	page := p.currentPage()
	if page == nil {
		return errors.New("page not launched")
	}
	open, err := p.commentSectionOpen(ctx, page)
	if err != nil || !open {
		return err
	}
	if err := page.Press(ctx, keyClose); err != nil {
		return err
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

// runSearch types the configured query and applies sort and recency
// filters when they differ from the defaults. Unlike the video feed there
// is no result to click; the search results replace the grid.
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
	return p.pacer.SleepRange(ctx, time.Second, 2*time.Second)
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

func (p *Platform) currentPage() browser.Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}
