// Package chromedriver implements the browser abstraction on top of a
// real Chrome instance driven over the DevTools protocol.
package chromedriver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/browser"
)

// Config controls the Chrome process.
type Config struct {
	// Headless runs without a visible window. Feed sites fingerprint
	// headless Chrome aggressively, so the default is headed.
	Headless bool `mapstructure:"headless" json:"headless"`
	// UserDataDir persists the Chrome profile between runs. Empty uses a
	// throwaway profile.
	UserDataDir  string `mapstructure:"user_data_dir" json:"user_data_dir"`
	WindowWidth  int    `mapstructure:"window_width" json:"window_width"`
	WindowHeight int    `mapstructure:"window_height" json:"window_height"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{WindowWidth: 1400, WindowHeight: 900}
}

// Driver owns one Chrome process.
type Driver struct {
	cfg    Config
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New creates an unlaunched driver.
func New(cfg Config, logger *zap.Logger) *Driver {
	def := DefaultConfig()
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = def.WindowWidth
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = def.WindowHeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg, logger: logger}
}

// Launch starts Chrome, restores the serialized cookies and returns the
// automation page.
func (d *Driver) Launch(ctx context.Context, sessionState []byte) (browser.Page, error) {
	opts := append([]chromedp.ExecAllocatorOption{},
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.WindowSize(d.cfg.WindowWidth, d.cfg.WindowHeight),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if d.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if d.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(d.cfg.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	bctx, bcancel := chromedp.NewContext(allocCtx)
	d.allocCancel = allocCancel
	d.browserCtx = bctx
	d.browserCancel = bcancel

	if err := chromedp.Run(bctx, network.Enable()); err != nil {
		d.Close(ctx)
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	if len(sessionState) > 0 {
		var state sessionData
		if err := json.Unmarshal(sessionState, &state); err != nil {
			d.logger.Warn("Discarding unreadable session state", zap.Error(err))
		} else if len(state.Cookies) > 0 {
			if err := chromedp.Run(bctx, storage.SetCookies(state.Cookies)); err != nil {
				d.logger.Warn("Failed to restore cookies", zap.Error(err))
			}
		}
	}
	return &Page{ctx: bctx, logger: d.logger}, nil
}

type sessionData struct {
	Cookies []*network.CookieParam `json:"cookies"`
}

// SessionState serializes the current cookies for the next launch.
func (d *Driver) SessionState(ctx context.Context) ([]byte, error) {
	if d.browserCtx == nil {
		return nil, fmt.Errorf("browser not launched")
	}
	var cookies []*network.Cookie
	err := chromedp.Run(d.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	state := sessionData{Cookies: make([]*network.CookieParam, 0, len(cookies))}
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
		}
		// Expires < 0 marks a session cookie.
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			param.Expires = &exp
		}
		state.Cookies = append(state.Cookies, param)
	}
	return json.Marshal(state)
}

// Close tears down the browser and its allocator.
func (d *Driver) Close(_ context.Context) error {
	if d.browserCancel != nil {
		d.browserCancel()
	}
	if d.allocCancel != nil {
		d.allocCancel()
	}
	return nil
}

// Page drives the single automation tab.
type Page struct {
	ctx    context.Context
	logger *zap.Logger
}

// run executes actions on the tab, honoring the caller's cancellation and
// deadline.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rctx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(rctx, actions...)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *Page) URL() string {
	var url string
	_ = chromedp.Run(p.ctx, chromedp.Location(&url))
	return url
}

func (p *Page) Query(ctx context.Context, selector string) (browser.Element, bool, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, false, err
	}
	if len(nodes) == 0 {
		return nil, false, nil
	}
	return &element{page: p, id: nodes[0].NodeID}, true, nil
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{page: p, id: n.NodeID})
	}
	return out, nil
}

func (p *Page) QueryByText(ctx context.Context, text string) (browser.Element, bool, error) {
	// Labels on the target sites never contain quotes, so plain
	// interpolation into the XPath literal is safe.
	expr := fmt.Sprintf(`//*[normalize-space(text())="%s"]`, text)
	var nodes []*cdp.Node
	err := p.run(ctx, chromedp.Nodes(expr, &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
	if err != nil {
		return nil, false, err
	}
	if len(nodes) == 0 {
		return nil, false, nil
	}
	return &element{page: p, id: nodes[0].NodeID}, true, nil
}

func (p *Page) WaitForSelector(ctx context.Context, selector string) (browser.Element, error) {
	var nodes []*cdp.Node
	err := p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Nodes(selector, &nodes, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}
	return &element{page: p, id: nodes[0].NodeID}, nil
}

func (p *Page) WaitForHidden(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitNotPresent(selector, chromedp.ByQuery))
}

func (p *Page) Press(ctx context.Context, key string) error {
	return p.run(ctx, chromedp.KeyEvent(chordFor(key)))
}

func (p *Page) Type(ctx context.Context, char rune) error {
	return p.run(ctx, chromedp.KeyEvent(string(char)))
}

// Scroll dispatches a wheel event at the viewport center so sites that
// listen for wheel gestures, not scroll position, still react.
func (p *Page) Scroll(ctx context.Context, deltaY int) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, cssViewport, _, _, err := page.GetLayoutMetrics().Do(ctx)
		if err != nil {
			return err
		}
		x := float64(cssViewport.ClientWidth) / 2
		y := float64(cssViewport.ClientHeight) / 2
		return input.DispatchMouseEvent(input.MouseWheel, x, y).
			WithDeltaX(0).
			WithDeltaY(float64(deltaY)).
			Do(ctx)
	}))
}

func (p *Page) OnResponse(fn func(browser.Response)) (cancel func()) {
	lctx, stop := context.WithCancel(p.ctx)
	chromedp.ListenTarget(lctx, func(ev interface{}) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		fn(&response{
			page:      p,
			url:       e.Response.URL,
			status:    int(e.Response.Status),
			requestID: e.RequestID,
		})
	})
	return stop
}

func (p *Page) Close(ctx context.Context) error {
	return p.run(ctx, page.Close())
}

// chordFor maps the named keys the platforms use onto DevTools chords.
// Single characters pass through as themselves.
func chordFor(key string) string {
	switch key {
	case "Enter":
		return kb.Enter
	case "Escape":
		return kb.Escape
	case "ArrowDown":
		return kb.ArrowDown
	case "ArrowUp":
		return kb.ArrowUp
	case "ArrowLeft":
		return kb.ArrowLeft
	case "ArrowRight":
		return kb.ArrowRight
	case "Backspace":
		return kb.Backspace
	case "Tab":
		return kb.Tab
	default:
		return key
	}
}

type element struct {
	page *Page
	id   cdp.NodeID
}

func (e *element) ids() []cdp.NodeID { return []cdp.NodeID{e.id} }

func (e *element) Click(ctx context.Context) error {
	return e.page.run(ctx, chromedp.Click(e.ids(), chromedp.ByNodeID))
}

func (e *element) Hover(ctx context.Context) error {
	return e.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		box, err := dom.GetBoxModel().WithNodeID(e.id).Do(ctx)
		if err != nil {
			return err
		}
		x, y, err := quadCenter(box.Content)
		if err != nil {
			return err
		}
		return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
	}))
}

func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	err := e.page.run(ctx, chromedp.Text(e.ids(), &text, chromedp.ByNodeID))
	return text, err
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var value string
	var ok bool
	err := e.page.run(ctx, chromedp.AttributeValue(e.ids(), name, &value, &ok, chromedp.ByNodeID))
	return value, ok, err
}

// Visible reports whether the node currently has a layout box.
func (e *element) Visible(ctx context.Context) (bool, error) {
	var visible bool
	err := e.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		box, err := dom.GetBoxModel().WithNodeID(e.id).Do(ctx)
		if err != nil || box == nil || len(box.Content) < 8 {
			// Detached or display:none nodes have no box model.
			return nil
		}
		visible = box.Width > 0 && box.Height > 0
		return nil
	}))
	return visible, err
}

func (e *element) SetFiles(ctx context.Context, paths []string) error {
	return e.page.run(ctx, chromedp.SetUploadFiles(e.ids(), paths, chromedp.ByNodeID))
}

func quadCenter(quad dom.Quad) (float64, float64, error) {
	if len(quad) < 8 {
		return 0, 0, fmt.Errorf("degenerate box quad")
	}
	return (quad[0] + quad[4]) / 2, (quad[1] + quad[5]) / 2, nil
}

type response struct {
	page      *Page
	url       string
	status    int
	requestID network.RequestID
}

func (r *response) URL() string { return r.url }
func (r *response) Status() int { return r.status }

// Body fetches the response body. The body is only retrievable once
// loading finishes, so transient failures are retried briefly.
func (r *response) Body(ctx context.Context) ([]byte, error) {
	var body []byte
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		lastErr = r.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(r.requestID).Do(ctx)
			return err
		}))
		if lastErr == nil {
			return body, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("fetch response body: %w", lastErr)
}
