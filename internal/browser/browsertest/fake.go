// Package browsertest provides in-memory fakes of the browser driver
// interfaces for platform tests.
package browsertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/feedpilot/feedpilot/internal/browser"
)

// Element is a scriptable fake DOM node.
type Element struct {
	mu        sync.Mutex
	TextValue string
	Attrs     map[string]string
	Hidden    bool
	ClickErr  error

	Clicks   int
	Hovers   int
	SetPaths [][]string
}

func (e *Element) Click(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ClickErr != nil {
		return e.ClickErr
	}
	e.Clicks++
	return nil
}

func (e *Element) Hover(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Hovers++
	return nil
}

func (e *Element) Text(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.TextValue, nil
}

func (e *Element) Attribute(_ context.Context, name string) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) Visible(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Hidden, nil
}

func (e *Element) SetFiles(_ context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.SetPaths = append(e.SetPaths, paths)
	return nil
}

// Response is a canned network response.
type Response struct {
	RespURL    string
	RespStatus int
	RespBody   []byte
	BodyErr    error
}

func (r Response) URL() string { return r.RespURL }

func (r Response) Status() int {
	if r.RespStatus == 0 {
		return 200
	}
	return r.RespStatus
}

func (r Response) Body(context.Context) ([]byte, error) { return r.RespBody, r.BodyErr }

// Page is a scriptable fake browser tab. Selectors map to element lists;
// EmitResponse drives registered interception listeners.
type Page struct {
	mu        sync.Mutex
	url       string
	selectors map[string][]*Element
	texts     map[string]*Element
	listeners map[int]func(browser.Response)
	nextID    int

	Pressed     []string
	Typed       []rune
	Scrolls     []int
	Navigations []string
	Closed      bool

	// OnPress, when set, runs after each key press. Lets tests emit
	// responses in reaction to keys, as the real site would.
	OnPress func(key string)
}

// NewPage creates an empty fake page.
func NewPage() *Page {
	return &Page{
		selectors: make(map[string][]*Element),
		texts:     make(map[string]*Element),
		listeners: make(map[int]func(browser.Response)),
	}
}

// SetElement makes selector resolve to the given elements.
func (p *Page) SetElement(selector string, els ...*Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selectors[selector] = els
}

// RemoveElement makes selector resolve to nothing.
func (p *Page) RemoveElement(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.selectors, selector)
}

// SetTextElement makes QueryByText resolve text to el.
func (p *Page) SetTextElement(text string, el *Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts[text] = el
}

// EmitResponse delivers a response to every registered listener.
func (p *Page) EmitResponse(r browser.Response) {
	p.mu.Lock()
	fns := make([]func(browser.Response), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(r)
	}
}

// ListenerCount reports registered response listeners.
func (p *Page) ListenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.Navigations = append(p.Navigations, url)
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Query(_ context.Context, selector string) (browser.Element, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	els := p.selectors[selector]
	if len(els) == 0 {
		return nil, false, nil
	}
	return els[0], true, nil
}

func (p *Page) QueryAll(_ context.Context, selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	els := p.selectors[selector]
	out := make([]browser.Element, len(els))
	for i, e := range els {
		out[i] = e
	}
	return out, nil
}

func (p *Page) QueryByText(_ context.Context, text string) (browser.Element, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.texts[text]
	return el, ok, nil
}

func (p *Page) WaitForSelector(ctx context.Context, selector string) (browser.Element, error) {
	for {
		p.mu.Lock()
		els := p.selectors[selector]
		p.mu.Unlock()
		if len(els) > 0 {
			return els[0], nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (p *Page) WaitForHidden(ctx context.Context, selector string) error {
	for {
		p.mu.Lock()
		els := p.selectors[selector]
		p.mu.Unlock()
		if len(els) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (p *Page) Press(_ context.Context, key string) error {
	p.mu.Lock()
	p.Pressed = append(p.Pressed, key)
	hook := p.OnPress
	p.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	return nil
}

func (p *Page) Type(_ context.Context, char rune) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Typed = append(p.Typed, char)
	return nil
}

func (p *Page) Scroll(_ context.Context, deltaY int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Scrolls = append(p.Scrolls, deltaY)
	return nil
}

func (p *Page) OnResponse(fn func(browser.Response)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Driver hands out a fixed page and records session-state traffic.
type Driver struct {
	mu          sync.Mutex
	PageToServe *Page
	LaunchErr   error
	State       []byte

	LaunchedWith []byte
	Closed       bool
}

// NewDriver wraps a fake page in a driver.
func NewDriver(page *Page) *Driver {
	return &Driver{PageToServe: page, State: []byte(`{"cookies":[]}`)}
}

func (d *Driver) Launch(_ context.Context, sessionState []byte) (browser.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	d.LaunchedWith = sessionState
	return d.PageToServe, nil
}

func (d *Driver) SessionState(context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State == nil {
		return nil, errors.New("no session state")
	}
	return d.State, nil
}

func (d *Driver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}
