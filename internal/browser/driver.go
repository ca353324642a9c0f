// Package browser defines the thin driver abstraction the platform
// automations run against. Implementations wrap a real automated browser;
// tests substitute fakes.
package browser

import "context"

// Element is a handle to a rendered DOM node.
type Element interface {
	Click(ctx context.Context) error
	Hover(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
	Visible(ctx context.Context) (bool, error)
	SetFiles(ctx context.Context, paths []string) error
}

// Response is a captured network response.
type Response interface {
	URL() string
	Status() int
	Body(ctx context.Context) ([]byte, error)
}

// Page is one browser tab under automation control.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL() string

	// Query returns the first element matching the CSS selector, or
	// (nil, false, nil) when nothing matches.
	Query(ctx context.Context, selector string) (Element, bool, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// QueryByText returns the first element whose exact text content
	// matches text.
	QueryByText(ctx context.Context, text string) (Element, bool, error)
	// WaitForSelector blocks until the selector matches a visible
	// element; the context bounds the wait.
	WaitForSelector(ctx context.Context, selector string) (Element, error)
	// WaitForHidden blocks until the selector matches nothing.
	WaitForHidden(ctx context.Context, selector string) error

	// Press sends one key chord to the focused element.
	Press(ctx context.Context, key string) error
	// Type inserts a single character at the focus point.
	Type(ctx context.Context, char rune) error
	Scroll(ctx context.Context, deltaY int) error

	// OnResponse registers a network listener and returns an
	// unregister func. Listeners run on the driver's event goroutine
	// and must not block.
	OnResponse(fn func(Response)) (cancel func())

	Close(ctx context.Context) error
}

// Driver owns the browser process and its persistent profile.
type Driver interface {
	// Launch starts the browser with the given serialized session state
	// (cookies and local storage), empty for a fresh profile.
	Launch(ctx context.Context, sessionState []byte) (Page, error)
	// SessionState serializes the current session state for reuse.
	SessionState(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}
