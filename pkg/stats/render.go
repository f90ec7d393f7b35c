package stats

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/getproxd/proxd/pkg/htmlpage"
	"github.com/getproxd/proxd/pkg/logging"
)

// ErrTransmit is returned when the chosen stats response could not be sent.
// It is the only error a render propagates; everything below the content
// selection degrades to the built-in page instead.
var ErrTransmit = errors.New("stats response transmission failed")

// Format pairs a content type with the template file that renders it.
// The registry is an ordered slice of these; earlier entries shadow later
// ones with the same content type.
type Format struct {
	ContentType string
	Template    string
}

// ResponseSender delivers a rendered page to the client. It is implemented
// by the proxy's connection layer; the renderer never touches the transport
// directly.
type ResponseSender interface {
	// SendHeaders emits a response line and headers.
	SendHeaders(status int, reason string) error
	// SendBody streams the response body.
	SendBody(body io.Reader) error
	// SendMessage emits a complete response in one call.
	SendMessage(status int, reason, body string) error
}

// Renderer produces the stats page for reporting requests.
//
// Template selection walks the format registry in insertion order and picks
// the first entry whose content type occurs as a substring of the client's
// Accept preference. This is deliberately permissive (no media-type parsing,
// no q-value handling) and first match wins. With no match the configured
// single fallback template is used, and with neither the built-in page.
//
// Renders are serialized by an internal mutex: the template file is a shared
// resource and stats traffic is assumed rare, so one coarse lock held for
// the whole render keeps things simple.
type Renderer struct {
	mu       sync.Mutex
	store    *Store
	formats  []Format
	statFile string
	product  string
	version  string
	log      *slog.Logger
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithFormats sets the ordered content-type to template registry.
func WithFormats(formats []Format) RendererOption {
	return func(r *Renderer) {
		r.formats = formats
	}
}

// WithStatFile sets the single fallback template used when no registry
// entry matches the request.
func WithStatFile(path string) RendererOption {
	return func(r *Renderer) {
		r.statFile = path
	}
}

// WithProduct sets the product name and version shown on rendered pages.
func WithProduct(name, version string) RendererOption {
	return func(r *Renderer) {
		if name != "" {
			r.product = name
		}
		if version != "" {
			r.version = version
		}
	}
}

// WithLogger sets the renderer's logger.
func WithLogger(log *slog.Logger) RendererOption {
	return func(r *Renderer) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRenderer creates a Renderer reading from store.
func NewRenderer(store *Store, opts ...RendererOption) *Renderer {
	r := &Renderer{
		store:   store,
		product: "proxd",
		version: "dev",
		log:     logging.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// selectTemplate picks the template path for the given Accept preference.
// An empty return means no external template applies.
func (r *Renderer) selectTemplate(accept string) string {
	if accept != "" {
		for _, f := range r.formats {
			if strings.Contains(accept, f.ContentType) {
				return f.Template
			}
		}
	}
	return r.statFile
}

// Render sends the stats page on send, choosing the format from the
// client's Accept preference. It returns the HTTP status that was sent, or
// an ErrTransmit-wrapped error when nothing could be delivered at all.
func (r *Renderer) Render(send ResponseSender, accept string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.store.Snapshot()

	if path := r.selectTemplate(accept); path != "" {
		body, err := r.expandTemplate(path, snap)
		if err == nil {
			if err := send.SendHeaders(http.StatusOK, "Statistic requested"); err != nil {
				return 0, fmt.Errorf("%w: %v", ErrTransmit, err)
			}
			if err := send.SendBody(body); err != nil {
				return 0, fmt.Errorf("%w: %v", ErrTransmit, err)
			}
			return http.StatusOK, nil
		}
		// Missing or unreadable templates must not fail the request.
		r.log.Warn("stats template unavailable, using built-in page",
			"template", path, "error", err)
	}

	if err := send.SendMessage(http.StatusOK, "OK", builtinPage(snap, r.product, r.version)); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransmit, err)
	}
	return http.StatusOK, nil
}

// expandTemplate opens path and substitutes the counter and standard
// variables. The file is closed before returning on every path.
func (r *Renderer) expandTemplate(path string, snap Counters) (io.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	vars := htmlpage.Vars{
		"opens":        strconv.FormatUint(snap.OpenConnections, 10),
		"reqs":         strconv.FormatUint(snap.Requests, 10),
		"badconns":     strconv.FormatUint(snap.BadConnections, 10),
		"deniedconns":  strconv.FormatUint(snap.DeniedConnections, 10),
		"refusedconns": strconv.FormatUint(snap.RefusedConnections, 10),
	}
	vars.AddStandard(r.product, r.version)

	var buf bytes.Buffer
	if err := htmlpage.Expand(&buf, f, vars); err != nil {
		return nil, err
	}
	return &buf, nil
}
