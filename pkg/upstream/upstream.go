// Package upstream fans requests out across a priority-ordered list of
// remote binary cache servers.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicacher/nicacher/pkg/narinfo"
	"github.com/nicacher/nicacher/pkg/xz"
)

const (
	defaultDialerTimeout         = 10 * time.Second
	defaultResponseHeaderTimeout = 60 * time.Second

	// DefaultPriority is used for upstreams configured without an explicit
	// priority.
	DefaultPriority = 40
)

var (
	// ErrURLRequired is returned if an upstream is constructed without a URL.
	ErrURLRequired = errors.New("upstream: URL is required")

	// ErrURLMustContainScheme is returned if the upstream URL has no scheme.
	ErrURLMustContainScheme = errors.New("upstream: URL must contain a scheme")

	// ErrNotFound is returned when an upstream responds 404 to a GET.
	ErrNotFound = errors.New("upstream: not found")

	// ErrUnexpectedStatus is returned for any non-2xx, non-404 response.
	ErrUnexpectedStatus = errors.New("upstream: unexpected HTTP status")

	// ErrAllUpstreamsFailed is returned by FetchDescriptor once every
	// configured upstream has been tried and failed.
	ErrAllUpstreamsFailed = errors.New("upstream: all upstreams failed")
)

// Upstream is a single remote binary cache: a base URL and a priority,
// lower values taking precedence.
type Upstream struct {
	URL      *url.URL
	Priority int
}

// New validates rawURL and returns an Upstream at the given priority. A
// priority of zero is replaced with DefaultPriority.
func New(rawURL string, priority int) (Upstream, error) {
	if rawURL == "" {
		return Upstream{}, ErrURLRequired
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Upstream{}, fmt.Errorf("upstream: error parsing URL %q: %w", rawURL, err)
	}

	if u.Scheme == "" {
		return Upstream{}, ErrURLMustContainScheme
	}

	if priority <= 0 {
		priority = DefaultPriority
	}

	return Upstream{URL: u, Priority: priority}, nil
}

// String renders the upstream's base URL.
func (u Upstream) String() string { return u.URL.String() }

// SortUpstreams orders upstreams by priority, then by URL string, matching
// the configured-set ordering the dispatcher relies on.
func SortUpstreams(ups []Upstream) {
	sort.SliceStable(ups, func(i, j int) bool {
		if ups[i].Priority != ups[j].Priority {
			return ups[i].Priority < ups[j].Priority
		}

		return ups[i].URL.String() < ups[j].URL.String()
	})
}

// Client fans descriptor and archive fetches out across a priority-ordered
// list of upstreams, and resolves channel store-path listings.
type Client struct {
	httpClient *http.Client
	channelURL *url.URL
}

// Options configures a Client. A zero value Options produces sane defaults.
type Options struct {
	DialerTimeout         time.Duration
	ResponseHeaderTimeout time.Duration
	ChannelURL            string
}

// NewClient returns a Client. An empty ChannelURL disables FetchChannelStorePaths.
func NewClient(opts Options) (*Client, error) {
	dialerTimeout := opts.DialerTimeout
	if dialerTimeout <= 0 {
		dialerTimeout = defaultDialerTimeout
	}

	responseHeaderTimeout := opts.ResponseHeaderTimeout
	if responseHeaderTimeout <= 0 {
		responseHeaderTimeout = defaultResponseHeaderTimeout
	}

	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("upstream: unable to clone the default transport")
	}

	dt := transport.Clone()
	dt.DialContext = (&net.Dialer{Timeout: dialerTimeout, KeepAlive: 30 * time.Second}).DialContext
	dt.ResponseHeaderTimeout = responseHeaderTimeout

	c := &Client{httpClient: &http.Client{Transport: dt}}

	if opts.ChannelURL != "" {
		u, err := url.Parse(opts.ChannelURL)
		if err != nil {
			return nil, fmt.Errorf("upstream: error parsing channel URL %q: %w", opts.ChannelURL, err)
		}

		c.channelURL = u
	}

	return c, nil
}

// FetchDescriptor tries each upstream in order, returning the first
// successfully parsed descriptor along with the upstream that served it.
// Every failure (network, non-2xx, parse) is logged as a warning and the
// next upstream is tried; ErrAllUpstreamsFailed is returned once the list
// is exhausted.
func (c *Client) FetchDescriptor(
	ctx context.Context,
	digest string,
	upstreams []Upstream,
	storeRoot string,
) (narinfo.Descriptor, Upstream, error) {
	logger := zerolog.Ctx(ctx)

	for _, up := range upstreams {
		u := up.URL.JoinPath(digest + ".narinfo").String()

		d, err := c.fetchDescriptorFrom(ctx, u, storeRoot)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("upstream", up.String()).
				Str("digest", digest).
				Msg("upstream failed to serve descriptor, trying next")

			continue
		}

		return d, up, nil
	}

	return narinfo.Descriptor{}, Upstream{}, fmt.Errorf("%w: digest=%s", ErrAllUpstreamsFailed, digest)
}

func (c *Client) fetchDescriptorFrom(ctx context.Context, u, storeRoot string) (narinfo.Descriptor, error) {
	resp, err := c.get(ctx, u)
	if err != nil {
		return narinfo.Descriptor{}, err
	}

	defer resp.Body.Close()

	d, err := narinfo.Parse(resp.Body, storeRoot)
	if err != nil {
		return narinfo.Descriptor{}, fmt.Errorf("upstream: error parsing descriptor from %s: %w", u, err)
	}

	return d, nil
}

// FetchArchive downloads the archive bytes for urlPath from up. urlPath must
// be the relative URL carried by the descriptor fetched from the very same
// upstream, since it resolves relative to that upstream's base.
func (c *Client) FetchArchive(ctx context.Context, up Upstream, urlPath string) ([]byte, error) {
	u := up.URL.JoinPath(urlPath).String()

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: error reading archive body from %s: %w", u, err)
	}

	return body, nil
}

// FetchChannelStorePaths downloads and decodes a channel's store-paths
// listing into the set of StorePaths it names.
func (c *Client) FetchChannelStorePaths(
	ctx context.Context,
	channel string,
	storeRoot string,
) ([]narinfo.StorePath, error) {
	if c.channelURL == nil {
		return nil, errors.New("upstream: no channel URL configured")
	}

	u := c.channelURL.JoinPath(channel, "store-paths.xz").String()

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	xr, err := xz.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: error decompressing channel listing: %w", err)
	}

	var paths []narinfo.StorePath

	scanner := bufio.NewScanner(xr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		sp, err := narinfo.ParseStorePath(line, storeRoot)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("line", line).Msg("skipping unparseable store path")

			continue
		}

		paths = append(paths, sp)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("upstream: error scanning channel listing: %w", err)
	}

	return paths, nil
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: error creating request for %s: %w", u, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: error performing request to %s: %w", u, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		var buf bytes.Buffer

		_, _ = io.Copy(&buf, io.LimitReader(resp.Body, 256))

		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, u)
		}

		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnexpectedStatus, u, resp.StatusCode, buf.String())
	}

	return resp, nil
}
