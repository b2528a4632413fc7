package player

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"echoes/core/element"
)

// Resolver turns an object key into a fetchable URL.
type Resolver interface {
	ResolveURL(ctx context.Context, ref string) (string, error)
}

// StreamPlayer decodes audio while it downloads.
type StreamPlayer struct {
	*base
	url string
}

// DefaultClient bounds how long a load waits for headers; the body is read for as long as
// the player lives.
var DefaultClient = &http.Client{
	Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: 15 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	},
}

func isURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func resolve(ctx context.Context, r Resolver, ref string) (string, error) {
	if isURL(ref) {
		return ref, nil
	}
	if r == nil {
		return "", fmt.Errorf("%w: %q is not a URL and no resolver is configured", ErrNoMedia, ref)
	}
	return r.ResolveURL(ctx, ref)
}

func openStream(ctx context.Context, client *http.Client, url string, desc element.Descriptor, opts options) (*StreamPlayer, error) {
	src, err := fetch(ctx, client, url)
	if err != nil {
		return nil, err
	}
	return &StreamPlayer{base: newBase(desc, src, opts, false), url: url}, nil
}

func fetch(ctx context.Context, client *http.Client, url string) (*source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if client == nil {
		client = DefaultClient
	}
	// the body outlives the load, so only the values of ctx are carried over
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch media: unexpected status %s", resp.Status)
	}
	return decode(resp.Body, element.CodecOf(url))
}

// URL is the resolved address being streamed.
func (p *StreamPlayer) URL() string { return p.url }
