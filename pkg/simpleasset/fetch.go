package simpleasset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxSourceBytes caps a fetched source at 50 MiB.
const DefaultMaxSourceBytes int64 = 50 << 20

// HTTPFetcher downloads sources over HTTP(S).
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates a fetcher. A nil client gets a 30 second timeout and a
// non-positive maxBytes uses DefaultMaxSourceBytes.
func NewHTTPFetcher(client *http.Client, maxBytes int64) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSourceBytes
	}
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

// Fetch GETs publicRef. Network errors, 429 and 5xx responses are retryable.
func (f *HTTPFetcher) Fetch(ctx context.Context, publicRef string) (*FetchedSource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicRef, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownReference, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, Retryable(fmt.Errorf("fetch %s: %w", publicRef, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("fetch %s: unexpected status %d", publicRef, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, Retryable(err)
		}
		return nil, err
	}

	data, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		if errors.Is(err, ErrSourceTooLarge) {
			return nil, err
		}
		return nil, Retryable(fmt.Errorf("read %s: %w", publicRef, err))
	}
	return &FetchedSource{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// StoreFetcher reads sources straight from an ObjectStore when the public
// reference can be reversed to an object key.
type StoreFetcher struct {
	store    ObjectStore
	resolver ReferenceResolver
	maxBytes int64
}

// NewStoreFetcher returns nil when store cannot reverse its public references.
func NewStoreFetcher(store ObjectStore, maxBytes int64) *StoreFetcher {
	resolver, ok := store.(ReferenceResolver)
	if !ok {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxSourceBytes
	}
	return &StoreFetcher{store: store, resolver: resolver, maxBytes: maxBytes}
}

// Fetch returns ErrUnknownReference for references the store did not issue.
func (f *StoreFetcher) Fetch(ctx context.Context, publicRef string) (*FetchedSource, error) {
	key, ok := f.resolver.ObjectKey(publicRef)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReference, publicRef)
	}
	rc, err := f.store.Download(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, err
		}
		return nil, Retryable(err)
	}
	defer rc.Close()

	data, err := readLimited(rc, f.maxBytes)
	if err != nil {
		return nil, err
	}
	return &FetchedSource{Data: data}, nil
}

// FetcherChain tries each fetcher in turn, moving on only when one reports
// ErrUnknownReference.
type FetcherChain []SourceFetcher

func (c FetcherChain) Fetch(ctx context.Context, publicRef string) (*FetchedSource, error) {
	err := fmt.Errorf("%w: %s", ErrUnknownReference, publicRef)
	for _, f := range c {
		if f == nil {
			continue
		}
		var src *FetchedSource
		src, err = f.Fetch(ctx, publicRef)
		if err == nil {
			return src, nil
		}
		if !errors.Is(err, ErrUnknownReference) {
			return nil, err
		}
	}
	return nil, err
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrSourceTooLarge, maxBytes)
	}
	return data, nil
}
