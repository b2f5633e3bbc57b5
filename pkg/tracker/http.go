package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const maxResponseSize = 1 << 20

type HTTPClient struct {
	client *http.Client
	url    *url.URL
	id     Identity
}

func NewHTTPClient(trackerURL *url.URL, id Identity, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		url: trackerURL,
		id:  id,
	}
}

func (c *HTTPClient) Announce(ctx context.Context, req Request) ([]byte, error) {

	if c.client == nil {
		return nil, errors.New("tracker client is nil")
	}

	params := c.url.Query()

	params.Set("info_hash", string(c.id.InfoHash[:]))
	params.Set("peer_id", string(c.id.PeerID[:]))
	params.Set("port", strconv.Itoa(int(c.id.Port)))
	params.Set("uploaded", strconv.FormatUint(c.id.Uploaded, 10))
	params.Set("downloaded", strconv.FormatUint(c.id.Downloaded, 10))
	params.Set("left", strconv.FormatUint(c.id.Left, 10))
	params.Set("numwant", strconv.Itoa(req.NumWant))

	if event := req.Event.queryValue(); event != "" {
		params.Set("event", event)
	}
	for k, v := range req.Params {
		params.Set(k, v)
	}

	finalURL := *c.url
	finalURL.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make tracker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker responded with status %d", resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker response: %w", err)
	}

	return b, nil
}
