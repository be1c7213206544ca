package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"FeedRelay/internal/api"
	"FeedRelay/internal/oracle"
)

// Watch streams accepted updates to fn until ctx ends, fn returns an error,
// or the node closes the stream. A nil feed watches every feed.
func (c *Client) Watch(ctx context.Context, feed *oracle.FeedID, fn func(api.Event) error) error {
	path := "/events"
	if feed != nil {
		path += "?feed=" + feed.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", path, err)
	}

	// The stream is long lived: only ctx bounds it.
	stream := &http.Client{Transport: c.http.Transport}

	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&apiErr)

		return &APIError{Status: resp.StatusCode, Message: apiErr.Error, Reason: apiErr.Reason}
	}

	dec := json.NewDecoder(resp.Body)

	for {
		var ev api.Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("decode event:\n%w", err)
		}

		if err := fn(ev); err != nil {
			return err
		}
	}
}
