// Package upstream talks to the external read-only APIs fronted by the
// gateway: the user directory and the random image service.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/openshift/directory-gateway/pkg/runutil"
)

const (
	usersBodyLimit = 4 * 1024 * 1024
	imageBodyLimit = 16 * 1024
	errorBodyLimit = 4 * 1024
)

type Client struct {
	client   *http.Client
	usersURL string
	imageURL string
	logger   log.Logger
}

// New returns a Client using client for all requests. Timeouts and
// authentication are the concern of client and its transport.
func New(logger log.Logger, client *http.Client, usersURL, imageURL string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		client:   client,
		usersURL: usersURL,
		imageURL: imageURL,
		logger:   log.With(logger, "component", "upstream"),
	}
}

// FetchUsers returns all users of the directory. A transport failure, a
// non-200 status or a body that is not a list of users is an error.
func (c *Client) FetchUsers(ctx context.Context) ([]User, error) {
	var raw []rawUser
	if err := c.get(ctx, c.usersURL, usersBodyLimit, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: expected a list of users", ErrMalformedResponse)
	}

	users := make([]User, 0, len(raw))
	for i, r := range raw {
		if r.ID == nil {
			return nil, fmt.Errorf("%w: user %d has no id", ErrMalformedResponse, i)
		}
		u := r.User
		u.ID = *r.ID
		if len(u.Name) == 0 {
			return nil, fmt.Errorf("%w: user %d has no name", ErrMalformedResponse, i)
		}
		if _, err := mail.ParseAddress(u.Email); err != nil {
			return nil, fmt.Errorf("%w: user %d has an invalid email: %v", ErrMalformedResponse, i, err)
		}
		users = append(users, u)
	}
	return users, nil
}

// FetchImage returns a random image. The caller decides what an empty message means.
func (c *Client) FetchImage(ctx context.Context) (*Image, error) {
	img := &Image{}
	if err := c.get(ctx, c.imageURL, imageBodyLimit, img); err != nil {
		return nil, err
	}
	return img, nil
}

func (c *Client) get(ctx context.Context, url string, limit int64, into interface{}) error {
	if len(url) == 0 {
		return errors.New("no upstream URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("unable to create upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("unable to perform upstream request: %w", err)
	}
	defer runutil.ExhaustCloseWithLogOnErr(c.logger, resp.Body, "close upstream response body")

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		level.Debug(c.logger).Log("msg", "upstream rejected request", "url", url, "status", resp.StatusCode, "body", string(body))
		return &StatusError{URL: url, StatusCode: resp.StatusCode, Body: body}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return fmt.Errorf("unable to read upstream response: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
