package authorize

import (
	"context"
)

// Client is the identity a verified bearer token was issued to. It is only
// valid for the lifetime of the request that carried the token.
type Client struct {
	ID string
}

type key int

const clientKey key = iota

func WithClient(ctx context.Context, client *Client) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

func FromContext(ctx context.Context) (*Client, bool) {
	client, ok := ctx.Value(clientKey).(*Client)
	return client, ok
}
