package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// PortfolioChannel is the pub/sub channel carrying opt-in lifecycle events
// for one account.
func PortfolioChannel(accountSlug string) string {
	return fmt.Sprintf("portfolios:%s", accountSlug)
}

// MatrixScoresKey caches computed matrix scores.
func MatrixScoresKey(matrixSlug string) string {
	return fmt.Sprintf("matrix:scores:%s", matrixSlug)
}
