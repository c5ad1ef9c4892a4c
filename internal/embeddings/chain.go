// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
	"time"
)

// ErrUnavailable is returned when every provider in the chain has been
// exhausted. Callers degrade to lexical-only mode instead of failing
// the request.
var ErrUnavailable = errors.New("all embedding providers exhausted")

// Chain tries an ordered list of providers with bounded retry and
// exponential backoff before falling back to the next one. All
// providers in one chain must declare the same dimensionality; the
// active profile is always the primary provider's profile.
type Chain struct {
	clients    []Client
	maxRetries int
	baseDelay  time.Duration
	// degraded is read by tool handlers while other sessions embed
	degraded atomic.Bool
}

// NewChain creates a provider chain. maxRetries counts attempts per
// provider (default 3, delays 1s/2s/4s plus jitter).
func NewChain(clients []Client, maxRetries int) (*Chain, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	dims := clients[0].GetModelInfo().Dimensions
	for _, c := range clients[1:] {
		if c.GetModelInfo().Dimensions != dims {
			return nil, fmt.Errorf("provider %s declares %d dimensions, chain requires %d",
				c.GetModelInfo().Provider, c.GetModelInfo().Dimensions, dims)
		}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Chain{
		clients:    clients,
		maxRetries: maxRetries,
		baseDelay:  time.Second,
	}, nil
}

// Profile returns the active embedding profile (the primary provider's)
func (c *Chain) Profile() ModelInfo {
	return c.clients[0].GetModelInfo()
}

// IsDegraded reports whether the last call fell through the whole chain
func (c *Chain) IsDegraded() bool {
	return c.degraded.Load()
}

// Embed walks the chain until a provider succeeds. Each provider gets
// maxRetries attempts with exponential backoff and jitter. Returns
// ErrUnavailable once the chain is exhausted.
func (c *Chain) Embed(ctx context.Context, text string) ([]float32, error) {
	for i, client := range c.clients {
		vector, err := c.embedWithRetry(ctx, client, text)
		if err == nil {
			c.degraded.Store(false)
			return vector, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("embedding provider %s failed after %d attempts: %v (falling back, %d providers left)",
			client.GetModelInfo().Provider, c.maxRetries, err, len(c.clients)-i-1)
	}

	c.degraded.Store(true)
	log.Printf("embedding chain exhausted, continuing in lexical-only mode")
	return nil, ErrUnavailable
}

func (c *Chain) embedWithRetry(ctx context.Context, client Client, text string) ([]float32, error) {
	var lastErr error
	delay := c.baseDelay

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(delay) / 4))
			select {
			case <-time.After(delay + jitter):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		vector, err := client.Embed(ctx, text)
		if err == nil {
			want := client.GetModelInfo().Dimensions
			if want > 0 && len(vector) != want {
				return nil, fmt.Errorf("provider returned %d dimensions, profile declares %d", len(vector), want)
			}
			return vector, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

// Healthy probes the primary provider with a tiny embed call
func (c *Chain) Healthy(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.clients[0].Embed(probeCtx, "ping")
	return err
}
