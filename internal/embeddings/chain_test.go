// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func mockInfo(provider string) ModelInfo {
	return ModelInfo{Provider: provider, Name: "test-model", Dimensions: 3}
}

func TestChainRequiresClients(t *testing.T) {
	_, err := NewChain(nil, 1)
	assert.Error(t, err)
}

func TestChainRejectsMixedDimensions(t *testing.T) {
	a := &MockClient{ModelInfo: ModelInfo{Provider: "a", Name: "m", Dimensions: 3}}
	b := &MockClient{ModelInfo: ModelInfo{Provider: "b", Name: "m", Dimensions: 5}}
	_, err := NewChain([]Client{a, b}, 1)
	assert.ErrorContains(t, err, "dimensions")
}

func TestChainProfileIsPrimary(t *testing.T) {
	primary := &MockClient{ModelInfo: mockInfo("primary")}
	fallback := &MockClient{ModelInfo: mockInfo("fallback")}
	chain, err := NewChain([]Client{primary, fallback}, 1)
	require.NoError(t, err)
	assert.Equal(t, "primary", chain.Profile().Provider)
}

func TestChainFallsBackToSecondProvider(t *testing.T) {
	primary := &MockClient{
		ModelInfo: mockInfo("primary"),
		EmbedFunc: func(text string) ([]float32, error) {
			return nil, errors.New("rate limited")
		},
	}
	fallback := &MockClient{
		ModelInfo: mockInfo("fallback"),
		EmbedFunc: func(text string) ([]float32, error) {
			return []float32{1, 2, 3}, nil
		},
	}
	chain, err := NewChain([]Client{primary, fallback}, 1)
	require.NoError(t, err)

	vec, err := chain.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, 1, primary.CallCount)
	assert.Equal(t, 1, fallback.CallCount)
	assert.False(t, chain.IsDegraded())
}

func TestChainExhaustedReturnsUnavailable(t *testing.T) {
	down := func(text string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}
	a := &MockClient{ModelInfo: mockInfo("a"), EmbedFunc: down}
	b := &MockClient{ModelInfo: mockInfo("b"), EmbedFunc: down}
	chain, err := NewChain([]Client{a, b}, 1)
	require.NoError(t, err)

	_, err = chain.Embed(context.Background(), "some text")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, chain.IsDegraded())

	// A later success clears the degraded flag
	b.EmbedFunc = func(text string) ([]float32, error) {
		return []float32{1, 2, 3}, nil
	}
	_, err = chain.Embed(context.Background(), "some text")
	require.NoError(t, err)
	assert.False(t, chain.IsDegraded())
}

func TestChainDegradedFlagReadableDuringEmbeds(t *testing.T) {
	down := &MockClient{
		ModelInfo: mockInfo("down"),
		EmbedFunc: func(text string) ([]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	chain, err := NewChain([]Client{down}, 1)
	require.NoError(t, err)

	// Tool handlers poll the flag while other sessions embed
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_ = chain.IsDegraded()
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		_, err := chain.Embed(context.Background(), "some text")
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	close(done)
	wg.Wait()

	assert.True(t, chain.IsDegraded())
}

func TestChainRejectsWrongDimensionResponse(t *testing.T) {
	bad := &MockClient{
		ModelInfo: mockInfo("bad"),
		EmbedFunc: func(text string) ([]float32, error) {
			return []float32{1, 2}, nil
		},
	}
	chain, err := NewChain([]Client{bad}, 1)
	require.NoError(t, err)

	_, err = chain.Embed(context.Background(), "some text")
	assert.ErrorIs(t, err, ErrUnavailable, "a misbehaving provider counts as unavailable")
}

func TestChainHonorsContextCancellation(t *testing.T) {
	blocked := &MockClient{
		ModelInfo: mockInfo("blocked"),
		EmbedFunc: func(text string) ([]float32, error) {
			return nil, errors.New("timeout")
		},
	}
	chain, err := NewChain([]Client{blocked}, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = chain.Embed(ctx, "some text")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestServiceRoundTrip(t *testing.T) {
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	svc, err := NewService(db, mockInfo("mock"))
	require.NoError(t, err)

	vec := []float32{0.5, -1.25, 3.0}
	require.NoError(t, svc.Store(db, "rec1", "hash1", vec))

	got, err := svc.Get("rec1")
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	stale, err := svc.IsStale("rec1", "hash1")
	require.NoError(t, err)
	assert.False(t, stale)

	stale, err = svc.IsStale("rec1", "hash2")
	require.NoError(t, err)
	assert.True(t, stale)

	stale, err = svc.IsStale("missing", "hash1")
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestServiceSearchRanksBySimilarity(t *testing.T) {
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	svc, err := NewService(db, mockInfo("mock"))
	require.NoError(t, err)

	require.NoError(t, svc.Store(db, "close", "h1", []float32{1, 0, 0}))
	require.NoError(t, svc.Store(db, "mid", "h2", []float32{1, 1, 0}))
	require.NoError(t, svc.Store(db, "far", "h3", []float32{0, 0, 1}))

	hits, err := svc.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "close", hits[0].RecordID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "mid", hits[1].RecordID)

	within, err := svc.SearchWithin([]float32{1, 0, 0}, []string{"far"}, 5)
	require.NoError(t, err)
	require.Len(t, within, 1)
	assert.Equal(t, "far", within[0].RecordID)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 0, 1}), "mismatched lengths score zero")
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{0, 0}))
}

func TestBlobConversionRoundTrip(t *testing.T) {
	vec := []float32{0, -1.5, 2.25, 3.125}
	blob := Float32SliceToBlob(vec)
	assert.Equal(t, vec, BlobToFloat32Slice(blob))

	assert.Empty(t, Float32SliceToBlob(nil))
	assert.Empty(t, BlobToFloat32Slice(nil))
	assert.Nil(t, BlobToFloat32Slice([]byte{1, 2, 3}), "truncated blob")
}
