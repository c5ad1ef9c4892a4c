// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package export

import (
	"strings"
	"testing"
	"time"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	accessed := created.Add(48 * time.Hour)
	rec := &database.MemoryRecord{
		ID:             "01JNKW5Y8ZQ2M4R6T8V0X2A4C6",
		ContentHash:    "abc123",
		Text:           "The payments service caps retries at three attempts.\n\nBackoff is exponential.",
		Summary:        "retry policy",
		ImportanceTier: database.TierImportant,
		MemoryType:     database.TypeProcedural,
		Stability:      2.5,
		Difficulty:     0.3,
		ReviewCount:    4,
		AccessCount:    9,
		ScopeTag:       "payments",
		Anchors:        `{"policy": {"start": 0, "end": 53}}`,
		CreatedAt:      created,
		LastAccessedAt: accessed,
	}

	data, err := Encode(rec)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "---\n"))
	assert.Contains(t, string(data), "importance_tier: important")

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Text, got.Text)
	assert.Equal(t, rec.Summary, got.Summary)
	assert.Equal(t, rec.ImportanceTier, got.ImportanceTier)
	assert.Equal(t, rec.MemoryType, got.MemoryType)
	assert.Equal(t, rec.Stability, got.Stability)
	assert.Equal(t, rec.ReviewCount, got.ReviewCount)
	assert.Equal(t, rec.AccessCount, got.AccessCount)
	assert.Equal(t, rec.ScopeTag, got.ScopeTag)
	assert.Equal(t, rec.Anchors, got.Anchors)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.True(t, accessed.Equal(got.LastAccessedAt))
}

func TestEncodeArchivedAt(t *testing.T) {
	archived := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rec := &database.MemoryRecord{
		ID: "rec1", Text: "archived content", ArchivedAt: &archived,
	}

	data, err := Encode(rec)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, got.ArchivedAt)
	assert.True(t, archived.Equal(*got.ArchivedAt))
}

func TestDecodeRejectsMissingFrontmatter(t *testing.T) {
	_, err := Decode([]byte("plain markdown with no header\n"))
	assert.ErrorContains(t, err, "no frontmatter")
}

func TestDecodeRejectsUnterminatedFrontmatter(t *testing.T) {
	_, err := Decode([]byte("---\nid: rec1\nno closing delimiter\n"))
	assert.ErrorContains(t, err, "not terminated")
}

func TestDecodeRejectsMissingID(t *testing.T) {
	_, err := Decode([]byte("---\nsummary: no id here\n---\n\nbody\n"))
	assert.ErrorContains(t, err, "missing the record id")
}

func TestFilename(t *testing.T) {
	rec := &database.MemoryRecord{ID: "rec1", ScopeTag: "payments"}
	assert.Equal(t, "payments/rec1.md", Filename(rec))

	unscoped := &database.MemoryRecord{ID: "rec2"}
	assert.Equal(t, "unscoped/rec2.md", Filename(unscoped))

	odd := &database.MemoryRecord{ID: "rec3", ScopeTag: "team alpha/söme"}
	name := Filename(odd)
	assert.Equal(t, "team-alpha-s-me/rec3.md", name)
}
