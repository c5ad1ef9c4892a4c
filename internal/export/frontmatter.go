// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package export converts memory records to and from markdown files
// with YAML frontmatter, the interchange format used by the checkpoint
// archive.
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/engramlabs/engram-mcp/internal/database"
	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

// frontmatter is the YAML header of an exported record
type frontmatter struct {
	ID             string     `yaml:"id"`
	ContentHash    string     `yaml:"content_hash"`
	Summary        string     `yaml:"summary,omitempty"`
	ImportanceTier string     `yaml:"importance_tier"`
	MemoryType     string     `yaml:"memory_type"`
	Stability      float64    `yaml:"stability"`
	Difficulty     float64    `yaml:"difficulty"`
	ReviewCount    int        `yaml:"review_count,omitempty"`
	AccessCount    int        `yaml:"access_count,omitempty"`
	Scope          string     `yaml:"scope,omitempty"`
	Anchors        string     `yaml:"anchors,omitempty"`
	CreatedAt      time.Time  `yaml:"created_at"`
	LastAccessedAt time.Time  `yaml:"last_accessed_at"`
	ArchivedAt     *time.Time `yaml:"archived_at,omitempty"`
}

// Encode renders a record as markdown with a YAML frontmatter header.
// The record text is the document body, unmodified.
func Encode(rec *database.MemoryRecord) ([]byte, error) {
	fm := frontmatter{
		ID:             rec.ID,
		ContentHash:    rec.ContentHash,
		Summary:        rec.Summary,
		ImportanceTier: rec.ImportanceTier,
		MemoryType:     rec.MemoryType,
		Stability:      rec.Stability,
		Difficulty:     rec.Difficulty,
		ReviewCount:    rec.ReviewCount,
		AccessCount:    rec.AccessCount,
		Scope:          rec.ScopeTag,
		Anchors:        rec.Anchors,
		CreatedAt:      rec.CreatedAt,
		LastAccessedAt: rec.LastAccessedAt,
		ArchivedAt:     rec.ArchivedAt,
	}

	header, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(frontmatterDelimiter + "\n")
	buf.Write(header)
	buf.WriteString(frontmatterDelimiter + "\n\n")
	buf.WriteString(rec.Text)
	if !strings.HasSuffix(rec.Text, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Decode parses an exported markdown document back into a record
func Decode(data []byte) (*database.MemoryRecord, error) {
	text := string(data)
	if !strings.HasPrefix(text, frontmatterDelimiter+"\n") {
		return nil, fmt.Errorf("document has no frontmatter header")
	}

	rest := text[len(frontmatterDelimiter)+1:]
	idx := strings.Index(rest, "\n"+frontmatterDelimiter+"\n")
	if idx < 0 {
		return nil, fmt.Errorf("frontmatter header is not terminated")
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:idx+1]), &fm); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	if fm.ID == "" {
		return nil, fmt.Errorf("frontmatter is missing the record id")
	}

	body := rest[idx+len(frontmatterDelimiter)+2:]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimSuffix(body, "\n")

	return &database.MemoryRecord{
		ID:             fm.ID,
		ContentHash:    fm.ContentHash,
		Text:           body,
		Summary:        fm.Summary,
		ImportanceTier: fm.ImportanceTier,
		MemoryType:     fm.MemoryType,
		Stability:      fm.Stability,
		Difficulty:     fm.Difficulty,
		ReviewCount:    fm.ReviewCount,
		AccessCount:    fm.AccessCount,
		ScopeTag:       fm.Scope,
		Anchors:        fm.Anchors,
		CreatedAt:      fm.CreatedAt,
		LastAccessedAt: fm.LastAccessedAt,
		ArchivedAt:     fm.ArchivedAt,
	}, nil
}

// Filename returns the archive path of a record within its scope
// directory.
func Filename(rec *database.MemoryRecord) string {
	scope := rec.ScopeTag
	if scope == "" {
		scope = "unscoped"
	}
	return fmt.Sprintf("%s/%s.md", sanitize(scope), rec.ID)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, s)
}
