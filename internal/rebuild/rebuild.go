// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rebuild walks the store and reconciles the derived indexes
// (lexical postings, embedding vectors) with the authoritative rows.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/engramlabs/engram-mcp/internal/embeddings"
	"github.com/engramlabs/engram-mcp/internal/lexical"
	"github.com/engramlabs/engram-mcp/internal/memory"
	"gorm.io/gorm"
)

// Report summarizes one index scan
type Report struct {
	RecordsChecked int  `json:"records_checked"`
	MissingLexical int  `json:"missing_lexical"`
	StaleVectors   int  `json:"stale_vectors"`
	Repaired       int  `json:"repaired"`
	// Degraded is set when vectors needed repair but no embedding
	// provider was reachable; lexical repairs still ran.
	Degraded bool `json:"degraded,omitempty"`
}

// Clean reports whether the scan found nothing wrong
func (r *Report) Clean() bool {
	return r.MissingLexical == 0 && r.StaleVectors == 0
}

// Scanner reconciles derived indexes for one profile store
type Scanner struct {
	store *memory.Store
	chain *embeddings.Chain
}

// NewScanner creates an index scanner
func NewScanner(store *memory.Store, chain *embeddings.Chain) *Scanner {
	return &Scanner{store: store, chain: chain}
}

// Scan checks every live record's lexical entry and vector freshness.
// With repair set, missing postings are rebuilt and stale or missing
// vectors re-embedded through the provider chain; each record's repair
// runs in its own transaction so one failure does not lose the rest.
func (s *Scanner) Scan(ctx context.Context, repair bool) (*Report, error) {
	report := &Report{}

	var records []database.MemoryRecord
	if err := s.store.DB().Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	for i := range records {
		rec := &records[i]
		report.RecordsChecked++

		missingLexical, err := s.lexicalMissing(rec.ID)
		if err != nil {
			return nil, err
		}
		if missingLexical {
			report.MissingLexical++
		}

		// Lexical-only profiles keep no vectors to go stale.
		stale := false
		if s.store.Embeddings().Profile().Dimensions > 0 {
			stale, err = s.store.Embeddings().IsStale(rec.ID, rec.ContentHash)
			if err != nil {
				return nil, err
			}
			if stale {
				report.StaleVectors++
			}
		}

		if !repair || (!missingLexical && !stale) {
			continue
		}
		if err := s.repairOne(ctx, rec, missingLexical, stale, report); err != nil {
			log.Printf("failed to repair record %s: %v", rec.ID, err)
		}
	}

	return report, nil
}

func (s *Scanner) lexicalMissing(recordID string) (bool, error) {
	var doc database.LexicalDocument
	err := s.store.DB().Where("record_id = ?", recordID).First(&doc).Error
	if err == gorm.ErrRecordNotFound {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check lexical entry: %w", err)
	}
	return false, nil
}

func (s *Scanner) repairOne(ctx context.Context, rec *database.MemoryRecord, missingLexical, stale bool, report *Report) error {
	var vector []float32
	if stale && s.chain != nil {
		v, err := s.chain.Embed(ctx, rec.Text)
		if err != nil {
			if errors.Is(err, embeddings.ErrUnavailable) {
				report.Degraded = true
			} else {
				return err
			}
		} else {
			vector = v
		}
	}

	err := s.store.DB().Transaction(func(tx *gorm.DB) error {
		if missingLexical {
			if err := lexical.Index(tx, rec.ID, rec.Text); err != nil {
				return err
			}
		}
		if vector != nil {
			if err := s.store.Embeddings().Store(tx, rec.ID, rec.ContentHash, vector); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	report.Repaired++
	return nil
}
