// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"gorm.io/gorm"
)

// Service stores and searches vectors for one profile store. Vector
// writes run inside the caller's transaction so a crash cannot leave
// the vector index inconsistent with the rows.
type Service struct {
	db      *gorm.DB
	profile ModelInfo
}

// NewService creates an embedding service bound to a profile store
func NewService(db *gorm.DB, profile ModelInfo) (*Service, error) {
	if err := MigrateEmbeddings(db); err != nil {
		return nil, fmt.Errorf("failed to migrate embeddings table: %w", err)
	}
	return &Service{db: db, profile: profile}, nil
}

// Profile returns the embedding profile this service is bound to
func (s *Service) Profile() ModelInfo {
	return s.profile
}

// Store writes a vector for a record inside the given transaction.
// The vector must match the profile's dimensionality.
func (s *Service) Store(tx *gorm.DB, recordID, contentHash string, vector []float32) error {
	if len(vector) != s.profile.Dimensions {
		return fmt.Errorf("vector has %d dimensions, store requires %d", len(vector), s.profile.Dimensions)
	}

	if err := tx.Where("record_id = ?", recordID).Delete(&Embedding{}).Error; err != nil {
		return err
	}

	emb := Embedding{
		RecordID:    recordID,
		ContentHash: contentHash,
		ModelName:   s.profile.Name,
		Provider:    s.profile.Provider,
		Dimensions:  len(vector),
		Vector:      Float32SliceToBlob(vector),
	}
	return tx.Create(&emb).Error
}

// Delete removes the vector for a record inside the given transaction
func (s *Service) Delete(tx *gorm.DB, recordID string) error {
	return tx.Where("record_id = ?", recordID).Delete(&Embedding{}).Error
}

// Get retrieves the stored vector for a record
func (s *Service) Get(recordID string) ([]float32, error) {
	var emb Embedding
	if err := s.db.Where("record_id = ?", recordID).First(&emb).Error; err != nil {
		return nil, err
	}
	return BlobToFloat32Slice(emb.Vector), nil
}

// IsStale reports whether the stored vector no longer matches the
// record content (or is missing entirely).
func (s *Service) IsStale(recordID, contentHash string) (bool, error) {
	var emb Embedding
	err := s.db.Where("record_id = ?", recordID).First(&emb).Error
	if err == gorm.ErrRecordNotFound {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return emb.ContentHash != contentHash || emb.ModelName != s.profile.Name, nil
}

// Count returns the number of indexed vectors
func (s *Service) Count() (int64, error) {
	var count int64
	err := s.db.Model(&Embedding{}).Count(&count).Error
	return count, err
}

// SearchResult is one vector search hit
type SearchResult struct {
	RecordID   string
	Similarity float64
}

// Search ranks all stored vectors by cosine similarity to the query.
// Results are sorted by similarity descending and capped at limit.
func (s *Service) Search(query []float32, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	var embeddings []Embedding
	if err := s.db.Find(&embeddings).Error; err != nil {
		return nil, err
	}

	if len(embeddings) == 0 {
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(embeddings))
	for _, emb := range embeddings {
		vector := BlobToFloat32Slice(emb.Vector)
		if vector == nil {
			continue
		}
		results = append(results, SearchResult{
			RecordID:   emb.RecordID,
			Similarity: CosineSimilarity(query, vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity == results[j].Similarity {
			return results[i].RecordID < results[j].RecordID
		}
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SearchWithin ranks only the given record ids, used for scope-
// restricted similarity checks.
func (s *Service) SearchWithin(query []float32, ids []string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if len(ids) == 0 {
		return []SearchResult{}, nil
	}

	var embeddings []Embedding
	if err := s.db.Where("record_id IN ?", ids).Find(&embeddings).Error; err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(embeddings))
	for _, emb := range embeddings {
		vector := BlobToFloat32Slice(emb.Vector)
		if vector == nil {
			continue
		}
		results = append(results, SearchResult{
			RecordID:   emb.RecordID,
			Similarity: CosineSimilarity(query, vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity == results[j].Similarity {
			return results[i].RecordID < results[j].RecordID
		}
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// CalculateContentHash computes a SHA256-based fingerprint of content
func CalculateContentHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%x", hash[:16]) // first 16 bytes for a shorter hash
}
