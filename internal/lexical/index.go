// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package lexical maintains a term-frequency inverted index alongside
// the memory rows and scores queries with BM25. Index mutations run in
// the caller's transaction so the index can never drift from the rows.
package lexical

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/engramlabs/engram-mcp/internal/database"
	"gorm.io/gorm"
)

// BM25 parameters
const (
	k1 = 1.2
	b  = 0.75
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "in": true, "is": true, "it": true, "of": true,
	"on": true, "or": true, "that": true, "the": true, "to": true,
	"was": true, "we": true, "with": true,
}

// Tokenize lowercases and splits text on non-alphanumeric runes,
// dropping stopwords and single characters.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Index writes the postings for one record inside the given
// transaction, replacing any previous postings for the record.
func Index(tx *gorm.DB, recordID, text string) error {
	if err := Remove(tx, recordID); err != nil {
		return err
	}

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return tx.Create(&database.LexicalDocument{RecordID: recordID, Length: 0}).Error
	}

	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}

	postings := make([]database.LexicalPosting, 0, len(tf))
	for term, count := range tf {
		postings = append(postings, database.LexicalPosting{
			Term:     term,
			RecordID: recordID,
			TF:       count,
		})
	}

	if err := tx.Create(&postings).Error; err != nil {
		return err
	}

	return tx.Create(&database.LexicalDocument{
		RecordID: recordID,
		Length:   len(tokens),
	}).Error
}

// Remove deletes all postings for a record inside the given transaction
func Remove(tx *gorm.DB, recordID string) error {
	if err := tx.Where("record_id = ?", recordID).
		Delete(&database.LexicalPosting{}).Error; err != nil {
		return err
	}
	return tx.Where("record_id = ?", recordID).
		Delete(&database.LexicalDocument{}).Error
}

// ScoredDoc is one BM25-ranked document
type ScoredDoc struct {
	RecordID string
	Score    float64
}

// Search ranks indexed records against the query with BM25. The
// returned list is sorted by score descending and capped at limit.
func Search(db *gorm.DB, query string, limit int) ([]ScoredDoc, error) {
	if limit <= 0 {
		limit = 10
	}

	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var totalDocs int64
	if err := db.Model(&database.LexicalDocument{}).Count(&totalDocs).Error; err != nil {
		return nil, err
	}
	if totalDocs == 0 {
		return nil, nil
	}

	var totalLength int64
	if err := db.Model(&database.LexicalDocument{}).
		Select("COALESCE(SUM(length), 0)").Scan(&totalLength).Error; err != nil {
		return nil, err
	}
	avgLength := float64(totalLength) / float64(totalDocs)
	if avgLength <= 0 {
		avgLength = 1
	}

	docLengths := make(map[string]float64)
	scores := make(map[string]float64)

	for _, term := range terms {
		var postings []database.LexicalPosting
		if err := db.Where("term = ?", term).Find(&postings).Error; err != nil {
			return nil, err
		}
		if len(postings) == 0 {
			continue
		}

		df := float64(len(postings))
		idf := bm25IDF(float64(totalDocs), df)

		for _, p := range postings {
			length, ok := docLengths[p.RecordID]
			if !ok {
				var doc database.LexicalDocument
				if err := db.Where("record_id = ?", p.RecordID).First(&doc).Error; err != nil {
					continue
				}
				length = float64(doc.Length)
				docLengths[p.RecordID] = length
			}

			tf := float64(p.TF)
			norm := tf * (k1 + 1) / (tf + k1*(1-b+b*length/avgLength))
			scores[p.RecordID] += idf * norm
		}
	}

	results := make([]ScoredDoc, 0, len(scores))
	for id, score := range scores {
		results = append(results, ScoredDoc{RecordID: id, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].RecordID < results[j].RecordID
		}
		return results[i].Score > results[j].Score
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// bm25IDF is the standard BM25 inverse document frequency with the
// +1 smoothing that keeps it positive.
func bm25IDF(n, df float64) float64 {
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}
