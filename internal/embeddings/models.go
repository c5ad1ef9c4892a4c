// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"encoding/binary"
	"math"
	"time"

	"gorm.io/gorm"
)

// Embedding is the stored vector for one memory record. The vector is
// persisted as a little-endian float32 blob.
type Embedding struct {
	RecordID     string    `gorm:"primaryKey" json:"record_id"`
	ContentHash  string    `gorm:"not null" json:"content_hash"`
	ModelName    string    `gorm:"not null" json:"model_name"`
	Provider     string    `gorm:"not null" json:"provider"`
	Dimensions   int       `gorm:"not null" json:"dimensions"`
	Vector       []byte    `gorm:"type:blob;not null" json:"-"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

// TableName specifies the table name for Embedding
func (Embedding) TableName() string {
	return "embeddings"
}

// MigrateEmbeddings runs migrations for the embeddings table
func MigrateEmbeddings(db *gorm.DB) error {
	return db.AutoMigrate(&Embedding{})
}

// Float32SliceToBlob converts a float32 slice to a little-endian blob
func Float32SliceToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		binary.LittleEndian.PutUint32(buf[i*4:], bits)
	}
	return buf
}

// BlobToFloat32Slice converts a blob back to a float32 slice
func BlobToFloat32Slice(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v
}

// CosineSimilarity calculates cosine similarity between two vectors
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
