// Package model defines the persisted and wire-level data structures.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MetadataMap is a free-form provenance map serialized as JSON in the
// database. It is display/debugging data only and never ranked on.
type MetadataMap map[string]string

// Value implements driver.Valuer.
func (m MetadataMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *MetadataMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}
}

// KnowledgeChunk is one stored segment of a source document, mapped to
// the knowledge_chunks table. Rows are immutable once written;
// corrections re-ingest the whole document under the same digest.
type KnowledgeChunk struct {
	ID           uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	DocDigest    string      `gorm:"type:varchar(64);not null;index" json:"docDigest"`
	ChunkIndex   int         `gorm:"not null" json:"chunkIndex"`
	FacilityID   *string     `gorm:"type:varchar(64);index" json:"facilityId"`
	Category     *string     `gorm:"type:varchar(64)" json:"category"`
	Title        string      `gorm:"type:varchar(255);not null" json:"title"`
	Content      string      `gorm:"type:text;not null" json:"content"`
	SourceURL    string      `gorm:"type:varchar(512)" json:"sourceUrl"`
	LastUpdated  *time.Time  `json:"lastUpdated"`
	ModelVersion string      `gorm:"type:varchar(64)" json:"modelVersion"`
	Metadata     MetadataMap `gorm:"type:text" json:"metadata"`
	UploadedBy   uint        `json:"uploadedBy"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName names the backing table.
func (KnowledgeChunk) TableName() string {
	return "knowledge_chunks"
}

// IndexedChunk is the search-index projection of a KnowledgeChunk.
type IndexedChunk struct {
	ChunkKey     string            `json:"chunk_key"` // docDigest_chunkIndex
	RowID        uint              `json:"row_id"`
	DocDigest    string            `json:"doc_digest"`
	ChunkIndex   int               `json:"chunk_index"`
	FacilityID   string            `json:"facility_id,omitempty"`
	IsGlobal     bool              `json:"is_global"`
	Category     string            `json:"category,omitempty"`
	Title        string            `json:"title"`
	Content      string            `json:"content"`
	Embedding    []float32         `json:"embedding"`
	SourceURL    string            `json:"source_url,omitempty"`
	LastUpdated  *time.Time        `json:"last_updated,omitempty"`
	ModelVersion string            `json:"model_version"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SearchScope narrows a retrieval to a facility and/or category. A nil
// FacilityID matches facility-bound and globally visible chunks alike.
type SearchScope struct {
	FacilityID *string
	Category   *string
}

// ScoredChunk is one retrieval hit, ordered by descending relevance.
type ScoredChunk struct {
	ID        string  `json:"id"`
	Category  string  `json:"category,omitempty"`
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	SourceURL string  `json:"sourceUrl,omitempty"`
	Score     float64 `json:"score"`
	Rank      int     `json:"rank"`
}

// AssembledContext is the formatted context block plus the chunks it
// was built from, so citation numbers map back to sources. Ephemeral
// per request.
type AssembledContext struct {
	Text   string
	Chunks []ScoredChunk
}
