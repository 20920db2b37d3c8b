package store

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// MemoryRecordMetadata is the descriptive part of a memory record. It is what
// gets serialized into an entry's metadata column.
type MemoryRecordMetadata struct {
	// IsReference is true when the record points at an external source
	// instead of holding the text itself.
	IsReference        bool   `json:"is_reference"`
	ExternalSourceName string `json:"external_source_name"`
	// ID is the record identifier and doubles as the storage key.
	ID                 string `json:"id"`
	Description        string `json:"description"`
	Text               string `json:"text"`
	AdditionalMetadata string `json:"additional_metadata"`
}

// MemoryRecord is the generic record shape exchanged with callers of Store.
type MemoryRecord struct {
	Metadata  MemoryRecordMetadata
	Embedding []float32
	// Key is overwritten with Metadata.ID on upsert.
	Key       string
	Timestamp *time.Time
}

// MemoryRecordWithScore is a nearest-match result.
type MemoryRecordWithScore struct {
	Record *MemoryRecord
	Score  float64
}

// NewLocalRecord builds a record whose text is stored alongside the embedding.
func NewLocalRecord(id, text, description string, embedding []float32, additionalMetadata string, timestamp *time.Time) *MemoryRecord {
	return &MemoryRecord{
		Metadata: MemoryRecordMetadata{
			ID:                 id,
			Text:               text,
			Description:        description,
			AdditionalMetadata: additionalMetadata,
		},
		Embedding: embedding,
		Key:       id,
		Timestamp: timestamp,
	}
}

// NewReferenceRecord builds a record that refers to text held by an external source.
func NewReferenceRecord(externalID, sourceName, description string, embedding []float32, additionalMetadata string, timestamp *time.Time) *MemoryRecord {
	return &MemoryRecord{
		Metadata: MemoryRecordMetadata{
			IsReference:        true,
			ExternalSourceName: sourceName,
			ID:                 externalID,
			Description:        description,
			AdditionalMetadata: additionalMetadata,
		},
		Embedding: embedding,
		Key:       externalID,
		Timestamp: timestamp,
	}
}

// SerializedMetadata returns the JSON form of the record metadata.
func (r *MemoryRecord) SerializedMetadata() (string, error) {
	b, err := json.Marshal(r.Metadata)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal memory record metadata")
	}
	return string(b), nil
}

// FromJSONMetadata rebuilds a record from serialized metadata.
func FromJSONMetadata(metadata string, embedding []float32, key string, timestamp *time.Time) (*MemoryRecord, error) {
	record := &MemoryRecord{
		Embedding: embedding,
		Key:       key,
		Timestamp: timestamp,
	}
	if metadata == "" {
		record.Metadata.ID = key
		return record, nil
	}
	if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal metadata of %q", key)
	}
	return record, nil
}
