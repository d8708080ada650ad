// Package models contains domain models for taxon.
package models

import "strings"

// Metadata carries the structured fields of a document that survive into
// cluster characterization. Known fields are typed; anything else the
// upstream ETL produces lands in Extra.
type Metadata struct {
	Category  string            `json:"category,omitempty"`
	Status    string            `json:"status,omitempty"`
	Account   string            `json:"account,omitempty"`
	CreatedAt string            `json:"created_at,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Fields returns all non-empty metadata fields as name/value pairs,
// typed fields first, Extra fields after.
func (m Metadata) Fields() map[string]string {
	fields := make(map[string]string, 4+len(m.Extra))
	if m.Category != "" {
		fields["category"] = m.Category
	}
	if m.Status != "" {
		fields["status"] = m.Status
	}
	if m.Account != "" {
		fields["account"] = m.Account
	}
	if m.CreatedAt != "" {
		fields["created_at"] = m.CreatedAt
	}
	for k, v := range m.Extra {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

// Document is a single free-text record handed to the pipeline by the
// upstream ETL. Immutable once constructed.
type Document struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// HasText reports whether the document carries embeddable text.
func (d Document) HasText() bool {
	return strings.TrimSpace(d.Text) != ""
}

// Embedding is a persisted vector for a single document.
type Embedding struct {
	DocumentID string    `json:"document_id"`
	Vector     []float32 `json:"vector"`
}

// NoiseLabel marks a document that does not belong with sufficient
// density to any discovered cluster.
const NoiseLabel = -1

// ClusterAssignment maps a document to a discovered cluster label.
// Label is NoiseLabel for unclustered documents.
type ClusterAssignment struct {
	DocumentID string `json:"document_id"`
	Label      int    `json:"label"`
}

// IsNoise reports whether the assignment is the noise label.
func (a ClusterAssignment) IsNoise() bool {
	return a.Label == NoiseLabel
}
