// Package tasks defines the payloads carried on the ingestion queue.
package tasks

import "time"

// IngestTask asks the pipeline worker to ingest an object previously
// stored in the upload bucket.
type IngestTask struct {
	TaskID      string     `json:"task_id"`
	ObjectName  string     `json:"object_name"`
	FileName    string     `json:"file_name"`
	Title       string     `json:"title"`
	Category    *string    `json:"category,omitempty"`
	FacilityID  *string    `json:"facility_id,omitempty"`
	SourceURL   string     `json:"source_url,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	UploadedBy  uint       `json:"uploaded_by"`
}
