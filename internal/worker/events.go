package worker

// IngestRunPayload is the body of an ingest.run message. Empty fields fall
// back to the configured corpus.
type IngestRunPayload struct {
	Root          string `json:"root,omitempty"`
	MappingPath   string `json:"mapping_path,omitempty"`
	Resume        bool   `json:"resume,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// IngestResultPayload is published on ingest.result when a run ends.
type IngestResultPayload struct {
	RunID         string `json:"run_id"`
	State         string `json:"state"`
	Documents     int    `json:"documents"`
	Chunks        int    `json:"chunks"`
	Indexed       int    `json:"indexed"`
	Skipped       int    `json:"skipped"`
	Failed        int    `json:"failed"`
	Error         string `json:"error,omitempty"`
	CorrelationID string `json:"correlation_id"`
}
