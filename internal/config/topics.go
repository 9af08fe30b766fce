package config

const (
	// TopicIngestRun is the NSQ topic carrying ingestion run triggers.
	TopicIngestRun = "ingest.run"

	// TopicIngestResult is the NSQ topic for finished run summaries.
	TopicIngestResult = "ingest.result"
)
