package auth

// Scopes understood by the ingestion API.
const (
	ScopeIngestRun  = "ingest:run"
	ScopeIngestRead = "ingest:read"
)
