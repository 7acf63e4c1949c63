package queue

// Job subjects live under jobs.catalog.> so they never land in CATALOG_EVENTS.
const (
	StreamName     = "CATALOG_JOBS"
	StreamSubjects = "jobs.catalog.>"
	SubjectSync    = "jobs.catalog.sync"
	SubjectDLQ     = "jobs.catalog.dlq"

	durableSync = "catalog_sync"
)

// SyncJob asks the catalog to start a sync run.
type SyncJob struct {
	Mode   string `json:"mode"`
	Resume bool   `json:"resume"`
}
