package model

import "time"

// SyncStatus is the outcome of a CRM sync run.
type SyncStatus string

const (
	SyncRunning   SyncStatus = "running"
	SyncSucceeded SyncStatus = "succeeded"
	SyncFailed    SyncStatus = "failed"
)

// SyncRun records one full CRM-to-store synchronization.
type SyncRun struct {
	ID         string     `json:"id"`
	Provider   string     `json:"provider"`
	Status     SyncStatus `json:"status"`
	Fetched    int        `json:"fetched"`
	New        int        `json:"new"`
	Updated    int        `json:"updated"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt,omitempty"`
}
