package domain

import "time"

// Batch groups the messages ingested together from one source file.
// Messages reference their batch by id only.
type Batch struct {
	ID           string
	SourceName   string
	TotalRecords int
	CreatedAt    time.Time
}

// BatchOverview is a batch with aggregate delivery and reply counts.
type BatchOverview struct {
	Batch
	TotalMessages   int
	Sent            int
	Failed          int
	Pending         int
	RepliesReceived int
	AwaitingReply   int
}
