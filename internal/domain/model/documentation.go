package model

import "time"

// Documentation is the consolidated document produced from every batch result
// of a job, in batch index order.
type Documentation struct {
	ID        string
	JobID     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BatchRecord is the persisted view of a batch as the storage backend knows it.
type BatchRecord struct {
	ID         string
	JobID      string
	Index      int
	TotalBytes int64
	Completed  bool
	Result     string
}
