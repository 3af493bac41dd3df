package model

type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusError      BatchStatus = "error"
)

// Batch is the unit of work sent to the AI service in a single call.
type Batch struct {
	Index      int
	Files      []FileRecord
	TotalBytes int64
	Status     BatchStatus
	Result     string
	// BackendID is assigned by the storage backend the first time the batch is
	// registered and reused on every later attempt.
	BackendID string
}

// Runnable reports whether a run should pick this batch up.
func (b *Batch) Runnable() bool {
	return b.Status == BatchStatusPending || b.Status == BatchStatusError
}

// Reset drives the batch back to pending and drops any stored result.
func (b *Batch) Reset() {
	b.Status = BatchStatusPending
	b.Result = ""
}

// Paths returns the relative paths of the files in the batch, in order.
func (b *Batch) Paths() []string {
	out := make([]string, len(b.Files))
	for i, f := range b.Files {
		out[i] = f.Path
	}
	return out
}
