package model

import "time"

// Template is the user instruction applied to every batch of a job.
type Template struct {
	ID      string
	Name    string
	Content string
}

// Job groups the ordered batches of one run together with the template and
// model parameters used for it. The batch slice is fixed in length and order
// once the job is created.
type Job struct {
	ID             string
	RepositoryName string
	Template       Template
	Model          string
	Temperature    *float64
	Batches        []Batch
	Consolidated   bool
	CreatedAt      time.Time
}

// AllCompleted reports whether the job has at least one batch and every batch
// is completed.
func (j *Job) AllCompleted() bool {
	if len(j.Batches) == 0 {
		return false
	}
	for i := range j.Batches {
		if j.Batches[i].Status != BatchStatusCompleted {
			return false
		}
	}
	return true
}

// CountByStatus tallies batches per status.
func (j *Job) CountByStatus() map[BatchStatus]int {
	out := make(map[BatchStatus]int, 4)
	for i := range j.Batches {
		out[j.Batches[i].Status]++
	}
	return out
}
