package usecase

import "autodoc-pipeline/internal/domain/model"

const (
	DefaultMaxFilesPerBatch       = 10
	DefaultMaxBytesPerBatch int64 = 512 * 1024
)

// PackagingOptions bounds the size of a batch. Non-positive values fall back
// to the defaults.
type PackagingOptions struct {
	MaxFiles int
	MaxBytes int64
}

func (o PackagingOptions) normalized() PackagingOptions {
	if o.MaxFiles <= 0 {
		o.MaxFiles = DefaultMaxFilesPerBatch
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytesPerBatch
	}
	return o
}

// BuildBatches partitions files, in order, into contiguous batches. A batch
// is closed as soon as the next file would push it past either bound; a file
// that is larger than MaxBytes on its own ends up alone in its batch.
// The same input always yields the same batches.
func BuildBatches(files []model.FileRecord, opts PackagingOptions) []model.Batch {
	opts = opts.normalized()

	var (
		out   []model.Batch
		cur   []model.FileRecord
		bytes int64
	)
	flush := func() {
		out = append(out, model.Batch{
			Index:      len(out),
			Files:      cur,
			TotalBytes: bytes,
			Status:     model.BatchStatusPending,
		})
		cur, bytes = nil, 0
	}

	for _, f := range files {
		if len(cur) > 0 && (len(cur)+1 > opts.MaxFiles || bytes+f.Size > opts.MaxBytes) {
			flush()
		}
		cur = append(cur, f)
		bytes += f.Size
	}
	if len(cur) > 0 {
		flush()
	}
	return out
}
