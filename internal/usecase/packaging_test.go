//go:build !integration

package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autodoc-pipeline/internal/domain/model"
)

func sized(path string, size int64) model.FileRecord {
	return model.FileRecord{ID: path, Path: path, Size: size}
}

func flatten(batches []model.Batch) []string {
	var out []string
	for _, b := range batches {
		out = append(out, b.Paths()...)
	}
	return out
}

func TestBuildBatches(t *testing.T) {
	t.Run("should split by file count and keep order", func(t *testing.T) {
		files := filesOneEach(25)
		got := BuildBatches(files, PackagingOptions{MaxFiles: 10, MaxBytes: 1 << 20})

		require.Len(t, got, 3)
		assert.Len(t, got[0].Files, 10)
		assert.Len(t, got[1].Files, 10)
		assert.Len(t, got[2].Files, 5)

		want := make([]string, len(files))
		for i, f := range files {
			want[i] = f.Path
		}
		assert.Equal(t, want, flatten(got))
	})

	t.Run("should split by cumulative bytes", func(t *testing.T) {
		files := []model.FileRecord{sized("a", 300<<10), sized("b", 300<<10), sized("c", 100<<10)}
		got := BuildBatches(files, PackagingOptions{})

		require.Len(t, got, 2)
		assert.Equal(t, []string{"a"}, got[0].Paths())
		assert.Equal(t, []string{"b", "c"}, got[1].Paths())
		assert.Equal(t, int64(400<<10), got[1].TotalBytes)
	})

	t.Run("should give an oversize file its own batch", func(t *testing.T) {
		files := []model.FileRecord{sized("small", 10), sized("huge", 2<<20), sized("tail", 10)}
		got := BuildBatches(files, PackagingOptions{MaxFiles: 10, MaxBytes: 1 << 20})

		require.Len(t, got, 3)
		assert.Equal(t, []string{"huge"}, got[1].Paths())
		assert.Equal(t, int64(2<<20), got[1].TotalBytes)
	})

	t.Run("should respect both bounds and index contiguously", func(t *testing.T) {
		var files []model.FileRecord
		for i := 0; i < 40; i++ {
			files = append(files, sized(string(rune('a'+i%26))+string(rune('0'+i/26)), int64(1000*(i%7+1))))
		}
		got := BuildBatches(files, PackagingOptions{MaxFiles: 4, MaxBytes: 9000})
		for i, b := range got {
			assert.Equal(t, i, b.Index)
			assert.Equal(t, model.BatchStatusPending, b.Status)
			var sum int64
			for _, f := range b.Files {
				sum += f.Size
			}
			assert.Equal(t, sum, b.TotalBytes)
			if len(b.Files) > 1 {
				assert.LessOrEqual(t, len(b.Files), 4)
				assert.LessOrEqual(t, b.TotalBytes, int64(9000))
			}
		}
		assert.Len(t, flatten(got), 40)
	})

	t.Run("should be deterministic", func(t *testing.T) {
		files := filesOneEach(17)
		assert.Equal(t, BuildBatches(files, PackagingOptions{MaxFiles: 3}), BuildBatches(files, PackagingOptions{MaxFiles: 3}))
	})

	t.Run("should return nothing for an empty selection", func(t *testing.T) {
		assert.Empty(t, BuildBatches(nil, PackagingOptions{}))
	})
}
