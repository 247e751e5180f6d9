// vidvault/extract/formats_test.go
package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBestFormat(t *testing.T) {
	t.Run("picks the largest format within the ceiling", func(t *testing.T) {
		formats := []Format{
			{FormatID: "720", Height: 720, Filesize: 100 * 1024 * 1024},
			{FormatID: "1080", Height: 1080, Filesize: 50 * 1024 * 1024},
			{FormatID: "480", Height: 480, Filesize: 10 * 1024 * 1024},
		}
		best := BestFormat(formats, 720)
		require.NotNil(t, best)
		assert.Equal(t, "720", best.FormatID)
	})

	t.Run("falls back to the sole format above the ceiling", func(t *testing.T) {
		formats := []Format{
			{FormatID: "1080", Height: 1080, Filesize: 50 * 1024 * 1024},
		}
		best := BestFormat(formats, 720)
		require.NotNil(t, best)
		assert.Equal(t, "1080", best.FormatID)
	})

	t.Run("breaks height ties by declared size", func(t *testing.T) {
		formats := []Format{
			{FormatID: "small", Height: 720, Filesize: 40 * 1024 * 1024},
			{FormatID: "large", Height: 720, Filesize: 90 * 1024 * 1024},
		}
		best := BestFormat(formats, 720)
		require.NotNil(t, best)
		assert.Equal(t, "large", best.FormatID)
	})

	t.Run("is deterministic for the same input", func(t *testing.T) {
		formats := []Format{
			{FormatID: "a", Height: 480, Filesize: 1},
			{FormatID: "b", Height: 360, Filesize: 2},
			{FormatID: "c", Height: 720, Filesize: 3},
		}
		first := BestFormat(formats, 720)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first.FormatID, BestFormat(formats, 720).FormatID)
		}
	})

	t.Run("returns nil without resolution metadata", func(t *testing.T) {
		formats := []Format{
			{FormatID: "a", Filesize: 100},
			{FormatID: "b", Filesize: 200},
		}
		assert.Nil(t, BestFormat(formats, 720))
	})

	t.Run("returns nil for an empty list", func(t *testing.T) {
		assert.Nil(t, BestFormat(nil, 720))
	})
}

func TestDefaultSelector(t *testing.T) {
	assert.Equal(t, "best[height<=720]/best", DefaultSelector(720))
	assert.Equal(t, "best", DefaultSelector(0))
}
