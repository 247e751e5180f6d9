// vidvault/extract/formats.go
package extract

import (
	"sort"
	"strconv"
)

// BestFormat picks the rendition to download: the largest resolution not
// exceeding maxHeight, tie-broken by declared size. Formats above the
// ceiling only win when nothing fits under it. Returns nil when no format
// carries resolution metadata, in which case the caller should defer to
// the source's own default ranking.
//
// The selection is pure: the same input list always yields the same pick.
func BestFormat(formats []Format, maxHeight int) *Format {
	withHeight := 0
	for _, f := range formats {
		if f.Height > 0 {
			withHeight++
		}
	}
	if withHeight == 0 {
		return nil
	}

	ranked := make([]Format, len(formats))
	copy(ranked, formats)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		aFits, bFits := a.Height <= maxHeight, b.Height <= maxHeight
		if aFits != bFits {
			return aFits
		}
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return a.Filesize > b.Filesize
	})
	return &ranked[0]
}

// DefaultSelector is the yt-dlp format expression used when BestFormat
// has no resolution metadata to work with.
func DefaultSelector(maxHeight int) string {
	if maxHeight <= 0 {
		return "best"
	}
	return "best[height<=" + strconv.Itoa(maxHeight) + "]/best"
}
