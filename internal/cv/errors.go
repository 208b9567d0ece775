package cv

import "errors"

// Search error taxonomy. A zero-match search is not an error.
var (
	ErrAssetNotFound   = errors.New("needle asset not found")
	ErrImageDecode     = errors.New("needle image unreadable")
	ErrCaptureFailed   = errors.New("screen capture failed")
	ErrInvalidArgument = errors.New("invalid search argument")
)

// Sentinel counts returned by Search when the search could not run.
const (
	StatusAssetNotFound   = -1
	StatusImageDecode     = -2
	StatusCaptureFailed   = -3
	StatusInvalidArgument = -4
)

// StatusCode maps a search error onto its negative sentinel count.
// A nil error maps to 0.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrAssetNotFound):
		return StatusAssetNotFound
	case errors.Is(err, ErrImageDecode):
		return StatusImageDecode
	case errors.Is(err, ErrCaptureFailed):
		return StatusCaptureFailed
	default:
		return StatusInvalidArgument
	}
}
