package clip

// Resolution classifies a frame size.
type Resolution string

const (
	ResolutionUnknown Resolution = ""
	ResolutionSD      Resolution = "SD"
	ResolutionHD      Resolution = "HD"
	ResolutionFullHD  Resolution = "FullHD"
	Resolution4K      Resolution = "4K"
)

// ClassifyResolution maps pixel dimensions onto a resolution class. Either
// dimension reaching a threshold is enough, so portrait video is classified by
// its long edge.
func ClassifyResolution(width, height int) Resolution {
	switch {
	case width <= 0 || height <= 0:
		return ResolutionUnknown
	case width >= 3840 || height >= 2160:
		return Resolution4K
	case width >= 1920 || height >= 1080:
		return ResolutionFullHD
	case width >= 1280 || height >= 720:
		return ResolutionHD
	default:
		return ResolutionSD
	}
}
