package clip

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// SegmentKey returns {episode}/clips/{clip}/segments/{index}.{ext}.
func SegmentKey(episodeID, clipID string, index int, ext string) string {
	return path.Join(episodeID, "clips", clipID, "segments", strconv.Itoa(index)+"."+cleanExt(ext))
}

// ClipKey returns {episode}/clips/{clip}/clip.{ext}.
func ClipKey(episodeID, clipID, ext string) string {
	return path.Join(episodeID, "clips", clipID, "clip."+cleanExt(ext))
}

// SegmentEntity names the status history record of one segment.
func SegmentEntity(clipID string, index int) string {
	return fmt.Sprintf("%s/segments/%d", clipID, index)
}

func cleanExt(ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return "mp4"
	}
	return ext
}
