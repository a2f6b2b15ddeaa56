package session

import (
	"path/filepath"
	"slices"
	"strings"
)

var (
	audioExtensions = []string{"mp3", "aac", "wav"}
	videoExtensions = []string{"mp4", "webm"}
)

func extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// IsAudio reports whether name has a known audio extension.
func IsAudio(name string) bool {
	return slices.Contains(audioExtensions, extension(name))
}

// IsVideo reports whether name has a known video extension.
func IsVideo(name string) bool {
	return slices.Contains(videoExtensions, extension(name))
}

// IsMedia reports whether name looks playable.
func IsMedia(name string) bool {
	return IsAudio(name) || IsVideo(name)
}

// MIMEFromName derives a media type from the extension alone, e.g.
// video/webm or audio/mp3. Unknown extensions give "".
func MIMEFromName(name string) string {
	switch {
	case IsVideo(name):
		return "video/" + extension(name)
	case IsAudio(name):
		return "audio/" + extension(name)
	}
	return ""
}
