package media

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// VideoFile holds information about a video to be played
type VideoFile struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	// Size is the file size in bytes
	Size int64

	// Type is the MIME type of the file (e.g., "video/mp4")
	Type string
}

// The system MIME table often lacks container formats.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".ogv":  "video/ogg",
}

// ValidateVideo checks that path is a readable, non-empty video file.
func ValidateVideo(path string) (*VideoFile, error) {
	if path == "" {
		return nil, fmt.Errorf("no video file specified")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: file does not exist", path)
		}
		return nil, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}

	if stat.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", path)
	}

	if stat.Size() == 0 {
		return nil, fmt.Errorf("%s: file is empty", path)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	file.Close()

	mimeType := videoType(filepath.Ext(absPath))
	if !strings.HasPrefix(mimeType, "video/") {
		return nil, fmt.Errorf("%s: not a video file (%s)", path, mimeType)
	}

	return &VideoFile{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Type: mimeType,
	}, nil
}

func videoType(ext string) string {
	ext = strings.ToLower(ext)
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
