package media

import (
	"maps"
	"path/filepath"
	"slices"
	"strings"
)

// Kind classifies a source file as a still image or a video.
type Kind string

const (
	// KindImage is a still photo (jpg, jpeg, png, webp, heic).
	KindImage Kind = "image"
	// KindVideo is a moving picture with an optional audio track (mp4, mov, mkv).
	KindVideo Kind = "video"
)

// kindByExt maps lower-cased extensions to the kind they are rendered as.
var kindByExt = map[string]Kind{
	".mp4":  KindVideo,
	".mov":  KindVideo,
	".mkv":  KindVideo,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".webp": KindImage,
	".heic": KindImage,
}

// File is an eligible source file found in the inventory.
type File struct {
	// Path is the location of the file on disk.
	Path string
	// Kind tells whether the file is rendered as a still or a video.
	Kind Kind
	// Ext is the lower-cased extension including the leading dot.
	Ext string
}

// NewFile classifies path by its extension. The second return value is false
// when the extension is not one of the recognized media types.
func NewFile(path string) (File, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	kind, ok := kindByExt[ext]
	if !ok {
		return File{}, false
	}
	return File{Path: path, Kind: kind, Ext: ext}, true
}

// Name returns the base name of the file.
func (f File) Name() string {
	return filepath.Base(f.Path)
}

// IsImage reports whether the file is a still image.
func (f File) IsImage() bool {
	return f.Kind == KindImage
}

// Extensions returns every recognized extension in sorted order.
func Extensions() []string {
	return slices.Sorted(maps.Keys(kindByExt))
}
