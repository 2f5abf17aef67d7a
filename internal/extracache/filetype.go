package extracache

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/bunchhieng/vview/internal/mediaid"
	lru "github.com/hashicorp/golang-lru/arc/v2"
)

const fileTypeCacheSize = 8192

var mimeByExtension = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".avif": "image/avif",
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".zip":  "application/zip",
}

// FileTypeGuesser works out the MIME type of local files, by extension when
// it is known and by content otherwise. Answers are remembered per media id.
type FileTypeGuesser struct {
	cache *lru.ARCCache[mediaid.ID, string]
}

// NewFileTypeGuesser returns an empty guesser.
func NewFileTypeGuesser() (*FileTypeGuesser, error) {
	cache, err := lru.NewARC[mediaid.ID, string](fileTypeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create file type cache: %w", err)
	}
	return &FileTypeGuesser{cache: cache}, nil
}

// Known returns a previously guessed type.
func (g *FileTypeGuesser) Known(id mediaid.ID) (string, bool) {
	return g.cache.Get(id)
}

// Guess returns the MIME type of a local file. head is the start of the file
// and is only looked at when the extension is not recognised; it may be nil,
// in which case an unrecognised file is reported as unknown and not
// remembered.
func (g *FileTypeGuesser) Guess(id mediaid.ID, head []byte) (string, bool) {
	if id.Type != mediaid.TypeFile {
		return "", false
	}
	if mime, ok := g.cache.Get(id); ok {
		return mime, true
	}

	mime, ok := mimeByExtension[strings.ToLower(path.Ext(id.ID))]
	if !ok {
		if len(head) == 0 {
			return "", false
		}
		mime = sniff(head)
	}
	g.cache.Add(id, mime)
	return mime, true
}

// IsVideo reports whether mime is a video type.
func IsVideo(mime string) bool {
	return strings.HasPrefix(mime, "video/")
}

func sniff(head []byte) string {
	// Matroska and WebM share the EBML magic; DetectContentType only knows WebM.
	if len(head) >= 4 && head[0] == 0x1a && head[1] == 0x45 && head[2] == 0xdf && head[3] == 0xa3 {
		if strings.Contains(string(head[:min(len(head), 64)]), "matroska") {
			return "video/x-matroska"
		}
		return "video/webm"
	}
	mime := http.DetectContentType(head)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return mime
}
