package model

import (
	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/goccy/go-json"
)

// ImageEditExportType tags exported image edit files.
const ImageEditExportType = "vview-image-data"

// ImageEdit is a user-authored edit of one page: crop, pan and inpaint data.
// Edit payloads are kept as raw JSON so fields written by newer versions
// survive a round trip.
type ImageEdit struct {
	MediaID  mediaid.ID      `json:"media_id"`
	EditedAt int64           `json:"edited_at,omitempty"`
	Revision string          `json:"revision,omitempty"`
	Crop     json.RawMessage `json:"crop,omitempty"`
	Pan      json.RawMessage `json:"pan,omitempty"`
	Inpaint  json.RawMessage `json:"inpaint,omitempty"`
}

// IllustID returns the first-page media id the edit belongs to.
func (e ImageEdit) IllustID() mediaid.ID {
	return e.MediaID.FirstPage()
}

// ImageEditExport is the on-disk format of exported edits.
type ImageEditExport struct {
	Type string      `json:"type"`
	Data []ImageEdit `json:"data"`
}
