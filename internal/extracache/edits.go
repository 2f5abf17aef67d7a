package extracache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/bunchhieng/vview/internal/mediaid"
	"github.com/bunchhieng/vview/internal/model"
	"github.com/bunchhieng/vview/internal/storage"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ImageEditsStore is the KV collection of image edits, keyed by page media id.
var ImageEditsStore = storage.Schema{
	Name: "image-edit-data",
	Indexes: []storage.Index{
		{Name: "illust_id", Path: "illust_id"},
		{Name: "edited_at", Path: "edited_at"},
	},
}

// ErrBadExport is returned when importing data that is not an image edit
// export.
var ErrBadExport = errors.New("not an image edit export")

// EditSink receives edits so cached media records stay in step with the
// store.
type EditSink interface {
	SetImageEdit(pageID mediaid.ID, edit *model.ImageEdit) bool
}

type storedEdit struct {
	model.ImageEdit
	IllustID mediaid.ID `json:"illust_id"`
}

// ImageEdits persists user image edits and mirrors them into a media cache.
type ImageEdits struct {
	store  storage.Store
	sink   EditSink
	now    func() time.Time
	logger *slog.Logger
}

// NewImageEdits returns edit storage over store. sink may be nil.
func NewImageEdits(store storage.Store, sink EditSink, logger *slog.Logger) *ImageEdits {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageEdits{
		store:  store,
		sink:   sink,
		now:    time.Now,
		logger: logger.With("component", "image-edits"),
	}
}

func (e *ImageEdits) encode(edit model.ImageEdit) (storage.Entry, error) {
	data, err := json.Marshal(storedEdit{ImageEdit: edit, IllustID: edit.IllustID()})
	if err != nil {
		return storage.Entry{}, fmt.Errorf("encode edit %s: %w", edit.MediaID, err)
	}
	return storage.Entry{Key: edit.MediaID.String(), Value: data}, nil
}

// Save stores edit, stamping its edit time and a new revision.
func (e *ImageEdits) Save(ctx context.Context, edit model.ImageEdit) (model.ImageEdit, error) {
	if edit.MediaID.IsZero() {
		return edit, fmt.Errorf("save edit: %w", model.ErrInvalidMediaID)
	}
	edit.EditedAt = e.now().UnixMilli()
	edit.Revision = uuid.NewString()

	entry, err := e.encode(edit)
	if err != nil {
		return edit, err
	}
	if err := e.store.Set(ctx, entry.Key, entry.Value); err != nil {
		return edit, fmt.Errorf("save edit %s: %w", edit.MediaID, err)
	}
	if e.sink != nil {
		e.sink.SetImageEdit(edit.MediaID, &edit)
	}
	return edit, nil
}

// Get returns the edit of one page, or model.ErrNotFound.
func (e *ImageEdits) Get(ctx context.Context, pageID mediaid.ID) (model.ImageEdit, error) {
	stored, err := storage.GetJSON[storedEdit](ctx, e.store, pageID.String())
	if err != nil {
		return model.ImageEdit{}, err
	}
	return stored.ImageEdit, nil
}

// Delete removes the edit of one page.
func (e *ImageEdits) Delete(ctx context.Context, pageID mediaid.ID) error {
	if err := e.store.Delete(ctx, pageID.String()); err != nil {
		return fmt.Errorf("delete edit %s: %w", pageID, err)
	}
	if e.sink != nil {
		e.sink.SetImageEdit(pageID, nil)
	}
	return nil
}

// ForIllust returns the edits of every page of a work.
func (e *ImageEdits) ForIllust(ctx context.Context, illustID mediaid.ID) ([]model.ImageEdit, error) {
	return e.collect(ctx, storage.CursorOptions{
		Index: "illust_id",
		Range: storage.Only(illustID.FirstPage().String()),
	})
}

// Recent returns up to limit edits, most recently edited first.
func (e *ImageEdits) Recent(ctx context.Context, limit int) ([]model.ImageEdit, error) {
	return e.collect(ctx, storage.CursorOptions{
		Index:     "edited_at",
		Direction: storage.Descending,
		Limit:     limit,
	})
}

func (e *ImageEdits) collect(ctx context.Context, opts storage.CursorOptions) ([]model.ImageEdit, error) {
	var edits []model.ImageEdit
	err := e.store.Each(ctx, opts, func(entry storage.Entry) (bool, error) {
		stored, err := storage.DecodeEntry[storedEdit](entry)
		if err != nil {
			return false, err
		}
		edits = append(edits, stored.ImageEdit)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list edits: %w", err)
	}
	return edits, nil
}

// LoadInto copies the stored edits of a work into the sink and returns how
// many there were.
func (e *ImageEdits) LoadInto(ctx context.Context, illustID mediaid.ID) (int, error) {
	edits, err := e.ForIllust(ctx, illustID)
	if err != nil {
		return 0, err
	}
	if e.sink == nil {
		return len(edits), nil
	}
	for i := range edits {
		e.sink.SetImageEdit(edits[i].MediaID, &edits[i])
	}
	return len(edits), nil
}

// Export writes every stored edit to w, oldest first. It walks the primary
// keys so that edits without an edit time are exported too.
func (e *ImageEdits) Export(ctx context.Context, w io.Writer) (int, error) {
	edits, err := e.collect(ctx, storage.CursorOptions{})
	if err != nil {
		return 0, err
	}
	if edits == nil {
		edits = []model.ImageEdit{}
	}
	slices.SortStableFunc(edits, func(a, b model.ImageEdit) int {
		return cmp.Compare(a.EditedAt, b.EditedAt)
	})
	if err := json.NewEncoder(w).Encode(model.ImageEditExport{Type: model.ImageEditExportType, Data: edits}); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	return len(edits), nil
}

// Import reads an export from r and stores its edits, replacing stored edits
// of the same pages. Edits keep their exported edit time and revision; an
// edit without an edit time is stamped with the import time.
func (e *ImageEdits) Import(ctx context.Context, r io.Reader) (int, error) {
	var export model.ImageEditExport
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return 0, fmt.Errorf("read export: %w", err)
	}
	if export.Type != model.ImageEditExportType {
		return 0, fmt.Errorf("import type %q: %w", export.Type, ErrBadExport)
	}

	now := e.now().UnixMilli()
	entries := make([]storage.Entry, 0, len(export.Data))
	for i := range export.Data {
		edit := &export.Data[i]
		if edit.MediaID.IsZero() {
			e.logger.Warn("skipping imported edit without media id")
			continue
		}
		if edit.EditedAt == 0 {
			edit.EditedAt = now
		}
		entry, err := e.encode(*edit)
		if err != nil {
			return 0, err
		}
		entries = append(entries, entry)
	}
	if err := e.store.MultiSet(ctx, entries); err != nil {
		return 0, fmt.Errorf("store imported edits: %w", err)
	}
	if e.sink != nil {
		for i := range export.Data {
			if !export.Data[i].MediaID.IsZero() {
				e.sink.SetImageEdit(export.Data[i].MediaID, &export.Data[i])
			}
		}
	}
	e.logger.Info("imported image edits", "count", len(entries))
	return len(entries), nil
}
