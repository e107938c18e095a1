// Package overlay draws the layer stack over the tile frame: vector
// features from spatial stores, the GPS track, markers and their labels.
package overlay

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"fieldmap/internal/projection"
)

// fontHeight is the pixel height of gg's default face.
const fontHeight = 13

// Hit is the screen box of one drawn feature, used for tap lookup.
type Hit struct {
	ID  string
	Box Rect
}

type labelCandidate struct {
	anchor orb.Point
	text   string
	size   float64
	color  string
	id     string
}

type pass struct {
	ctx    context.Context
	dc     *gg.Context
	canvas *image.RGBA
	view   projection.Viewport
	log    *zap.Logger
	labels []labelCandidate
	hits   []Hit
}

func (p *pass) hit(id string, box Rect) {
	p.hits = append(p.hits, Hit{ID: id, Box: box})
}

func (p *pass) label(c labelCandidate) {
	p.labels = append(p.labels, c)
}

type Renderer struct {
	log *zap.Logger

	mu   sync.RWMutex
	hits []Hit
}

func NewRenderer(log *zap.Logger) *Renderer {
	return &Renderer{log: log}
}

// Render draws the enabled layers in order onto dst and then places labels.
// A layer that fails is logged and skipped; the rest of the frame is still drawn.
func (r *Renderer) Render(ctx context.Context, view projection.Viewport, textScale float64, layers []Layer, dst *image.RGBA) []LabelPlacement {
	if textScale <= 0 {
		textScale = 1
	}
	p := &pass{
		ctx:    ctx,
		dc:     gg.NewContextForRGBA(dst),
		canvas: dst,
		view:   view,
		log:    r.log,
	}

	for _, l := range layers {
		if ctx.Err() != nil {
			break
		}
		if !l.Enabled() {
			continue
		}
		nHits, nLabels := len(p.hits), len(p.labels)
		if err := r.renderLayer(p, l); err != nil {
			r.log.Warn("Skipping overlay layer",
				zap.String("layer", l.Name()),
				zap.Stringer("kind", l.Kind()),
				zap.Error(err))
			p.hits, p.labels = p.hits[:nHits], p.labels[:nLabels]
		}
	}

	placed := r.placeLabels(p, textScale)

	r.mu.Lock()
	r.hits = p.hits
	r.mu.Unlock()

	return placed
}

func (r *Renderer) renderLayer(p *pass, l Layer) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	p.dc.Push()
	defer p.dc.Pop()
	return l.render(p)
}

func (r *Renderer) placeLabels(p *pass, textScale float64) []LabelPlacement {
	index := NewLabelIndex()
	dc := p.dc

	for _, c := range p.labels {
		size := c.size
		if size <= 0 {
			size = fontHeight
		}
		scale := size * textScale / fontHeight
		w, h := dc.MeasureString(c.text)
		x, y := c.anchor.X(), c.anchor.Y()

		placement := LabelPlacement{
			Box:       LabelBox(x, y, w*scale, h*scale),
			Text:      c.text,
			FeatureID: c.id,
		}
		if !index.TryPlace(placement) {
			continue
		}

		dc.Push()
		dc.ScaleAbout(scale, scale, x, y)
		dc.SetColor(haloColor)
		for _, d := range haloOffsets {
			dc.DrawStringAnchored(c.text, x+d[0], y+d[1], 0.5, 0)
		}
		dc.SetColor(paint(c.color, 1, defaultStroke))
		dc.DrawStringAnchored(c.text, x, y, 0.5, 0)
		dc.Pop()
	}
	return index.Placed()
}

// HitTest returns the topmost feature whose box contains the point.
func (r *Renderer) HitTest(x, y float64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.hits) - 1; i >= 0; i-- {
		if r.hits[i].Box.Contains(x, y) {
			return r.hits[i].ID, true
		}
	}
	return "", false
}

// Hits returns the hit list of the last completed pass.
func (r *Renderer) Hits() []Hit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Hit(nil), r.hits...)
}
