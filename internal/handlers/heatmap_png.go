package handlers

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"net/http"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/criadorlab/planner/backend/internal/models"
	"github.com/criadorlab/planner/backend/internal/planner"
)

const (
	heatCellW   = 90
	heatCellH   = 40
	heatGutterX = 50
	heatGutterY = 24
)

var heatDayNames = []string{"", "Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// heatColor maps a score in [0,1] onto a white-to-green ramp. Unobserved
// buckets render flat gray so "no data" never reads as "bad hour".
func heatColor(p models.HeatPoint) color.RGBA {
	if !p.Observed {
		return color.RGBA{R: 0xe5, G: 0xe5, B: 0xe5, A: 0xff}
	}
	s := p.Score
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	// white (0) -> saturated green (1)
	r := uint8(0xff - s*(0xff-0x1a))
	g := uint8(0xff - s*(0xff-0x8f))
	b := uint8(0xff - s*(0xff-0x3d))
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

func drawLabel(img *image.RGBA, x, y int, label string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{A: 0xff}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(label)
}

// renderHeatmapPNG paints the 7x4 grid: rows are days (Sunday first),
// columns are the fixed blocks.
func renderHeatmapPNG(points []models.HeatPoint) *image.RGBA {
	w := heatGutterX + len(models.BlockStartHours)*heatCellW
	h := heatGutterY + 7*heatCellH
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	colForBlock := make(map[int]int, len(models.BlockStartHours))
	for i, bh := range models.BlockStartHours {
		colForBlock[bh] = i
		drawLabel(img, heatGutterX+i*heatCellW+8, 16, fmt.Sprintf("%dh-%dh", bh, bh+3))
	}
	for day := 1; day <= 7; day++ {
		drawLabel(img, 8, heatGutterY+(day-1)*heatCellH+24, heatDayNames[day])
	}

	for _, p := range points {
		col, ok := colForBlock[p.BlockStartHour]
		if !ok || p.DayOfWeek < 1 || p.DayOfWeek > 7 {
			continue
		}
		x0 := heatGutterX + col*heatCellW
		y0 := heatGutterY + (p.DayOfWeek-1)*heatCellH
		cell := image.Rect(x0+1, y0+1, x0+heatCellW-1, y0+heatCellH-1)
		draw.Draw(img, cell, image.NewUniform(heatColor(p)), image.Point{}, draw.Src)
		if p.Observed {
			drawLabel(img, x0+6, y0+26, fmt.Sprintf("%.2f (n=%d)", p.Score, p.SampleSize))
		}
	}
	return img
}

// GetHeatmapPNG renders the creator's scored grid as an image, for embedding
// in emails and exports where the frontend grid is unavailable.
func (h *Handler) GetHeatmapPNG(w http.ResponseWriter, r *http.Request) {
	creatorID := pathVar(r, "creatorId")
	if creatorID == "" {
		writeError(w, http.StatusBadRequest, "creatorId is required")
		return
	}
	weekStart, err := parseWeekStart(r.URL.Query().Get("weekStart"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "weekStart must be YYYY-MM-DD")
		return
	}

	_, heatmap, err := h.store.Load(r.Context(), callerID(r, creatorID), creatorID, weekStart)
	if errors.Is(err, planner.ErrNotAuthorized) {
		writeError(w, http.StatusForbidden, "not authorized for this planner")
		return
	}
	if err != nil {
		log.Printf("[Heatmap][PNG] load error creatorId=%s: %v", creatorID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	img := renderHeatmapPNG(heatmap)
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	if err := png.Encode(w, img); err != nil {
		log.Printf("[Heatmap][PNG] encode error creatorId=%s: %v", creatorID, err)
	}
}
