// Package render draws battle snapshots to PNG images.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"math"

	"github.com/fogleman/gg"

	"autobattle/internal/game"
)

// ErrEmptyGrid is returned for snapshots without a battlefield.
var ErrEmptyGrid = errors.New("render: snapshot has no grid")

// maxPixels caps the canvas so a huge grid cannot exhaust memory.
const maxPixels = 4096 * 4096

// Source supplies snapshots to draw (a local engine or a replay).
type Source interface {
	Snapshot() game.BattleSnapshot
}

// Options controls what gets drawn.
type Options struct {
	Scale     float64      // pixels per world unit
	ShowGrid  bool         // cell lines
	ShowPaths bool         // remaining unit waypoints
	Highlight []game.Point // extra route drawn on top (debug path)
}

// DefaultOptions draws a 100-unit cell as 25 pixels.
func DefaultOptions() Options {
	return Options{Scale: 0.25, ShowGrid: true, ShowPaths: true}
}

var (
	backgroundColor = color.RGBA{34, 49, 34, 255}
	gridColor       = color.RGBA{255, 255, 255, 24}
	blockedColor    = color.RGBA{60, 60, 66, 255}
	costColor       = color.RGBA{120, 90, 50, 255}
	pathColor       = color.RGBA{255, 255, 255, 90}
	highlightColor  = color.RGBA{255, 235, 59, 220}
	playerColor     = color.RGBA{33, 150, 243, 255}
	enemyColor      = color.RGBA{244, 67, 54, 255}
	hpBackColor     = color.RGBA{0, 0, 0, 160}
	hpColor         = color.RGBA{76, 175, 80, 255}
)

// Size returns the canvas dimensions for snap.
func Size(snap game.BattleSnapshot, opts Options) (width, height int) {
	world := snap.CellSize * opts.Scale
	return int(math.Ceil(float64(snap.GridWidth) * world)), int(math.Ceil(float64(snap.GridHeight) * world))
}

// Draw renders snap into a new context.
func Draw(snap game.BattleSnapshot, opts Options) (*gg.Context, error) {
	if snap.GridWidth <= 0 || snap.GridHeight <= 0 || snap.CellSize <= 0 {
		return nil, ErrEmptyGrid
	}
	if opts.Scale <= 0 {
		opts.Scale = DefaultOptions().Scale
	}
	w, h := Size(snap, opts)
	if w*h > maxPixels {
		return nil, fmt.Errorf("render: %dx%d canvas too large", w, h)
	}

	dc := gg.NewContext(w, h)
	dc.SetColor(backgroundColor)
	dc.DrawRectangle(0, 0, float64(w), float64(h))
	dc.Fill()

	// World units from here on. Line widths stay in pixels.
	dc.Scale(opts.Scale, opts.Scale)
	dc.Translate(-snap.Origin.X, -snap.Origin.Y)

	drawCells(dc, snap)
	if opts.ShowGrid {
		drawGrid(dc, snap)
	}
	for _, b := range snap.Buildings {
		drawBuilding(dc, b, snap.CellSize, opts.Scale)
	}
	if opts.ShowPaths {
		for _, u := range snap.Units {
			drawRoute(dc, u.Pos, u.Path, pathColor, 2)
		}
	}
	for _, u := range snap.Units {
		drawUnit(dc, u, snap.CellSize, opts.Scale)
	}
	if len(opts.Highlight) > 1 {
		drawRoute(dc, opts.Highlight[0], opts.Highlight[1:], highlightColor, 3)
	}
	return dc, nil
}

// RenderPNG encodes a render of snap as PNG.
func RenderPNG(snap game.BattleSnapshot, opts Options) ([]byte, error) {
	dc, err := Draw(snap, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("render: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// SavePNG writes a render of snap to path.
func SavePNG(path string, snap game.BattleSnapshot, opts Options) error {
	dc, err := Draw(snap, opts)
	if err != nil {
		return err
	}
	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("render: save %s: %w", path, err)
	}
	return nil
}

func cellRect(snap game.BattleSnapshot, x, y int) (float64, float64) {
	return snap.Origin.X + float64(x)*snap.CellSize, snap.Origin.Y + float64(y)*snap.CellSize
}

func drawCells(dc *gg.Context, snap game.BattleSnapshot) {
	for _, c := range snap.Cells {
		x, y := cellRect(snap, c.X, c.Y)
		switch {
		case c.Blocked:
			dc.SetColor(blockedColor)
		case c.Cost > 1:
			// Darker mud for higher cost.
			a := uint8(math.Min(255, 60+40*c.Cost))
			dc.SetColor(color.RGBA{costColor.R, costColor.G, costColor.B, a})
		default:
			continue
		}
		dc.DrawRectangle(x, y, snap.CellSize, snap.CellSize)
		dc.Fill()
	}
}

func drawGrid(dc *gg.Context, snap game.BattleSnapshot) {
	dc.SetColor(gridColor)
	dc.SetLineWidth(1)
	w := float64(snap.GridWidth) * snap.CellSize
	h := float64(snap.GridHeight) * snap.CellSize
	for i := 0; i <= snap.GridWidth; i++ {
		x := snap.Origin.X + float64(i)*snap.CellSize
		dc.DrawLine(x, snap.Origin.Y, x, snap.Origin.Y+h)
		dc.Stroke()
	}
	for j := 0; j <= snap.GridHeight; j++ {
		y := snap.Origin.Y + float64(j)*snap.CellSize
		dc.DrawLine(snap.Origin.X, y, snap.Origin.X+w, y)
		dc.Stroke()
	}
}

func teamColor(team string) color.Color {
	if team == game.TeamEnemy.String() {
		return enemyColor
	}
	return playerColor
}

func drawBuilding(dc *gg.Context, b game.BuildingSnapshot, cellSize, scale float64) {
	inset := cellSize * 0.1
	size := cellSize - 2*inset
	x := b.Pos.X - cellSize/2 + inset
	y := b.Pos.Y - cellSize/2 + inset

	dc.SetHexColor(b.Color)
	dc.DrawRectangle(x, y, size, size)
	dc.Fill()

	dc.SetColor(teamColor(b.Team))
	dc.SetLineWidth(math.Max(1, cellSize*0.05*scale))
	dc.DrawRectangle(x, y, size, size)
	dc.Stroke()

	// Level pips along the bottom edge.
	dc.SetColor(color.White)
	for i := 0; i < b.Level; i++ {
		dc.DrawCircle(x+inset*(float64(i)+1), y+size-inset/2, inset/4)
		dc.Fill()
	}

	drawHealth(dc, b.Pos.X, y-inset/2, size, b.HP, b.MaxHP, cellSize)
}

func drawUnit(dc *gg.Context, u game.UnitSnapshot, cellSize, scale float64) {
	r := cellSize * 0.2

	// Shadow under the body, the mesh carries the lunge.
	dc.SetColor(color.RGBA{0, 0, 0, 90})
	dc.DrawCircle(u.Pos.X, u.Pos.Y+r*0.3, r)
	dc.Fill()

	dc.SetColor(teamColor(u.Team))
	dc.DrawCircle(u.Mesh.X, u.Mesh.Y, r+r*0.2)
	dc.Fill()
	dc.SetHexColor(u.Color)
	dc.DrawCircle(u.Mesh.X, u.Mesh.Y, r)
	dc.Fill()

	// Facing.
	dc.SetColor(color.White)
	dc.SetLineWidth(math.Max(1, r*0.25*scale))
	dc.DrawLine(u.Mesh.X, u.Mesh.Y, u.Mesh.X+math.Cos(u.Yaw)*r*1.4, u.Mesh.Y+math.Sin(u.Yaw)*r*1.4)
	dc.Stroke()

	if u.HP < u.MaxHP {
		drawHealth(dc, u.Pos.X, u.Pos.Y-r*1.6, r*2.4, u.HP, u.MaxHP, cellSize)
	}
}

func drawHealth(dc *gg.Context, cx, y, width, hp, maxHP, cellSize float64) {
	if maxHP <= 0 {
		return
	}
	h := cellSize * 0.06
	frac := math.Max(0, math.Min(1, hp/maxHP))
	dc.SetColor(hpBackColor)
	dc.DrawRectangle(cx-width/2, y, width, h)
	dc.Fill()
	dc.SetColor(hpColor)
	dc.DrawRectangle(cx-width/2, y, width*frac, h)
	dc.Fill()
}

func drawRoute(dc *gg.Context, from game.Point, path []game.Point, c color.Color, width float64) {
	if len(path) == 0 {
		return
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.MoveTo(from.X, from.Y)
	for _, p := range path {
		dc.LineTo(p.X, p.Y)
	}
	dc.Stroke()
}
