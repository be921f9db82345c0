package main

import (
	"fmt"
	"math"
	"time"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"

	"autobattle/internal/game"
	"autobattle/internal/level"
)

// cellColumns is how many terminal columns one grid cell takes; terminal
// cells are roughly twice as tall as they are wide.
const cellColumns = 2

var (
	styleGround  = tcell.StyleDefault.Background(tcell.NewRGBColor(34, 49, 34))
	styleBlocked = tcell.StyleDefault.Background(tcell.NewRGBColor(60, 60, 66))
	styleStatus  = tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorDarkSlateGray)

	teamColors = map[string]tcell.Color{
		"player": tcell.NewRGBColor(33, 150, 243),
		"enemy":  tcell.NewRGBColor(244, 67, 54),
	}
)

type viewer struct {
	screen   tcell.Screen
	engine   *game.Engine
	level    *level.Level
	tickRate int
	logger   *zap.Logger
}

func newViewer(screen tcell.Screen, engine *game.Engine, l *level.Level, tickRate int, logger *zap.Logger) *viewer {
	return &viewer{screen: screen, engine: engine, level: l, tickRate: tickRate, logger: logger}
}

// handleEvent reacts to one terminal event. Returns false to quit.
func (v *viewer) handleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case nil:
		return false
	case *tcell.EventKey:
		return v.handleKey(ev.Key(), ev.Rune())
	case *tcell.EventResize:
		v.screen.Sync()
	}
	return true
}

func (v *viewer) handleKey(key tcell.Key, r rune) bool {
	switch {
	case key == tcell.KeyEscape || key == tcell.KeyCtrlC:
		return false
	case key != tcell.KeyRune:
		return true
	}
	switch r {
	case 'q':
		return false
	case ' ':
		if v.engine.Stats().InBattle {
			v.engine.StopBattle()
		} else {
			v.engine.StartBattle()
		}
	case 'r':
		if err := v.engine.LoadLevel(v.level); err != nil {
			v.logger.Warn("level reload rejected", zap.String("level", v.level.Name), zap.Error(err))
		}
	}
	return true
}

// toCell maps a world point onto the snapshot's grid.
func toCell(snap game.BattleSnapshot, p game.Point) (int, int) {
	x := int(math.Floor((p.X - snap.Origin.X) / snap.CellSize))
	y := int(math.Floor((p.Y - snap.Origin.Y) / snap.CellSize))
	return x, y
}

func (v *viewer) put(x, y int, r rune, style tcell.Style) {
	for i := 0; i < cellColumns; i++ {
		c := ' '
		if i == 0 {
			c = r
		}
		v.screen.SetContent(x*cellColumns+i, y, c, nil, style)
	}
}

func (v *viewer) draw(snap game.BattleSnapshot) {
	v.screen.Clear()
	if snap.CellSize <= 0 {
		v.screen.Show()
		return
	}

	for y := 0; y < snap.GridHeight; y++ {
		for x := 0; x < snap.GridWidth; x++ {
			v.put(x, y, ' ', styleGround)
		}
	}
	for _, c := range snap.Cells {
		switch {
		case c.Blocked:
			v.put(c.X, c.Y, ' ', styleBlocked)
		case c.Cost > 1:
			v.put(c.X, c.Y, '~', styleGround.Foreground(tcell.NewRGBColor(160, 120, 70)))
		}
	}

	for _, b := range snap.Buildings {
		glyph := 'B'
		if k, ok := game.BuildingKinds[b.Kind]; ok {
			glyph = k.Glyph
		}
		style := tcell.StyleDefault.Foreground(tcell.GetColor(b.Color)).Background(teamColors[b.Team]).Bold(true)
		v.put(b.CellX, b.CellY, glyph, style)
	}

	for _, u := range snap.Units {
		x, y := toCell(snap, u.Pos)
		if x < 0 || y < 0 || x >= snap.GridWidth || y >= snap.GridHeight {
			continue
		}
		glyph := 'u'
		if a, ok := game.Archetypes[u.Archetype]; ok {
			glyph = a.Glyph
		}
		style := styleGround.Foreground(teamColors[u.Team])
		if u.State == game.StateAttacking.String() {
			style = style.Bold(true)
		}
		if !u.Active {
			style = style.Dim(true)
		}
		v.put(x, y, glyph, style)
	}

	battle := "paused"
	if snap.InBattle {
		battle = "fighting"
	}
	status := fmt.Sprintf(" tick %d  %s  player %d  enemy %d  idle %d moving %d attacking %d  [space] battle  [r] reset  [q] quit ",
		snap.TickNumber, battle, snap.Player, snap.Enemy, snap.Idle, snap.Moving, snap.Attacking)
	for i, r := range status {
		v.screen.SetContent(i, snap.GridHeight, r, nil, styleStatus)
	}

	v.screen.Show()
}

// run steps the engine at its tick rate and redraws after every frame.
func (v *viewer) run() {
	ticker := time.NewTicker(time.Second / time.Duration(v.tickRate))
	defer ticker.Stop()

	// PollEvent returns nil once the screen is finalized.
	events := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := v.screen.PollEvent()
			events <- ev
			if ev == nil {
				return
			}
		}
	}()

	dt := 1 / float64(v.tickRate)
	v.draw(v.engine.Snapshot())
	for {
		select {
		case ev := <-events:
			if !v.handleEvent(ev) {
				return
			}
		case <-ticker.C:
			v.engine.Step(dt)
			v.draw(v.engine.Snapshot())
		}
	}
}
