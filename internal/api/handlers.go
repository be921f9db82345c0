package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"autobattle/internal/game"
	"autobattle/internal/render"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 16

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.Stats()
	writeJSON(w, map[string]interface{}{
		"status":   "ok",
		"battleId": stats.BattleID,
		"tick":     stats.Tick,
		"running":  stats.Running,
	})
}

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Snapshot())
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"engine":    h.engine.Stats(),
		"rateLimit": h.limiter.GetStats(),
	})
}

func (h *routerHandlers) handleGetGrid(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Snapshot()
	writeJSON(w, map[string]interface{}{
		"width":    snap.GridWidth,
		"height":   snap.GridHeight,
		"cellSize": snap.CellSize,
		"origin":   snap.Origin,
		"cells":    snap.Cells,
	})
}

func (h *routerHandlers) handleGetPath(w http.ResponseWriter, r *http.Request) {
	x, y, ok := cellQuery(w, r)
	if !ok {
		return
	}
	path, stats, err := h.engine.DebugPath(x, y)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	waypoints := make([]game.Point, len(path))
	for i, p := range path {
		waypoints[i] = game.Point{X: p.X, Y: p.Y}
	}
	writeJSON(w, map[string]interface{}{
		"result":     stats.Result.String(),
		"expanded":   stats.Expanded,
		"durationUs": stats.Duration.Microseconds(),
		"waypoints":  waypoints,
	})
}

type buildingKindJSON struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	MaxHealth float64 `json:"maxHealth"`
	Color     string  `json:"color"`
}

func (h *routerHandlers) handleGetArchetypes(w http.ResponseWriter, r *http.Request) {
	units := make([]*game.Archetype, 0, len(game.Archetypes))
	for _, id := range game.ArchetypeIDs() {
		units = append(units, game.Archetypes[id])
	}
	buildings := make([]buildingKindJSON, 0, len(game.BuildingKinds))
	for _, id := range game.BuildingKindIDs() {
		k := game.BuildingKinds[id]
		buildings = append(buildings, buildingKindJSON{
			ID:        k.ID,
			Name:      k.Name,
			Type:      k.Type.String(),
			MaxHealth: k.MaxHealth,
			Color:     k.Color,
		})
	}
	writeJSON(w, map[string]interface{}{
		"units":     units,
		"buildings": buildings,
	})
}

func (h *routerHandlers) handleRender(w http.ResponseWriter, r *http.Request) {
	opts := render.DefaultOptions()
	q := r.URL.Query()
	if s := q.Get("scale"); s != "" {
		scale, err := strconv.ParseFloat(s, 64)
		if err != nil || scale <= 0 || scale > 2 {
			writeError(w, "scale must be in (0, 2]", http.StatusBadRequest)
			return
		}
		opts.Scale = scale
	}
	if q.Get("paths") == "false" {
		opts.ShowPaths = false
	}
	if q.Has("x") || q.Has("y") {
		x, y, ok := cellQuery(w, r)
		if !ok {
			return
		}
		path, _, err := h.engine.DebugPath(x, y)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		for _, p := range path {
			opts.Highlight = append(opts.Highlight, game.Point{X: p.X, Y: p.Y})
		}
	}

	png, err := render.RenderPNG(h.engine.Snapshot(), opts)
	if err != nil {
		h.logger.Warn("render failed", zap.Error(err))
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (h *routerHandlers) handleSpawnUnit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Archetype string `json:"archetype"`
		Team      string `json:"team"`
		X         int    `json:"x"`
		Y         int    `json:"y"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	team, err := game.ParseTeam(req.Team)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	handle, err := h.engine.SpawnUnit(req.Archetype, team, req.X, req.Y)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	unit, _ := h.engine.Unit(handle)
	writeJSONStatus(w, unit, http.StatusCreated)
}

func (h *routerHandlers) handleActivateUnit(w http.ResponseWriter, r *http.Request) {
	handle, ok := handleParam(w, r)
	if !ok {
		return
	}
	req := struct {
		Active *bool `json:"active"`
	}{}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	if err := h.engine.ActivateUnit(handle, active); err != nil {
		writeEngineError(w, err)
		return
	}
	unit, _ := h.engine.Unit(handle)
	writeJSON(w, unit)
}

func (h *routerHandlers) handlePlaceBuilding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind string `json:"kind"`
		Team string `json:"team"`
		X    int    `json:"x"`
		Y    int    `json:"y"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	team, err := game.ParseTeam(req.Team)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	handle, err := h.engine.PlaceBuilding(req.Kind, team, req.X, req.Y)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	building, _ := h.engine.Building(handle)
	writeJSONStatus(w, building, http.StatusCreated)
}

func (h *routerHandlers) handleRemoveBuilding(w http.ResponseWriter, r *http.Request) {
	handle, ok := handleParam(w, r)
	if !ok {
		return
	}
	if err := h.engine.RemoveBuilding(handle); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *routerHandlers) handleUpgradeBuilding(w http.ResponseWriter, r *http.Request) {
	handle, ok := handleParam(w, r)
	if !ok {
		return
	}
	gold, elixir, err := h.engine.UpgradeBuilding(handle)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	building, _ := h.engine.Building(handle)
	writeJSON(w, map[string]interface{}{
		"gold":     gold,
		"elixir":   elixir,
		"building": building,
	})
}

func (h *routerHandlers) handleSetCell(w http.ResponseWriter, r *http.Request) {
	var req struct {
		X       int      `json:"x"`
		Y       int      `json:"y"`
		Blocked *bool    `json:"blocked"`
		Cost    *float64 `json:"cost"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Blocked == nil && req.Cost == nil {
		writeError(w, "blocked or cost is required", http.StatusBadRequest)
		return
	}

	if req.Cost != nil {
		if err := h.engine.SetCellCost(req.X, req.Y, *req.Cost); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	if req.Blocked != nil {
		if err := h.engine.SetCellBlocked(req.X, req.Y, *req.Blocked); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) handleBattleStart(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("battle start requested via API")
	h.engine.StartBattle()
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) handleBattleStop(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("battle stop requested via API")
	h.engine.StopBattle()
	writeJSON(w, map[string]bool{"success": true})
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, data, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSONStatus(w, map[string]string{"error": message}, code)
}

// writeEngineError maps engine sentinel errors onto HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, game.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, game.ErrUnknownArchetype), errors.Is(err, game.ErrInvalidCoordinate):
		code = http.StatusBadRequest
	case errors.Is(err, game.ErrCellOccupied), errors.Is(err, game.ErrMaxLevel):
		code = http.StatusConflict
	case errors.Is(err, game.ErrLimitReached):
		code = http.StatusServiceUnavailable
	}
	writeError(w, err.Error(), code)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func handleParam(w http.ResponseWriter, r *http.Request) (game.Handle, bool) {
	h, err := game.ParseHandle(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return game.Handle{}, false
	}
	return h, true
}

func cellQuery(w http.ResponseWriter, r *http.Request) (x, y int, ok bool) {
	q := r.URL.Query()
	x, errX := strconv.Atoi(q.Get("x"))
	y, errY := strconv.Atoi(q.Get("y"))
	if errX != nil || errY != nil {
		writeError(w, "x and y must be integers", http.StatusBadRequest)
		return 0, 0, false
	}
	return x, y, true
}
