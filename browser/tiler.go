package browser

import (
	"sync"

	"go.uber.org/zap"
)

// Rect is a window rectangle on the logical screen.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// WindowTiler assigns on-screen rectangles to live sessions over a fixed
// grid. Assignment picks the lowest-index free tile; release frees it. When
// every tile is taken, Assign reports no slot and the session proceeds
// without a window position.
type WindowTiler struct {
	cols, rows int
	tileW      int
	tileH      int

	mu    sync.Mutex
	owner map[int]string // tile index → profile id
	tiles map[string]int // profile id → tile index

	logger *zap.Logger
}

// NewWindowTiler builds a tiler for a cols×rows grid over the given screen.
// The default 3×2 grid on 1920×1080 yields six 640×540 tiles.
func NewWindowTiler(screenW, screenH, cols, rows int, logger *zap.Logger) *WindowTiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cols <= 0 {
		cols = 3
	}
	if rows <= 0 {
		rows = 2
	}
	if screenW <= 0 {
		screenW = 1920
	}
	if screenH <= 0 {
		screenH = 1080
	}
	return &WindowTiler{
		cols:   cols,
		rows:   rows,
		tileW:  screenW / cols,
		tileH:  screenH / rows,
		owner:  make(map[int]string),
		tiles:  make(map[string]int),
		logger: logger,
	}
}

// Capacity returns the number of tiles in the grid.
func (t *WindowTiler) Capacity() int {
	return t.cols * t.rows
}

// Assign reserves the lowest-index free tile for a profile and returns its
// rectangle. The second return is false when the grid is exhausted. A profile
// that already holds a tile gets its existing rectangle back.
func (t *WindowTiler) Assign(profileID, personaName string) (Rect, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.tiles[profileID]; ok {
		return t.rect(idx), true
	}

	for idx := 0; idx < t.cols*t.rows; idx++ {
		if _, taken := t.owner[idx]; taken {
			continue
		}
		t.owner[idx] = profileID
		t.tiles[profileID] = idx
		t.logger.Debug("window slot assigned",
			zap.String("profile_id", profileID),
			zap.String("persona", personaName),
			zap.Int("tile", idx))
		return t.rect(idx), true
	}

	t.logger.Debug("window grid exhausted, session runs unpositioned",
		zap.String("profile_id", profileID))
	return Rect{}, false
}

// Release frees the tile a profile holds. Releasing an unassigned profile is
// a no-op.
func (t *WindowTiler) Release(profileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.tiles[profileID]
	if !ok {
		return
	}
	delete(t.tiles, profileID)
	delete(t.owner, idx)
}

// FreeSlots returns the number of unassigned tiles.
func (t *WindowTiler) FreeSlots() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cols*t.rows - len(t.owner)
}

func (t *WindowTiler) rect(idx int) Rect {
	col := idx % t.cols
	row := idx / t.cols
	return Rect{
		X:      col * t.tileW,
		Y:      row * t.tileH,
		Width:  t.tileW,
		Height: t.tileH,
	}
}
