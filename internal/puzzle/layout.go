package puzzle

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// gridSizes maps difficulty to the puzzle grid. Exposed through GridSize so
// callers never bake the numbers in.
var gridSizes = map[Difficulty][2]int{
	DifficultyEasy:   {4, 4},
	DifficultyMedium: {6, 6},
	DifficultyHard:   {8, 8},
}

func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := gridSizes[d]; !ok {
		return "", fmt.Errorf("unknown difficulty %q", s)
	}
	return d, nil
}

func (d Difficulty) GridSize() (rows, cols int) {
	size, ok := gridSizes[d]
	if !ok {
		size = gridSizes[DifficultyMedium]
	}
	return size[0], size[1]
}

type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Piece describes one cell of the sliced image: where it came from in the
// source and where it belongs on the board.
type Piece struct {
	ID      int     `json:"id"`
	Row     int     `json:"row"`
	Col     int     `json:"col"`
	Source  Rect    `json:"source"`
	TargetX float64 `json:"targetX"`
	TargetY float64 `json:"targetY"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Edge    bool    `json:"edge"`
}

type Layout struct {
	Rows   int     `json:"rows"`
	Cols   int     `json:"cols"`
	Pieces []Piece `json:"pieces"`
}

// GenerateLayout slices the image at path into a grid for the given
// difficulty. Only the image header is decoded; pixel data stays on disk for
// the asset-serving layer.
func GenerateLayout(path string, difficulty Difficulty) (*Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open puzzle image %s: %w", path, err)
	}
	defer f.Close()

	conf, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("decode puzzle image %s: %w", path, err)
	}

	return GenerateLayoutFromBounds(conf.Width, conf.Height, difficulty)
}

// GenerateLayoutFromBounds builds the grid from known image dimensions.
func GenerateLayoutFromBounds(width, height int, difficulty Difficulty) (*Layout, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image bounds %dx%d", width, height)
	}

	rows, cols := difficulty.GridSize()
	pieceW := width / cols
	pieceH := height / rows

	layout := &Layout{
		Rows:   rows,
		Cols:   cols,
		Pieces: make([]Piece, 0, rows*cols),
	}

	id := 0
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			w, h := pieceW, pieceH
			// Last row/column absorbs the remainder so the grid covers the
			// whole image.
			if col == cols-1 {
				w = width - pieceW*(cols-1)
			}
			if row == rows-1 {
				h = height - pieceH*(rows-1)
			}

			layout.Pieces = append(layout.Pieces, Piece{
				ID:      id,
				Row:     row,
				Col:     col,
				Source:  Rect{X: col * pieceW, Y: row * pieceH, W: w, H: h},
				TargetX: float64(col * pieceW),
				TargetY: float64(row * pieceH),
				Width:   w,
				Height:  h,
				Edge:    row == 0 || col == 0 || row == rows-1 || col == cols-1,
			})
			id++
		}
	}

	return layout, nil
}
