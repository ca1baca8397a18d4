package grid

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Board micro-format.
//
// The public key "cells" holds every placed piece as ";"-joined items of
// the form "x,y_color". A player's action writes the private key "cell"
// as "x,y_color" to place a piece or "x,y_color,oldX,oldY" to move the
// piece standing on (oldX, oldY).

type point struct {
	X, Y int
}

// board maps occupied points to the color standing on them.
type board map[point]string

// cellAction is a decoded "cell" value.
type cellAction struct {
	To     point
	Color  string
	From   point
	IsMove bool
}

var directions = []point{{1, 0}, {0, 1}, {1, 1}, {1, -1}}

func parsePoint(xs, ys string) (point, error) {
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return point{}, fmt.Errorf("bad x %q", xs)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return point{}, fmt.Errorf("bad y %q", ys)
	}
	return point{X: x, Y: y}, nil
}

// parseCell decodes "x,y_color".
func parseCell(v string) (point, string, error) {
	coords, color, ok := strings.Cut(v, "_")
	if !ok || color == "" {
		return point{}, "", fmt.Errorf("cell %q: missing color", v)
	}
	xs, ys, ok := strings.Cut(coords, ",")
	if !ok {
		return point{}, "", fmt.Errorf("cell %q: missing y", v)
	}
	p, err := parsePoint(xs, ys)
	if err != nil {
		return point{}, "", fmt.Errorf("cell %q: %w", v, err)
	}
	return p, color, nil
}

func formatCell(p point, color string) string {
	return fmt.Sprintf("%d,%d_%s", p.X, p.Y, color)
}

// parseBoard decodes the "cells" value. An empty value is an empty board.
func parseBoard(v string) (board, error) {
	b := make(board)
	if strings.TrimSpace(v) == "" {
		return b, nil
	}
	for _, item := range strings.Split(v, ";") {
		if item == "" {
			continue
		}
		p, color, err := parseCell(item)
		if err != nil {
			return nil, err
		}
		b[p] = color
	}
	return b, nil
}

// String encodes the board sorted by row then column so equal boards
// always produce equal strings.
func (b board) String() string {
	points := make([]point, 0, len(b))
	for p := range b {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Y != points[j].Y {
			return points[i].Y < points[j].Y
		}
		return points[i].X < points[j].X
	})
	items := make([]string, len(points))
	for i, p := range points {
		items[i] = formatCell(p, b[p])
	}
	return strings.Join(items, ";")
}

// parseCellAction decodes "x,y_color" or "x,y_color,oldX,oldY".
func parseCellAction(v string) (cellAction, error) {
	coords, rest, ok := strings.Cut(v, "_")
	if !ok {
		return cellAction{}, fmt.Errorf("cell action %q: missing color", v)
	}
	xs, ys, ok := strings.Cut(coords, ",")
	if !ok {
		return cellAction{}, fmt.Errorf("cell action %q: missing y", v)
	}
	to, err := parsePoint(xs, ys)
	if err != nil {
		return cellAction{}, fmt.Errorf("cell action %q: %w", v, err)
	}

	parts := strings.Split(rest, ",")
	action := cellAction{To: to, Color: parts[0]}
	if action.Color == "" {
		return cellAction{}, fmt.Errorf("cell action %q: missing color", v)
	}
	switch len(parts) {
	case 1:
	case 3:
		from, err := parsePoint(parts[1], parts[2])
		if err != nil {
			return cellAction{}, fmt.Errorf("cell action %q: %w", v, err)
		}
		action.From = from
		action.IsMove = true
	default:
		return cellAction{}, fmt.Errorf("cell action %q: expected x,y_color[,oldX,oldY]", v)
	}
	return action, nil
}

func (b board) clone() board {
	c := make(board, len(b))
	for p, color := range b {
		c[p] = color
	}
	return c
}

func (b board) count(color string) int {
	n := 0
	for _, c := range b {
		if c == color {
			n++
		}
	}
	return n
}

func neighbours(p point) []point {
	out := make([]point, 0, 8)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx != 0 || dy != 0 {
				out = append(out, point{p.X + dx, p.Y + dy})
			}
		}
	}
	return out
}

// hasNeighbour reports whether any of p's eight neighbours is occupied.
func (b board) hasNeighbour(p point) bool {
	for _, n := range neighbours(p) {
		if _, ok := b[n]; ok {
			return true
		}
	}
	return false
}

// strands reports whether moving the piece at from to to would leave a
// piece formerly adjacent to from without any neighbour.
func (b board) strands(from, to point) bool {
	after := b.clone()
	color := after[from]
	delete(after, from)
	after[to] = color
	for _, n := range neighbours(from) {
		if _, ok := after[n]; !ok {
			continue
		}
		if !after.hasNeighbour(n) {
			return true
		}
	}
	return false
}

// hasLine scans every cell of color in four directions and reports
// whether length of them stand in a row.
func (b board) hasLine(color string, length int) bool {
	for p, c := range b {
		if c != color {
			continue
		}
		for _, d := range directions {
			run := 1
			for step := 1; step < length; step++ {
				if b[point{p.X + d.X*step, p.Y + d.Y*step}] != color {
					break
				}
				run++
			}
			if run >= length {
				return true
			}
		}
	}
	return false
}
