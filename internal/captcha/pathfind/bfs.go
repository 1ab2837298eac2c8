package pathfind

import (
	"errors"

	"gridwalk.ai/internal/captcha/grid"
)

var ErrNotFound = errors.New("no path between start and goal")

// Path is an ordered list of grid keys from start to goal, both inclusive.
type Path []grid.Key

func (p Path) Strings() []string {
	out := make([]string, len(p))
	for i, k := range p {
		out[i] = k.String()
	}
	return out
}

// Fixed neighbor order for determinism. Among equal-length paths the one
// returned is whichever this order reaches first.
var dirs = [4][2]int64{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// Find runs a breadth-first search over the 4-connected grid from start to
// goal. A neighbor is only expanded when a tile was observed at its key.
// The start key itself does not need to be a grid member.
func Find(g grid.Grid, start, goal grid.Key) (Path, error) {
	cameFrom := make(map[grid.Key]grid.Key, len(g))
	visited := make(map[grid.Key]bool, len(g))
	visited[start] = true

	queue := make([]grid.Key, 0, len(g))
	queue = append(queue, start)

	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		if cur == goal {
			break
		}
		for _, d := range dirs {
			next := cur.Step(d[0], d[1])
			if visited[next] || !g.Has(next) {
				continue
			}
			visited[next] = true
			cameFrom[next] = cur
			queue = append(queue, next)
		}
	}

	if !visited[goal] {
		return nil, ErrNotFound
	}

	var path Path
	for cur := goal; ; {
		path = append(path, cur)
		if cur == start {
			break
		}
		cur = cameFrom[cur]
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}
