package render

import (
	"math"
)

// Geometry is an indexed line mesh. Positions are rest positions and
// Normals their unit directions from the origin.
type Geometry struct {
	Positions []Vec3
	Normals   []Vec3
	Edges     [][2]int32
}

var icoIndices = [20][3]int{
	{0, 11, 5}, {0, 5, 1}, {0, 1, 7}, {0, 7, 10}, {0, 10, 11},
	{1, 5, 9}, {5, 11, 4}, {11, 10, 2}, {10, 7, 6}, {7, 1, 8},
	{3, 9, 4}, {3, 4, 2}, {3, 2, 6}, {3, 6, 8}, {3, 8, 9},
	{4, 9, 5}, {2, 4, 11}, {6, 2, 10}, {8, 6, 7}, {9, 8, 1},
}

// NewIcosphere subdivides each icosahedron face into (detail+1)² triangles
// and projects every vertex onto a sphere of the given radius. Shared
// vertices and edges are merged.
func NewIcosphere(radius float64, detail int) *Geometry {
	t := (1 + math.Sqrt(5)) / 2
	base := [12]Vec3{
		{-1, t, 0}, {1, t, 0}, {-1, -t, 0}, {1, -t, 0},
		{0, -1, t}, {0, 1, t}, {0, -1, -t}, {0, 1, -t},
		{t, 0, -1}, {t, 0, 1}, {-t, 0, -1}, {-t, 0, 1},
	}

	g := &Geometry{}
	index := make(map[[3]int64]int32)
	vertex := func(p Vec3) int32 {
		n := p.Normalize()
		key := [3]int64{quantize(n.X), quantize(n.Y), quantize(n.Z)}
		if i, ok := index[key]; ok {
			return i
		}
		i := int32(len(g.Positions))
		index[key] = i
		g.Positions = append(g.Positions, n.Scale(radius))
		g.Normals = append(g.Normals, n)
		return i
	}
	edges := make(map[[2]int32]struct{})
	edge := func(a, b int32) {
		if a == b {
			return
		}
		if a > b {
			a, b = b, a
		}
		e := [2]int32{a, b}
		if _, ok := edges[e]; ok {
			return
		}
		edges[e] = struct{}{}
		g.Edges = append(g.Edges, e)
	}

	cols := detail + 1
	grid := make([][]int32, cols+1)
	for _, f := range icoIndices {
		a, b, c := base[f[0]], base[f[1]], base[f[2]]
		for i := 0; i <= cols; i++ {
			aj := lerp(a, c, float64(i)/float64(cols))
			bj := lerp(b, c, float64(i)/float64(cols))
			rows := cols - i
			grid[i] = grid[i][:0]
			for j := 0; j <= rows; j++ {
				if j == 0 && i == cols {
					grid[i] = append(grid[i], vertex(aj))
					continue
				}
				grid[i] = append(grid[i], vertex(lerp(aj, bj, float64(j)/float64(rows))))
			}
		}
		for i := 0; i < cols; i++ {
			for j := 0; j < 2*(cols-i)-1; j++ {
				k := j / 2
				var v0, v1, v2 int32
				if j%2 == 0 {
					v0, v1, v2 = grid[i][k+1], grid[i+1][k], grid[i][k]
				} else {
					v0, v1, v2 = grid[i][k+1], grid[i+1][k+1], grid[i+1][k]
				}
				edge(v0, v1)
				edge(v1, v2)
				edge(v2, v0)
			}
		}
	}
	return g
}

// Release drops the vertex and edge buffers.
func (g *Geometry) Release() {
	g.Positions = nil
	g.Normals = nil
	g.Edges = nil
}

func lerp(a, b Vec3, t float64) Vec3 {
	return a.Add(b.Sub(a).Scale(t))
}

func quantize(v float64) int64 {
	return int64(math.Round(v * 1e9))
}
