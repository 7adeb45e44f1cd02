package algo

import (
	"errors"
	"fmt"
	"math"

	"walkable-city/model"
	"walkable-city/utils"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
)

var (
	// ErrCorruptGraph 图数据不合法 (悬空边、负权重等)
	ErrCorruptGraph = errors.New("corrupt graph data")
	// ErrNoStartNode 无法把坐标映射到任何节点 (空图)
	ErrNoStartNode = errors.New("no start node")
	// ErrNoRoute 起点和终点不连通
	ErrNoRoute = errors.New("no route found")
)

// halfEdge 邻接表中的一条出边
type halfEdge struct {
	To     int
	Weight float64
}

// nodePointer 让节点可以放进 quadtree
type nodePointer struct {
	id int
	p  orb.Point
}

func (n nodePointer) Point() orb.Point { return n.p }

// Graph 步行路网，加载完成后只读，可以被多个查询并发读取
type Graph struct {
	Nodes     []model.Node // 节点列表 (下标即内部编号)
	AdjList   [][]halfEdge // 邻接表 (内部编号 -> 出边列表)
	edgeCount int          // 无向边数量 (平行边分别计数)
	proj      utils.Projection
	index     *quadtree.Quadtree
}

// NewGraph 校验并构建路网
// 节点的 ID 必须等于其在切片中的下标；每条边的端点必须存在，权重必须是有限的非负数
func NewGraph(nodes []model.Node, edges []model.Edge, proj utils.Projection) (*Graph, error) {
	for i, n := range nodes {
		if n.ID != i {
			return nil, fmt.Errorf("%w: node at position %d has id %d", ErrCorruptGraph, i, n.ID)
		}
		if !utils.ValidCoordinate(n.Lat, n.Lon) {
			return nil, fmt.Errorf("%w: node %d has invalid coordinate (%f, %f)", ErrCorruptGraph, i, n.Lat, n.Lon)
		}
	}

	g := &Graph{
		Nodes:   nodes,
		AdjList: make([][]halfEdge, len(nodes)),
		proj:    proj,
	}

	for i, e := range edges {
		if e.U < 0 || e.U >= len(nodes) || e.V < 0 || e.V >= len(nodes) {
			return nil, fmt.Errorf("%w: edge %d references missing node (%d, %d)", ErrCorruptGraph, i, e.U, e.V)
		}
		if math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) || e.Weight < 0 {
			return nil, fmt.Errorf("%w: edge %d has invalid weight %f", ErrCorruptGraph, i, e.Weight)
		}
		// 无向图: 两个方向各存一条
		g.AdjList[e.U] = append(g.AdjList[e.U], halfEdge{To: e.V, Weight: e.Weight})
		if e.U != e.V {
			g.AdjList[e.V] = append(g.AdjList[e.V], halfEdge{To: e.U, Weight: e.Weight})
		}
		g.edgeCount++
	}

	if err := g.buildIndex(); err != nil {
		return nil, err
	}
	return g, nil
}

// buildIndex 在投影坐标上建立节点的空间索引
func (g *Graph) buildIndex() error {
	if len(g.Nodes) == 0 {
		return nil
	}
	points := make([]orb.Point, len(g.Nodes))
	bound := orb.Bound{}
	for i, n := range g.Nodes {
		points[i] = g.proj.Project(n.Lat, n.Lon)
		if i == 0 {
			bound = points[i].Bound()
		} else {
			bound = bound.Extend(points[i])
		}
	}
	g.index = quadtree.New(bound.Pad(1))
	for i, p := range points {
		if err := g.index.Add(nodePointer{id: i, p: p}); err != nil {
			return fmt.Errorf("%w: index node %d: %v", ErrCorruptGraph, i, err)
		}
	}
	return nil
}

// NodeCount 节点数量
func (g *Graph) NodeCount() int { return len(g.Nodes) }

// EdgeCount 无向边数量
func (g *Graph) EdgeCount() int { return g.edgeCount }

// ExternalID 内部编号对应的稳定外部编号
func (g *Graph) ExternalID(id int) (int64, bool) {
	n, ok := g.Node(id)
	return n.ExternalID, ok
}

// Node 根据内部编号获取节点
func (g *Graph) Node(id int) (model.Node, bool) {
	if id < 0 || id >= len(g.Nodes) {
		return model.Node{}, false
	}
	return g.Nodes[id], true
}

// GetNeighbors 获取指定节点的出边
func (g *Graph) GetNeighbors(id int) []halfEdge {
	return g.AdjList[id]
}

// Projection 路网使用的投影
func (g *Graph) Projection() utils.Projection { return g.proj }

// FindNearestNode 找到离给定坐标直线距离最近的节点
// 任意坐标都不在图上，所有路径计算都必须先经过这一步
func (g *Graph) FindNearestNode(lat, lon float64) (model.Node, float64, bool) {
	if g.index == nil {
		return model.Node{}, 0, false
	}
	target := g.proj.Project(lat, lon)
	found := g.index.Find(target)
	if found == nil {
		return model.Node{}, 0, false
	}
	np := found.(nodePointer)
	node := g.Nodes[np.id]
	return node, g.proj.Distance(lat, lon, node.Lat, node.Lon), true
}

// Coordinates 把节点编号序列转换为坐标序列
func (g *Graph) Coordinates(ids []int) []model.Point {
	out := make([]model.Point, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.Nodes[id].Point())
	}
	return out
}
