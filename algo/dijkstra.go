package algo

import (
	"container/heap"
	"context"
	"math"
	"slices"
)

// 每弹出多少个节点检查一次 context，避免大图上无法取消
const cancelCheckInterval = 1024

// PriorityQueueItem 优先队列中的元素
type PriorityQueueItem struct {
	NodeID int
	Cost   float64 // 距离成本 (米)
	Index  int     // 在堆中的索引
}

// PriorityQueue 实现 heap.Interface 接口的优先队列
type PriorityQueue []*PriorityQueueItem

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	return pq[i].Cost < pq[j].Cost
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*PriorityQueueItem)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // 避免内存泄漏
	item.Index = -1 // 标记为已移除
	*pq = old[0 : n-1]
	return item
}

// ShortestPaths 单源最短路的结果
type ShortestPaths struct {
	Source int
	Dist   []float64 // 到每个节点的最短距离，不可达为 +Inf
	Prev   []int     // 前驱节点，-1 表示没有
}

// Reachable 目标节点是否可达
func (sp *ShortestPaths) Reachable(id int) bool {
	return id >= 0 && id < len(sp.Dist) && !math.IsInf(sp.Dist[id], 1)
}

// PathTo 回溯从源点到目标节点的路径 (节点编号序列)
func (sp *ShortestPaths) PathTo(target int) []int {
	if !sp.Reachable(target) {
		return nil
	}
	path := []int{}
	for at := target; at != -1; at = sp.Prev[at] {
		path = append(path, at)
		if at == sp.Source {
			break
		}
	}
	slices.Reverse(path)
	return path
}

// Dijkstra 从 source 出发计算最短路
// target >= 0 时到达目标即提前退出 (单对查询)；target < 0 时计算到所有节点的距离 (单源查询)
// 边权重非负是算法正确性的前提，已在 NewGraph 中校验
func (g *Graph) Dijkstra(ctx context.Context, source, target int) (*ShortestPaths, error) {
	return g.search(ctx, source, target, math.Inf(1))
}

// DijkstraWithin 单源最短路，弹出的距离超过 maxDist 后停止扩展
// 结果中距离 <= maxDist 的节点都是最终值，更远的节点可能只是暂定值
func (g *Graph) DijkstraWithin(ctx context.Context, source int, maxDist float64) (*ShortestPaths, error) {
	return g.search(ctx, source, -1, maxDist)
}

func (g *Graph) search(ctx context.Context, source, target int, maxDist float64) (*ShortestPaths, error) {
	n := len(g.Nodes)
	sp := &ShortestPaths{
		Source: source,
		Dist:   make([]float64, n),
		Prev:   make([]int, n),
	}
	for i := range sp.Dist {
		sp.Dist[i] = math.Inf(1) // 无穷大
		sp.Prev[i] = -1
	}
	if source < 0 || source >= n {
		return sp, ErrNoStartNode
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sp.Dist[source] = 0

	visited := make([]bool, n)
	pq := make(PriorityQueue, 0)
	heap.Init(&pq)
	heap.Push(&pq, &PriorityQueueItem{NodeID: source, Cost: 0})

	popped := 0
	for pq.Len() > 0 {
		current := heap.Pop(&pq).(*PriorityQueueItem)
		currentID := current.NodeID

		popped++
		if popped%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		// 如果已访问过，跳过
		if visited[currentID] {
			continue
		}
		if current.Cost > maxDist {
			break
		}
		visited[currentID] = true

		// 如果到达终点，提前退出
		if currentID == target {
			break
		}

		for _, edge := range g.AdjList[currentID] {
			newCost := sp.Dist[currentID] + edge.Weight
			if newCost < sp.Dist[edge.To] {
				sp.Dist[edge.To] = newCost
				sp.Prev[edge.To] = currentID
				heap.Push(&pq, &PriorityQueueItem{NodeID: edge.To, Cost: newCost})
			}
		}
	}

	return sp, nil
}
