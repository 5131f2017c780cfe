package lockset

import "sort"

// Graph 為有向 wait-for 圖：邊 A → B 表示 A 正在等待 B 持有的資源。
// 圖中出現循環即代表死結。
type Graph struct {
	edges map[string]map[string]bool
}

// NewGraph 建立空白的 wait-for 圖。
func NewGraph() *Graph {
	return &Graph{edges: make(map[string]map[string]bool)}
}

// AddEdge 記錄 waiter 正在等待 holder。
func (g *Graph) AddEdge(waiter, holder string) {
	if g.edges[waiter] == nil {
		g.edges[waiter] = make(map[string]bool)
	}
	g.edges[waiter][holder] = true
}

// Cycle 以深度優先搜尋找出一個循環，回傳循環上的節點（依走訪順序）；無循環時回傳 nil。
// 起點依字典序排序，讓相同的圖得到相同的結果。
func (g *Graph) Cycle() []string {
	starts := make([]string, 0, len(g.edges))
	for n := range g.edges {
		starts = append(starts, n)
	}
	sort.Strings(starts)

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string

	var dfs func(n string) []string
	dfs = func(n string) []string {
		visited[n] = true
		onStack[n] = true
		path = append(path, n)

		next := make([]string, 0, len(g.edges[n]))
		for m := range g.edges[n] {
			next = append(next, m)
		}
		sort.Strings(next)

		for _, m := range next {
			if onStack[m] {
				for i, p := range path {
					if p == m {
						return append([]string(nil), path[i:]...)
					}
				}
			}
			if !visited[m] {
				if c := dfs(m); c != nil {
					return c
				}
			}
		}

		onStack[n] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, n := range starts {
		if !visited[n] {
			if c := dfs(n); c != nil {
				return c
			}
		}
	}
	return nil
}
