package graph

// TransitiveDependents returns the files that include uri directly or
// indirectly, nearest first, up to maxDepth hops. uri itself is never
// part of the result, even on a cycle.
func (g *Graph) TransitiveDependents(uri string, maxDepth int) []string {
	t := g.walk(uri, maxDepth, true)
	return t.Files
}

// TransitiveDependencies returns the files uri includes directly or
// indirectly, nearest first, up to maxDepth hops.
func (g *Graph) TransitiveDependencies(uri string, maxDepth int) []string {
	t := g.walk(uri, maxDepth, false)
	return t.Files
}

// Traversal is the outcome of a transitive walk.
type Traversal struct {
	Files []string
	// Cycle holds the files from which the walk led back to its start, in
	// the order they were reached. Empty when no cycle passes through the
	// start.
	Cycle []string
}

// WalkDependents is TransitiveDependents that also reports the cycles
// through uri it ran into. Every walk that finds one counts towards the
// "cycles" entry of Stats.
func (g *Graph) WalkDependents(uri string, maxDepth int) Traversal {
	return g.walk(uri, maxDepth, true)
}

func (g *Graph) walk(start string, maxDepth int, up bool) Traversal {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{start: true}
	var t Traversal
	frontier := []string{start}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, u := range frontier {
			for _, n := range g.neighborsLocked(u, up) {
				if n == start {
					t.Cycle = append(t.Cycle, u)
					continue
				}
				if visited[n] {
					continue
				}
				visited[n] = true
				t.Files = append(t.Files, n)
				next = append(next, n)
			}
		}
		frontier = next
	}
	if len(t.Cycle) > 0 {
		g.cycles.Add(1)
		g.logger.Debug("Cycle encountered during traversal", "uri", start, "via", t.Cycle)
	}
	return t
}

func (g *Graph) neighborsLocked(uri string, up bool) []string {
	var edges []Edge
	if up {
		edges = g.collectLocked(g.backward[uri])
	} else {
		edges = g.collectLocked(g.forward[uri])
	}
	seen := make(map[string]bool, len(edges))
	var out []string
	for _, e := range edges {
		n := e.Child
		if up {
			n = e.Parent
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// DetectCycle returns a path of inclusions leading from uri back to
// itself, or nil.
func (g *Graph) DetectCycle(uri string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{}
	var path []string
	var dfs func(u string) bool
	dfs = func(u string) bool {
		path = append(path, u)
		for _, n := range g.neighborsLocked(u, false) {
			if n == uri {
				path = append(path, n)
				return true
			}
			if visited[n] {
				continue
			}
			visited[n] = true
			if dfs(n) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	visited[uri] = true
	if dfs(uri) {
		return path
	}
	return nil
}
