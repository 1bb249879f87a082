// pkg/mvcc/deadlock.go
// Deadlock detection using wait-for graph analysis.
package mvcc

import "sync"

// WaitForGraph is a directed graph of wait relationships. An edge from
// tx1 to tx2 means tx1 is blocked waiting for a lock tx2 holds. A waiter
// can wait on several holders at once (shared locks), so edges fan out.
type WaitForGraph struct {
	mu    sync.RWMutex
	edges map[uint64]map[uint64]struct{} // waiter -> set of holders
}

// NewWaitForGraph creates an empty wait-for graph.
func NewWaitForGraph() *WaitForGraph {
	return &WaitForGraph{
		edges: make(map[uint64]map[uint64]struct{}),
	}
}

// AddWaits records that waiter is blocked on every transaction in holders.
func (g *WaitForGraph) AddWaits(waiterID uint64, holderIDs []uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set := g.edges[waiterID]
	if set == nil {
		set = make(map[uint64]struct{})
		g.edges[waiterID] = set
	}
	for _, h := range holderIDs {
		if h != waiterID {
			set[h] = struct{}{}
		}
	}
}

// RemoveWaiter removes all outgoing edges for the given transaction.
func (g *WaitForGraph) RemoveWaiter(waiterID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges, waiterID)
}

// RemoveTransaction removes all edges touching the given transaction.
// Called when a transaction commits or aborts.
func (g *WaitForGraph) RemoveTransaction(txID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.edges, txID)
	for _, holders := range g.edges {
		delete(holders, txID)
	}
}

// IsWaiting returns true if the transaction has outgoing wait edges.
func (g *WaitForGraph) IsWaiting(txID uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges[txID]) > 0
}

// WouldDeadlock reports whether a cycle through startID exists. The
// lock table calls this after tentatively adding the waiter's edges and
// before actually blocking, so no transaction ever deadlocks silently.
func (g *WaitForGraph) WouldDeadlock(startID uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// DFS with coloring: white (0) unvisited, gray (1) on the current
	// path, black (2) finished.
	color := make(map[uint64]int)

	var dfs func(txID uint64) bool
	dfs = func(txID uint64) bool {
		switch color[txID] {
		case 1:
			return txID == startID
		case 2:
			return false
		}
		color[txID] = 1
		for holder := range g.edges[txID] {
			if holder == startID {
				return true
			}
			if dfs(holder) {
				return true
			}
		}
		color[txID] = 2
		return false
	}

	return dfs(startID)
}
