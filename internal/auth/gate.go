// Package auth decides which chat users may control the scanner.
package auth

// Gate checks user IDs against a fixed allow-list. An empty allow-list
// admits everyone.
type Gate struct {
	allowed map[int64]struct{}
}

// NewGate creates a gate for the given user IDs.
func NewGate(userIDs []int64) *Gate {
	allowed := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		allowed[id] = struct{}{}
	}
	return &Gate{allowed: allowed}
}

// IsAuthorized reports whether userID may issue commands.
func (g *Gate) IsAuthorized(userID int64) bool {
	if len(g.allowed) == 0 {
		return true
	}
	_, ok := g.allowed[userID]
	return ok
}
