// Package authz decides whether a principal may act on a resource it owns.
package authz

// Authorize reports whether principalID owns a resource whose owner is
// resourceOwnerID. An empty principal or owner never authorizes.
func Authorize(principalID, resourceOwnerID string) bool {
	if principalID == "" || resourceOwnerID == "" {
		return false
	}
	return principalID == resourceOwnerID
}
