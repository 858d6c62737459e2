// Package executor converges desired permission sets into actual
// GRANT/REVOKE statements against the target PostgreSQL engine.
package executor

import "pggatekeeper/internal/domain"

// Diff computes the incremental statements needed to move the observed grant
// state to the desired one. It is a pure function: toGrant holds pairs in
// desired but not observed, toRevoke holds pairs in observed but not desired.
// Both outputs are sorted for stable statement ordering.
func Diff(desired, observed []domain.TablePermission) (toGrant, toRevoke []domain.TablePermission) {
	want := make(map[domain.TablePermission]struct{}, len(desired))
	for _, p := range desired {
		want[p] = struct{}{}
	}
	have := make(map[domain.TablePermission]struct{}, len(observed))
	for _, p := range observed {
		have[p] = struct{}{}
	}

	for p := range want {
		if _, ok := have[p]; !ok {
			toGrant = append(toGrant, p)
		}
	}
	for p := range have {
		if _, ok := want[p]; !ok {
			toRevoke = append(toRevoke, p)
		}
	}

	domain.SortTablePermissions(toGrant)
	domain.SortTablePermissions(toRevoke)
	return toGrant, toRevoke
}
