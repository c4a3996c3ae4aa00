package parser

import (
	"fmt"

	"github.com/dkoval/jobsift/jobs"
)

// EnsureUniqueIDs enforces the registry-wide invariant that every ID in a
// parsed batch is pairwise distinct.  When a collision remains after the
// per-parser ID rules (a site that repeats native IDs, say), the later
// occurrence gets an "_N" suffix with the smallest N that restores
// uniqueness.  Order is preserved.
func EnsureUniqueIDs(batch []jobs.Job) []jobs.Job {
	seen := make(map[string]bool, len(batch))
	for i := range batch {
		id := batch[i].ID
		if !seen[id] {
			seen[id] = true
			continue
		}
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s_%d", id, n)
			if !seen[candidate] {
				batch[i].ID = candidate
				seen[candidate] = true
				break
			}
		}
	}
	return batch
}
