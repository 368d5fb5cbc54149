package store

import (
	"context"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/voxlogica-project/voxlogica-core/plan"
)

// TestClaimAtMostOneProperty verifies spec section 8, "At most one
// Claimed": for any number of concurrent claimants on the same NodeId,
// exactly one observes Claimed.
func TestClaimAtMostOneProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one concurrent claimant wins", prop.ForAll(
		func(n int) bool {
			s := New()
			id := plan.NodeId("concurrent-claim-target")

			var wg sync.WaitGroup
			var mu sync.Mutex
			claimed := 0
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					outcome, _, err := s.Claim(context.Background(), id)
					if err != nil {
						return
					}
					if outcome == Claimed {
						mu.Lock()
						claimed++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			return claimed == 1
		},
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}
