package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/laneway/internal/types"
	"github.com/steveyegge/laneway/internal/wstate"
)

// structuralCheck verifies the WU state tree itself is well-formed: every
// record parses and satisfies its status variant, the durable status
// store agrees with each record, and every done WU carries its stamp.
// It runs first in every mode and cannot be bypassed.
func structuralCheck(ctx context.Context, env Env) RunResult {
	started := time.Now()
	store := wstate.NewStore(env.WorkDir)

	var problems []string
	records, err := store.ListRecords()
	if err != nil {
		problems = append(problems, fmt.Sprintf("list records: %v", err))
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		info, err := store.Resolve(rec.ID)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", rec.ID, err))
			continue
		}
		if !info.IsConsistent {
			problems = append(problems, fmt.Sprintf("%s: %s", rec.ID, info.InconsistencyReason))
		}
		if info.Record.Status == types.StatusDone && !store.IsStamped(rec.ID) {
			problems = append(problems, fmt.Sprintf("%s: done without a completion stamp", rec.ID))
		}
	}

	res := RunResult{
		OK:         len(problems) == 0,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if !res.OK {
		res.Detail = strings.Join(problems, "; ")
	}
	return res
}
