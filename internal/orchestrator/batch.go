package orchestrator

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"
)

// #region batch

// Factory builds a fresh orchestrator for one theme.
type Factory func(theme string) (*Orchestrator, error)

// BatchResult is the outcome of one theme in a batch.
type BatchResult struct {
	Theme  string `json:"theme"`
	Report Report `json:"report"`
	Err    error  `json:"-"`
}

// RunBatch runs every theme through its own orchestrator, at most limit at a
// time. A failed run does not stop the others; results keep input order.
// The returned error is non-nil only when ctx is cancelled.
func RunBatch(ctx context.Context, themes []string, factory Factory, limit int) ([]BatchResult, error) {
	results := make([]BatchResult, len(themes))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, theme := range themes {
		results[i].Theme = theme
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			o, err := factory(theme)
			if err != nil {
				results[i].Err = fmt.Errorf("build orchestrator: %w", err)
				return nil
			}
			rep, err := o.Run(gctx)
			results[i].Report = rep
			results[i].Err = err
			if err != nil {
				log.Printf("[ORCH] batch %q: %v", theme, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// #endregion batch
