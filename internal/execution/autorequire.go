package execution

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"kumascript/internal/common/logging"
	"kumascript/internal/common/naming"
)

// PerformAutoRequire requires every configured module concurrently and
// installs each result under its install name once all have finished.
// Module failures are recorded in the sink like any Require. With nothing
// configured it returns immediately without touching the loader or cache.
func (c *Context) PerformAutoRequire(ctx context.Context) error {
	if len(c.lineage.autoRequire) == 0 {
		return nil
	}

	installNames := make([]string, 0, len(c.lineage.autoRequire))
	for installName := range c.lineage.autoRequire {
		installNames = append(installNames, installName)
	}
	sort.Strings(installNames)

	var (
		mu      sync.Mutex
		results = make(map[string]*Exports, len(installNames))
		g       errgroup.Group
	)
	g.SetLimit(c.lineage.maxParallel)

	for _, installName := range installNames {
		installName := installName
		templateName := c.lineage.autoRequire[installName]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			exports := c.Require(ctx, templateName)
			mu.Lock()
			results[installName] = exports
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	c.mu.Lock()
	for _, installName := range installNames {
		naming.Install(c.namespace, installName, results[installName])
	}
	c.mu.Unlock()

	c.Logger().Debug("Auto-require complete", logging.Int("modules", len(installNames)))
	return nil
}
