package lowering

import (
	"context"

	"golang.org/x/sync/errgroup"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/raymyers/ralph-x86/pkg/ir"
	"github.com/raymyers/ralph-x86/pkg/x86"
)

// TranslateModule lowers every function of m, up to opts.Jobs at a time.
// Results are in the order of m.Functions.
func TranslateModule(ctx context.Context, t *x86.Target, m *ir.Module, opts Options) (res []*Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower module", "funcs", len(m.Functions), "jobs", opts.Jobs)
	defer tr.Finish("err", &err)

	res = make([]*Result, len(m.Functions))

	g, ctx := errgroup.WithContext(ctx)
	if opts.Jobs > 0 {
		g.SetLimit(opts.Jobs)
	}

	for k, fn := range m.Functions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := Translate(ctx, t, fn, opts)
			if err != nil {
				return errors.Wrap(err, "lower %v", fn.Name)
			}
			res[k] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
