package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/couchgo/internal/catalog"
	"github.com/mattjoyce/couchgo/internal/compiler"
)

func newCompileCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <file>",
		Short: "Try to compile a fragment without adding it to the cache",
		Long: `Compile the fragment in <file> and report diagnostics on stderr.
No artifact is published. The exit status is non-zero when the
compiler fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.compile(cmd.Context(), args[0])
		},
	}
}

func newPopulateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "populate <files...>",
		Short: "Compile fragments into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.populate(cmd.Context(), args)
		},
	}
}

func newCacheCommand(a *app) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear compiled artifacts",
	}

	var jsonOut bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cacheList(cmd.Context(), jsonOut)
		},
	}
	list.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")

	cacheCmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every compiled artifact",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.cacheClear(cmd.Context())
			},
		},
		list,
		&cobra.Command{
			Use:   "verify",
			Short: "Re-hash recorded artifacts and report changed or missing files",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.cacheVerify(cmd.Context())
			},
		},
	)
	return cacheCmd
}

// cliCompiler builds a compile cache that logs command lines to stderr.
func (a *app) cliCompiler(ctx context.Context) (*compiler.Cache, *catalog.Catalog, error) {
	cfg, err := a.load()
	if err != nil {
		return nil, nil, err
	}
	cat, err := a.openCatalog(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cc, err := newCompiler(cfg, func(line string) { fmt.Fprintln(a.stderr, line) }, cat)
	if err != nil {
		if cat != nil {
			_ = cat.Close()
		}
		return nil, nil, err
	}
	return cc, cat, nil
}

func (a *app) compile(ctx context.Context, file string) error {
	code, err := os.ReadFile(a.abs(file))
	if err != nil {
		return fmt.Errorf("read fragment: %w", err)
	}
	cc, cat, err := a.cliCompiler(ctx)
	if err != nil {
		return err
	}
	if cat != nil {
		defer cat.Close()
	}
	defer cc.DropEnv()

	err = cc.Check(ctx, string(code))
	var cerr *compiler.CompileError
	if errors.As(err, &cerr) {
		fmt.Fprintln(a.stderr, cerr.Output)
		return &exitError{code: 1}
	}
	return err
}

func (a *app) populate(ctx context.Context, files []string) error {
	if len(files) == 0 {
		fmt.Fprintln(a.stderr, "Nothing to populate")
		return nil
	}
	cc, cat, err := a.cliCompiler(ctx)
	if err != nil {
		return err
	}
	if cat != nil {
		defer cat.Close()
	}
	defer cc.DropEnv()

	failed := 0
	for _, f := range files {
		code, err := os.ReadFile(a.abs(f))
		if err != nil {
			fmt.Fprintf(a.stderr, "%s: %v\n", f, err)
			failed++
			continue
		}
		art, err := cc.Compile(ctx, string(code))
		if err != nil {
			var cerr *compiler.CompileError
			if errors.As(err, &cerr) {
				fmt.Fprintf(a.stderr, "%s:\n%s\n", f, cerr.Output)
			} else {
				fmt.Fprintf(a.stderr, "%s: %v\n", f, err)
			}
			failed++
			continue
		}
		fmt.Fprintf(a.stdout, "%s\t%s\n", art.Key, f)
	}
	if failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}

func (a *app) cacheClear(ctx context.Context) error {
	cc, cat, err := a.cliCompiler(ctx)
	if err != nil {
		return err
	}
	if cat != nil {
		defer cat.Close()
	}

	n, err := cc.Clear()
	if err != nil {
		return err
	}
	if cat != nil {
		if err := cat.Clear(ctx); err != nil {
			return err
		}
	}
	fmt.Fprintf(a.stdout, "Removed %d file(s) from %s\n", n, cc.Dir())
	return nil
}

func (a *app) requireCatalog(ctx context.Context) (*catalog.Catalog, error) {
	cfg, err := a.load()
	if err != nil {
		return nil, err
	}
	cat, err := a.openCatalog(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, errors.New("catalog is disabled (catalog.enabled: false)")
	}
	return cat, nil
}

type entryJSON struct {
	Key        string     `json:"key"`
	Path       string     `json:"path"`
	Size       int64      `json:"size"`
	Digest     string     `json:"digest"`
	CompileMS  int64      `json:"compile_ms"`
	CompiledAt time.Time  `json:"compiled_at"`
	LoadedAt   *time.Time `json:"loaded_at,omitempty"`
	LoadCount  int        `json:"load_count"`
}

func (a *app) cacheList(ctx context.Context, jsonOut bool) error {
	cat, err := a.requireCatalog(ctx)
	if err != nil {
		return err
	}
	defer cat.Close()

	entries, err := cat.List(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		out := make([]entryJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, entryJSON{
				Key:        e.Key,
				Path:       e.Path,
				Size:       e.Size,
				Digest:     e.Digest,
				CompileMS:  e.CompileDur.Milliseconds(),
				CompiledAt: e.CompiledAt,
				LoadedAt:   e.LoadedAt,
				LoadCount:  e.LoadCount,
			})
		}
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSIZE\tCOMPILE\tCOMPILED\tLOADS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\n",
			e.Key, e.Size, e.CompileDur.Round(time.Millisecond),
			e.CompiledAt.Format(time.RFC3339), e.LoadCount)
	}
	return tw.Flush()
}

func (a *app) cacheVerify(ctx context.Context) error {
	cat, err := a.requireCatalog(ctx)
	if err != nil {
		return err
	}
	defer cat.Close()

	problems, err := cat.Verify(ctx)
	if err != nil {
		return err
	}
	if len(problems) == 0 {
		fmt.Fprintln(a.stdout, "All artifacts verified.")
		return nil
	}
	for _, p := range problems {
		fmt.Fprintf(a.stdout, "%s\t%s\t%s\n", p.Key, p.Path, p.Reason)
	}
	return &exitError{code: 1}
}
