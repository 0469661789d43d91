package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rulelayer/internal/cache"
	"rulelayer/internal/loader"
	"rulelayer/internal/registry"
	"rulelayer/internal/rules"
	"rulelayer/internal/store"
	"rulelayer/internal/watch"
)

// openStore opens the configured store. The caller closes it.
func openStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.Path, cfg.Store.DSN)
}

func newLoader(st store.OverrideStore, reg *registry.Registry) (*loader.Loader, error) {
	return loader.New(
		loader.WithStore(st),
		loader.WithRegistry(reg),
		loader.WithCache(cache.New(cfg.Cache.Capacity, cfg.GetCacheTTL())),
		loader.WithFetchTimeout(cfg.GetFetchTimeout()),
		loader.WithDefaultDiscovery(cfg.Defaults.Discovery),
	)
}

func seedImporter(st store.Store) (store.SeedImporter, error) {
	imp, ok := st.(store.SeedImporter)
	if !ok {
		return nil, fmt.Errorf("store driver %q is read-only", cfg.Store.Driver)
	}
	return imp, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRuleSet(w io.Writer, m rules.MergedRuleSet) error {
	if legacy {
		return writeJSON(w, rules.ToLegacyView(m))
	}
	return writeJSON(w, m)
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	l, err := newLoader(st, registry.Default())
	if err != nil {
		return err
	}
	app := rules.AppMetadata{
		AppID:          appID,
		OrganizationID: orgID,
		Title:          title,
		Subtitle:       subtitle,
		Category:       category,
	}
	return writeRuleSet(cmd.OutOrStdout(), l.Resolve(ctx, app, locale, orgID))
}

func runPreview(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	l, err := newLoader(st, registry.Default())
	if err != nil {
		return err
	}
	return writeRuleSet(cmd.OutOrStdout(), l.ResolveForVerticalMarket(ctx, verticalID, marketID, orgID))
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	seed, err := store.LoadSeedFile(args[0])
	if err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	imp, err := seedImporter(st)
	if err != nil {
		return err
	}
	res, err := imp.ImportSeed(ctx, seed)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	imp, err := seedImporter(st)
	if err != nil {
		return err
	}
	l, err := newLoader(st, registry.Default())
	if err != nil {
		return err
	}

	w, err := watch.New(cfg.Watch.SeedDir, watch.ImportHandler(imp, l.Cache()), watch.WithDebounce(cfg.GetDebounce()))
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Sync(ctx); err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "watching %s (ctrl-c to stop)\n", cfg.Watch.SeedDir)

	select {
	case <-ctx.Done():
	case <-w.Done():
	}
	return writeJSON(cmd.OutOrStdout(), w.Stats())
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := registry.Default()
	l, err := newLoader(st, reg)
	if err != nil {
		return err
	}
	for _, v := range append([]string{""}, reg.Verticals()...) {
		for _, m := range append([]string{""}, reg.Markets()...) {
			l.ResolveForVerticalMarket(ctx, v, m, orgID)
		}
	}
	return writeJSON(cmd.OutOrStdout(), l.Cache().Stats())
}

func runSchema(cmd *cobra.Command, args []string) error {
	driver := cfg.Store.Driver
	if len(args) > 0 {
		driver = args[0]
	}
	ddl, err := store.Schema(driver)
	if err != nil {
		return err
	}
	_, err = io.WriteString(cmd.OutOrStdout(), ddl)
	return err
}
