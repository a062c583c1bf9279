// Command hsgctl is the operator CLI for the HSG engine: ingest/search/delete
// memories by hand, trigger a maintenance worker out of its schedule, or run
// the full background maintenance loop as a long-lived process. Grounded on
// the teacher's cmd/sqvect/main.go cobra layout (persistent flags on a root
// command, one subcommand per operation, an openStore-style bootstrap
// helper), generalized from a single vector store to the full HSG stack.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hsgraph/hsg/pkg/classifier"
	"github.com/hsgraph/hsg/pkg/config"
	"github.com/hsgraph/hsg/pkg/cryptobox"
	"github.com/hsgraph/hsg/pkg/decay"
	"github.com/hsgraph/hsg/pkg/encoder"
	"github.com/hsgraph/hsg/pkg/eventbus"
	"github.com/hsgraph/hsg/pkg/hsg"
	"github.com/hsgraph/hsg/pkg/logging"
	"github.com/hsgraph/hsg/pkg/maintenance"
	"github.com/hsgraph/hsg/pkg/model"
	"github.com/hsgraph/hsg/pkg/reflection"
	"github.com/hsgraph/hsg/pkg/router"
	"github.com/hsgraph/hsg/pkg/tablestore"
	"github.com/hsgraph/hsg/pkg/tenancy"
	"github.com/hsgraph/hsg/pkg/usersummary"
	"github.com/hsgraph/hsg/pkg/vectorstore"
)

var (
	configPath string
	tenantFlag string
	asAdmin    bool
)

// app bundles every live component a subcommand might need.
type app struct {
	cfg         *config.Config
	tables      *tablestore.Store
	engine      *hsg.Engine
	classifier  *classifier.Classifier
	decay       *decay.Worker
	reflection  *reflection.Worker
	usersummary *usersummary.Worker
	maintenance *maintenance.Engine
	log         logging.Logger
}

func bootstrap() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(cfg.Verbose)

	ctx := context.Background()
	tables, err := tablestore.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open table store: %w", err)
	}

	vectors := vectorstore.New(tables)

	cls, err := classifier.New(tables, 128)
	if err != nil {
		tables.Close()
		return nil, fmt.Errorf("init classifier: %w", err)
	}
	rt := router.New(cls)
	bus := eventbus.New(logger)

	key, err := loadOrCreateKey(cfg)
	if err != nil {
		tables.Close()
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	box := cryptobox.New(key)

	enc := encoder.NewSyntheticProvider(cfg.VecDim)
	info := enc.Info()
	encoder.CheckCompatibility(info, cfg.ExpectSynthetic(), cfg.VecDim, logger)

	hsgCfg := hsg.DefaultConfig()
	hsgCfg.SegmentCount = cfg.CacheSegments
	hsgCfg.ReinforceOnQuery = cfg.DecayReinforceOnQuery
	hsgCfg.RegenerationEnabled = cfg.RegenerationEnabled
	hsgCfg.MaxActive = cfg.MaxActive
	engine := hsg.New(tables, vectors, enc, box, rt, bus, hsgCfg, logger)

	decayCfg := decay.DefaultConfig()
	decayCfg.SegmentCount = cfg.CacheSegments
	decayCfg.DecayRatio = cfg.DecayRatio
	decayCfg.ColdThreshold = cfg.DecayColdThreshold
	decayWorker := decay.New(tables, vectors, box, decayCfg, logger, engine.ActiveQueries)

	reflectCfg := reflection.DefaultConfig()
	reflectCfg.ReflectMin = cfg.ReflectMin
	reflectWorker := reflection.New(tables, box, engine, nil, reflectCfg, logger)

	summaryCfg := usersummary.DefaultConfig()
	summaryWorker := usersummary.New(tables, box, nil, summaryCfg, logger)

	me, err := maintenance.New(cfg, tables, decayWorker, reflectWorker, summaryWorker, cls, logger, engine.ActiveQueries)
	if err != nil {
		tables.Close()
		return nil, fmt.Errorf("init maintenance engine: %w", err)
	}

	return &app{
		cfg:         cfg,
		tables:      tables,
		engine:      engine,
		classifier:  cls,
		decay:       decayWorker,
		reflection:  reflectWorker,
		usersummary: summaryWorker,
		maintenance: me,
		log:         logger,
	}, nil
}

func loadOrCreateKey(cfg *config.Config) (cryptobox.Key, error) {
	if b64 := cfg.EncryptionKeyB64(); b64 != "" {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return cryptobox.Key{}, fmt.Errorf("decode HSG_ENCRYPTION_KEY: %w", err)
		}
		return cryptobox.KeyFromBytes(raw)
	}

	raw, err := os.ReadFile(cfg.EncryptionKeyPath)
	if err == nil {
		return cryptobox.KeyFromBytes(raw)
	}
	if !os.IsNotExist(err) {
		return cryptobox.Key{}, err
	}

	key, err := cryptobox.GenerateKey()
	if err != nil {
		return cryptobox.Key{}, err
	}
	if werr := os.WriteFile(cfg.EncryptionKeyPath, key[:], 0o600); werr != nil {
		return cryptobox.Key{}, fmt.Errorf("persist new encryption key: %w", werr)
	}
	return key, nil
}

func (a *app) close() {
	a.engine.Close()
	_ = a.tables.Close()
}

func (a *app) secCtx() tenancy.Context {
	if tenantFlag == "" {
		return tenancy.New(nil, asAdmin)
	}
	t := tenantFlag
	return tenancy.New(&t, asAdmin)
}

func (a *app) tenantID() *string {
	if tenantFlag == "" {
		return nil
	}
	t := tenantFlag
	return &t
}

var rootCmd = &cobra.Command{
	Use:   "hsgctl",
	Short: "Operate a Hierarchical Sector Graph memory engine",
	Long:  "hsgctl ingests, searches, and maintains an HSG multi-tenant memory store from the command line.",
}

var addCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Add a memory, routed to its sector(s) automatically",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		tagsStr, _ := cmd.Flags().GetString("tags")
		var tags []string
		if tagsStr != "" {
			tags = strings.Split(tagsStr, ",")
		}

		mem, err := a.engine.Add(context.Background(), a.secCtx(), args[0], tags, model.MemoryMetadata{}, a.tenantID())
		if err != nil {
			return fmt.Errorf("add memory: %w", err)
		}
		fmt.Printf("added memory %s (sector=%s)\n", mem.ID, mem.PrimarySector)
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories by hybrid semantic/keyword similarity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		k, _ := cmd.Flags().GetInt("top-k")
		spread, _ := cmd.Flags().GetBool("spread")

		matches, err := a.engine.Search(context.Background(), a.secCtx(), args[0], k,
			hsg.Filter{TenantID: a.tenantID()}, hsg.SearchOptions{SpreadActivation: spread})
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		for i, m := range matches {
			fmt.Printf("%d. %s [%s] score=%.4f\n   %s\n", i+1, m.ID, m.PrimarySector, m.Score, m.Content)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <memory-id>",
	Short: "Delete a memory and its derived state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.engine.Delete(context.Background(), a.secCtx(), args[0]); err != nil {
			return fmt.Errorf("delete memory: %w", err)
		}
		fmt.Printf("deleted memory %s\n", args[0])
		return nil
	},
}

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one Decay Worker pass immediately, outside its schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		stats, err := a.decay.Run(context.Background())
		if err != nil {
			return fmt.Errorf("run decay: %w", err)
		}
		fmt.Printf("decay: processed=%d decayed=%d compressed=%d fingerprinted=%d skipped=%v\n",
			stats.Processed, stats.Decayed, stats.Compressed, stats.Fingerprinted, stats.Skipped)
		return nil
	},
}

var reflectCmd = &cobra.Command{
	Use:   "reflect",
	Short: "Run one Reflection Worker sweep immediately, across every tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		results, err := a.reflection.RunAll(context.Background())
		if err != nil {
			return fmt.Errorf("run reflection: %w", err)
		}
		for tenant, stats := range results {
			if tenant == "" {
				tenant = "(global)"
			}
			fmt.Printf("%s: scanned=%d clusters=%d reflections=%d skipped=%v\n",
				tenant, stats.MemoriesScanned, stats.ClustersFound, stats.ReflectionsMade, stats.Skipped)
		}
		return nil
	},
}

var usersummaryCmd = &cobra.Command{
	Use:   "usersummary",
	Short: "Run one User Summary Worker sweep immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		stats, err := a.usersummary.Run(context.Background())
		if err != nil {
			return fmt.Errorf("run user summary: %w", err)
		}
		fmt.Printf("usersummary: tenants=%d written=%d skipped=%d\n",
			stats.TenantsScanned, stats.ProfilesWritten, stats.ProfilesSkipped)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the background maintenance loop and block until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a.maintenance.Start(ctx)
		a.log.Infow("hsgctl serve: maintenance engine started")
		<-ctx.Done()
		a.log.Infow("hsgctl serve: shutting down")
		a.maintenance.Stop()
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show scheduler task health and recent maintenance activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		snap, err := a.maintenance.Snapshot(context.Background())
		if err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
		for name, st := range snap.Tasks {
			fmt.Printf("%-20s runs=%-6d failures=%-6d lastErr=%q\n", name, st.Runs, st.Failures, st.LastErr)
		}
		fmt.Printf("recent decay rows: %d, recent reflect rows: %d, active queries: %d\n", len(snap.RecentDecay), len(snap.RecentReflect), snap.ActiveQueries)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "hsg.yaml", "Path to the HSG config file")
	rootCmd.PersistentFlags().StringVarP(&tenantFlag, "tenant", "t", "", "Tenant id to scope the operation to (empty = global bucket)")
	rootCmd.PersistentFlags().BoolVar(&asAdmin, "admin", true, "Operate with admin privileges (bypasses per-tenant scoping checks)")

	addCmd.Flags().String("tags", "", "Comma-separated tags")

	searchCmd.Flags().Int("top-k", 10, "Number of results")
	searchCmd.Flags().Bool("spread", false, "Enable spreading activation over waypoints")

	rootCmd.AddCommand(addCmd, searchCmd, deleteCmd, decayCmd, reflectCmd, usersummaryCmd, serveCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
