package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/archrepod/buildsvc/pkg/buildaction"
	"github.com/archrepod/buildsvc/pkg/gitsrc"
	"github.com/archrepod/buildsvc/pkg/httpapi"
	"github.com/archrepod/buildsvc/pkg/mirrorfetch"
	"github.com/archrepod/buildsvc/pkg/pkgdata"
	"github.com/archrepod/buildsvc/pkg/scheduler"
	_ "github.com/archrepod/buildsvc/pkg/scheduler/local"
	_ "github.com/archrepod/buildsvc/pkg/scheduler/nomad"
	"github.com/archrepod/buildsvc/pkg/serverconfig"
	"github.com/archrepod/buildsvc/pkg/storagecache"

	"github.com/archrepod/buildsvc/pkg/actions"
)

var (
	configPath   string
	capacityName string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "repomgrd",
	Short: "repomgrd runs the build-action engine and the package/build-action HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/buildsvc/config.json", "path to the server config file")
	rootCmd.PersistentFlags().StringVar(&capacityName, "capacity-provider", "local", "CapacityProvider to dispatch chroot builds through (local, nomad)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	l := hclog.New(&hclog.LoggerOptions{
		Name:  "repomgrd",
		Level: hclog.LevelFromString(logLevel),
	})

	cfg := serverconfig.NewConfig()
	if _, err := os.Stat(configPath); err == nil {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		l.Warn("no config file found, running with defaults", "path", configPath)
	}

	data := pkgdata.NewConfig()
	data.PacmanDatabasePath = cfg.PacmanDatabasePath
	data.PackageCacheDirs = cfg.PackageCacheDirs
	for key, dbcfg := range cfg.Databases {
		name, arch := splitDatabaseKey(key)
		db := data.FindOrCreateDatabase(name, arch)
		db.Mirrors = dbcfg.Mirrors
		db.LocalPkgDir = dbcfg.Path
	}

	backing := storagecache.NewBackingStore(filepath.Join(cfg.WorkingDirectory, "index.db"), l)
	if err := data.AttachStorageCache(backing, storagecache.DefaultCapacity, l); err != nil {
		return fmt.Errorf("attaching storage cache: %w", err)
	}

	scheduler.DoCallbacks()
	capacityProvider, err := scheduler.ConstructCapacityProvider(capacityName)
	if err != nil {
		return fmt.Errorf("constructing capacity provider %q: %w", capacityName, err)
	}
	sched := scheduler.NewScheduler(l, capacityProvider)

	fetcher := mirrorfetch.NewCircuitBreakerFetcher(mirrorfetch.NewFetcher())

	engine := buildaction.NewEngine(cfg.WorkingDirectory, l)
	engine.RegisterRunner(buildaction.TypeReloadLibraryDependencies, actions.Adapter{
		Inner: &actions.ReloadLibraryDependencies{
			Config:  data,
			Fetcher: fetcher,
			CacheDir: cfg.WorkingDirectory + "/cache",
			Workers:  0,
		},
		Logger: l,
	})
	var recipeTree *gitsrc.RecipeTree
	if cfg.RecipeTreeURL != "" {
		recipeTree = gitsrc.New(l, filepath.Join(cfg.WorkingDirectory, "recipes"), cfg.RecipeTreeURL)
	}
	engine.RegisterRunner(buildaction.TypePrepareBuild, actions.Adapter{
		Inner:  &actions.PrepareBuild{Config: data, RecipeTree: recipeTree},
		Logger: l,
	})
	engine.RegisterRunner(buildaction.TypeConductBuild, actions.Adapter{
		Inner:  &actions.ConductBuild{Config: data, RepoRoot: cfg.WorkingDirectory + "/repo", Scheduler: sched},
		Logger: l,
	})
	engine.RegisterRunner(buildaction.TypeRemovePackages, actions.Adapter{
		Inner:  &actions.RemovePackages{Config: data},
		Logger: l,
	})
	engine.RegisterRunner(buildaction.TypeMovePackages, actions.Adapter{
		Inner:  &actions.MovePackages{Config: data},
		Logger: l,
	})
	engine.RegisterRunner(buildaction.TypeCleanRepository, actions.Adapter{
		Inner:  &actions.CleanRepository{Config: data},
		Logger: l,
	})
	engine.RegisterRunner(buildaction.TypeCustomCommand, actions.Adapter{
		Inner:  &actions.CustomCommand{},
		Logger: l,
	})
	engine.RegisterRunner(buildaction.TypeReloadDatabase, actions.Adapter{
		Inner:  &actions.ReloadDatabase{Config: data},
		Logger: l,
	})
	engine.RegisterRunner(buildaction.TypeCheckForUpdates, actions.Adapter{
		Inner:  &actions.CheckForUpdates{Config: data},
		Logger: l,
	})

	srv, err := httpapi.New(l, data, engine)
	if err != nil {
		return fmt.Errorf("initializing http api: %w", err)
	}

	l.Info("repomgrd is ready", "bind", cfg.WebBindAddress, "capacity-provider", capacityName)
	return srv.Serve(cfg.WebBindAddress)
}

// splitDatabaseKey splits a "[database/<name>@<arch>]"-derived map key
// ("<name>@<arch>") into its two parts; arch is "" if key carries none.
func splitDatabaseKey(key string) (name, arch string) {
	if idx := strings.IndexByte(key, '@'); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
