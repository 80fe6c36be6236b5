package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/xai-infra/sibload/internal/cache"
	"github.com/xai-infra/sibload/internal/config"
	core "github.com/xai-infra/sibload/internal/core"
	"github.com/xai-infra/sibload/internal/deploy"
	"github.com/xai-infra/sibload/internal/endpoints"
	"github.com/xai-infra/sibload/internal/fetch"
	"github.com/xai-infra/sibload/internal/launch"
	"github.com/xai-infra/sibload/internal/resolver"
)

// badInput wraps a positional-args validator so parse failures map to the
// bad-input exit code instead of the generic one.
func badInput(args cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, argv []string) error {
		if err := args(cmd, argv); err != nil {
			return &core.BadInputError{Err: err}
		}
		return nil
	}
}

// Load the configuration for a command
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return config.Load(cfgPath)
}

// Build the environment table: built-in prod/dev plus configured extras
func buildTable(cfg config.Config) resolver.Table {
	table := resolver.DefaultTable()
	for name, env := range cfg.Environments {
		table[resolver.Target(name)] = resolver.Location{
			Project: env.Project,
			Bucket:  env.Bucket,
			Key:     env.Key,
		}
	}
	return table
}

func addOverrideFlags(cmd *cobra.Command) {
	cmd.Flags().String("project", "", "project override (requires --bucket and --key)")
	cmd.Flags().String("bucket", "", "bucket override (requires --project and --key)")
	cmd.Flags().String("key", "", "object key override (requires --project and --bucket)")
}

func getOverrides(cmd *cobra.Command) resolver.Overrides {
	project, _ := cmd.Flags().GetString("project")
	bucket, _ := cmd.Flags().GetString("bucket")
	key, _ := cmd.Flags().GetString("key")
	return resolver.Overrides{Project: project, Bucket: bucket, Key: key}
}

func destPath(cmd *cobra.Command, cfg config.Config) string {
	dest, _ := cmd.Flags().GetString("dest")
	if dest != "" {
		return dest
	}
	if cfg.Defaults.Dest != "" {
		return cfg.Defaults.Dest
	}
	return "siblings.json"
}

func newFetcher(cfg config.Config) (*fetch.Fetcher, error) {
	store, err := fetch.NewMinioStore(cfg)
	if err != nil {
		return nil, err
	}
	retry := fetch.DefaultRetryConfig()
	if cfg.Defaults.Retries > 0 {
		retry.MaxRetries = cfg.Defaults.Retries
	}
	return fetch.NewWithRetry(store, retry), nil
}

func newDeployer(cfg config.Config) *deploy.Deployer {
	timeout := 15 * time.Second
	if cfg.Defaults.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Defaults.TimeoutSeconds) * time.Second
	}
	user := cfg.SSH.User
	if user == "" {
		user = "svc"
	}
	return &deploy.Deployer{
		User:       user,
		KeyPath:    filepath.Join(cfg.SSH.KeyDir, "id_ed25519"),
		KnownHosts: cfg.SSH.KnownHosts,
		Timeout:    timeout,
		Retries:    cfg.Defaults.Retries,
	}
}

// Run the full pipeline: fetch the siblings file and launch the consumer
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Fetch the siblings file for a target and launch the consumer",
		Args:  badInput(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			skipFetch, _ := cmd.Flags().GetBool("skip-fetch")
			seedDB, _ := cmd.Flags().GetString("seed-cache")
			pushSpecs, _ := cmd.Flags().GetStringSlice("push")
			executable, _ := cmd.Flags().GetString("exec")
			consumerArgs, _ := cmd.Flags().GetStringArray("arg")
			workDir, _ := cmd.Flags().GetString("workdir")

			targets := make([]deploy.HostPath, 0, len(pushSpecs))
			for _, spec := range pushSpecs {
				hp, err := deploy.ParseSpec(spec)
				if err != nil {
					return &core.BadInputError{Err: err}
				}
				targets = append(targets, hp)
			}

			p := &core.Pipeline{Launcher: launch.New()}
			if !skipFetch {
				if p.Fetcher, err = newFetcher(cfg); err != nil {
					return err
				}
			}
			if len(targets) > 0 {
				p.Deployer = newDeployer(cfg)
			}

			_, err = p.Run(cmd.Context(), core.Options{
				Target:    resolver.Target(args[0]),
				Overrides: getOverrides(cmd),
				Table:     buildTable(cfg),
				Project:   cfg.Defaults.Project,
				Dest:      destPath(cmd, cfg),
				SkipFetch: skipFetch,
				SeedDB:    seedDB,
				Deploy:    targets,
				Consumer: launch.Spec{
					Executable: executable,
					Args:       consumerArgs,
					WorkDir:    workDir,
				},
			})
			return err
		},
	}
	addOverrideFlags(cmd)
	cmd.Flags().String("dest", "", "destination path for the siblings file")
	cmd.Flags().Bool("skip-fetch", false, "reuse an existing local file instead of downloading")
	cmd.Flags().String("seed-cache", "", "seed the endpoint cache database at this path after fetch")
	cmd.Flags().StringSlice("push", nil, "host[:port]:/remote/path specs to deploy the file via SFTP")
	cmd.Flags().String("exec", "", "consumer executable to launch after fetch")
	cmd.Flags().StringArray("arg", nil, "argument for the consumer (repeatable, order preserved)")
	cmd.Flags().String("workdir", "", "working directory for the consumer")
	return cmd
}

// Fetch only, no consumer
func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <target>",
		Short: "Fetch the siblings file for a target",
		Args:  badInput(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			p := &core.Pipeline{}
			if p.Fetcher, err = newFetcher(cfg); err != nil {
				return err
			}
			_, err = p.Run(cmd.Context(), core.Options{
				Target:    resolver.Target(args[0]),
				Overrides: getOverrides(cmd),
				Table:     buildTable(cfg),
				Project:   cfg.Defaults.Project,
				Dest:      destPath(cmd, cfg),
			})
			return err
		},
	}
	addOverrideFlags(cmd)
	cmd.Flags().String("dest", "", "destination path for the siblings file")
	return cmd
}

// Print the resolved location without any I/O
func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <target>",
		Short: "Print the resolved storage location for a target",
		Args:  badInput(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			loc, err := resolver.Resolve(resolver.Target(args[0]), getOverrides(cmd), buildTable(cfg))
			if err != nil {
				return err
			}
			if loc.Project == "" {
				loc.Project = cfg.Defaults.Project
			}
			fmt.Printf("project: %s\nbucket: %s\nkey: %s\n", loc.Project, loc.Bucket, loc.Key)
			return nil
		},
	}
	addOverrideFlags(cmd)
	return cmd
}

// Seed the endpoint cache from a local siblings file
func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <target>",
		Short: "Seed the endpoint cache from a local siblings file",
		Args:  badInput(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			dbPath, _ := cmd.Flags().GetString("db")

			f, err := endpoints.Load(file)
			if err != nil {
				return err
			}
			entries, err := f.CacheEntries(resolver.Target(args[0]) == resolver.TargetDev)
			if err != nil {
				return err
			}
			store, err := cache.NewStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Seed(cmd.Context(), entries); err != nil {
				return err
			}
			fmt.Printf("seeded %d services into %s\n", len(entries), dbPath)
			return nil
		},
	}
	cmd.Flags().String("file", "siblings.json", "local siblings file to seed from")
	cmd.Flags().String("db", "endpoints.db", "endpoint cache database path")
	return cmd
}
