// Package core wires resolver, fetcher, cache, deploy and launcher into the
// sequential loader pipeline.
package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/xai-infra/sibload/internal/cache"
	"github.com/xai-infra/sibload/internal/deploy"
	"github.com/xai-infra/sibload/internal/endpoints"
	"github.com/xai-infra/sibload/internal/fetch"
	"github.com/xai-infra/sibload/internal/launch"
	"github.com/xai-infra/sibload/internal/resolver"
)

// Step names the pipeline stage an error came from.
type Step string

const (
	StepResolve Step = "resolve"
	StepFetch   Step = "fetch"
	StepSeed    Step = "seed"
	StepDeploy  Step = "deploy"
	StepLaunch  Step = "launch"
)

// StepError tags an underlying error with the stage that produced it, so the
// CLI can print a single diagnostic line naming the failed step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ConsumerExitError reports a consumer that spawned cleanly but exited
// non-zero. Not a loader failure; the code is propagated verbatim.
type ConsumerExitError struct {
	Code int
}

func (e *ConsumerExitError) Error() string {
	return fmt.Sprintf("consumer exited with code %d", e.Code)
}

// Options is one invocation of the pipeline.
type Options struct {
	Target    resolver.Target
	Overrides resolver.Overrides
	Table     resolver.Table
	// Project fills Location.Project when the table entry leaves it empty.
	Project string
	Dest    string
	// SkipFetch reuses an existing local file instead of downloading.
	SkipFetch bool
	// SeedDB, when set, seeds the endpoint cache at this path after fetch.
	SeedDB string
	// Deploy targets receive the fetched file over SFTP after fetch.
	Deploy []deploy.HostPath
	// Consumer is launched last when its Executable is set.
	Consumer launch.Spec
}

// Pipeline executes Resolve → Fetch → Seed → Deploy → Launch sequentially.
// Any step failure short-circuits the rest.
type Pipeline struct {
	Fetcher  *fetch.Fetcher
	Launcher *launch.Launcher
	Deployer *deploy.Deployer
}

// Run drives one invocation and returns the process exit code to use. On a
// clean run with a consumer, the returned code is the consumer's own.
func (p *Pipeline) Run(ctx context.Context, opts Options) (int, error) {
	loc, err := resolver.Resolve(opts.Target, opts.Overrides, opts.Table)
	if err != nil {
		return 0, &StepError{Step: StepResolve, Err: err}
	}
	if loc.Project == "" {
		loc.Project = opts.Project
	}
	log.Debug().
		Str("target", string(opts.Target)).
		Str("bucket", loc.Bucket).
		Str("key", loc.Key).
		Msg("location resolved")

	dest := opts.Dest
	if dest == "" {
		dest = "siblings.json"
	}

	var res fetch.Result
	if opts.SkipFetch {
		res, err = fetch.UseLocal(dest)
	} else {
		if p.Fetcher == nil {
			err = fmt.Errorf("no object store configured")
		} else {
			res, err = p.Fetcher.Fetch(ctx, loc, dest)
		}
	}
	if err != nil {
		return 0, &StepError{Step: StepFetch, Err: err}
	}
	log.Info().
		Str("path", res.LocalPath).
		Int64("bytes", res.ByteSize).
		Str("sha256", res.ContentHash).
		Bool("skipped_fetch", opts.SkipFetch).
		Msg("siblings file ready")

	if opts.SeedDB != "" {
		if err := p.seed(ctx, res.LocalPath, opts.SeedDB, opts.Target == resolver.TargetDev); err != nil {
			return 0, &StepError{Step: StepSeed, Err: err}
		}
	}

	if len(opts.Deploy) > 0 {
		if p.Deployer == nil {
			return 0, &StepError{Step: StepDeploy, Err: fmt.Errorf("no deployer configured")}
		}
		if err := p.Deployer.Deploy(ctx, res.LocalPath, opts.Deploy); err != nil {
			return 0, &StepError{Step: StepDeploy, Err: err}
		}
	}

	if opts.Consumer.Executable == "" {
		return 0, nil
	}

	spec := opts.Consumer
	spec.Env = consumerEnv(spec.Env, loc, opts.Target, res.LocalPath)
	if p.Launcher == nil {
		return 0, &StepError{Step: StepLaunch, Err: fmt.Errorf("no launcher configured")}
	}
	code, err := p.Launcher.Run(ctx, spec)
	if err != nil {
		return 0, &StepError{Step: StepLaunch, Err: err}
	}
	if code != 0 {
		log.Warn().Int("code", code).Msg("consumer exited non-zero")
		return code, &ConsumerExitError{Code: code}
	}
	return 0, nil
}

func (p *Pipeline) seed(ctx context.Context, path, dbPath string, dev bool) error {
	f, err := endpoints.Load(path)
	if err != nil {
		return err
	}
	entries, err := f.CacheEntries(dev)
	if err != nil {
		return err
	}
	store, err := cache.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer store.Close()
	if err := store.Seed(ctx, entries); err != nil {
		return err
	}
	log.Info().Int("services", len(entries)).Str("db", dbPath).Msg("endpoint cache seeded")
	return nil
}

// consumerEnv builds the environment handed to the consumer. Caller-provided
// entries win over the derived ones.
func consumerEnv(extra map[string]string, loc resolver.Location, target resolver.Target, path string) map[string]string {
	env := map[string]string{
		"X_PROJECT":     loc.Project,
		"X_ENV":         string(target),
		"RUST_LOG":      "info",
		"SIBLINGS_FILE": path,
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}
