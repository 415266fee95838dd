package main

import (
	"context"
	"fmt"

	"github.com/flanksource/clicky"
	"github.com/flanksource/commons/logger"
	"github.com/flanksource/harness/browser"
	"github.com/flanksource/harness/config"
	"github.com/flanksource/harness/credential"
	"github.com/flanksource/harness/fixture"
	"github.com/flanksource/harness/manifest"
	"github.com/flanksource/harness/shutdown"
	"github.com/spf13/cobra"
)

var (
	runFilter          string
	runWithCredentials bool
	runWithBrowser     bool
)

var runCmd = &cobra.Command{
	Use:          "run [manifests...]",
	Short:        "Run declarative test manifests (files, directories or globs)",
	RunE:         runManifests,
	SilenceUsage: true,
}

func runManifests(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		wd, err := getWorkingDir()
		if err != nil {
			return err
		}
		args = []string{wd}
	}

	manifests, err := manifest.LoadAll(args...)
	if err != nil {
		return err
	}
	if len(manifests) == 0 {
		return fmt.Errorf("no manifests found")
	}

	ctx, stop := shutdown.Notify(context.Background())
	defer stop()

	opts := manifest.Options{
		Version: version,
		Filter:  runFilter,
		Logger:  logger.StandardLogger(),
		OnSuite: func(s *manifest.Suite) {
			shutdown.AddHookWithPriority("release "+s.Manifest.Name, shutdown.PriorityFixtures, s.Close)
		},
	}
	opts.Bundles = bundles(cfg)

	report, err := manifest.Run(ctx, manifests, opts)
	if err != nil {
		logger.Errorf("%v", err)
	}

	out, ferr := clicky.Format(report)
	if ferr != nil {
		return ferr
	}
	fmt.Println(out)

	if report.Failed() || err != nil {
		exitCode = 1
	}
	return nil
}

// bundles returns the Go fixture bundles selected by the run flags, in the
// order they are layered under each manifest.
func bundles(cfg config.Config) []*fixture.Registry {
	var out []*fixture.Registry
	if runWithCredentials {
		out = append(out, credential.Fixtures(cfg))
	}
	if runWithBrowser {
		out = append(out, browser.Fixtures(cfg))
	}
	return out
}

func init() {
	runCmd.Flags().StringVar(&runFilter, "filter", "", "Only run tests whose name matches this glob")
	runCmd.Flags().BoolVar(&runWithCredentials, "with-credentials", false,
		"Expose the credential store, vault and matching credentials as fixtures")
	runCmd.Flags().BoolVar(&runWithBrowser, "with-browser", false,
		"Launch a browser per manifest and open a page and login page for every test")
	rootCmd.AddCommand(runCmd)
}
