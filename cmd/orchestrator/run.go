/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package orchestrator hosts the bring-up, teardown, and verify commands.
package orchestrator

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/dc-tec/platform-bootstrap/internal/constants"
	"github.com/dc-tec/platform-bootstrap/internal/kube"
	"github.com/dc-tec/platform-bootstrap/internal/logging"
	"github.com/dc-tec/platform-bootstrap/internal/sequencer"
	"github.com/dc-tec/platform-bootstrap/internal/stages"
)

var setupLog = ctrl.Log.WithName("setup")

type options struct {
	kubeconfig string
	domain     string
	stateDir   string

	keycloakAdmin    string
	keycloakPassword string
	minioAccessKey   string
	minioSecretKey   string
}

// bindCommonFlags registers the flags shared by every subcommand, with
// PLATFORM_BOOTSTRAP_* environment variables as defaults.
func bindCommonFlags(fs *flag.FlagSet, opts *options) {
	fs.StringVar(&opts.kubeconfig, "kubeconfig", envOr(constants.EnvKubeconfig, ""),
		"Path to the kubeconfig file. Defaults to in-cluster or $KUBECONFIG resolution.")
	fs.StringVar(&opts.domain, "domain", envOr(constants.EnvDomain, constants.DefaultDomain),
		"DNS zone the platform services are published under.")
	fs.StringVar(&opts.stateDir, "state-dir", envOr(constants.EnvStateDir, defaultStateDir()),
		"Directory for the initialization record, run logs, and scratch state.")
	fs.StringVar(&opts.keycloakAdmin, "keycloak-admin", envOr(constants.EnvKeycloakAdmin, "admin"),
		"Identity provider bootstrap admin username.")
	fs.StringVar(&opts.keycloakPassword, "keycloak-password", envOr(constants.EnvKeycloakPassword, ""),
		"Identity provider bootstrap admin password. Generated and stored in-cluster when empty.")
	fs.StringVar(&opts.minioAccessKey, "minio-access-key", envOr(constants.EnvMinioAccessKey, ""),
		"Object storage root access key. Generated and stored in-cluster when empty.")
	fs.StringVar(&opts.minioSecretKey, "minio-secret-key", envOr(constants.EnvMinioSecretKey, ""),
		"Object storage root secret key. Generated and stored in-cluster when empty.")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".platform-bootstrap"
	}
	return filepath.Join(home, ".platform-bootstrap")
}

func loadRESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	return ctrl.GetConfig()
}

// setup parses flags, configures logging, and builds the platform plus a
// run context. Every subcommand funnels through here.
func setup(name string, args []string, extra func(fs *flag.FlagSet)) (*stages.Platform, *sequencer.RunContext, *options, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	opts := &options{}
	bindCommonFlags(fs, opts)

	zapOpts := zap.Options{Development: true}
	zapOpts.BindFlags(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, err
	}

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))
	log := ctrl.Log.WithName(name)

	setupLog.Info("Resolved configuration",
		"command", name, "domain", opts.domain, "state_dir", opts.stateDir)

	restConfig, err := loadRESTConfig(opts.kubeconfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load cluster configuration: %w", err)
	}
	kubeClient, err := kube.NewClient(restConfig)
	if err != nil {
		return nil, nil, nil, err
	}

	platform := stages.NewPlatform(stages.Config{
		Domain:                opts.domain,
		StateDir:              opts.stateDir,
		KeycloakAdminUser:     opts.keycloakAdmin,
		KeycloakAdminPassword: opts.keycloakPassword,
		MinioAccessKey:        opts.minioAccessKey,
		MinioSecretKey:        opts.minioSecretKey,
	}, kubeClient, log)

	runID := uuid.NewString()
	runLog, err := logging.OpenRunLog(filepath.Join(opts.stateDir, "runs", name+".log"), runID)
	if err != nil {
		return nil, nil, nil, err
	}

	rc := sequencer.NewRunContext(opts.domain, opts.stateDir, kubeClient, log, runLog)
	rc.RunID = runID
	return platform, rc, opts, nil
}

// RunUp brings the platform up, stage by stage.
func RunUp(args []string) error {
	platform, rc, _, err := setup("up", args, nil)
	if err != nil {
		return err
	}
	defer func() { _ = rc.RunLog.Close() }()

	ctx := ctrl.SetupSignalHandler()
	report, err := sequencer.NewRunner(rc.Log).Run(ctx, rc, platform.Stages())
	printReport(report)
	if err != nil {
		// On cancellation scrub scratch files; converged cluster state stays.
		// A stage failure keeps them for inspection.
		if ctx.Err() != nil {
			_ = rc.Cleanup()
		}
		return err
	}
	return rc.Cleanup()
}

// RunDown tears the platform down in reverse order.
func RunDown(args []string) error {
	var purgeCredentials bool
	platform, rc, _, err := setup("down", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&purgeCredentials, "purge-credentials", false,
			"Also delete the initialization record and its mirrored secret. Unrecoverable.")
	})
	if err != nil {
		return err
	}
	defer func() { _ = rc.RunLog.Close() }()

	ctx := ctrl.SetupSignalHandler()
	report, err := sequencer.NewRunner(rc.Log).Run(ctx, rc, platform.TeardownStages(purgeCredentials))
	printReport(report)
	return err
}

// RunVerify probes every service surface once, or on a schedule with
// --watch.
func RunVerify(args []string) error {
	var watch bool
	var schedule string
	platform, rc, _, err := setup("verify", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&watch, "watch", false, "Keep verifying on a schedule instead of exiting.")
		fs.StringVar(&schedule, "schedule", "@every 1m", "Verification schedule in cron syntax; used with --watch.")
	})
	if err != nil {
		return err
	}
	defer func() { _ = rc.RunLog.Close() }()

	ctx := ctrl.SetupSignalHandler()
	if !watch {
		return verifyOnce(ctx, platform, rc)
	}

	// Watch mode also re-runs the credential bridge each tick so IdP client
	// secret rotations converge without a full bring-up.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(schedule, func() {
		if err := verifyOnce(ctx, platform, rc); err != nil {
			rc.Log.Error(err, "Verification failed")
			return
		}
		if err := resyncBridge(ctx, platform, rc); err != nil {
			rc.Log.Error(err, "Credential bridge re-sync failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid --schedule %q: %w", schedule, err)
	}

	scheduler.Start()
	<-ctx.Done()
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	return nil
}

func verifyOnce(ctx context.Context, platform *stages.Platform, rc *sequencer.RunContext) error {
	checks, err := platform.VerifyChecks(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, check := range checks {
		probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := check.Probe(probeCtx)
		cancel()
		if err != nil {
			failed++
			rc.RunLog.Record(check.Name(), "Unhealthy", err.Error())
			rc.Log.Error(err, "Check failed", "check", check.Name())
			continue
		}
		rc.RunLog.Record(check.Name(), "Healthy", "")
		rc.Log.Info("Check passed", "check", check.Name())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(checks))
	}
	return nil
}

func resyncBridge(ctx context.Context, platform *stages.Platform, rc *sequencer.RunContext) error {
	syncCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	outcome, err := platform.ResyncCredentials(syncCtx)
	if err != nil {
		rc.RunLog.Record("credential-bridge", "Failed", err.Error())
		return err
	}
	rc.RunLog.Record("credential-bridge", string(outcome), "")
	rc.Log.Info("Credential bridge synced", "outcome", outcome)
	return nil
}

func printReport(report sequencer.Report) {
	for _, result := range report.Results {
		line := fmt.Sprintf("%-20s %s", result.Name, result.Status)
		if result.Err != nil {
			line += "  " + result.Err.Error()
		}
		fmt.Println(line)
	}
}
