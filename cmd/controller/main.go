// Copyright 2025 The Passwordstate Operator Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"). You may
// not use this file except in compliance with the License. A copy of the
// License is located at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// or in the "license" file accompanying this file. This file is distributed
// on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either
// express or implied. See the License for the specific language governing
// permissions and limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
	"sigs.k8s.io/release-utils/version"

	v1 "github.com/passwordstate-operator/passwordstate-operator/api/v1"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/cache"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/client"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/cluster"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/config"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/controller"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/operation"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/passwordstate"
	"github.com/passwordstate-operator/passwordstate-operator/pkg/secrets"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(v1.AddToScheme(scheme))
}

type customLevelEnabler struct {
	level int
}

func (c customLevelEnabler) Enabled(lvl zapcore.Level) bool {
	return -int(lvl) <= c.level
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	settings, err := config.Default()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cmd := &cobra.Command{
		Use:           "passwordstate-operator",
		Short:         "Synchronizes Passwordstate password lists into Kubernetes Secrets",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return run(settings)
		},
	}
	settings.BindFlags(cmd.Flags())
	cmd.AddCommand(version.Version())
	return cmd
}

func run(settings config.Settings) error {
	opts := zap.Options{
		Development: true,
		Level:       customLevelEnabler{level: settings.LogLevel},
		TimeEncoder: zapcore.ISO8601TimeEncoder,
	}
	rootLogger := zap.New(zap.UseFlagOptions(&opts))
	ctrl.SetLogger(rootLogger)

	if err := settings.Validate(); err != nil {
		setupLog.Error(err, "invalid configuration")
		return err
	}

	operatorVersion := version.GetVersionInfo().GitVersion
	setupLog.Info("Starting passwordstate operator",
		"version", operatorVersion,
		"serverBaseURL", settings.ServerBaseURL,
		"syncInterval", settings.SyncInterval,
		"watchNamespace", settings.WatchNamespace,
	)

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress: settings.MetricsBindAddress,
		},
		HealthProbeBindAddress: settings.HealthProbeBindAddress,
		// The cache lives in memory, a second replica would race on the
		// same Secrets without sharing it.
		LeaderElection: false,
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		return err
	}

	set, err := client.NewSet(client.Config{
		RestConfig: mgr.GetConfig(),
		Version:    operatorVersion,
	})
	if err != nil {
		setupLog.Error(err, "unable to create clients")
		return err
	}

	crdConfig := client.DefaultCRDWrapperConfig()
	crdConfig.Log = rootLogger
	crdConfig.PollInterval = settings.CRDCheckInterval
	clusterClient := cluster.NewFromSet(set, set.CRD(crdConfig))

	apiKeys, err := config.NewAPIKeySource(settings, set.Kubernetes())
	if err != nil {
		setupLog.Error(err, "unable to configure the api key")
		return err
	}

	vault := passwordstate.NewClient(rootLogger, passwordstate.ClientConfig{
		Timeout: settings.VaultTimeout,
		QPS:     settings.VaultQPS,
		Burst:   settings.VaultBurst,
	})

	handler := operation.NewHandler(
		rootLogger,
		operation.Config{
			ServerBaseURL: settings.ServerBaseURL,
			SyncInterval:  settings.SyncInterval,
		},
		clusterClient,
		vault,
		apiKeys,
		secrets.NewBuilder(rootLogger, operatorVersion),
	)

	pc := controller.New(rootLogger, controller.Config{
		Namespace:               settings.WatchNamespace,
		ReconcileInterval:       settings.ReconcileInterval,
		WatchRestartDelay:       settings.WatchRestartDelay,
		MaxConcurrentReconciles: settings.MaxConcurrentReconciles,
	}, cache.New(), handler, clusterClient)

	if err := mgr.Add(pc); err != nil {
		setupLog.Error(err, "unable to add controller to manager")
		return err
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		return err
	}
	if err := mgr.AddReadyzCheck("readyz", pc.ReadyzCheck); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		return err
	}

	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		return err
	}
	return nil
}
