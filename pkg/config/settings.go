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

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"k8s.io/client-go/tools/cache"
)

// Environment variables read by Default.
const (
	EnvServerBaseURL       = "SERVER_BASE_URL"
	EnvAPIKeyPath          = "API_KEY_PATH"
	EnvAPIKeySecret        = "API_KEY_SECRET"
	EnvAPIKeySecretKey     = "API_KEY_SECRET_KEY"
	EnvSyncIntervalSeconds = "SYNC_INTERVAL_SECONDS"
	EnvWatchNamespace      = "WATCH_NAMESPACE"
)

const (
	DefaultSyncInterval            = 60 * time.Second
	DefaultReconcileInterval       = 10 * time.Second
	DefaultCRDCheckInterval        = 10 * time.Second
	DefaultWatchRestartDelay       = time.Second
	DefaultMaxConcurrentReconciles = 4
	DefaultAPIKeySecretKey         = "apikey"
	DefaultVaultTimeout            = 30 * time.Second
	DefaultMetricsBindAddress      = ":8078"
	DefaultHealthProbeBindAddress  = ":8079"
	DefaultLogLevel                = 0
)

var (
	ErrServerBaseURLMissing = errors.New("server base url is required")
	ErrAPIKeySourceMissing  = errors.New("one of api key path or api key secret is required")
	ErrAPIKeySourceConflict = errors.New("api key path and api key secret are mutually exclusive")
	ErrInvalidSetting       = errors.New("invalid setting")
)

// Settings holds the operator configuration. It is read once at startup.
type Settings struct {
	// ServerBaseURL is the base url of the Passwordstate server.
	ServerBaseURL string
	// APIKeyPath is a file holding the Passwordstate API key.
	APIKeyPath string
	// APIKeySecret is a "namespace/name" reference to a Secret holding the
	// API key, used instead of APIKeyPath.
	APIKeySecret    string
	APIKeySecretKey string

	SyncInterval      time.Duration
	ReconcileInterval time.Duration
	CRDCheckInterval  time.Duration
	WatchRestartDelay time.Duration
	// WatchNamespace restricts the watch to one namespace. Empty means all.
	WatchNamespace          string
	MaxConcurrentReconciles int

	VaultTimeout time.Duration
	VaultQPS     float64
	VaultBurst   int

	MetricsBindAddress     string
	HealthProbeBindAddress string
	LogLevel               int
}

// Default returns the default settings, overridden by the environment.
func Default() (Settings, error) {
	s := Settings{
		APIKeySecretKey:         DefaultAPIKeySecretKey,
		SyncInterval:            DefaultSyncInterval,
		ReconcileInterval:       DefaultReconcileInterval,
		CRDCheckInterval:        DefaultCRDCheckInterval,
		WatchRestartDelay:       DefaultWatchRestartDelay,
		MaxConcurrentReconciles: DefaultMaxConcurrentReconciles,
		VaultTimeout:            DefaultVaultTimeout,
		MetricsBindAddress:      DefaultMetricsBindAddress,
		HealthProbeBindAddress:  DefaultHealthProbeBindAddress,
		LogLevel:                DefaultLogLevel,
	}

	lookup(EnvServerBaseURL, &s.ServerBaseURL)
	lookup(EnvAPIKeyPath, &s.APIKeyPath)
	lookup(EnvAPIKeySecret, &s.APIKeySecret)
	lookup(EnvAPIKeySecretKey, &s.APIKeySecretKey)
	lookup(EnvWatchNamespace, &s.WatchNamespace)

	if v, ok := os.LookupEnv(EnvSyncIntervalSeconds); ok && v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("%w: %s=%q: %w", ErrInvalidSetting, EnvSyncIntervalSeconds, v, err)
		}
		s.SyncInterval = time.Duration(seconds) * time.Second
	}

	return s, nil
}

func lookup(env string, dst *string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}

// BindFlags registers a flag for every setting. The current values of s
// are the flag defaults, so flags win over the environment.
func (s *Settings) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.ServerBaseURL, "server-base-url", s.ServerBaseURL,
		"Base url of the Passwordstate server. Env: "+EnvServerBaseURL)
	fs.StringVar(&s.APIKeyPath, "api-key-path", s.APIKeyPath,
		"Path of a file holding the Passwordstate API key. Env: "+EnvAPIKeyPath)
	fs.StringVar(&s.APIKeySecret, "api-key-secret", s.APIKeySecret,
		"namespace/name of a Secret holding the Passwordstate API key, re-read after Passwordstate rejects the key. Env: "+EnvAPIKeySecret)
	fs.StringVar(&s.APIKeySecretKey, "api-key-secret-key", s.APIKeySecretKey,
		"Key of the API key in the api key Secret. Env: "+EnvAPIKeySecretKey)
	fs.DurationVar(&s.SyncInterval, "sync-interval", s.SyncInterval,
		"Minimum time between two synchronizations of a password list. Env: "+EnvSyncIntervalSeconds+" (seconds)")
	fs.DurationVar(&s.ReconcileInterval, "reconcile-interval", s.ReconcileInterval,
		"Interval of the periodic sweep over all known password lists")
	fs.DurationVar(&s.CRDCheckInterval, "crd-check-interval", s.CRDCheckInterval,
		"Interval between two checks for the PasswordList CRD at startup")
	fs.DurationVar(&s.WatchRestartDelay, "watch-restart-delay", s.WatchRestartDelay,
		"Delay before a closed watch is re-established")
	fs.StringVar(&s.WatchNamespace, "watch-namespace", s.WatchNamespace,
		"Namespace to watch for PasswordLists, all namespaces when empty. Env: "+EnvWatchNamespace)
	fs.IntVar(&s.MaxConcurrentReconciles, "max-concurrent-reconciles", s.MaxConcurrentReconciles,
		"The number of password lists reconciled in parallel")
	fs.DurationVar(&s.VaultTimeout, "vault-timeout", s.VaultTimeout,
		"Timeout of a single Passwordstate request")
	fs.Float64Var(&s.VaultQPS, "vault-qps", s.VaultQPS,
		"Maximum Passwordstate requests per second, 0 disables the limit")
	fs.IntVar(&s.VaultBurst, "vault-burst", s.VaultBurst,
		"Burst of Passwordstate requests allowed above vault-qps")
	fs.StringVar(&s.MetricsBindAddress, "metrics-bind-address", s.MetricsBindAddress,
		"The address the metric endpoint binds to.")
	fs.StringVar(&s.HealthProbeBindAddress, "health-probe-bind-address", s.HealthProbeBindAddress,
		"The address the probe endpoint binds to.")
	fs.IntVar(&s.LogLevel, "log-level", s.LogLevel,
		"The log level verbosity. 0 is the least verbose, 5 is the most verbose.")
}

// Validate checks the settings are usable.
func (s *Settings) Validate() error {
	var errs []error

	if s.ServerBaseURL == "" {
		errs = append(errs, ErrServerBaseURLMissing)
	} else if u, err := url.Parse(s.ServerBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("%w: server base url %q is not an absolute url", ErrInvalidSetting, s.ServerBaseURL))
	}

	switch {
	case s.APIKeyPath == "" && s.APIKeySecret == "":
		errs = append(errs, ErrAPIKeySourceMissing)
	case s.APIKeyPath != "" && s.APIKeySecret != "":
		errs = append(errs, ErrAPIKeySourceConflict)
	case s.APIKeySecret != "":
		if _, _, err := s.APIKeySecretRef(); err != nil {
			errs = append(errs, err)
		}
		if s.APIKeySecretKey == "" {
			errs = append(errs, fmt.Errorf("%w: api key secret key is empty", ErrInvalidSetting))
		}
	}

	for name, d := range map[string]time.Duration{
		"sync interval":       s.SyncInterval,
		"reconcile interval":  s.ReconcileInterval,
		"crd check interval":  s.CRDCheckInterval,
		"watch restart delay": s.WatchRestartDelay,
		"vault timeout":       s.VaultTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidSetting, name, d))
		}
	}

	if s.MaxConcurrentReconciles < 1 {
		errs = append(errs, fmt.Errorf("%w: max concurrent reconciles must be at least 1, got %d", ErrInvalidSetting, s.MaxConcurrentReconciles))
	}
	if s.VaultQPS < 0 || s.VaultBurst < 0 {
		errs = append(errs, fmt.Errorf("%w: vault qps and burst must not be negative", ErrInvalidSetting))
	}

	return errors.Join(errs...)
}

// APIKeySecretRef splits APIKeySecret into its namespace and name.
func (s *Settings) APIKeySecretRef() (namespace, name string, err error) {
	namespace, name, err = cache.SplitMetaNamespaceKey(s.APIKeySecret)
	if err != nil {
		return "", "", fmt.Errorf("%w: api key secret %q: %w", ErrInvalidSetting, s.APIKeySecret, err)
	}
	if namespace == "" || name == "" {
		return "", "", fmt.Errorf("%w: api key secret %q must be namespace/name", ErrInvalidSetting, s.APIKeySecret)
	}
	return namespace, name, nil
}
