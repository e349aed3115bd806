package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/imamik/appinit/internal/config"
	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/durable/sqljournal"
	"github.com/imamik/appinit/internal/platform/flyio"
	hcloudprovider "github.com/imamik/appinit/internal/platform/hcloud"
	"github.com/imamik/appinit/internal/platform/s3"
	"github.com/imamik/appinit/internal/provider"
	"github.com/imamik/appinit/internal/saga"
	"github.com/imamik/appinit/internal/util/retry"
)

// Provider names accepted by --provider.
const (
	ProviderFly    = "fly"
	ProviderHCloud = "hcloud"
)

// ErrNotSucceeded is returned when an execution finished without reaching
// its goal. The CLI exits non-zero for it.
var ErrNotSucceeded = errors.New("deployment did not succeed")

// Options are the flags shared by every command.
type Options struct {
	Provider     string
	Journal      string
	SettingsPath string
	MetricsAddr  string
	Debug        bool
}

// Factory function variables - can be replaced in tests.
var (
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin

	loadSettings    = config.LoadSettings
	loadTimeouts    = config.LoadTimeouts
	loadCredentials = config.LoadCredentials
	loadSpec        = config.LoadSpec

	newLogger        = zapLogger
	newProvider      = buildProvider
	openJournal      = openSQLJournal
	newHealthChecker = func(t *config.Timeouts) saga.HealthChecker { return saga.NewHTTPHealthChecker(t.HealthCheckTimeout) }
	startMetrics     = serveMetrics
)

// env is what every command needs before it talks to a provider.
type env struct {
	log      logr.Logger
	settings *config.Settings
	timeouts *config.Timeouts
	creds    *config.Credentials
	closers  []func()
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func loadEnv(opts *Options) (*env, error) {
	log, flush, err := newLogger(opts.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	e := &env{log: log, closers: []func(){flush}}

	settings, err := loadSettings(opts.SettingsPath)
	if err != nil {
		e.close()
		return nil, err
	}
	e.settings = settings
	e.timeouts = loadTimeouts()
	e.creds = loadCredentials()

	if opts.MetricsAddr != "" {
		stop, err := startMetrics(opts.MetricsAddr, log)
		if err != nil {
			e.close()
			return nil, err
		}
		e.closers = append(e.closers, stop)
	}
	return e, nil
}

// runtime wires the saga for commands that run or resume executions.
type runtime struct {
	*env
	provider provider.Provider
	journal  durable.Journal
	executor *durable.Executor
	saga     *saga.Saga
	out      io.Writer
	styled   bool
}

func newRuntime(ctx context.Context, opts *Options) (*runtime, error) {
	e, err := loadEnv(opts)
	if err != nil {
		return nil, err
	}
	p, err := newProvider(ctx, opts.Provider, e)
	if err != nil {
		e.close()
		return nil, err
	}
	journal, closeJournal, err := openJournal(ctx, opts.Journal)
	if err != nil {
		e.close()
		return nil, err
	}
	e.closers = append(e.closers, closeJournal)

	return &runtime{
		env:      e,
		provider: p,
		journal:  journal,
		executor: durable.NewExecutor(journal,
			durable.WithErrorCodec(saga.ErrorCodec{}),
			durable.WithLogger(e.log.WithName("durable")),
		),
		saga: saga.New(p, e.settings, e.timeouts,
			saga.WithLogger(e.log.WithName("saga")),
			saga.WithHealthChecker(newHealthChecker(e.timeouts)),
		),
		out:    &syncWriter{w: stdout},
		styled: isInteractiveTTY(),
	}, nil
}

// execute runs run to completion and prints its result.
func (rt *runtime) execute(ctx context.Context, run *durable.Run) error {
	exec := run.Execution()
	rt.log.Info("running execution", "execution", exec.ID, "workflow", exec.Workflow, "app", exec.Key)

	result, err := rt.saga.Execute(ctx, run)
	if err != nil {
		if durable.Interrupted(ctx, err) {
			return fmt.Errorf("execution %s interrupted, continue with 'appinit resume %s': %w", exec.ID, exec.ID, err)
		}
		return err
	}

	fmt.Fprint(rt.out, renderResult(exec.Key, exec.ID, result, rt.styled))
	if !result.Succeeded() {
		return fmt.Errorf("%w: %s (%s)", ErrNotSucceeded, exec.Key, exec.ID)
	}
	return nil
}

func openSQLJournal(ctx context.Context, dsn string) (durable.Journal, func(), error) {
	j, err := sqljournal.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return j, func() { _ = j.Close() }, nil
}

// buildProvider creates the named provider, instrumented with metrics.
func buildProvider(ctx context.Context, name string, e *env) (provider.Provider, error) {
	retryOpts := []retry.Option{
		retry.WithMaxAttempts(e.timeouts.RetryMaxAttempts),
		retry.WithInitialDelay(e.timeouts.RetryInitialDelay),
	}

	var p provider.Provider
	switch name {
	case ProviderFly:
		if e.creds.FlyAPIToken == "" {
			return nil, errors.New("FLY_API_TOKEN is required for the fly provider")
		}
		p = flyio.NewClient(e.creds.FlyAPIToken,
			flyio.WithBaseURL(e.creds.FlyAPIHostname),
			flyio.WithRetry(retryOpts...),
			flyio.WithLogger(e.log.WithName("flyio")),
		)
	case ProviderHCloud:
		hp, err := newHCloudProvider(ctx, e, retryOpts)
		if err != nil {
			return nil, err
		}
		p = hp
	default:
		return nil, fmt.Errorf("unknown provider %q (want %s or %s)", name, ProviderFly, ProviderHCloud)
	}
	return provider.Instrument(p, e.log.WithName("provider")), nil
}

func newHCloudProvider(ctx context.Context, e *env, retryOpts []retry.Option) (*hcloudprovider.Provider, error) {
	if e.creds.HCloudToken == "" {
		return nil, errors.New("HCLOUD_TOKEN is required for the hcloud provider")
	}
	if !hcloudprovider.IsLocation(e.settings.Region) {
		return nil, fmt.Errorf("region %q is not a Hetzner location (one of %s); set region in the settings file or APPINIT_REGION",
			e.settings.Region, strings.Join(hcloudprovider.Locations, ", "))
	}
	if strings.Contains(e.settings.HealthCheckURLTemplate, ".fly.dev") {
		e.log.Info("health check URL points at fly.dev, set healthCheckURLTemplate for Hetzner deployments",
			"template", e.settings.HealthCheckURLTemplate)
	}

	opts := []hcloudprovider.Option{
		hcloudprovider.WithLogger(e.log.WithName("hcloud")),
		hcloudprovider.WithLocation(e.settings.Region),
		hcloudprovider.WithDeleteTimeout(e.timeouts.Delete),
		hcloudprovider.WithRetry(retryOpts...),
	}

	store, err := newSecretStore(ctx, e.creds)
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts = append(opts, hcloudprovider.WithStore(store))
	}

	if e.creds.HCloudSSHKey != "" {
		if e.creds.HCloudSSHPrivateKeyFile == "" {
			return nil, errors.New("HCLOUD_SSH_PRIVATE_KEY_FILE is required with HCLOUD_SSH_KEY")
		}
		// #nosec G304
		key, err := os.ReadFile(e.creds.HCloudSSHPrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH private key: %w", err)
		}
		opts = append(opts, hcloudprovider.WithSSHKey(e.creds.HCloudSSHKey, key))
	}

	return hcloudprovider.NewProvider(e.creds.HCloudToken, opts...), nil
}

// newSecretStore connects to the object storage holding Hetzner secrets and
// machine keys. It returns nil when no storage is configured.
func newSecretStore(ctx context.Context, creds *config.Credentials) (*s3.Store, error) {
	if creds.S3Endpoint == "" || creds.S3Bucket == "" {
		return nil, nil
	}
	client, err := s3.NewClient(creds.S3Endpoint, creds.S3Region, creds.S3AccessKey, creds.S3SecretKey, true)
	if err != nil {
		return nil, err
	}
	store := s3.NewStore(client, creds.S3Bucket)
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare bucket %s: %w", creds.S3Bucket, err)
	}
	return store, nil
}

// syncWriter serialises writes from concurrently resumed executions.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
