// Package saga deploys an application as a sequence of durable steps with a
// compensating cleanup.
//
// The steps run strictly in order: create-app, allocate-ip,
// provision-volume-and-bootstrap, wait-for-secrets, launch-final-vm and
// wait-for-health-check. Every provider call and every sleep goes through a
// durable.Substrate, so an interrupted deployment resumes where it stopped.
// A step failure after the app exists force-deletes the app. AppInit always
// ends in exactly one Outcome unless it was interrupted, in which case the
// execution stays open and can be resumed.
package saga

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/appinit/internal/config"
	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/metrics"
	"github.com/imamik/appinit/internal/observability"
	"github.com/imamik/appinit/internal/provider"
	"github.com/imamik/appinit/internal/render"
)

// Step names, used in errors, events and metrics.
const (
	StepRender             = "render"
	StepCreateApp          = "create-app"
	StepAllocateIP         = "allocate-ip"
	StepProvisionVolume    = "provision-volume-and-bootstrap"
	StepWaitForSecrets     = "wait-for-secrets"
	StepLaunchFinalVM      = "launch-final-vm"
	StepWaitForHealthCheck = "wait-for-health-check"
	StepCleanup            = "cleanup"
)

// Durable sub-procedure names. A crash between two of them resumes at the
// first one that has not completed.
const (
	SubPrepare            = "prepare"
	SubWaitForSecrets     = "wait-for-secrets"
	SubStartFinalVM       = "start-final-vm"
	SubWaitForHealthCheck = "wait-for-health-check"
	SubCleanup            = "cleanup"
)

// Request is the input of one deployment.
type Request struct {
	OrgSlug string                 `json:"orgSlug"`
	AppName string                 `json:"appName"`
	Spec    *config.DeploymentSpec `json:"spec"`
	// HealthCheckDeadline bounds wait-for-health-check. Zero fails after the
	// first unsuccessful check.
	HealthCheckDeadline time.Duration `json:"healthCheckDeadline"`
}

// Saga runs deployments against one provider. It holds no per-deployment
// state and may run many deployments concurrently.
type Saga struct {
	provider provider.Provider
	settings *config.Settings
	timeouts *config.Timeouts
	checker  HealthChecker
	observer observability.Observer
	log      logr.Logger
}

// Option configures a Saga.
type Option func(*Saga)

// WithHealthChecker sets the health checker.
func WithHealthChecker(p HealthChecker) Option {
	return func(s *Saga) {
		s.checker = p
	}
}

// WithObserver sets the event observer.
func WithObserver(o observability.Observer) Option {
	return func(s *Saga) {
		s.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(s *Saga) {
		s.log = l
	}
}

// New creates a Saga.
func New(p provider.Provider, settings *config.Settings, timeouts *config.Timeouts, opts ...Option) *Saga {
	s := &Saga{
		provider: p,
		settings: settings,
		timeouts: timeouts,
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.observer == nil {
		s.observer = observability.NewLogObserver(s.log)
	}
	if s.checker == nil {
		s.checker = NewHTTPHealthChecker(timeouts.HealthCheckTimeout)
	}
	return s
}

// AppInit runs the whole deployment and compensates on failure.
//
// The returned error is non-nil only when the run was interrupted (context
// cancelled, journal unavailable); the deployment then has no outcome yet.
func (s *Saga) AppInit(ctx context.Context, sub durable.Substrate, req Request) (Outcome, error) {
	obs := s.observerFor(sub, req.AppName)

	err := s.appInit(ctx, sub, obs, req)
	if err != nil && durable.Interrupted(ctx, err) {
		return Outcome{}, err
	}
	if err == nil {
		return s.outcome(obs, Outcome{Kind: Success}), nil
	}

	stepErr := classify(WorkflowAppInit, err)
	if !stepErr.Kind.RequiresCleanup() {
		return s.outcome(obs, Outcome{Kind: NoCleanupRequired, Err: stepErr}), nil
	}

	cleanupErr := s.cleanup(ctx, sub, obs, req.AppName)
	if cleanupErr != nil && durable.Interrupted(ctx, cleanupErr) {
		return Outcome{}, cleanupErr
	}
	if cleanupErr != nil {
		return s.outcome(obs, Outcome{Kind: CleanupFailed, Err: stepErr, CleanupErr: cleanupErr}), nil
	}
	return s.outcome(obs, Outcome{Kind: CleanupOk, Err: stepErr}), nil
}

// AppInitNoCleanup runs the deployment and returns the first step failure
// without compensating. Resources are left in place for inspection.
func (s *Saga) AppInitNoCleanup(ctx context.Context, sub durable.Substrate, req Request) error {
	return s.appInit(ctx, sub, s.observerFor(sub, req.AppName), req)
}

func (s *Saga) appInit(ctx context.Context, sub durable.Substrate, obs observability.Observer, req Request) error {
	// Render before anything exists so a bad spec has no side effects.
	if _, err := s.render(req); err != nil {
		return err
	}

	if err := sub.Subprocedure(ctx, SubPrepare, func(ctx context.Context, sub durable.Substrate) error {
		return s.prepare(ctx, sub, obs, req)
	}); err != nil {
		return err
	}

	required := config.RequiredSecrets(req.Spec)
	if err := sub.Subprocedure(ctx, SubWaitForSecrets, func(ctx context.Context, sub durable.Substrate) error {
		return s.waitForSecretsStep(ctx, sub, obs, req.AppName, required)
	}); err != nil {
		return err
	}

	if err := sub.Subprocedure(ctx, SubStartFinalVM, func(ctx context.Context, sub durable.Substrate) error {
		return s.startFinalVM(ctx, sub, obs, req.AppName)
	}); err != nil {
		return err
	}

	return sub.Subprocedure(ctx, SubWaitForHealthCheck, func(ctx context.Context, sub durable.Substrate) error {
		return s.waitForHealthCheckStep(ctx, sub, obs, req.AppName, req.HealthCheckDeadline)
	})
}

// Prepare runs create-app, allocate-ip and provision-volume-and-bootstrap.
func (s *Saga) Prepare(ctx context.Context, sub durable.Substrate, req Request) error {
	return s.prepare(ctx, sub, s.observerFor(sub, req.AppName), req)
}

// WaitForSecrets blocks until every required secret exists for app.
func (s *Saga) WaitForSecrets(ctx context.Context, sub durable.Substrate, app string, required config.RequiredSecretSet) error {
	return s.waitForSecretsStep(ctx, sub, s.observerFor(sub, app), app, required)
}

// StartFinalVM launches the long-lived machine.
func (s *Saga) StartFinalVM(ctx context.Context, sub durable.Substrate, app string) error {
	return s.startFinalVM(ctx, sub, s.observerFor(sub, app), app)
}

// WaitForHealthCheck checks the app until it answers 2xx or deadline passes.
func (s *Saga) WaitForHealthCheck(ctx context.Context, sub durable.Substrate, app string, deadline time.Duration) error {
	return s.waitForHealthCheckStep(ctx, sub, s.observerFor(sub, app), app, deadline)
}

func (s *Saga) prepare(ctx context.Context, sub durable.Substrate, obs observability.Observer, req Request) error {
	configText, err := s.render(req)
	if err != nil {
		return err
	}
	if err := s.step(ctx, obs, StepCreateApp, func() error {
		return s.createApp(ctx, sub, obs, req.OrgSlug, req.AppName)
	}); err != nil {
		return err
	}
	if err := s.advance(ctx, sub, obs, AppCreated); err != nil {
		return err
	}

	if err := s.step(ctx, obs, StepAllocateIP, func() error {
		return s.allocateIP(ctx, sub, obs, req.AppName)
	}); err != nil {
		return err
	}
	if err := s.advance(ctx, sub, obs, IPAllocated); err != nil {
		return err
	}

	if err := s.step(ctx, obs, StepProvisionVolume, func() error {
		return s.setupVolume(ctx, sub, obs, req.AppName, configText)
	}); err != nil {
		return err
	}
	return s.advance(ctx, sub, obs, VolumeProvisioned)
}

func (s *Saga) waitForSecretsStep(ctx context.Context, sub durable.Substrate, obs observability.Observer, app string, required config.RequiredSecretSet) error {
	if err := s.step(ctx, obs, StepWaitForSecrets, func() error {
		return s.waitForSecrets(ctx, sub, obs, app, required)
	}); err != nil {
		return err
	}
	return s.advance(ctx, sub, obs, SecretsSatisfied)
}

func (s *Saga) startFinalVM(ctx context.Context, sub durable.Substrate, obs observability.Observer, app string) error {
	if err := s.step(ctx, obs, StepLaunchFinalVM, func() error {
		return s.launchFinalVM(ctx, sub, obs, app)
	}); err != nil {
		return err
	}
	return s.advance(ctx, sub, obs, FinalVMLaunched)
}

func (s *Saga) waitForHealthCheckStep(ctx context.Context, sub durable.Substrate, obs observability.Observer, app string, deadline time.Duration) error {
	if err := s.step(ctx, obs, StepWaitForHealthCheck, func() error {
		return s.waitForHealthCheck(ctx, sub, obs, app, deadline)
	}); err != nil {
		return err
	}
	return s.advance(ctx, sub, obs, HealthCheckPassed)
}

func (s *Saga) render(req Request) (string, error) {
	text, err := render.Render(req.Spec, s.settings)
	if err != nil {
		return "", newStepError(StepRender, SpecInvalid, "cannot render config", err)
	}
	return text, nil
}

// step wraps one step with events and metrics. Interruptions are not
// counted as failures.
func (s *Saga) step(ctx context.Context, obs observability.Observer, name string, fn func() error) error {
	start := time.Now()
	observability.LogStepStart(obs, name)
	err := fn()
	if err != nil && durable.Interrupted(ctx, err) {
		return err
	}
	metrics.RecordStep(name, err, time.Since(start))
	if err != nil {
		observability.LogStepFailed(obs, name, err)
		return err
	}
	observability.LogStepComplete(obs, name, time.Since(start))
	return nil
}

func (s *Saga) advance(ctx context.Context, sub durable.Substrate, obs observability.Observer, to State) error {
	if err := sub.SetState(ctx, string(to)); err != nil {
		return err
	}
	observability.LogStateChanged(obs, string(to.Previous()), string(to))
	return nil
}

func (s *Saga) outcome(obs observability.Observer, o Outcome) Outcome {
	metrics.RecordOutcome(string(o.Kind))
	obs.Event(observability.Event{
		Type:    observability.EventStepCompleted,
		Step:    "app-init",
		Message: o.String(),
		Fields:  map[string]string{"outcome": string(o.Kind)},
	})
	return o
}

func (s *Saga) observerFor(sub durable.Substrate, app string) observability.Observer {
	return s.observer.WithFields(map[string]string{
		"app":       app,
		"execution": sub.ExecutionID(),
	})
}

// fail classifies err for step. Interruptions pass through untouched so the
// caller does not mistake them for a step failure.
func fail(ctx context.Context, step string, kind Kind, message string, err error) error {
	if durable.Interrupted(ctx, err) {
		return err
	}
	return newStepError(step, kind, message, err)
}
