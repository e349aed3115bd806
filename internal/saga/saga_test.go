package saga_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/imamik/appinit/internal/config"
	"github.com/imamik/appinit/internal/durable"
	"github.com/imamik/appinit/internal/observability"
	"github.com/imamik/appinit/internal/provider"
	"github.com/imamik/appinit/internal/provider/fake"
	"github.com/imamik/appinit/internal/saga"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var stargazersSecrets = []string{"GITHUB_TOKEN", "GITHUB_WEBHOOK_SECRET", "OPENAI_API_KEY", "TURSO_LOCATION", "TURSO_TOKEN"}

// stubChecker answers with results in order, repeating the last one. With no
// results it answers 200.
type stubChecker struct {
	mu      sync.Mutex
	results []saga.CheckResult
	onCheck func(n int)
	urls    []string
}

func (p *stubChecker) Check(ctx context.Context, url string) (saga.CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return saga.CheckResult{}, err
	}
	p.mu.Lock()
	p.urls = append(p.urls, url)
	n := len(p.urls)
	res := saga.CheckResult{StatusCode: http.StatusOK}
	if len(p.results) > 0 {
		res = p.results[min(n, len(p.results))-1]
	}
	hook := p.onCheck
	p.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return res, nil
}

func (p *stubChecker) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.urls)
}

type harness struct {
	provider *fake.Provider
	checker  *stubChecker
	recorder *observability.Recorder
	clock    *testingclock.FakeClock
	settings *config.Settings
	timeouts *config.Timeouts
	journal  durable.Journal
	saga     *saga.Saga
	executor *durable.Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		provider: fake.New(),
		checker:  &stubChecker{},
		recorder: observability.NewRecorder(),
		clock:    testingclock.NewFakeClock(base),
		settings: config.DefaultSettings(),
		timeouts: &config.Timeouts{BootstrapPollAttempts: 3},
		journal:  durable.NewMemoryJournal(),
	}
	h.saga = saga.New(h.provider, h.settings, h.timeouts,
		saga.WithHealthChecker(h.checker),
		saga.WithObserver(h.recorder),
	)
	h.executor = durable.NewExecutor(h.journal,
		durable.WithClock(h.clock),
		durable.WithErrorCodec(saga.ErrorCodec{}),
	)
	h.secretsOnList(stargazersSecrets...)
	return h
}

// secretsOnList makes the secrets appear the first time they are listed,
// which is after the app exists.
func (h *harness) secretsOnList(names ...string) {
	h.provider.OnCall = func(op, app string) {
		if op == provider.OpListSecrets {
			h.provider.SetSecrets(app, names...)
		}
	}
}

func (h *harness) execute(t *testing.T, workflow string, req saga.Request) saga.Result {
	t.Helper()
	ctx := context.Background()
	run, err := saga.Start(ctx, h.executor, workflow, req)
	require.NoError(t, err)
	result, err := h.saga.Execute(ctx, run)
	require.NoError(t, err)
	return result
}

func (h *harness) appInit(t *testing.T, req saga.Request) saga.Outcome {
	t.Helper()
	result := h.execute(t, saga.WorkflowAppInit, req)
	require.NotNil(t, result.Outcome)
	return *result.Outcome
}

func stargazers(t *testing.T) saga.Request {
	t.Helper()
	spec, err := config.LoadSpec("../config/testdata/stargazers.yaml")
	require.NoError(t, err)
	return saga.Request{
		OrgSlug:             spec.OrgSlug,
		AppName:             spec.AppName,
		Spec:                spec,
		HealthCheckDeadline: time.Minute,
	}
}

func exit(code int, stderr string) *provider.ExecResult {
	return &provider.ExecResult{ExitCode: &code, Stderr: stderr}
}

func TestAppInit_Success(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	req := stargazers(t)

	var execs [][]string
	h.provider.ExecFunc = func(_, _ string, cmd []string) (*provider.ExecResult, error) {
		execs = append(execs, cmd)
		return exit(0, ""), nil
	}

	outcome := h.appInit(t, req)
	require.Equal(t, saga.Success, outcome.Kind, outcome.String())
	assert.Nil(t, outcome.Err)
	assert.True(t, outcome.Succeeded())

	assert.True(t, h.provider.HasApp("stargazers"))
	assert.Len(t, h.provider.IPs("stargazers"), 1)
	volumes := h.provider.Volumes("stargazers")
	require.Len(t, volumes, 1)
	assert.Equal(t, h.settings.VolumeName, volumes[0].Name)

	// Only the final machine survives.
	machines := h.provider.Machines("stargazers")
	require.Len(t, machines, 1)
	assert.Equal(t, h.settings.FinalMachineName, machines[0].Name)
	final, ok := h.provider.MachineRequest("stargazers", machines[0].ID)
	require.True(t, ok)
	assert.Equal(t, []string{"server", "run", "--config", "/volume/obelisk.toml"}, final.Config.Init.Cmd)
	assert.Equal(t, provider.RestartNo, final.Config.Restart)
	assert.Equal(t, []provider.Mount{{Volume: "db", Path: "/volume"}}, final.Config.Mounts)
	require.Len(t, final.Config.Services, 2)
	assert.Equal(t, 9091, final.Config.Services[0].InternalPort)
	assert.Equal(t, 444, final.Config.Services[0].Ports[0].Port)
	assert.Equal(t, 9090, final.Config.Services[1].InternalPort)
	assert.Equal(t, 443, final.Config.Services[1].Ports[0].Port)
	assert.Equal(t, []string{"tls"}, final.Config.Services[1].Ports[0].Handlers)

	// Write, then verify.
	require.Len(t, execs, 2)
	assert.Equal(t, []string{"sh", "-c"}, execs[0][:2])
	assert.Contains(t, execs[0][2], "cat > /volume/obelisk.toml <<'")
	assert.Contains(t, execs[0][2], "stargazers_activity_llm_chatgpt")
	assert.Equal(t, []string{"/obelisk/obelisk", "server", "verify", "--ignore-missing-env-vars", "--config", "/volume/obelisk.toml"}, execs[1])

	assert.Equal(t, []string{"https://stargazers.fly.dev:444"}, h.checker.urls)

	assert.Len(t, h.recorder.Types(observability.EventStateChanged), 6)
	assert.Zero(t, h.provider.CallCount(provider.OpDeleteApp))
}

func TestAppInit_ExecutionRecordsStateAndResult(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	run, err := saga.Start(ctx, h.executor, saga.WorkflowAppInit, stargazers(t))
	require.NoError(t, err)
	_, err = h.saga.Execute(ctx, run)
	require.NoError(t, err)

	exec, err := h.journal.GetExecution(ctx, run.ExecutionID())
	require.NoError(t, err)
	assert.Equal(t, durable.StatusFinished, exec.Status)
	assert.Equal(t, string(saga.HealthCheckPassed), exec.State)
	assert.Equal(t, "stargazers", exec.Key)

	var result saga.Result
	require.NoError(t, json.Unmarshal(exec.Result, &result))
	assert.Equal(t, saga.WorkflowAppInit, result.Workflow)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, saga.Success, result.Outcome.Kind)
	assert.True(t, result.Succeeded())
}

func TestAppInit_SecondDeploymentConflicts(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	req := stargazers(t)

	require.Equal(t, saga.Success, h.appInit(t, req).Kind)
	volumeCalls := h.provider.CallCount(provider.OpCreateVolume)

	outcome := h.appInit(t, req)
	require.Equal(t, saga.NoCleanupRequired, outcome.Kind)
	require.NotNil(t, outcome.Err)
	assert.Equal(t, saga.AppNameConflict, outcome.Err.Kind)

	// Nothing was created or deleted by the second attempt.
	assert.Equal(t, 1, h.provider.CallCount(provider.OpCreateApp))
	assert.Equal(t, volumeCalls, h.provider.CallCount(provider.OpCreateVolume))
	assert.Zero(t, h.provider.CallCount(provider.OpDeleteApp))
	assert.True(t, h.provider.HasApp("stargazers"))
	assert.Len(t, h.provider.IPs("stargazers"), 1)
	assert.Len(t, h.provider.Machines("stargazers"), 1)
}

func TestAppInit_PreCreationFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(h *harness, req *saga.Request)
		kind  saga.Kind
	}{
		{
			name: "lookup error",
			setup: func(h *harness, _ *saga.Request) {
				h.provider.SetError(provider.OpGetApp, errors.New("unauthorized"))
			},
			kind: saga.AppNameLookup,
		},
		{
			name: "name taken",
			setup: func(h *harness, _ *saga.Request) {
				h.provider.AddApp("someone-else", "stargazers")
			},
			kind: saga.AppNameConflict,
		},
		{
			name: "invalid spec",
			setup: func(_ *harness, req *saga.Request) {
				req.Spec.Activities[0].Location = ""
			},
			kind: saga.SpecInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			req := stargazers(t)
			tt.setup(h, &req)

			outcome := h.appInit(t, req)
			require.Equal(t, saga.NoCleanupRequired, outcome.Kind, outcome.String())
			require.NotNil(t, outcome.Err)
			assert.Equal(t, tt.kind, outcome.Err.Kind)
			assert.False(t, outcome.Err.Kind.RequiresCleanup())
			assert.Zero(t, h.provider.CallCount(provider.OpCreateApp))
			assert.Zero(t, h.provider.CallCount(provider.OpDeleteApp))
			assert.Empty(t, h.recorder.Types(observability.EventCleanupStarted))
		})
	}
}

func TestAllocateIP_KeepsOneAddress(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.ExtraIPsPerAllocate = 2

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.Success, outcome.Kind, outcome.String())

	ips := h.provider.IPs("stargazers")
	require.Len(t, ips, 1)
	assert.Equal(t, "2a09:8280:1::2", ips[0].Address)
	assert.Equal(t, 2, h.provider.CallCount(provider.OpReleaseIP))
}

// failOnNth makes the nth call of op fail.
func failOnNth(h *harness, op string, n int, err error) {
	var mu sync.Mutex
	seen := 0
	secrets := h.provider.OnCall
	h.provider.OnCall = func(o, app string) {
		secrets(o, app)
		if o != op {
			return
		}
		mu.Lock()
		seen++
		hit := seen == n
		mu.Unlock()
		if hit {
			h.provider.FailNext(op, err)
		}
	}
}

func TestAppInit_FailuresAfterCreateAreCleanedUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(h *harness, req *saga.Request)
		kind  saga.Kind
		step  string
	}{
		{
			name: "create app",
			setup: func(h *harness, _ *saga.Request) {
				h.provider.SetError(provider.OpCreateApp, errors.New("internal error"))
			},
			kind: saga.AppCreate,
			step: saga.StepCreateApp,
		},
		{
			name: "allocate ip",
			setup: func(h *harness, _ *saga.Request) {
				h.provider.SetError(provider.OpAllocateIP, errors.New("quota exceeded"))
			},
			kind: saga.IPAllocate,
			step: saga.StepAllocateIP,
		},
		{
			name: "release duplicate ip",
			setup: func(h *harness, _ *saga.Request) {
				h.provider.ExtraIPsPerAllocate = 1
				h.provider.SetError(provider.OpReleaseIP, errors.New("busy"))
			},
			kind: saga.IPAllocate,
			step: saga.StepAllocateIP,
		},
		{
			name: "create volume",
			setup: func(h *harness, _ *saga.Request) {
				h.provider.SetError(provider.OpCreateVolume, errors.New("no capacity"))
			},
			kind: saga.VolumeCreate,
			step: saga.StepProvisionVolume,
		},
		{
			name: "create bootstrap machine",
			setup: func(h *harness, _ *saga.Request) {
				failOnNth(h, provider.OpCreateMachine, 1, errors.New("no capacity"))
			},
			kind: saga.TempVM,
			step: saga.StepProvisionVolume,
		},
		{
			name: "write config",
			setup: func(h *harness, _ *saga.Request) {
				h.provider.ExecFunc = func(_, _ string, _ []string) (*provider.ExecResult, error) {
					return exit(1, "read-only file system"), nil
				}
			},
			kind: saga.VolumeWrite,
			step: saga.StepProvisionVolume,
		},
		{
			name: "verify config",
			setup: func(h *harness, _ *saga.Request) {
				h.provider.ExecFunc = func(_, _ string, cmd []string) (*provider.ExecResult, error) {
					if cmd[0] == "sh" {
						return exit(0, ""), nil
					}
					return exit(2, "image not found"), nil
				}
			},
			kind: saga.Verify,
			step: saga.StepProvisionVolume,
		},
		{
			name: "delete bootstrap machine",
			setup: func(h *harness, _ *saga.Request) {
				h.provider.SetError(provider.OpDeleteMachine, errors.New("timeout"))
			},
			kind: saga.TempVM,
			step: saga.StepProvisionVolume,
		},
		{
			name: "launch final machine",
			setup: func(h *harness, _ *saga.Request) {
				failOnNth(h, provider.OpCreateMachine, 2, errors.New("no capacity"))
			},
			kind: saga.FinalVM,
			step: saga.StepLaunchFinalVM,
		},
		{
			name: "health check",
			setup: func(h *harness, req *saga.Request) {
				h.checker.results = []saga.CheckResult{{StatusCode: http.StatusServiceUnavailable}}
				req.HealthCheckDeadline = 0
			},
			kind: saga.HealthCheckFailed,
			step: saga.StepWaitForHealthCheck,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			req := stargazers(t)
			tt.setup(h, &req)

			outcome := h.appInit(t, req)
			require.Equal(t, saga.CleanupOk, outcome.Kind, outcome.String())
			require.NotNil(t, outcome.Err)
			assert.Equal(t, tt.kind, outcome.Err.Kind)
			assert.Equal(t, tt.step, outcome.Err.Step)
			assert.Nil(t, outcome.CleanupErr)

			assert.Equal(t, 1, h.provider.CallCount(provider.OpDeleteApp))
			assert.False(t, h.provider.HasApp("stargazers"))
			assert.Equal(t, []observability.EventType{observability.EventCleanupStarted, observability.EventCleanupCompleted},
				h.recorder.Types(observability.EventCleanupStarted, observability.EventCleanupCompleted, observability.EventCleanupFailed))
		})
	}
}

func TestAppInit_ExecFailureCarriesResponse(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.ExecFunc = func(_, _ string, _ []string) (*provider.ExecResult, error) {
		return exit(1, "read-only file system"), nil
	}

	outcome := h.appInit(t, stargazers(t))
	require.NotNil(t, outcome.Err)
	assert.Equal(t, saga.VolumeWrite, outcome.Err.Kind)
	assert.Contains(t, outcome.Err.Response, "exit_code=1")
	assert.Contains(t, outcome.Err.Response, "read-only file system")
}

func TestAppInit_BootstrapMachineRemovedAfterFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.ExecFunc = func(_, _ string, _ []string) (*provider.ExecResult, error) {
		return exit(1, ""), nil
	}
	// Keep the app so the machines can be inspected.
	h.provider.SetError(provider.OpDeleteApp, errors.New("locked"))

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.CleanupFailed, outcome.Kind)
	assert.Empty(t, h.provider.Machines("stargazers"))
	assert.Equal(t, 1, h.provider.CallCount(provider.OpStopMachine))
	assert.Equal(t, 1, h.provider.CallCount(provider.OpDeleteMachine))
}

func TestAppInit_CleanupFailed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.SetError(provider.OpAllocateIP, errors.New("quota exceeded"))
	h.provider.SetError(provider.OpDeleteApp, errors.New("app is locked"))

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.CleanupFailed, outcome.Kind)
	require.NotNil(t, outcome.Err)
	assert.Equal(t, saga.IPAllocate, outcome.Err.Kind)
	require.Error(t, outcome.CleanupErr)
	assert.Contains(t, outcome.CleanupErr.Error(), "app is locked")
	assert.Contains(t, outcome.String(), "quota exceeded")
	assert.Contains(t, outcome.String(), "app is locked")

	// Single attempt.
	assert.Equal(t, 1, h.provider.CallCount(provider.OpDeleteApp))
	assert.True(t, h.provider.HasApp("stargazers"))
	assert.Contains(t, h.recorder.Types(), observability.EventCleanupFailed)
}

func TestAppInit_CleanupToleratesMissingApp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.SetError(provider.OpAllocateIP, errors.New("quota exceeded"))
	h.provider.FailNext(provider.OpDeleteApp, provider.NotFoundError(provider.OpDeleteApp, "app not found"))

	outcome := h.appInit(t, stargazers(t))
	assert.Equal(t, saga.CleanupOk, outcome.Kind)
}

func TestAppInit_ProviderTimeoutIsCleanedUp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	// A client-side timeout wraps context.DeadlineExceeded while the run's
	// own context is still live.
	h.provider.ExecFunc = func(_, _ string, _ []string) (*provider.ExecResult, error) {
		return nil, provider.NewError(provider.OpExec, fmt.Errorf("request: %w", context.DeadlineExceeded))
	}

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.CleanupOk, outcome.Kind, outcome.String())
	require.NotNil(t, outcome.Err)
	assert.Equal(t, saga.VolumeWrite, outcome.Err.Kind)
	assert.Contains(t, outcome.Err.Error(), "deadline exceeded")
	assert.Equal(t, 1, h.provider.CallCount(provider.OpDeleteApp))
	assert.False(t, h.provider.HasApp("stargazers"))
}

func TestAppInit_CleanupTimeoutIsCleanupFailed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.SetError(provider.OpCreateMachine, errors.New("boom"))
	h.provider.SetError(provider.OpDeleteApp, fmt.Errorf("delete servers: %w", context.DeadlineExceeded))

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.CleanupFailed, outcome.Kind, outcome.String())
	require.NotNil(t, outcome.Err)
	assert.Equal(t, saga.TempVM, outcome.Err.Kind)
	require.Error(t, outcome.CleanupErr)
	assert.Contains(t, outcome.CleanupErr.Error(), "delete servers")
	assert.True(t, h.provider.HasApp("stargazers"))

	execs, err := h.journal.ListExecutions(context.Background(), durable.ListFilter{Key: "stargazers", OnlyOpen: true})
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestAppInit_UndecodableJournalIsInternal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	run, err := saga.Start(ctx, h.executor, saga.WorkflowAppInit, stargazers(t))
	require.NoError(t, err)
	require.NoError(t, h.journal.AppendEntry(ctx, run.ExecutionID(), durable.Entry{
		Position: "2.wait-for-secrets/1.now",
		Name:     "now",
		Kind:     durable.EntryNow,
		Output:   json.RawMessage(`"not a time"`),
	}))
	run, err = h.executor.Resume(ctx, run.ExecutionID())
	require.NoError(t, err)

	result, err := h.saga.Execute(ctx, run)
	require.NoError(t, err)
	require.NotNil(t, result.Outcome)
	assert.Equal(t, saga.CleanupOk, result.Outcome.Kind, result.Outcome.String())
	require.NotNil(t, result.Err)
	assert.Equal(t, saga.Internal, result.Err.Kind)
	assert.Equal(t, saga.WorkflowAppInit, result.Err.Step)
	assert.False(t, h.provider.HasApp("stargazers"))
}

func TestProvisionVolume_ToleratesSlowBoot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.StartAfterPolls = 100
	h.provider.SetError(provider.OpStopMachine, errors.New("already stopping"))

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.Success, outcome.Kind, outcome.String())
	assert.Equal(t, 3, h.provider.CallCount(provider.OpGetMachine))

	progress := 0
	for _, e := range h.recorder.Events() {
		if e.Type == observability.EventProgress && e.Step == saga.StepProvisionVolume {
			progress++
		}
	}
	assert.Equal(t, 3, progress)
}

func TestProvisionVolume_PollsUntilStarted(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.StartAfterPolls = 1
	h.timeouts.BootstrapPollAttempts = 10

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.Success, outcome.Kind, outcome.String())
	assert.Equal(t, 2, h.provider.CallCount(provider.OpGetMachine))
}

func TestWaitForSecrets_UntilSubsetReported(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var mu sync.Mutex
	lists := 0
	h.provider.OnCall = func(op, app string) {
		if op != provider.OpListSecrets {
			return
		}
		mu.Lock()
		lists++
		n := lists
		mu.Unlock()
		switch n {
		case 2:
			h.provider.SetSecrets(app, "OPENAI_API_KEY", "GITHUB_TOKEN", "UNRELATED")
		case 3:
			h.provider.SetSecrets(app, "TURSO_TOKEN", "TURSO_LOCATION", "GITHUB_WEBHOOK_SECRET")
		}
	}

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.Success, outcome.Kind, outcome.String())
	assert.Equal(t, 3, h.provider.CallCount(provider.OpListSecrets))

	var missing []string
	for _, e := range h.recorder.Events() {
		if e.Type == observability.EventWaiting && e.Step == saga.StepWaitForSecrets {
			missing = append(missing, e.Fields["missing"])
		}
	}
	assert.Equal(t, []string{
		strings.Join(stargazersSecrets, ","),
		"GITHUB_WEBHOOK_SECRET,TURSO_LOCATION,TURSO_TOKEN",
	}, missing)
}

func TestWaitForSecrets_ListFailureIsRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.FailNext(provider.OpListSecrets, errors.New("bad gateway"))

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.Success, outcome.Kind, outcome.String())
	assert.Equal(t, 2, h.provider.CallCount(provider.OpListSecrets))
}

// listSecretsAfter makes the secrets appear on the n-th listing.
func (h *harness) listSecretsAfter(n int, names ...string) {
	var mu sync.Mutex
	lists := 0
	h.provider.OnCall = func(op, app string) {
		if op != provider.OpListSecrets {
			return
		}
		mu.Lock()
		lists++
		reached := lists == n
		mu.Unlock()
		if reached {
			h.provider.SetSecrets(app, names...)
		}
	}
}

func TestWaitForSecrets_RoundsAreCompacted(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.timeouts.SecretsPollsPerRound = 2
	h.listSecretsAfter(5, stargazersSecrets...)

	ctx := context.Background()
	run, err := saga.Start(ctx, h.executor, saga.WorkflowAppInit, stargazers(t))
	require.NoError(t, err)
	result, err := h.saga.Execute(ctx, run)
	require.NoError(t, err)
	require.NotNil(t, result.Outcome)
	require.Equal(t, saga.Success, result.Outcome.Kind, result.Outcome.String())
	assert.Equal(t, 5, h.provider.CallCount(provider.OpListSecrets))

	entries, err := h.journal.Entries(ctx, run.ExecutionID())
	require.NoError(t, err)
	// Only the rounds and their verdicts remain of the listings and sleeps.
	var wait []string
	for _, en := range entries {
		if rest, ok := strings.CutPrefix(en.Position, "2."+saga.SubWaitForSecrets+"/"); ok {
			wait = append(wait, rest)
		}
	}
	assert.Equal(t, []string{
		"1.now",
		"2.secrets.round",
		"3.secrets.satisfied",
		"4.secrets.round",
		"5.secrets.satisfied",
		"6.secrets.round",
		"7.secrets.satisfied",
	}, wait)
}

func TestWaitForSecrets_AppDeleted(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.provider.OnCall = func(op, app string) {
		if op == provider.OpListSecrets {
			h.provider.RemoveApp(app)
		}
	}

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.CleanupOk, outcome.Kind, outcome.String())
	assert.Equal(t, saga.AppDeleted, outcome.Err.Kind)
	assert.Equal(t, saga.StepWaitForSecrets, outcome.Err.Step)
}

func TestWaitForSecrets_Deadline(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.timeouts.SecretsDeadline = 25 * time.Second
	// Every listing takes ten seconds.
	h.provider.OnCall = func(op, _ string) {
		if op == provider.OpListSecrets {
			h.clock.Step(10 * time.Second)
		}
	}

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.CleanupOk, outcome.Kind, outcome.String())
	assert.Equal(t, saga.SecretsTimeout, outcome.Err.Kind)
	assert.Equal(t, 3, h.provider.CallCount(provider.OpListSecrets))
}

func TestWaitForSecrets_NothingRequired(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	req := stargazers(t)
	req.Spec.Activities = req.Spec.Activities[:0]
	req.Spec.Webhooks[0].EnvVars = nil

	outcome := h.appInit(t, req)
	require.Equal(t, saga.Success, outcome.Kind, outcome.String())
	assert.Zero(t, h.provider.CallCount(provider.OpListSecrets))
}

func TestWaitForHealthCheck_RetriesUntilHealthy(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.checker.results = []saga.CheckResult{
		{Error: "connection refused"},
		{StatusCode: http.StatusBadGateway},
		{StatusCode: http.StatusNoContent},
	}

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.Success, outcome.Kind, outcome.String())
	assert.Equal(t, 3, h.checker.count())
	// One existence check between each pair of checks, plus the name check.
	assert.Equal(t, 3, h.provider.CallCount(provider.OpGetApp))
}

func TestWaitForHealthCheck_ZeroDeadlineChecksOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.checker.results = []saga.CheckResult{{StatusCode: http.StatusInternalServerError}}
	req := stargazers(t)
	req.HealthCheckDeadline = 0

	outcome := h.appInit(t, req)
	require.Equal(t, saga.CleanupOk, outcome.Kind)
	assert.Equal(t, saga.HealthCheckFailed, outcome.Err.Kind)
	assert.Equal(t, "HTTP 500", outcome.Err.Response)
	assert.Equal(t, 1, h.checker.count())
}

func TestWaitForHealthCheck_DeadlineMeasuredOnDurableClock(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.checker.results = []saga.CheckResult{{StatusCode: http.StatusServiceUnavailable}}
	h.checker.onCheck = func(int) { h.clock.Step(20 * time.Second) }

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.CleanupOk, outcome.Kind)
	assert.Equal(t, saga.HealthCheckFailed, outcome.Err.Kind)
	assert.Equal(t, 3, h.checker.count())
}

func TestWaitForHealthCheck_AppDeleted(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.checker.results = []saga.CheckResult{{Error: "no such host"}}
	h.checker.onCheck = func(int) { h.provider.RemoveApp("stargazers") }

	outcome := h.appInit(t, stargazers(t))
	require.Equal(t, saga.CleanupOk, outcome.Kind)
	assert.Equal(t, saga.AppDeleted, outcome.Err.Kind)
	assert.Equal(t, saga.StepWaitForHealthCheck, outcome.Err.Step)
}

func TestAppInitNoCleanup_LeavesResources(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.checker.results = []saga.CheckResult{{StatusCode: http.StatusInternalServerError}}
	req := stargazers(t)
	req.HealthCheckDeadline = 0

	result := h.execute(t, saga.WorkflowAppInitNoCleanup, req)
	assert.Nil(t, result.Outcome)
	require.NotNil(t, result.Err)
	assert.Equal(t, saga.HealthCheckFailed, result.Err.Kind)
	assert.False(t, result.Succeeded())

	assert.Zero(t, h.provider.CallCount(provider.OpDeleteApp))
	assert.True(t, h.provider.HasApp("stargazers"))
	assert.Len(t, h.provider.Machines("stargazers"), 1)
}

func TestSubSteps_RunIndividually(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	req := stargazers(t)

	for _, workflow := range []string{
		saga.WorkflowPrepare,
		saga.WorkflowWaitForSecrets,
		saga.WorkflowStartFinalVM,
		saga.WorkflowWaitForHealth,
	} {
		result := h.execute(t, workflow, req)
		require.Nil(t, result.Err, "%s: %v", workflow, result.Err)
		assert.Equal(t, workflow, result.Workflow)
	}

	assert.Equal(t, 1, h.provider.CallCount(provider.OpCreateApp))
	assert.Len(t, h.provider.Machines("stargazers"), 1)
	assert.Equal(t, 1, h.checker.count())
}

func TestStart_RejectsUnknownWorkflowAndConcurrentRuns(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	req := stargazers(t)

	_, err := saga.Start(ctx, h.executor, "deploy-everything", req)
	require.Error(t, err)

	_, err = saga.Start(ctx, h.executor, saga.WorkflowAppInit, req)
	require.NoError(t, err)
	_, err = saga.Start(ctx, h.executor, saga.WorkflowAppInit, req)
	require.ErrorIs(t, err, durable.ErrExecutionExists)
}
