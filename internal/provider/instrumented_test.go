package provider_test

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/appinit/internal/metrics"
	"github.com/imamik/appinit/internal/provider"
	"github.com/imamik/appinit/internal/provider/fake"
)

func TestInstrument_RecordsCalls(t *testing.T) {
	f := fake.New()
	p := provider.Instrument(f, logr.Discard())
	ctx := context.Background()

	successBefore := testutil.ToFloat64(metrics.ProviderCallsTotal.WithLabelValues(provider.OpCreateApp, metrics.ResultSuccess))
	errorBefore := testutil.ToFloat64(metrics.ProviderCallsTotal.WithLabelValues(provider.OpCreateApp, metrics.ResultError))

	_, err := p.CreateApp(ctx, "personal", "instrumented-app")
	require.NoError(t, err)
	_, err = p.CreateApp(ctx, "personal", "instrumented-app")
	require.Error(t, err)

	assert.Equal(t, successBefore+1, testutil.ToFloat64(metrics.ProviderCallsTotal.WithLabelValues(provider.OpCreateApp, metrics.ResultSuccess)))
	assert.Equal(t, errorBefore+1, testutil.ToFloat64(metrics.ProviderCallsTotal.WithLabelValues(provider.OpCreateApp, metrics.ResultError)))
}

func TestInstrument_PassesResultsThrough(t *testing.T) {
	f := fake.New()
	p := provider.Instrument(f, logr.Discard())
	ctx := context.Background()

	app, err := p.GetApp(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, app)

	_, err = p.CreateApp(ctx, "personal", "passthrough")
	require.NoError(t, err)
	ip, err := p.AllocateIP(ctx, "passthrough", provider.IPRequest{Type: provider.IPv6})
	require.NoError(t, err)

	ips, err := p.ListIPs(ctx, "passthrough")
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, ip.Address, ips[0].Address)

	assert.Equal(t, 1, f.CallCount(provider.OpAllocateIP))
}
