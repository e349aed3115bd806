package render

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/appinit/internal/config"
)

func uint32Ptr(v uint32) *uint32 { return &v }

func generateSpec(activities, workflows, webhooks, routes int) *config.DeploymentSpec {
	methods := []string{"GET", "POST", "PUT", "DELETE", "PATCH"}
	spec := &config.DeploymentSpec{OrgSlug: "personal", AppName: "roundtrip"}
	for i := range activities {
		a := config.ActivityWasm{
			Name:     fmt.Sprintf("activity_%d", i),
			Location: fmt.Sprintf("docker.io/demo/activity_%d:2025-01-01", i),
			EnvVars:  []string{fmt.Sprintf("SECRET_%d", i), "LOG=debug"},
		}
		if i%2 == 0 {
			a.LockExpirySeconds = uint32Ptr(uint32(i + 1))
		}
		spec.Activities = append(spec.Activities, a)
	}
	for i := range workflows {
		spec.Workflows = append(spec.Workflows, config.Workflow{
			Name:     fmt.Sprintf("workflow_%d", i),
			Location: fmt.Sprintf("docker.io/demo/workflow_%d@sha256:%064d", i, i),
		})
	}
	for i := range webhooks {
		w := config.WebhookEndpoint{
			Name:     fmt.Sprintf("webhook_%d", i),
			Location: fmt.Sprintf("docker.io/demo/webhook_%d:1", i),
		}
		for j := range routes {
			w.Routes = append(w.Routes, config.Route{
				Methods: methods[:1+(i+j)%len(methods)],
				Path:    fmt.Sprintf("/hook/%d/%d", i, j),
			})
		}
		spec.Webhooks = append(spec.Webhooks, w)
	}
	return spec
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func TestRender_RoundTrip(t *testing.T) {
	t.Parallel()

	shapes := []struct{ n, m, k, r int }{
		{0, 0, 0, 0},
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 1},
		{3, 1, 1, 1},
		{5, 4, 3, 2},
		{2, 2, 4, 5},
	}

	for _, s := range shapes {
		t.Run(fmt.Sprintf("n%d_m%d_k%d_r%d", s.n, s.m, s.k, s.r), func(t *testing.T) {
			t.Parallel()
			spec := generateSpec(s.n, s.m, s.k, s.r)
			text, err := Render(spec, config.DefaultSettings())
			require.NoError(t, err)

			doc, err := Parse(text)
			require.NoError(t, err)

			require.Len(t, doc.Activities, s.n)
			for i, a := range spec.Activities {
				got := doc.Activities[i]
				assert.Equal(t, a.Name, got.Name)
				assert.Equal(t, a.Location, got.Location.OCI)
				assert.Equal(t, a.EnvVars, got.EnvVars)
				if a.LockExpirySeconds == nil {
					assert.Nil(t, got.Exec)
				} else {
					require.NotNil(t, got.Exec)
					assert.Equal(t, *a.LockExpirySeconds, got.Exec.LockExpiry.Seconds)
				}
			}

			require.Len(t, doc.Workflows, s.m)
			for i, w := range spec.Workflows {
				assert.Equal(t, w.Name, doc.Workflows[i].Name)
				assert.Equal(t, w.Location, doc.Workflows[i].Location.OCI)
			}

			// The built-in health check webhook comes first.
			require.Len(t, doc.Webhooks, s.k+1)
			for i, w := range spec.Webhooks {
				got := doc.Webhooks[i+1]
				assert.Equal(t, w.Name, got.Name)
				assert.Equal(t, w.Location, got.Location.OCI)
				assert.Equal(t, WebhookServerName, got.HTTPServer)
				require.Len(t, got.Routes, s.r)
				for j, r := range w.Routes {
					assert.Equal(t, r.Path, got.Routes[j].Path)
					assert.Equal(t, sortedCopy(r.Methods), sortedCopy(got.Routes[j].Methods))
				}
			}
		})
	}
}

func TestRender_FixedSections(t *testing.T) {
	t.Parallel()

	settings := config.DefaultSettings()
	text, err := Render(generateSpec(1, 1, 1, 1), settings)
	require.NoError(t, err)

	doc, err := Parse(text)
	require.NoError(t, err)

	assert.Equal(t, "/volume/obelisk-sqlite", doc.SQLite.Directory)
	assert.Equal(t, map[string]string{"cache_size": "3000"}, doc.SQLite.Pragma)
	assert.Equal(t, "/volume/wasm", doc.Wasm.CacheDirectory)
	assert.Equal(t, "/volume/codegen", doc.Wasm.CodegenCache.Directory)
	assert.False(t, doc.Wasm.ParallelCompilation)
	assert.False(t, doc.Wasm.Backtrace.Persist)
	assert.Equal(t, "[::]:5005", doc.API.ListeningAddr)
	assert.Equal(t, "[::]:8080", doc.WebUI.ListeningAddr)
	assert.True(t, doc.Log.Stdout.Enabled)
	assert.Equal(t, "WARN,obelisk=info", doc.Log.Stdout.Level)

	assert.Equal(t, []HTTPServer{
		{Name: HealthcheckServerName, ListeningAddr: "0.0.0.0:9091"},
		{Name: WebhookServerName, ListeningAddr: "0.0.0.0:9090"},
	}, doc.HTTPServers)

	health := doc.Webhooks[0]
	assert.Equal(t, config.ReservedComponentName, health.Name)
	assert.Equal(t, settings.HealthcheckImage, health.Location.OCI)
	assert.Equal(t, HealthcheckServerName, health.HTTPServer)
	assert.Equal(t, []Route{{Path: ""}}, health.Routes)
	assert.Contains(t, text, `routes = [""]`)
}

func TestRender_InvalidSpec(t *testing.T) {
	t.Parallel()

	spec := generateSpec(1, 0, 0, 0)
	spec.AppName = "Not Valid"

	_, err := Render(spec, config.DefaultSettings())
	require.Error(t, err)

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Contains(t, vErr.Error(), "appName")

	_, err = Render(nil, config.DefaultSettings())
	require.True(t, errors.As(err, &vErr))
}

func TestRoute_MarshalTOML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		route Route
		want  string
	}{
		{name: "bare path", route: Route{Path: "/x"}, want: `"/x"`},
		{name: "empty path", route: Route{}, want: `""`},
		{name: "methods", route: Route{Methods: []string{"POST", "GET"}, Path: ""}, want: `{ methods = ["POST", "GET"], route = "" }`},
		{name: "escaping", route: Route{Path: "/a\"b\\c\x01"}, want: `"/a\"b\\c\u0001"`},
		{name: "line breaks stay on one line", route: Route{Methods: []string{"GET"}, Path: "/a\nb\tc"}, want: `{ methods = ["GET"], route = "/a\nb\tc" }`},
		{name: "quoted method", route: Route{Methods: []string{`X"Y`}, Path: "/"}, want: `{ methods = ["X\"Y"], route = "/" }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.route.MarshalTOML()
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestRoute_EncodedRoutesDecode(t *testing.T) {
	t.Parallel()

	in := WebhookEndpoint{
		Name:       "hook",
		Location:   Location{OCI: "docker.io/demo/hook:1"},
		HTTPServer: "external",
		Routes: []Route{
			{Path: "/plain\n"},
			{Methods: []string{"POST"}, Path: `/q"uote`},
		},
	}
	data, err := toml.Marshal(struct {
		Webhooks []WebhookEndpoint `toml:"webhook_endpoint"`
	}{Webhooks: []WebhookEndpoint{in}})
	require.NoError(t, err)

	var out struct {
		Webhooks []WebhookEndpoint `toml:"webhook_endpoint"`
	}
	_, err = toml.Decode(string(data), &out)
	require.NoError(t, err, string(data))
	require.Len(t, out.Webhooks, 1)
	assert.Equal(t, in.Routes, out.Webhooks[0].Routes)
}

func TestRoute_UnmarshalTOML(t *testing.T) {
	t.Parallel()

	var r Route
	require.NoError(t, r.UnmarshalTOML("/only"))
	assert.Equal(t, Route{Path: "/only"}, r)

	require.NoError(t, r.UnmarshalTOML(map[string]any{"methods": []any{"GET"}, "route": "/x"}))
	assert.Equal(t, Route{Methods: []string{"GET"}, Path: "/x"}, r)

	assert.Error(t, r.UnmarshalTOML(int64(1)))
	assert.Error(t, r.UnmarshalTOML(map[string]any{"path": "/x"}))
	assert.Error(t, r.UnmarshalTOML(map[string]any{"methods": []any{1}}))
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	_, err := Parse("[[webhook_endpoint]\nname = 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}
