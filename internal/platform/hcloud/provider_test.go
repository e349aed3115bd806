package hcloud

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/imamik/appinit/internal/platform/ssh"
	"github.com/imamik/appinit/internal/provider"
	"github.com/imamik/appinit/internal/util/labels"
	"github.com/imamik/appinit/internal/util/retry"
)

// jsonResponse writes a JSON response with the given status code and body.
func jsonResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func errorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	jsonResponse(w, statusCode, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

func decodeBody(t *testing.T, r *http.Request, v any) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		t.Errorf("failed to decode %s %s: %v", r.Method, r.URL.Path, err)
	}
}

func action(id int64) map[string]any {
	return map[string]any{
		"id":        id,
		"command":   "test",
		"status":    "success",
		"progress":  100,
		"started":   "2025-01-01T00:00:00Z",
		"finished":  "2025-01-01T00:00:01Z",
		"resources": []any{},
		"error":     nil,
	}
}

func appLabels(app string) map[string]string {
	return labels.NewLabelBuilder(app).Build()
}

func datacenter(name, location string) map[string]any {
	return map[string]any{
		"id":          1,
		"name":        name,
		"description": name,
		"location":    map[string]any{"id": 1, "name": location},
	}
}

func firewall(id int64, name string, lbls map[string]string, ports ...string) map[string]any {
	rules := []any{}
	for _, port := range ports {
		rules = append(rules, map[string]any{
			"direction":       "in",
			"protocol":        "tcp",
			"port":            port,
			"source_ips":      []string{"0.0.0.0/0", "::/0"},
			"destination_ips": []string{},
		})
	}
	return map[string]any{
		"id":         id,
		"name":       name,
		"labels":     lbls,
		"rules":      rules,
		"applied_to": []any{},
		"created":    "2025-01-01T00:00:00Z",
	}
}

func primaryIP(id int64, ip, ipType string, assignee *int64, created string) map[string]any {
	return map[string]any{
		"id":            id,
		"name":          "demo-ip",
		"ip":            ip,
		"type":          ipType,
		"assignee_id":   assignee,
		"assignee_type": "server",
		"auto_delete":   false,
		"blocked":       false,
		"labels":        appLabels("demo"),
		"created":       created,
		"datacenter":    datacenter("fsn1-dc14", "fsn1"),
		"dns_ptr":       []any{},
		"protection":    map[string]any{"delete": false},
	}
}

func volume(id int64, name string, size int) map[string]any {
	return map[string]any{
		"id":           id,
		"name":         name,
		"size":         size,
		"status":       "available",
		"location":     map[string]any{"id": 1, "name": "fsn1"},
		"labels":       appLabels("demo"),
		"linux_device": "/dev/disk/by-id/scsi-0HC_Volume_7",
		"created":      "2025-01-01T00:00:00Z",
		"protection":   map[string]any{"delete": false},
	}
}

func server(id int64, status, app, machine string) map[string]any {
	return map[string]any{
		"id":      id,
		"name":    app + "-" + machine,
		"status":  status,
		"created": "2025-01-01T00:00:00Z",
		"labels":  labels.NewLabelBuilder(app).WithMachine(machine).Build(),
		"public_net": map[string]any{
			"ipv4":         map[string]any{"id": 5, "ip": "203.0.113.10", "blocked": false, "dns_ptr": ""},
			"ipv6":         map[string]any{"id": 6, "ip": "2001:db8::/64", "blocked": false, "dns_ptr": []any{}},
			"floating_ips": []any{},
			"firewalls":    []any{},
		},
		"server_type": map[string]any{"id": 1, "name": "cx22"},
		"datacenter":  datacenter("fsn1-dc14", "fsn1"),
		"volumes":     []any{},
		"private_net": []any{},
	}
}

// memoryStore is an in-memory Store.
type memoryStore struct {
	mu      sync.Mutex
	secrets map[string]map[string]string
	keys    map[string][]byte
	deleted []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{secrets: map[string]map[string]string{}, keys: map[string][]byte{}}
}

func (s *memoryStore) ListSecrets(_ context.Context, app string) ([]provider.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []provider.Secret
	for name := range s.secrets[app] {
		out = append(out, provider.Secret{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memoryStore) SecretValues(_ context.Context, app string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for k, v := range s.secrets[app] {
		out[k] = v
	}
	return out, nil
}

func (s *memoryStore) PutPrivateKey(_ context.Context, app string, pem []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[app] = pem
	return nil
}

func (s *memoryStore) PrivateKey(_ context.Context, app string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[app], nil
}

func (s *memoryStore) DeleteApp(_ context.Context, app string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, app)
	delete(s.keys, app)
	s.deleted = append(s.deleted, app)
	return nil
}

type runFunc func(cmd string) (*ssh.Result, error)

func (f runFunc) Run(_ context.Context, cmd string) (*ssh.Result, error) {
	return f(cmd)
}

// recordingDialer hands out run and remembers how it was dialed.
type recordingDialer struct {
	mu       sync.Mutex
	hosts    []string
	keys     [][]byte
	attempts []int
	commands []string
	err      error
	run      runFunc
}

func (d *recordingDialer) dial(host string, key []byte, attempts int) (Runner, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hosts = append(d.hosts, host)
	d.keys = append(d.keys, key)
	d.attempts = append(d.attempts, attempts)
	if d.err != nil {
		return nil, d.err
	}
	return runFunc(func(cmd string) (*ssh.Result, error) {
		d.mu.Lock()
		d.commands = append(d.commands, cmd)
		d.mu.Unlock()
		return d.run(cmd)
	}), nil
}

func newTestProvider(t *testing.T, mux *http.ServeMux, opts ...Option) *Provider {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := hcloud.NewClient(hcloud.WithToken("test-token"), hcloud.WithEndpoint(srv.URL))
	base := []Option{
		WithHCloudClient(client),
		WithRetry(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond)),
		WithDeleteTimeout(10 * time.Second),
	}
	return NewProvider("test-token", append(base, opts...)...)
}

func TestProvider_GetApp(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /firewalls", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "demo" {
			lbls := labels.NewLabelBuilder("demo").WithOrg("personal").Build()
			jsonResponse(w, http.StatusOK, map[string]any{"firewalls": []any{firewall(10, "demo", lbls, "22")}})
			return
		}
		jsonResponse(w, http.StatusOK, map[string]any{"firewalls": []any{}})
	})
	p := newTestProvider(t, mux)
	ctx := context.Background()

	app, err := p.GetApp(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, &provider.App{ID: "10", Name: "demo", Org: "personal", Status: "deployed"}, app)

	app, err = p.GetApp(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, app)
}

func TestProvider_CreateApp(t *testing.T) {
	t.Parallel()

	type ruleBody struct {
		Direction string   `json:"direction"`
		Protocol  string   `json:"protocol"`
		Port      *string  `json:"port"`
		SourceIPs []string `json:"source_ips"`
	}
	var fwBody struct {
		Name   string            `json:"name"`
		Labels map[string]string `json:"labels"`
		Rules  []ruleBody        `json:"rules"`
	}
	var keyBody struct {
		Name      string            `json:"name"`
		PublicKey string            `json:"public_key"`
		Labels    map[string]string `json:"labels"`
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /firewalls", func(w http.ResponseWriter, r *http.Request) {
		decodeBody(t, r, &fwBody)
		jsonResponse(w, http.StatusCreated, map[string]any{
			"firewall": firewall(10, fwBody.Name, fwBody.Labels, "22"),
			"actions":  []any{action(1)},
		})
	})
	mux.HandleFunc("POST /ssh_keys", func(w http.ResponseWriter, r *http.Request) {
		decodeBody(t, r, &keyBody)
		jsonResponse(w, http.StatusCreated, map[string]any{
			"ssh_key": map[string]any{"id": 3, "name": keyBody.Name, "public_key": keyBody.PublicKey, "fingerprint": "aa:bb", "labels": keyBody.Labels},
		})
	})

	store := newMemoryStore()
	p := newTestProvider(t, mux, WithStore(store))

	app, err := p.CreateApp(context.Background(), "personal", "demo")
	require.NoError(t, err)
	assert.Equal(t, &provider.App{ID: "10", Name: "demo", Org: "personal", Status: "deployed"}, app)

	assert.Equal(t, "demo", fwBody.Name)
	assert.Equal(t, "demo", fwBody.Labels[labels.KeyApp])
	assert.Equal(t, "personal", fwBody.Labels[labels.KeyOrg])
	require.Len(t, fwBody.Rules, 1)
	assert.Equal(t, "in", fwBody.Rules[0].Direction)
	require.NotNil(t, fwBody.Rules[0].Port)
	assert.Equal(t, "22", *fwBody.Rules[0].Port)

	// The stored private key matches the uploaded public key.
	assert.Equal(t, "demo", keyBody.Name)
	pub, _, _, _, err := cryptossh.ParseAuthorizedKey([]byte(keyBody.PublicKey))
	require.NoError(t, err)
	signer, err := cryptossh.ParsePrivateKey(store.keys["demo"])
	require.NoError(t, err)
	assert.Equal(t, pub.Marshal(), signer.PublicKey().Marshal())
}

func TestProvider_CreateAppWithOperatorKey(t *testing.T) {
	t.Parallel()

	var keyCreated bool
	mux := http.NewServeMux()
	mux.HandleFunc("POST /firewalls", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusCreated, map[string]any{"firewall": firewall(10, "demo", appLabels("demo"), "22"), "actions": []any{}})
	})
	mux.HandleFunc("POST /ssh_keys", func(w http.ResponseWriter, _ *http.Request) {
		keyCreated = true
		errorResponse(w, http.StatusBadRequest, "invalid_input", "unexpected")
	})

	p := newTestProvider(t, mux, WithSSHKey("operator", []byte("key")))
	_, err := p.CreateApp(context.Background(), "", "demo")
	require.NoError(t, err)
	assert.False(t, keyCreated)
}

func TestProvider_CreateAppWithoutStore(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /firewalls", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusCreated, map[string]any{"firewall": firewall(10, "demo", appLabels("demo"), "22"), "actions": []any{}})
	})

	p := newTestProvider(t, mux)
	_, err := p.CreateApp(context.Background(), "", "demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no object storage configured")
}

func TestProvider_CreateAppNameTaken(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /firewalls", func(w http.ResponseWriter, _ *http.Request) {
		errorResponse(w, http.StatusConflict, "uniqueness_error", "name is already used")
	})

	p := newTestProvider(t, mux, WithSSHKey("operator", []byte("key")))
	_, err := p.CreateApp(context.Background(), "", "demo")

	var pErr *provider.Error
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, provider.OpCreateApp, pErr.Op)
	assert.Equal(t, http.StatusConflict, pErr.StatusCode)
	assert.Equal(t, "name is already used", pErr.Message)
}

func TestProvider_AllocateIP(t *testing.T) {
	t.Parallel()

	var body struct {
		Name         string            `json:"name"`
		Type         string            `json:"type"`
		AssigneeType string            `json:"assignee_type"`
		Datacenter   string            `json:"datacenter"`
		Labels       map[string]string `json:"labels"`
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /datacenters", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{"datacenters": []any{
			datacenter("nbg1-dc3", "nbg1"),
			datacenter("fsn1-dc14", "fsn1"),
		}})
	})
	mux.HandleFunc("POST /primary_ips", func(w http.ResponseWriter, r *http.Request) {
		decodeBody(t, r, &body)
		jsonResponse(w, http.StatusCreated, map[string]any{
			"primary_ip": primaryIP(5, "2001:db8:1234::/64", "ipv6", nil, "2025-01-01T00:00:00Z"),
			"action":     action(1),
		})
	})

	p := newTestProvider(t, mux)
	ip, err := p.AllocateIP(context.Background(), "demo", provider.IPRequest{Type: provider.IPv6})
	require.NoError(t, err)

	assert.Equal(t, "5", ip.ID)
	assert.Equal(t, "2001:db8:1234::1", ip.Address)
	assert.Equal(t, provider.IPv6, ip.Type)
	assert.Equal(t, "fsn1", ip.Region)

	assert.True(t, strings.HasPrefix(body.Name, "demo-ip-"), body.Name)
	assert.Equal(t, "ipv6", body.Type)
	assert.Equal(t, "server", body.AssigneeType)
	assert.Equal(t, "fsn1-dc14", body.Datacenter)
	assert.Equal(t, "demo", body.Labels[labels.KeyApp])
}

func TestProvider_AllocateIPUnknownLocation(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /datacenters", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{"datacenters": []any{datacenter("fsn1-dc14", "fsn1")}})
	})

	p := newTestProvider(t, mux)
	_, err := p.AllocateIP(context.Background(), "demo", provider.IPRequest{Type: provider.IPv4, Region: "hel1"})
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err))
}

func TestProvider_ListIPsOldestFirst(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /primary_ips", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, labels.SelectorForApp("demo"), r.URL.Query().Get("label_selector"))
		jsonResponse(w, http.StatusOK, map[string]any{"primary_ips": []any{
			primaryIP(9, "203.0.113.20", "ipv4", nil, "2025-02-01T00:00:00Z"),
			primaryIP(5, "2001:db8:1234::/64", "ipv6", nil, "2025-01-01T00:00:00Z"),
		}})
	})

	p := newTestProvider(t, mux)
	ips, err := p.ListIPs(context.Background(), "demo")
	require.NoError(t, err)
	require.Len(t, ips, 2)
	assert.Equal(t, "5", ips[0].ID)
	assert.Equal(t, "9", ips[1].ID)
	assert.Equal(t, provider.IPv4, ips[1].Type)
	assert.Equal(t, "203.0.113.20", ips[1].Address)
}

func TestProvider_ReleaseIP(t *testing.T) {
	t.Parallel()

	var deleted bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /primary_ips/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "5" {
			errorResponse(w, http.StatusNotFound, "not_found", "primary ip not found")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]any{"primary_ip": primaryIP(5, "203.0.113.20", "ipv4", nil, "2025-01-01T00:00:00Z")})
	})
	mux.HandleFunc("DELETE /primary_ips/5", func(w http.ResponseWriter, _ *http.Request) {
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	})

	p := newTestProvider(t, mux)
	ctx := context.Background()

	require.NoError(t, p.ReleaseIP(ctx, "demo", provider.IPAddress{ID: "5"}))
	assert.True(t, deleted)

	err := p.ReleaseIP(ctx, "other", provider.IPAddress{ID: "5"})
	assert.True(t, provider.IsNotFound(err))

	err = p.ReleaseIP(ctx, "demo", provider.IPAddress{ID: "77"})
	assert.True(t, provider.IsNotFound(err))
}

func TestProvider_CreateVolumeRoundsUp(t *testing.T) {
	t.Parallel()

	var body struct {
		Name   string            `json:"name"`
		Size   int               `json:"size"`
		Format *string           `json:"format"`
		Labels map[string]string `json:"labels"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /volumes", func(w http.ResponseWriter, r *http.Request) {
		decodeBody(t, r, &body)
		jsonResponse(w, http.StatusCreated, map[string]any{
			"volume":       volume(7, body.Name, body.Size),
			"action":       action(1),
			"next_actions": []any{},
		})
	})

	p := newTestProvider(t, mux)
	vol, err := p.CreateVolume(context.Background(), "demo", provider.VolumeRequest{Name: "data", SizeGB: 1, Region: "fsn1"})
	require.NoError(t, err)

	assert.Equal(t, &provider.Volume{ID: "7", Name: "data", SizeGB: 10, Region: "fsn1", State: "available"}, vol)
	assert.Equal(t, "demo-data", body.Name)
	assert.Equal(t, 10, body.Size)
	require.NotNil(t, body.Format)
	assert.Equal(t, "ext4", *body.Format)
	assert.Equal(t, "data", body.Labels[labels.KeyVolume])
}

func TestProvider_CreateMachine(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var ruleBody struct {
		Rules []struct {
			Port *string `json:"port"`
		} `json:"rules"`
	}
	var serverBody struct {
		Name      string            `json:"name"`
		UserData  string            `json:"user_data"`
		Labels    map[string]string `json:"labels"`
		Volumes   []int64           `json:"volumes"`
		Automount *bool             `json:"automount"`
		Firewalls []struct {
			Firewall int64 `json:"firewall"`
		} `json:"firewalls"`
		PublicNet struct {
			EnableIPv4 bool  `json:"enable_ipv4"`
			EnableIPv6 bool  `json:"enable_ipv6"`
			IPv4       int64 `json:"ipv4"`
		} `json:"public_net"`
	}
	assigned := int64(99)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /volumes", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("name") == "demo-data" {
			jsonResponse(w, http.StatusOK, map[string]any{"volumes": []any{volume(7, "demo-data", 10)}})
			return
		}
		jsonResponse(w, http.StatusOK, map[string]any{"volumes": []any{}})
	})
	mux.HandleFunc("GET /firewalls", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{"firewalls": []any{firewall(10, "demo", appLabels("demo"), "22")}})
	})
	mux.HandleFunc("POST /firewalls/10/actions/set_rules", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		decodeBody(t, r, &ruleBody)
		jsonResponse(w, http.StatusCreated, map[string]any{"actions": []any{action(2)}})
	})
	mux.HandleFunc("GET /primary_ips", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{"primary_ips": []any{
			primaryIP(4, "203.0.113.9", "ipv4", &assigned, "2024-12-01T00:00:00Z"),
			primaryIP(5, "203.0.113.10", "ipv4", nil, "2025-01-01T00:00:00Z"),
		}})
	})
	mux.HandleFunc("GET /ssh_keys", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "demo", r.URL.Query().Get("name"))
		jsonResponse(w, http.StatusOK, map[string]any{"ssh_keys": []any{
			map[string]any{"id": 3, "name": "demo", "public_key": "ssh-ed25519 AAAA", "fingerprint": "aa:bb", "labels": map[string]string{}},
		}})
	})
	mux.HandleFunc("POST /servers", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		decodeBody(t, r, &serverBody)
		jsonResponse(w, http.StatusCreated, map[string]any{
			"server":        server(42, "initializing", "demo", "obelisk"),
			"action":        action(3),
			"next_actions":  []any{action(4)},
			"root_password": nil,
		})
	})

	store := newMemoryStore()
	store.secrets["demo"] = map[string]string{"TURSO_TOKEN": "t0k"}
	p := newTestProvider(t, mux, WithStore(store))

	m, err := p.CreateMachine(context.Background(), "demo", provider.MachineRequest{
		Name:   "obelisk",
		Region: "fsn1",
		Config: provider.MachineConfig{
			Image:   "registry.example.com/obelisk:1",
			Init:    provider.Init{Cmd: []string{"server"}},
			Restart: provider.RestartAlways,
			Mounts:  []provider.Mount{{Volume: "data", Path: "/volume"}},
			Services: []provider.Service{{
				InternalPort: 8080,
				Protocol:     "tcp",
				Ports:        []provider.Port{{Port: 443, Handlers: []string{"tls", "http"}}},
			}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, &provider.Machine{ID: "42", Name: "obelisk", State: provider.MachineCreated, Region: "fsn1"}, m)

	mu.Lock()
	defer mu.Unlock()

	var ports []string
	for _, r := range ruleBody.Rules {
		if r.Port != nil {
			ports = append(ports, *r.Port)
		}
	}
	assert.ElementsMatch(t, []string{"22", "443"}, ports)

	assert.Equal(t, "demo-obelisk", serverBody.Name)
	assert.Equal(t, "obelisk", serverBody.Labels[labels.KeyMachine])
	assert.Equal(t, []int64{7}, serverBody.Volumes)
	require.NotNil(t, serverBody.Automount)
	assert.False(t, *serverBody.Automount)
	require.Len(t, serverBody.Firewalls, 1)
	assert.Equal(t, int64(10), serverBody.Firewalls[0].Firewall)
	assert.True(t, serverBody.PublicNet.EnableIPv4)
	assert.True(t, serverBody.PublicNet.EnableIPv6)
	assert.Equal(t, int64(5), serverBody.PublicNet.IPv4)

	assert.True(t, strings.HasPrefix(serverBody.UserData, "#cloud-config\n"))
	assert.Contains(t, serverBody.UserData, "TURSO_TOKEN=t0k")
	assert.Contains(t, serverBody.UserData, "/dev/disk/by-id/scsi-0HC_Volume_7")
	assert.Contains(t, serverBody.UserData, "443:8080")
	assert.Contains(t, serverBody.UserData, "registry.example.com/obelisk:1")
}

func TestProvider_CreateMachineMissingVolume(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /volumes", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{"volumes": []any{}})
	})

	p := newTestProvider(t, mux)
	_, err := p.CreateMachine(context.Background(), "demo", provider.MachineRequest{
		Name:   "obelisk",
		Config: provider.MachineConfig{Image: "alpine", Mounts: []provider.Mount{{Volume: "data", Path: "/volume"}}},
	})
	require.Error(t, err)
	assert.True(t, provider.IsNotFound(err))
}

func serverMux(servers map[string]map[string]any) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers/{id}", func(w http.ResponseWriter, r *http.Request) {
		s, ok := servers[r.PathValue("id")]
		if !ok {
			errorResponse(w, http.StatusNotFound, "not_found", "server not found")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]any{"server": s})
	})
	return mux
}

func TestProvider_GetMachine(t *testing.T) {
	t.Parallel()

	servers := map[string]map[string]any{
		"42": server(42, "running", "demo", "obelisk"),
		"43": server(43, "off", "demo", "obelisk"),
		"44": server(44, "running", "other", "obelisk"),
		"45": server(45, "initializing", "demo", "obelisk"),
	}

	tests := []struct {
		name      string
		id        string
		container string
		dialErr   error
		want      provider.MachineState
		wantNil   bool
	}{
		{name: "container running", id: "42", container: "running\n", want: provider.MachineStarted},
		{name: "container not yet created", id: "42", container: "", want: provider.MachineStarting},
		{name: "container exited", id: "42", container: "exited\n", want: provider.MachineStopped},
		{name: "ssh not ready", id: "42", dialErr: errors.New("connection refused"), want: provider.MachineStarting},
		{name: "server off", id: "43", want: provider.MachineStopped},
		{name: "server booting", id: "45", want: provider.MachineStarting},
		{name: "other app", id: "44", wantNil: true},
		{name: "unknown", id: "77", wantNil: true},
		{name: "malformed id", id: "abc", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dialer := &recordingDialer{err: tt.dialErr, run: func(string) (*ssh.Result, error) {
				if tt.container == "" {
					return &ssh.Result{ExitCode: 1, Stderr: "Error: No such object: obelisk"}, nil
				}
				return &ssh.Result{Stdout: tt.container}, nil
			}}
			p := newTestProvider(t, serverMux(servers), WithDialer(dialer.dial), WithSSHKey("operator", []byte("key")))

			m, err := p.GetMachine(context.Background(), "demo", tt.id)
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, tt.id, m.ID)
			assert.Equal(t, "obelisk", m.Name)
			assert.Equal(t, "fsn1", m.Region)
			assert.Equal(t, tt.want, m.State)
		})
	}
}

func TestProvider_GetMachineInspectsOnce(t *testing.T) {
	t.Parallel()

	dialer := &recordingDialer{run: func(string) (*ssh.Result, error) {
		return &ssh.Result{Stdout: "running\n"}, nil
	}}
	p := newTestProvider(t, serverMux(map[string]map[string]any{"42": server(42, "running", "demo", "obelisk")}),
		WithDialer(dialer.dial), WithSSHKey("operator", []byte("key")))

	_, err := p.GetMachine(context.Background(), "demo", "42")
	require.NoError(t, err)

	assert.Equal(t, []string{"203.0.113.10"}, dialer.hosts)
	assert.Equal(t, []int{1}, dialer.attempts)
	assert.Equal(t, []string{"docker inspect --format '{{.State.Status}}' obelisk"}, dialer.commands)
}

func TestProvider_Exec(t *testing.T) {
	t.Parallel()

	dialer := &recordingDialer{run: func(string) (*ssh.Result, error) {
		return &ssh.Result{ExitCode: 3, Stdout: "out", Stderr: "err"}, nil
	}}
	store := newMemoryStore()
	store.keys["demo"] = []byte("app-key")
	p := newTestProvider(t, serverMux(map[string]map[string]any{"42": server(42, "running", "demo", "obelisk")}),
		WithDialer(dialer.dial), WithStore(store))
	ctx := context.Background()

	res, err := p.Exec(ctx, "demo", "42", []string{"sh", "-c", "cat > /volume/config.toml"})
	require.NoError(t, err)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 3, *res.ExitCode)
	assert.Equal(t, "out", res.Stdout)
	assert.Equal(t, "err", res.Stderr)

	assert.Equal(t, [][]byte{[]byte("app-key")}, dialer.keys)
	assert.Equal(t, []int{0}, dialer.attempts)
	assert.Equal(t, []string{
		"cloud-init status --wait >/dev/null 2>&1; exec docker exec obelisk sh -c 'cat > /volume/config.toml'",
	}, dialer.commands)

	_, err = p.Exec(ctx, "demo", "77", []string{"true"})
	assert.True(t, provider.IsNotFound(err))
}

func TestProvider_ExecWithoutKey(t *testing.T) {
	t.Parallel()

	dialer := &recordingDialer{run: func(string) (*ssh.Result, error) { return &ssh.Result{}, nil }}
	p := newTestProvider(t, serverMux(map[string]map[string]any{"42": server(42, "running", "demo", "obelisk")}),
		WithDialer(dialer.dial), WithStore(newMemoryStore()))

	_, err := p.Exec(context.Background(), "demo", "42", []string{"true"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no machine key stored")
	assert.Empty(t, dialer.hosts)
}

func TestProvider_StopAndDeleteMachine(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls []string
	)
	mux := serverMux(map[string]map[string]any{"42": server(42, "running", "demo", "obelisk")})
	mux.HandleFunc("POST /servers/42/actions/shutdown", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls = append(calls, "shutdown")
		mu.Unlock()
		jsonResponse(w, http.StatusCreated, map[string]any{"action": action(5)})
	})
	mux.HandleFunc("DELETE /servers/42", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls = append(calls, "delete")
		mu.Unlock()
		jsonResponse(w, http.StatusOK, map[string]any{"action": action(6)})
	})

	p := newTestProvider(t, mux)
	ctx := context.Background()

	require.NoError(t, p.StopMachine(ctx, "demo", "42"))
	require.NoError(t, p.DeleteMachine(ctx, "demo", "42", true))
	assert.Equal(t, []string{"shutdown", "delete"}, calls)

	assert.True(t, provider.IsNotFound(p.StopMachine(ctx, "demo", "77")))
	assert.True(t, provider.IsNotFound(p.DeleteMachine(ctx, "other", "42", true)))
}

func TestProvider_DeleteApp(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		deletes []string
	)
	record := func(what string) {
		mu.Lock()
		defer mu.Unlock()
		deletes = append(deletes, what)
	}
	volumeAttempts := 0

	mux := http.NewServeMux()
	mux.HandleFunc("GET /servers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, labels.SelectorForApp("demo"), r.URL.Query().Get("label_selector"))
		jsonResponse(w, http.StatusOK, map[string]any{"servers": []any{server(42, "running", "demo", "obelisk")}})
	})
	mux.HandleFunc("DELETE /servers/42", func(w http.ResponseWriter, _ *http.Request) {
		record("servers/42")
		jsonResponse(w, http.StatusOK, map[string]any{"action": action(6)})
	})
	mux.HandleFunc("GET /volumes", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{"volumes": []any{volume(7, "demo-data", 10)}})
	})
	mux.HandleFunc("DELETE /volumes/7", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		volumeAttempts++
		first := volumeAttempts == 1
		mu.Unlock()
		if first {
			errorResponse(w, http.StatusLocked, "locked", "volume is detaching")
			return
		}
		record("volumes/7")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /primary_ips", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{"primary_ips": []any{primaryIP(5, "203.0.113.10", "ipv4", nil, "2025-01-01T00:00:00Z")}})
	})
	mux.HandleFunc("DELETE /primary_ips/5", func(w http.ResponseWriter, _ *http.Request) {
		record("primary_ips/5")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /ssh_keys", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{"ssh_keys": []any{
			map[string]any{"id": 3, "name": "demo", "public_key": "ssh-ed25519 AAAA", "fingerprint": "aa:bb", "labels": appLabels("demo")},
		}})
	})
	mux.HandleFunc("DELETE /ssh_keys/3", func(w http.ResponseWriter, _ *http.Request) {
		record("ssh_keys/3")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /firewalls", func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{"firewalls": []any{firewall(10, "demo", appLabels("demo"), "22")}})
	})
	mux.HandleFunc("DELETE /firewalls/10", func(w http.ResponseWriter, _ *http.Request) {
		record("firewalls/10")
		w.WriteHeader(http.StatusNoContent)
	})

	store := newMemoryStore()
	p := newTestProvider(t, mux, WithStore(store))

	require.NoError(t, p.DeleteApp(context.Background(), "demo", true))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"servers/42", "volumes/7", "primary_ips/5", "ssh_keys/3", "firewalls/10"}, deletes)
	assert.GreaterOrEqual(t, volumeAttempts, 2)
	assert.Equal(t, []string{"demo"}, store.deleted)
}

func TestProvider_DeleteAppMissing(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	for _, list := range []string{"servers", "volumes", "primary_ips", "ssh_keys", "firewalls"} {
		mux.HandleFunc("GET /"+list, func(w http.ResponseWriter, _ *http.Request) {
			jsonResponse(w, http.StatusOK, map[string]any{list: []any{}})
		})
	}

	p := newTestProvider(t, mux, WithSSHKey("operator", []byte("key")))
	require.NoError(t, p.DeleteApp(context.Background(), "demo", true))
}

func TestProvider_ListSecrets(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	store.secrets["demo"] = map[string]string{"B": "2", "A": "1"}
	p := newTestProvider(t, http.NewServeMux(), WithStore(store))

	secrets, err := p.ListSecrets(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, provider.SecretNames(secrets))

	_, err = newTestProvider(t, http.NewServeMux()).ListSecrets(context.Background(), "demo")
	assert.Error(t, err)
}

func TestMachineStateMapping(t *testing.T) {
	t.Parallel()

	assert.Equal(t, provider.MachineStarted, machineState(hcloud.ServerStatusRunning))
	assert.Equal(t, provider.MachineStarting, machineState(hcloud.ServerStatusInitializing))
	assert.Equal(t, provider.MachineStarting, machineState(hcloud.ServerStatusStarting))
	assert.Equal(t, provider.MachineStopping, machineState(hcloud.ServerStatusStopping))
	assert.Equal(t, provider.MachineStopped, machineState(hcloud.ServerStatusOff))
	assert.Equal(t, provider.MachineDestroyed, machineState(hcloud.ServerStatusDeleting))

	assert.Equal(t, provider.MachineStarted, containerState("running\n"))
	assert.Equal(t, provider.MachineStopped, containerState("dead"))
	assert.Equal(t, provider.MachineStarting, containerState("restarting"))
}
