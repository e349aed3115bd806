package hcloud

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/go-logr/logr"
	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/appinit/internal/platform/ssh"
	"github.com/imamik/appinit/internal/provider"
	"github.com/imamik/appinit/internal/util/retry"
)

const (
	defaultServerType    = "cx22"
	defaultServerImage   = "docker-ce"
	defaultLocation      = "fsn1"
	defaultDeleteTimeout = 5 * time.Minute
	minVolumeSizeGB      = 10
)

// Locations are the Hetzner Cloud locations servers and volumes can be
// created in.
var Locations = []string{"fsn1", "nbg1", "hel1", "ash", "hil", "sin"}

// IsLocation reports whether name is a Hetzner Cloud location.
func IsLocation(name string) bool {
	return slices.Contains(Locations, name)
}

// Store keeps what Hetzner Cloud cannot: secrets and per-app machine keys.
// *s3.Store implements it.
type Store interface {
	ListSecrets(ctx context.Context, app string) ([]provider.Secret, error)
	SecretValues(ctx context.Context, app string) (map[string]string, error)
	PutPrivateKey(ctx context.Context, app string, pem []byte) error
	PrivateKey(ctx context.Context, app string) ([]byte, error)
	DeleteApp(ctx context.Context, app string) error
}

// Runner runs a shell command on a server.
type Runner interface {
	Run(ctx context.Context, command string) (*ssh.Result, error)
}

// Dialer returns a Runner for host authenticating with privateKey. attempts
// bounds connection attempts; zero means the ssh package default.
type Dialer func(host string, privateKey []byte, attempts int) (Runner, error)

func sshDialer(host string, privateKey []byte, attempts int) (Runner, error) {
	c, err := ssh.NewClient(&ssh.Config{Host: host, User: "root", PrivateKey: privateKey, MaxRetries: attempts})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Provider implements provider.Provider using the Hetzner Cloud API.
type Provider struct {
	client *hcloud.Client
	store  Store
	dial   Dialer
	log    logr.Logger

	serverType    string
	serverImage   string
	location      string
	sshKeyName    string
	sshPrivateKey []byte

	deleteTimeout time.Duration
	retry         []retry.Option
}

var _ provider.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithHCloudClient sets a custom hcloud client (useful for testing).
func WithHCloudClient(hc *hcloud.Client) Option {
	return func(p *Provider) {
		p.client = hc
	}
}

// WithStore sets the secret and key store.
func WithStore(s Store) Option {
	return func(p *Provider) {
		p.store = s
	}
}

// WithDialer replaces SSH for Exec and container state lookups.
func WithDialer(d Dialer) Option {
	return func(p *Provider) {
		p.dial = d
	}
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(p *Provider) {
		p.log = l
	}
}

// WithServerType sets the server type of every machine.
func WithServerType(name string) Option {
	return func(p *Provider) {
		p.serverType = name
	}
}

// WithServerImage sets the OS image. It must ship a running docker daemon.
func WithServerImage(name string) Option {
	return func(p *Provider) {
		p.serverImage = name
	}
}

// WithLocation sets the location used when a request names no region.
func WithLocation(name string) Option {
	return func(p *Provider) {
		if name != "" {
			p.location = name
		}
	}
}

// WithSSHKey uses an existing Hetzner SSH key for every app instead of
// generating one per app.
func WithSSHKey(name string, privateKey []byte) Option {
	return func(p *Provider) {
		p.sshKeyName = name
		p.sshPrivateKey = privateKey
	}
}

// WithDeleteTimeout bounds each delete operation.
func WithDeleteTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.deleteTimeout = d
	}
}

// WithRetry sets the retry policy for locked resources.
func WithRetry(opts ...retry.Option) Option {
	return func(p *Provider) {
		p.retry = opts
	}
}

// NewProvider creates a Hetzner Cloud provider.
func NewProvider(token string, opts ...Option) *Provider {
	p := &Provider{
		client:        hcloud.NewClient(hcloud.WithToken(token), hcloud.WithApplication("appinit", "")),
		dial:          sshDialer,
		log:           logr.Discard(),
		serverType:    defaultServerType,
		serverImage:   defaultServerImage,
		location:      defaultLocation,
		deleteTimeout: defaultDeleteTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) requireStore(op string) error {
	if p.store == nil {
		return provider.NewError(op, errors.New("no object storage configured for secrets"))
	}
	return nil
}

// ListSecrets lists the app's secrets in the object store.
func (p *Provider) ListSecrets(ctx context.Context, app string) ([]provider.Secret, error) {
	if err := p.requireStore(provider.OpListSecrets); err != nil {
		return nil, err
	}
	secrets, err := p.store.ListSecrets(ctx, app)
	if err != nil {
		return nil, provider.NewError(provider.OpListSecrets, err)
	}
	return secrets, nil
}
