package s3

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/imamik/appinit/internal/provider"
)

var secretNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store keeps per-app secrets and keys in one bucket:
//
//	<app>/secrets/<NAME>   secret value
//	<app>/ssh/id_ed25519   machine private key
type Store struct {
	client *Client
	bucket string
}

// NewStore returns a store on bucket.
func NewStore(client *Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// EnsureBucket creates the bucket unless it already exists.
func (s *Store) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.client.CreateBucket(ctx, s.bucket)
}

func secretsPrefix(app string) string {
	return path.Join(app, "secrets") + "/"
}

func keyPath(app string) string {
	return path.Join(app, "ssh", "id_ed25519")
}

// ListSecrets returns the app's secret names, sorted, without values.
func (s *Store) ListSecrets(ctx context.Context, app string) ([]provider.Secret, error) {
	prefix := secretsPrefix(app)
	objects, err := s.client.ListObjects(ctx, s.bucket, prefix)
	if err != nil {
		return nil, err
	}
	secrets := make([]provider.Secret, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, prefix)
		if !secretNameRe.MatchString(name) {
			continue
		}
		secrets = append(secrets, provider.Secret{
			Name:      name,
			Digest:    strings.Trim(obj.ETag, `"`),
			CreatedAt: obj.LastModified,
		})
	}
	sort.Slice(secrets, func(i, j int) bool { return secrets[i].Name < secrets[j].Name })
	return secrets, nil
}

// SecretValues returns every secret of app by name.
func (s *Store) SecretValues(ctx context.Context, app string) (map[string]string, error) {
	secrets, err := s.ListSecrets(ctx, app)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(secrets))
	for _, sec := range secrets {
		data, err := s.client.GetObject(ctx, s.bucket, secretsPrefix(app)+sec.Name)
		if err != nil {
			return nil, err
		}
		values[sec.Name] = string(data)
	}
	return values, nil
}

// SetSecret stores value under name, replacing any previous value.
func (s *Store) SetSecret(ctx context.Context, app, name, value string) error {
	if !secretNameRe.MatchString(name) {
		return fmt.Errorf("invalid secret name %q", name)
	}
	return s.client.PutObject(ctx, s.bucket, secretsPrefix(app)+name, []byte(value))
}

// PutPrivateKey stores the app's machine key.
func (s *Store) PutPrivateKey(ctx context.Context, app string, pem []byte) error {
	return s.client.PutObject(ctx, s.bucket, keyPath(app), pem)
}

// PrivateKey returns the app's machine key, or nil if none was stored.
func (s *Store) PrivateKey(ctx context.Context, app string) ([]byte, error) {
	data, err := s.client.GetObject(ctx, s.bucket, keyPath(app))
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// DeleteApp removes everything stored for app.
func (s *Store) DeleteApp(ctx context.Context, app string) error {
	return s.client.DeletePrefix(ctx, s.bucket, app+"/")
}
