package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"upldis/cfg"
)

var ErrNotFound = errors.New("secret not found")

type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// Resolver fetches secrets once per key and caches them for the life of the
// process. Concurrent lookups of the same key share one provider call.
type Resolver struct {
	provider Provider
	group    singleflight.Group
	mu       sync.RWMutex
	cache    map[string]cfg.Secret
}

func NewResolver(p Provider) *Resolver {
	return &Resolver{provider: p, cache: make(map[string]cfg.Secret)}
}

// New builds a Resolver for the named provider: env, vault or aws.
func New(ctx context.Context, kind string) (*Resolver, error) {
	var (
		p   Provider
		err error
	)
	switch kind {
	case "", "env":
		p = envProvider{}
	case "vault":
		p, err = newVaultProvider(ctx)
	case "aws":
		p, err = newAWSProvider(ctx)
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", kind)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "init %s secrets provider", kind)
	}
	return NewResolver(p), nil
}
func (r *Resolver) Get(ctx context.Context, key string) (cfg.Secret, error) {
	r.mu.RLock()
	s, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		r.mu.RLock()
		s, ok := r.cache[key]
		r.mu.RUnlock()
		if ok {
			return s, nil
		}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		val, err := r.provider.GetSecret(ctx, key)
		if err != nil {
			return nil, err
		}
		s = cfg.NewSecret(val)
		r.mu.Lock()
		r.cache[key] = s
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return cfg.Secret{}, err
	}
	return v.(cfg.Secret), nil
}

// Apply fills the secret fields of c from the provider. A secret the
// provider does not hold keeps whatever the environment supplied.
func (r *Resolver) Apply(ctx context.Context, c *cfg.Cfg) error {
	if _, ok := r.provider.(envProvider); ok {
		return nil
	}
	type target struct {
		key      string
		dst      *cfg.Secret
		required bool
	}
	targets := []target{{"METRICS_PASS", &c.MetricsPass, c.Environment == "production"}}
	if c.UsesRedis() {
		targets = append(targets, target{"REDIS_PASSWORD", &c.RedisPassword, false})
	}
	for _, t := range targets {
		s, err := r.Get(ctx, t.key)
		switch {
		case err == nil:
			t.dst.Wipe()
			*t.dst = s
		case errors.Is(err, ErrNotFound) && !t.required:
		case errors.Is(err, ErrNotFound) && t.dst.Value() != "":
		default:
			return errors.Wrapf(err, "resolve %s", t.key)
		}
	}
	return nil
}

// Wipe zeroes every cached secret.
func (r *Resolver) Wipe() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, s := range r.cache {
		s.Wipe()
		delete(r.cache, k)
	}
}

type envProvider struct{}

func (envProvider) GetSecret(_ context.Context, key string) (string, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", errors.Wrap(ErrNotFound, key)
	}
	return val, nil
}

type vaultProvider struct {
	client     *vault.Client
	secretPath string
}

func newVaultProvider(ctx context.Context) (*vaultProvider, error) {
	vcfg := vault.DefaultConfig()
	vcfg.Address = os.Getenv("VAULT_ADDR")
	vcfg.Timeout = 5 * time.Second
	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, errors.Wrap(err, "read VAULT_TOKEN_FILE")
		}
		client.SetToken(strings.TrimSpace(string(tokenBytes)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, errors.Wrap(err, "vault health check")
	}
	return &vaultProvider{
		client:     client,
		secretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/upldis"),
	}, nil
}

// GetSecret reads the "value" field of a KV v2 secret at <secretPath>/<key>.
func (v *vaultProvider) GetSecret(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.secretPath+"/"+key)
	if err != nil {
		return "", errors.Wrap(err, "vault read")
	}
	if secret == nil || secret.Data == nil {
		return "", errors.Wrap(ErrNotFound, key)
	}
	return vaultValue(secret.Data)
}
func vaultValue(data map[string]interface{}) (string, error) {
	inner, ok := data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("vault: invalid secret format")
	}
	value, ok := inner["value"].(string)
	if !ok {
		return "", errors.New("vault: value not found")
	}
	return value, nil
}

type awsProvider struct {
	client *secretsmanager.Client
	prefix string
}

func newAWSProvider(ctx context.Context) (*awsProvider, error) {
	acfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(os.Getenv("AWS_REGION")))
	if err != nil {
		return nil, err
	}
	return &awsProvider{
		client: secretsmanager.NewFromConfig(acfg),
		prefix: getEnvOrDefault("AWS_SECRET_PREFIX", "upldis/"),
	}, nil
}
func (a *awsProvider) GetSecret(ctx context.Context, key string) (string, error) {
	id := a.prefix + key
	result, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &id,
	})
	if err != nil {
		return "", errors.Wrapf(err, "get secret %s", id)
	}
	if result.SecretString == nil {
		return "", errors.New("secret is binary, not string")
	}
	return *result.SecretString, nil
}
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
