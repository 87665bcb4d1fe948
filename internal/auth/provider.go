// Package auth acquires and caches the bearer credential for the mail service.
//
// The token cache survives across runs in a CacheStore and is rewritten only
// when its serialized form changes. Within a run the access token is reused
// until shortly before it expires.
package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
	"github.com/spf13/afero"

	"github.com/comigor/ovenmitt-go/internal/config"
	"github.com/comigor/ovenmitt-go/internal/logger"
)

// Scopes requested for the mailbox.
var Scopes = []string{"Mail.Read", "Mail.ReadWrite"}

const expirySkew = time.Minute

// cacheAccessor bridges MSAL's cache hooks to a CacheStore.
type cacheAccessor struct {
	store CacheStore
	last  []byte
}

func (c *cacheAccessor) Replace(ctx context.Context, u cache.Unmarshaler, _ cache.ReplaceHints) error {
	data, err := c.store.Load()
	if errors.Is(err, ErrNoCache) {
		return nil
	}
	if err != nil {
		return err
	}
	c.last = data
	return u.Unmarshal(data)
}

func (c *cacheAccessor) Export(ctx context.Context, m cache.Marshaler, _ cache.ExportHints) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("serializing token cache: %w", err)
	}
	if bytes.Equal(data, c.last) {
		return nil
	}
	if err := c.store.Save(data); err != nil {
		return err
	}
	c.last = data
	logger.L.Debug("token cache updated")
	return nil
}

// acquirer is the subset of the MSAL public client the provider uses.
type acquirer interface {
	Accounts(ctx context.Context) ([]public.Account, error)
	AcquireTokenSilent(ctx context.Context, scopes []string, opts ...public.AcquireSilentOption) (public.AuthResult, error)
	AcquireTokenInteractive(ctx context.Context, scopes []string, opts ...public.AcquireInteractiveOption) (public.AuthResult, error)
	DeviceCodeLogin(ctx context.Context, scopes []string, prompt io.Writer) (public.AuthResult, error)
}

type msalApp struct {
	public.Client
}

func (a msalApp) DeviceCodeLogin(ctx context.Context, scopes []string, prompt io.Writer) (public.AuthResult, error) {
	dc, err := a.AcquireTokenByDeviceCode(ctx, scopes)
	if err != nil {
		return public.AuthResult{}, err
	}
	fmt.Fprintln(prompt, dc.Result.Message)
	return dc.AuthenticationResult(ctx)
}

// Provider hands out access tokens for the mailbox.
type Provider struct {
	app        acquirer
	loginHint  string
	deviceCode bool
	prompt     io.Writer
	now        func() time.Time

	token   string
	expires time.Time
}

// NewStore returns the cache store selected by cfg.CacheBackend.
func NewStore(cfg config.AuthConfig) (CacheStore, error) {
	if cfg.CacheBackend == "keyring" {
		ring, err := OpenKeyring()
		if err != nil {
			return nil, err
		}
		return NewKeyringStore(ring), nil
	}
	return NewFileStore(afero.NewOsFs(), cfg.CachePath), nil
}

// New creates a Provider for the tenant in cfg. Login prompts go to prompt.
func New(cfg config.AuthConfig, loginHint string, store CacheStore, prompt io.Writer) (*Provider, error) {
	client, err := public.New(cfg.ClientID,
		public.WithAuthority("https://login.microsoftonline.com/"+cfg.TenantID),
		public.WithCache(&cacheAccessor{store: store}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating msal client: %w", err)
	}
	return &Provider{
		app:        msalApp{client},
		loginHint:  loginHint,
		deviceCode: cfg.DeviceCode,
		prompt:     prompt,
		now:        time.Now,
	}, nil
}

// Token returns a valid access token, trying the in-memory token, then the
// cached account, then an interactive login.
func (p *Provider) Token(ctx context.Context) (string, error) {
	if p.token != "" && p.now().Add(expirySkew).Before(p.expires) {
		return p.token, nil
	}

	res, err := p.silent(ctx)
	if err != nil || res.AccessToken == "" {
		if err != nil {
			logger.L.Debug("silent token acquisition failed", "error", err)
		}
		res, err = p.login(ctx)
		if err != nil {
			return "", fmt.Errorf("acquiring mail token: %w", err)
		}
	}
	if res.AccessToken == "" {
		return "", errors.New("acquiring mail token: empty access token")
	}

	p.token, p.expires = res.AccessToken, res.ExpiresOn
	return p.token, nil
}

func (p *Provider) silent(ctx context.Context) (public.AuthResult, error) {
	accounts, err := p.app.Accounts(ctx)
	if err != nil {
		return public.AuthResult{}, err
	}
	if len(accounts) == 0 {
		return public.AuthResult{}, errors.New("no cached account")
	}
	return p.app.AcquireTokenSilent(ctx, Scopes, public.WithSilentAccount(accounts[0]))
}

func (p *Provider) login(ctx context.Context) (public.AuthResult, error) {
	if p.deviceCode {
		return p.app.DeviceCodeLogin(ctx, Scopes, p.prompt)
	}
	fmt.Fprintln(p.prompt, "No cached token, opening browser for login...")
	var opts []public.AcquireInteractiveOption
	if p.loginHint != "" {
		opts = append(opts, public.WithLoginHint(p.loginHint))
	}
	return p.app.AcquireTokenInteractive(ctx, Scopes, opts...)
}
