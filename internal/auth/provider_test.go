package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

type fakeApp struct {
	accounts       []public.Account
	silent         public.AuthResult
	silentErr      error
	interactive    public.AuthResult
	interactiveErr error
	device         public.AuthResult

	silentCalls, interactiveCalls, deviceCalls int
}

func (f *fakeApp) Accounts(context.Context) ([]public.Account, error) { return f.accounts, nil }

func (f *fakeApp) AcquireTokenSilent(context.Context, []string, ...public.AcquireSilentOption) (public.AuthResult, error) {
	f.silentCalls++
	return f.silent, f.silentErr
}

func (f *fakeApp) AcquireTokenInteractive(context.Context, []string, ...public.AcquireInteractiveOption) (public.AuthResult, error) {
	f.interactiveCalls++
	return f.interactive, f.interactiveErr
}

func (f *fakeApp) DeviceCodeLogin(_ context.Context, _ []string, prompt io.Writer) (public.AuthResult, error) {
	f.deviceCalls++
	_, _ = io.WriteString(prompt, "go to https://microsoft.com/devicelogin\n")
	return f.device, nil
}

var clock = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newProvider(app acquirer, prompt io.Writer) *Provider {
	return &Provider{app: app, prompt: prompt, now: func() time.Time { return clock }}
}

func TestToken_SilentWithCachedAccount(t *testing.T) {
	app := &fakeApp{
		accounts: []public.Account{{}},
		silent:   public.AuthResult{AccessToken: "cached", ExpiresOn: clock.Add(time.Hour)},
	}
	var prompt bytes.Buffer
	p := newProvider(app, &prompt)

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "cached", tok)
	require.Zero(t, app.interactiveCalls)
	require.Empty(t, prompt.String())

	// reused from memory while fresh
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, app.silentCalls)
}

func TestToken_FallsBackToInteractive(t *testing.T) {
	app := &fakeApp{interactive: public.AuthResult{AccessToken: "fresh", ExpiresOn: clock.Add(time.Hour)}}
	var prompt bytes.Buffer
	p := newProvider(app, &prompt)

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh", tok)
	require.Equal(t, 1, app.interactiveCalls)
	require.Contains(t, prompt.String(), "opening browser")
}

func TestToken_SilentErrorFallsBack(t *testing.T) {
	app := &fakeApp{
		accounts:    []public.Account{{}},
		silentErr:   errors.New("refresh token expired"),
		interactive: public.AuthResult{AccessToken: "fresh", ExpiresOn: clock.Add(time.Hour)},
	}
	tok, err := newProvider(app, io.Discard).Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "fresh", tok)
}

func TestToken_DeviceCode(t *testing.T) {
	app := &fakeApp{device: public.AuthResult{AccessToken: "dc", ExpiresOn: clock.Add(time.Hour)}}
	var prompt bytes.Buffer
	p := newProvider(app, &prompt)
	p.deviceCode = true

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "dc", tok)
	require.Equal(t, 1, app.deviceCalls)
	require.Zero(t, app.interactiveCalls)
	require.Contains(t, prompt.String(), "devicelogin")
}

func TestToken_AllAcquisitionFails(t *testing.T) {
	app := &fakeApp{interactiveErr: errors.New("user cancelled")}
	_, err := newProvider(app, io.Discard).Token(context.Background())
	require.ErrorContains(t, err, "user cancelled")
}

func TestToken_RefreshesNearExpiry(t *testing.T) {
	app := &fakeApp{
		accounts: []public.Account{{}},
		silent:   public.AuthResult{AccessToken: "short", ExpiresOn: clock.Add(30 * time.Second)},
	}
	p := newProvider(app, io.Discard)
	_, err := p.Token(context.Background())
	require.NoError(t, err)
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, app.silentCalls)
}

type fakeCache struct {
	data []byte
	got  []byte
}

func (f *fakeCache) Marshal() ([]byte, error) { return f.data, nil }
func (f *fakeCache) Unmarshal(b []byte) error {
	f.got = b
	return nil
}

type countingStore struct {
	CacheStore
	saves int
}

func (c *countingStore) Save(data []byte) error {
	c.saves++
	return c.CacheStore.Save(data)
}

func TestCacheAccessor_WritesOnlyOnChange(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := &countingStore{CacheStore: NewFileStore(fs, "/home/u/.ovenmitt_token_cache.json")}
	acc := &cacheAccessor{store: store}
	ctx := context.Background()

	// nothing persisted yet
	fc := &fakeCache{}
	require.NoError(t, acc.Replace(ctx, fc, cache.ReplaceHints{}))
	require.Nil(t, fc.got)

	fc.data = []byte(`{"AccessToken":{}}`)
	require.NoError(t, acc.Export(ctx, fc, cache.ExportHints{}))
	require.NoError(t, acc.Export(ctx, fc, cache.ExportHints{}))
	require.Equal(t, 1, store.saves)

	info, err := fs.Stat("/home/u/.ovenmitt_token_cache.json")
	require.NoError(t, err)
	require.Equal(t, "-rw-------", info.Mode().Perm().String())

	// a later run loads what was written and does not rewrite it
	next := &cacheAccessor{store: store}
	loaded := &fakeCache{data: fc.data}
	require.NoError(t, next.Replace(ctx, loaded, cache.ReplaceHints{}))
	require.Equal(t, fc.data, loaded.got)
	require.NoError(t, next.Export(ctx, loaded, cache.ExportHints{}))
	require.Equal(t, 1, store.saves)
}

func TestFileStore_TightensExistingMode(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/c.json", []byte("{}"), 0o644))

	require.NoError(t, NewFileStore(fs, "/c.json").Save([]byte(`{"x":1}`)))
	info, err := fs.Stat("/c.json")
	require.NoError(t, err)
	require.Equal(t, "-rw-------", info.Mode().Perm().String())
}

func TestKeyringStore(t *testing.T) {
	s := NewKeyringStore(keyring.NewArrayKeyring(nil))

	_, err := s.Load()
	require.ErrorIs(t, err, ErrNoCache)

	require.NoError(t, s.Save([]byte("blob")))
	got, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, []byte("blob"), got)
}
