package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth/authtest"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/fees"
)

const platformYAML = `
default_fee_percent: 8.5
admins:
  - email: Ops@Example.com
    name: Ops
    password: correct-horse
  - email: root@example.com
    password_env: SEED_ROOT_PASSWORD
`

func TestApplyIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platform.yaml")
	require.NoError(t, os.WriteFile(path, []byte(platformYAML), 0o600))
	t.Setenv("SEED_ROOT_PASSWORD", "battery-staple")

	f, err := Load(path)
	require.NoError(t, err)
	env := authtest.New()
	settings := fees.NewSettings(nil, 10)
	ctx := context.Background()

	res, err := Apply(ctx, f, env.Service, settings)
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.com", "root@example.com"}, res.Admins)
	assert.Equal(t, "8.50", res.DefaultFeePercent)

	_, err = Apply(ctx, f, env.Service, settings)
	require.NoError(t, err)

	counts, err := env.Service.Users().CountByRole(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[auth.RolePlatformAdmin])

	sess, err := env.Service.Login(ctx, "root@example.com", "battery-staple")
	require.NoError(t, err)
	assert.Equal(t, auth.RolePlatformAdmin, sess.User.Role)
}

func TestParseRejects(t *testing.T) {
	_, err := Parse([]byte("admins:\n  - name: nobody\n    password: x\n"))
	require.Error(t, err)
	_, err = Parse([]byte("admins:\n  - email: a@example.com\n"))
	require.Error(t, err)
	_, err = Parse([]byte("unknown_key: 1\n"))
	require.Error(t, err)
}

func TestApplyMissingEnvPassword(t *testing.T) {
	f, err := Parse([]byte("admins:\n  - email: a@example.com\n    password_env: SEED_UNSET_PASSWORD\n"))
	require.NoError(t, err)
	_, err = Apply(context.Background(), f, authtest.New().Service, fees.NewSettings(nil, 10))
	require.Error(t, err)
}
