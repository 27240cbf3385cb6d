// Package seed loads the platform bootstrap file: initial admin accounts and
// the default platform fee.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/fees"
)

type Admin struct {
	Email       string `yaml:"email"`
	Name        string `yaml:"name"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
}

type File struct {
	DefaultFeePercent *float64 `yaml:"default_fee_percent"`
	Admins            []Admin  `yaml:"admins"`
}

func Load(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("parse seed file: %w", err)
	}
	for i, a := range f.Admins {
		if strings.TrimSpace(a.Email) == "" {
			return File{}, fmt.Errorf("admins[%d]: email is required", i)
		}
		if a.Password == "" && a.PasswordEnv == "" {
			return File{}, fmt.Errorf("admins[%d]: password or password_env is required", i)
		}
	}
	return f, nil
}

func (a Admin) password() (string, error) {
	if a.PasswordEnv == "" {
		return a.Password, nil
	}
	v := os.Getenv(a.PasswordEnv)
	if v == "" {
		return "", fmt.Errorf("admin %s: %s is not set", a.Email, a.PasswordEnv)
	}
	return v, nil
}

type Result struct {
	Admins            []string
	DefaultFeePercent string
}

// Apply creates or promotes every admin and sets the default fee. It is
// safe to run repeatedly.
func Apply(ctx context.Context, f File, users *auth.Service, settings *fees.Settings) (Result, error) {
	var res Result
	for _, a := range f.Admins {
		pw, err := a.password()
		if err != nil {
			return res, err
		}
		u, err := users.EnsureAdmin(ctx, a.Email, a.Name, pw)
		if err != nil {
			return res, fmt.Errorf("admin %s: %w", a.Email, err)
		}
		res.Admins = append(res.Admins, u.Email)
		slog.InfoContext(ctx, "seeded platform admin", "user_id", u.ID, "email", u.Email)
	}
	if f.DefaultFeePercent != nil {
		p, err := settings.SetDefaultPercent(ctx, decimal.NewFromFloat(*f.DefaultFeePercent))
		if err != nil {
			return res, err
		}
		res.DefaultFeePercent = p.StringFixed(2)
		slog.InfoContext(ctx, "seeded default fee", "percent", res.DefaultFeePercent)
	}
	return res, nil
}
