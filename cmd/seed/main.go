// Seed applies a fixture of users, roles, grants and MFA policies to
// DATABASE_URL, plus a TOTP enrollment and backup codes for the first user.
// Without --file the embedded development fixture is used. Safe to rerun.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"trustlayer/internal/app"
	"trustlayer/internal/clock"
	"trustlayer/internal/config"
	"trustlayer/internal/fixture"
	"trustlayer/internal/logging"
	"trustlayer/internal/mfa"
	"trustlayer/internal/security"
)

func main() {
	file := pflag.StringP("file", "f", "", "fixture YAML (default: embedded development fixture)")
	enroll := pflag.Bool("enroll", true, "create a TOTP secret and backup codes for the first fixture user")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, closeLog, err := logging.New(logging.Options{Level: cfg.LogLevel, Development: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, *file, *enroll, log); err != nil {
		log.Error("seed failed", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, file string, enroll bool, log *zap.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	var src io.Reader = bytes.NewReader(fixture.Development)
	if file != "" {
		fh, err := os.Open(file)
		if err != nil {
			return err
		}
		defer fh.Close()
		src = fh
	}
	fx, err := fixture.Parse(src)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	clk := clock.Real()
	stores, err := app.OpenStores(ctx, cfg, clk, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	now := clk.Now()
	if err := fx.Apply(ctx, fixture.Stores{Directory: stores.Directory, Grants: stores.Grants, Policies: stores.Policies}, now); err != nil {
		return err
	}
	log.Info("fixture applied",
		zap.Int("roles", len(fx.Roles)), zap.Int("users", len(fx.Users)),
		zap.Int("grants", len(fx.Grants)), zap.Int("policies", len(fx.Policies)))

	if !enroll || len(fx.Users) == 0 {
		return nil
	}
	u := fx.Users[0]
	existing, err := stores.Enrollments.TOTPSecret(ctx, u.ID)
	if err != nil {
		return err
	}
	if existing != "" {
		log.Info("user already enrolled, skipping", zap.String("user_id", u.ID))
		return nil
	}
	account := u.Email
	if account == "" {
		account = u.ID
	}
	secret, url, err := mfa.EnrollTOTP(app.ServiceName, account)
	if err != nil {
		return err
	}
	if err := stores.Enrollments.SetTOTPSecret(ctx, u.ID, secret, now); err != nil {
		return err
	}
	backup := mfa.BackupCodeIssuer{Store: stores.Enrollments, Hasher: security.NewHasher(0), Now: clk.Now}
	codes, err := backup.GenerateBackupCodes(ctx, u.ID, 10)
	if err != nil {
		return err
	}
	// Printed once for local development; never logged.
	fmt.Printf("TOTP enrollment for %s:\n  %s\nBackup codes:\n", u.ID, url)
	for _, c := range codes {
		fmt.Println("  " + c)
	}
	return nil
}
