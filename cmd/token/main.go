// Command token mints bearer tokens for local development and smoke tests.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/campus-rides/internal/auth"
	"github.com/example/campus-rides/internal/models"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		userID string
		role   string
		secret string
		issuer string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for a rider or driver",
		Example: `  token --user rider-1 --role rider
  JWT_SECRET=s3cret token --user driver-7 --role driver --ttl 30m`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := models.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			if secret == "" {
				return fmt.Errorf("no signing secret: pass --secret or set JWT_SECRET")
			}
			tok, err := auth.NewService(secret, issuer, ttl).Issue(userID, r)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, tok)
			return nil
		},
	}
	cmd.SetOut(out)
	f := cmd.Flags()
	f.StringVar(&userID, "user", "", "user id to embed in the token")
	f.StringVar(&role, "role", string(models.RoleRider), "rider, driver or admin")
	f.StringVar(&secret, "secret", envOr("JWT_SECRET", "dev-insecure-secret"), "HMAC signing secret")
	f.StringVar(&issuer, "issuer", envOr("JWT_ISSUER", "campus-rides"), "token issuer")
	f.DurationVar(&ttl, "ttl", 2*time.Hour, "token lifetime")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
