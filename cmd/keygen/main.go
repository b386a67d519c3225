// Command keygen manages admin API keys directly in the database.
//
//	keygen create -name ops -scopes admin,read
//	keygen list
//	keygen revoke -id <uuid>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/eventsync/internal/apikey"
	"github.com/kiranshivaraju/eventsync/internal/config"
	"github.com/kiranshivaraju/eventsync/internal/store"
	"github.com/kiranshivaraju/eventsync/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// keyAdmin is the store subset the commands use.
type keyAdmin interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

var errUsage = errors.New("usage: keygen <create|list|revoke> [flags]")

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(2)
	}

	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:             dbURL,
		MaxOpenConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		slog.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := run(ctx, os.Args[1:], os.Stdout, store.NewPostgresStore(pool), bcrypt.DefaultCost); err != nil {
		slog.Error("keygen failed", "error", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, s keyAdmin, cost int) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("create", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		name := fs.String("name", "", "key name, unique among active keys")
		scopes := fs.String("scopes", "admin", "comma separated scopes")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}

		gen, err := apikey.Generate(*name, splitScopes(*scopes), cost)
		if err != nil {
			return err
		}
		if err := s.CreateAPIKey(ctx, gen.Key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				return fmt.Errorf("an active key named %q already exists", *name)
			}
			return fmt.Errorf("create key: %w", err)
		}
		fmt.Fprintf(out, "id:     %s\nprefix: %s\nkey:    %s\n", gen.Key.ID, gen.Key.KeyPrefix, gen.Raw)
		fmt.Fprintln(out, "Store the key now; it cannot be shown again.")
		return nil

	case "list":
		keys, err := s.ListAPIKeys(ctx)
		if err != nil {
			return fmt.Errorf("list keys: %w", err)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED")
		for _, k := range keys {
			last := "never"
			if k.LastUsedAt != nil {
				last = k.LastUsedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), last)
		}
		return tw.Flush()

	case "revoke":
		fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		rawID := fs.String("id", "", "key id")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		id, err := uuid.Parse(*rawID)
		if err != nil {
			return fmt.Errorf("%w: -id must be a UUID", errUsage)
		}
		if err := s.RevokeAPIKey(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no active key with id %s", id)
			}
			return fmt.Errorf("revoke key: %w", err)
		}
		fmt.Fprintf(out, "revoked %s\n", id)
		return nil
	}

	return errUsage
}

func splitScopes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
