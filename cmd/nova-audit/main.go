// Command nova-audit inspects the gateway's audit trail.
//
//	nova-audit verify -sqlite audit.db
//	nova-audit verify -redis redis://localhost:6379/0
//	nova-audit verify -url http://localhost:8000 -token $TOKEN
//	nova-audit list -postgres $DSN -page 2 -limit 20
//	nova-audit token -signing-key $KEY -subject ops -ttl 1h
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/run-bigpig/nova-gateway/pkg/audit"
	"github.com/run-bigpig/nova-gateway/pkg/client"
	"github.com/run-bigpig/nova-gateway/pkg/identity"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	code, err := run(ctx, os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nova-audit: %v\n", err)
	}
	os.Exit(code)
}

// run returns 0 on success, 1 on error and 2 when the chain is broken.
func run(ctx context.Context, args []string, out io.Writer) (int, error) {
	if len(args) == 0 {
		return 1, errors.New("usage: nova-audit <verify|list|token> [flags]")
	}

	switch args[0] {
	case "verify":
		return verify(ctx, args[1:], out)
	case "list":
		return list(ctx, args[1:], out)
	case "token":
		return token(args[1:], out)
	default:
		return 1, fmt.Errorf("unknown command %q", args[0])
	}
}

type source struct {
	sqlite   string
	postgres string
	redis    string
	redisKey string
	url      string
	token    string
}

func (s *source) register(fs *flag.FlagSet) {
	fs.StringVar(&s.sqlite, "sqlite", "", "SQLite audit database path")
	fs.StringVar(&s.postgres, "postgres", "", "PostgreSQL DSN")
	fs.StringVar(&s.redis, "redis", "", "Redis URL")
	fs.StringVar(&s.redisKey, "redis-key", audit.DefaultRedisKey, "Redis list key")
	fs.StringVar(&s.url, "url", "", "base URL of a running gateway")
	fs.StringVar(&s.token, "token", "", "bearer token for -url")
}

// open returns a reader over the selected store
func (s *source) open(ctx context.Context) (audit.Reader, func() error, error) {
	switch {
	case s.sqlite != "":
		// Opening would create an empty database that verifies trivially.
		if _, err := os.Stat(s.sqlite); err != nil {
			return nil, nil, fmt.Errorf("sqlite audit database: %w", err)
		}
		sink, err := audit.NewSQLiteSink(ctx, s.sqlite)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	case s.postgres != "":
		sink, err := audit.NewPostgresSink(ctx, s.postgres)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	case s.redis != "":
		sink, err := audit.OpenRedis(ctx, s.redis, audit.WithRedisKey(s.redisKey))
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	default:
		return nil, nil, errors.New("one of -sqlite, -postgres, -redis or -url is required")
	}
}

func (s *source) client() *client.Client {
	c := client.New(s.url, 30*time.Second)
	if s.token != "" {
		c.SetToken(s.token)
	}
	return c
}

func verify(ctx context.Context, args []string, out io.Writer) (int, error) {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	var src source
	src.register(fs)
	if err := fs.Parse(args); err != nil {
		return 1, err
	}

	if src.url != "" {
		resp, err := src.client().Verify(ctx)
		if err != nil {
			return 1, err
		}
		return report(out, resp.IsValid, resp.Records, resp.Error), nil
	}

	reader, closeFn, err := src.open(ctx)
	if err != nil {
		return 1, err
	}
	defer closeFn()

	n, err := audit.VerifyReader(ctx, reader)
	var chainErr *audit.ChainError
	switch {
	case err == nil:
		return report(out, true, n, ""), nil
	case errors.As(err, &chainErr):
		return report(out, false, n, err.Error()), nil
	default:
		return 1, err
	}
}

func report(out io.Writer, valid bool, records int, reason string) int {
	if valid {
		fmt.Fprintf(out, "chain valid: %d records\n", records)
		return 0
	}
	fmt.Fprintf(out, "chain BROKEN after checking %d records: %s\n", records, reason)
	return 2
}

func list(ctx context.Context, args []string, out io.Writer) (int, error) {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	var src source
	src.register(fs)
	page := fs.Int("page", 1, "page number, starting at 1")
	limit := fs.Int("limit", 50, "records per page")
	if err := fs.Parse(args); err != nil {
		return 1, err
	}

	var (
		records []audit.TransactionRecord
		total   int
	)
	if src.url != "" {
		resp, err := src.client().Logs(ctx, *page, *limit)
		if err != nil {
			return 1, err
		}
		records, total = resp.Records, resp.Total
	} else {
		reader, closeFn, err := src.open(ctx)
		if err != nil {
			return 1, err
		}
		defer closeFn()

		records, total, err = reader.List(ctx, audit.Page{Number: *page, Limit: *limit})
		if err != nil {
			return 1, err
		}
	}

	enc := json.NewEncoder(out)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return 1, err
		}
	}
	fmt.Fprintf(out, "# %d of %d records\n", len(records), total)
	return 0, nil
}

func token(args []string, out io.Writer) (int, error) {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	key := fs.String("signing-key", os.Getenv("NOVA_JWT_SIGNING_KEY"), "HS256 signing key")
	issuer := fs.String("issuer", "", "token issuer")
	subject := fs.String("subject", "", "token subject")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1, err
	}
	if *subject == "" {
		return 1, errors.New("-subject is required")
	}

	svc, err := identity.NewService(*key, identity.WithIssuer(*issuer))
	if err != nil {
		return 1, err
	}
	signed, err := svc.Issue(*subject, *ttl)
	if err != nil {
		return 1, err
	}
	fmt.Fprintln(out, signed)
	return 0, nil
}
