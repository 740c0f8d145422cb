package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"market-optimizer/internal/auth"
)

type config struct {
	secret  string
	subject string
	role    string
	ttl     time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cfg, err := parseFlags(args)
	if err != nil {
		return err
	}
	role, ok := auth.NormalizeRole(cfg.role)
	if !ok {
		return fmt.Errorf("unknown role %q (viewer, operator, admin)", cfg.role)
	}
	token, err := auth.IssueJWT([]byte(cfg.secret), cfg.subject, role, cfg.ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func parseFlags(args []string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("issuetoken", flag.ContinueOnError)
	fs.StringVar(&cfg.secret, "secret", getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")), "HS256 signing secret")
	fs.StringVar(&cfg.subject, "subject", "", "token subject (user or service name)")
	fs.StringVar(&cfg.role, "role", string(auth.RoleViewer), "viewer, operator or admin")
	fs.DurationVar(&cfg.ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.secret == "" {
		return cfg, errors.New("missing --secret or AUTH_JWT_SECRET")
	}
	if cfg.subject == "" {
		return cfg, errors.New("missing --subject")
	}
	if cfg.ttl <= 0 {
		return cfg, errors.New("--ttl must be positive")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
