// Package cmd implements the ldapprobe command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/isometry/ldapprobe/internal/config"
	"github.com/isometry/ldapprobe/internal/ldap"
	"github.com/isometry/ldapprobe/internal/matrix"
	"github.com/isometry/ldapprobe/internal/metrics"
	"github.com/isometry/ldapprobe/internal/probe"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitProbeFailed = 1
	ExitConfigError = 2
)

// app carries the process-level dependencies of a command run.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	newLogger func(ctx context.Context, level hclog.Level) context.Context
	newDialer func(cfg *ldap.ConnectionConfig) ldap.Dialer
	resolver  ldap.SRVResolver
}

func defaultApp() *app {
	return &app{
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		newLogger: newRootLogger,
		newDialer: func(cfg *ldap.ConnectionConfig) ldap.Dialer { return ldap.NewNetDialer(cfg) },
	}
}

// Execute runs the root command and reports any error on stderr.
func Execute(ctx context.Context) error {
	a := defaultApp()
	err := newRootCommand(a).ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(a.stderr, "Error:", err)
	}
	return err
}

// ExitCode maps an Execute error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case matrix.IsConfigError(err):
		return ExitConfigError
	default:
		return ExitProbeFailed
	}
}

func newRootCommand(a *app) *cobra.Command {
	v, vErr := config.NewViper()
	var configFile string

	cmd := &cobra.Command{
		Use:   "ldapprobe [flags] <principal> <secret> [host]",
		Short: "Verify LDAP binds over plain, StartTLS and LDAPS connections",
		Long: `ldapprobe connects to an LDAP server once per attempt in each requested
connection mode, binds with the given credentials, unbinds, and reports the
outcome of every attempt.

Pass "-" as the secret to read it from the terminal (without echo) or stdin.
Omit the host and set --domain to pick a server from DNS SRV records.

Every flag can also be set in the environment as LDAPPROBE_<FLAG>, with
dashes replaced by underscores, or in a YAML, TOML or JSON --config file.`,
		Args:          validateArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if vErr != nil {
				return vErr
			}
			return a.run(cmd.Context(), v, configFile, args)
		},
	}

	cmd.SetIn(a.stdin)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &matrix.ConfigError{Field: "flags", Message: err.Error(), Hint: "see ldapprobe --help"}
	})

	cmd.Flags().StringVar(&configFile, "config", "", "Path to a config file (YAML, TOML or JSON)")
	registerFlags(cmd.Flags())
	if vErr == nil {
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			vErr = fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	cmd.AddCommand(newVersionCommand())
	cmd.Version = Version
	cmd.SetVersionTemplate("ldapprobe {{.Version}}\n")

	return cmd
}

func validateArgs(_ *cobra.Command, args []string) error {
	switch {
	case len(args) < 1:
		return &matrix.ConfigError{Field: "principal", Message: "a bind principal is required", Hint: "ldapprobe <principal> <secret> [host]"}
	case len(args) < 2:
		return &matrix.ConfigError{Field: "secret", Message: "a secret is required", Hint: `pass "-" to be prompted for it`}
	case len(args) > 3:
		return &matrix.ConfigError{Field: "host", Value: args[3:], Message: "unexpected extra arguments"}
	}
	return nil
}

func registerFlags(f *pflag.FlagSet) {
	def, err := config.Default()
	if err != nil {
		def = &config.Config{}
	}

	f.StringSliceP("mode", "m", def.Modes, "Connection modes to probe: plain, starttls, ldaps (repeatable or comma separated)")
	f.IntP("repeat", "n", def.Repeat, "Attempts per connection mode")
	f.Duration("timeout", def.Timeout, "Timeout for each attempt")
	f.Duration("delay", def.Delay, "Pause between attempts (between attempt starts when --concurrency > 1)")
	f.IntP("concurrency", "c", def.Concurrency, "Maximum attempts in flight")
	f.String("domain", def.Domain, "Discover the host from DNS SRV records of this domain")

	f.Bool("strict-unbind", def.StrictUnbind, "Treat a failed unbind after a successful bind as a failure")
	f.Bool("whoami", def.WhoAmI, "Report the bound identity with the WhoAmI extended operation")

	f.Bool("insecure-skip-verify", def.InsecureSkipVerify, "Do not verify the server certificate")
	f.String("ca-cert", def.CACert, "PEM file with CA certificates to trust")
	f.String("client-cert", def.ClientCert, "PEM client certificate")
	f.String("client-key", def.ClientKey, "PEM client private key")
	f.String("server-name", def.ServerName, "Name to verify the server certificate against")
	f.String("tls-min-version", def.TLSMinVersion, "Minimum TLS version: 1.0, 1.1, 1.2 or 1.3")

	f.String("auth", def.Auth, "Bind method: simple, kerberos or external")
	f.String("krb5-config", def.Krb5Config, "Path to krb5.conf (default /etc/krb5.conf)")
	f.String("krb5-realm", def.Krb5Realm, "Kerberos realm (default from user@REALM principal)")
	f.String("krb5-keytab", def.Krb5Keytab, "Kerberos keytab for the principal")
	f.String("krb5-ccache", def.Krb5CCache, "Kerberos credential cache")
	f.String("krb5-spn", def.Krb5SPN, "LDAP service principal (default ldap/<host>)")

	f.StringP("output", "o", def.Output, "Output format: text or json")
	f.String("metrics-textfile", def.MetricsTextfile, "Write Prometheus metrics to this file")
	f.String("log-level", def.LogLevel, "Log level on stderr: trace, debug, info, warn, error or off")
}

func (a *app) run(ctx context.Context, v *viper.Viper, configFile string, args []string) error {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	principal := args[0]
	secret, err := readSecret(args[1], principal, a.stdin, a.stderr)
	if err != nil {
		return err
	}

	ctx = initLogging(ctx, a.newLogger, cfg.Level(), secret)

	var host string
	if len(args) == 3 {
		host = args[2]
	}
	if host == "" {
		if cfg.Domain == "" {
			return &matrix.ConfigError{
				Field:   "host",
				Message: "a target host is required",
				Hint:    "pass it as the third argument or use --domain for SRV discovery",
			}
		}
		if host, err = a.discoverHost(ctx, cfg.Domain); err != nil {
			return err
		}
	}

	plan, err := cfg.Plan(host, probe.Credentials{Principal: principal, Secret: secret})
	if err != nil {
		return err
	}

	connCfg, err := cfg.ConnectionConfig()
	if err != nil {
		return err
	}

	prober := probe.NewProber(connCfg)
	prober.Dialer = a.newDialer(connCfg)
	prober.StrictUnbind = cfg.StrictUnbind
	prober.Identify = cfg.WhoAmI

	var collector *metrics.Collector
	if cfg.MetricsTextfile != "" {
		collector = metrics.New()
	}

	runner := &matrix.Runner{
		Prober:      prober,
		Concurrency: cfg.Concurrency,
		Delay:       cfg.Delay,
		Metrics:     collector,
	}
	if cfg.Output == config.OutputText {
		runner.OnResult = func(res probe.Result) {
			fmt.Fprintln(a.stdout, matrix.FormatResult(res))
		}
	}

	report, runErr := runner.Run(ctx, plan)
	if report == nil {
		return runErr
	}

	if err := a.writeReport(cfg.Output, report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if err := collector.WriteTextfile(cfg.MetricsTextfile); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}

	if runErr != nil {
		return runErr
	}
	if !report.AllSucceeded() {
		return matrix.ErrProbesFailed
	}
	return nil
}

func (a *app) writeReport(format string, report *matrix.Report) error {
	if format == config.OutputJSON {
		return report.WriteJSON(a.stdout)
	}
	fmt.Fprintln(a.stdout)
	return report.WriteText(a.stdout)
}

// discoverHost picks the preferred server advertised for domain. Only the host
// name is kept; each connection mode applies its own default port.
func (a *app) discoverHost(ctx context.Context, domain string) (string, error) {
	discovery := ldap.NewSRVDiscovery()
	if a.resolver != nil {
		discovery = ldap.NewSRVDiscoveryWithResolver(a.resolver)
	}

	servers, err := discovery.DiscoverServers(ctx, domain)
	if err != nil {
		return "", fmt.Errorf("server discovery failed: %w", err)
	}
	if len(servers) == 0 {
		return "", errors.New("server discovery returned no servers")
	}

	return servers[0].Host, nil
}
