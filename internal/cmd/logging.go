package cmd

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"

	"github.com/isometry/ldapprobe/internal/ldap"
	"github.com/isometry/ldapprobe/internal/matrix"
	"github.com/isometry/ldapprobe/internal/probe"
)

var subsystems = []string{ldap.Subsystem, probe.Subsystem, matrix.Subsystem}

// newRootLogger writes JSON logs to stderr. TF_LOG overrides level.
func newRootLogger(ctx context.Context, level hclog.Level) context.Context {
	return tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName("ldapprobe"),
		tfsdklog.WithLevel(level),
		tfsdklog.WithoutLocation(),
	)
}

// initLogging installs the root logger and one subsystem logger per package,
// all of which mask the secret.
func initLogging(ctx context.Context, newLogger func(context.Context, hclog.Level) context.Context, level hclog.Level, secret string) context.Context {
	ctx = newLogger(ctx, level)
	for _, name := range subsystems {
		ctx = tflog.NewSubsystem(ctx, name, tflog.WithLevel(level))
	}
	return ldap.RedactSecrets(ctx, subsystems, secret)
}
