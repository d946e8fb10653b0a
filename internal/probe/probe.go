package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ldapprobe/internal/ldap"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "probe"

// Prober runs single connect, upgrade, bind and unbind sequences. A Prober
// holds only read-only configuration and is safe for concurrent use.
type Prober struct {
	Dialer ldap.Dialer
	Config *ldap.ConnectionConfig

	// StrictUnbind reports a failed unbind after a successful bind as a
	// failure. By default it is recorded as a warning on a successful result.
	StrictUnbind bool

	// Identify runs a WhoAmI lookup after a successful bind.
	Identify bool

	// Now is the clock used for durations; defaults to time.Now.
	Now func() time.Time
}

// NewProber returns a Prober that dials real servers using cfg.
func NewProber(cfg *ldap.ConnectionConfig) *Prober {
	if cfg == nil {
		cfg = ldap.DefaultConfig()
	}
	return &Prober{
		Dialer: ldap.NewNetDialer(cfg),
		Config: cfg,
	}
}

// Run performs one probe against ep.
func (p *Prober) Run(ctx context.Context, ep Endpoint, creds Credentials) Result {
	return p.RunAttempt(ctx, ep, creds, 0)
}

// RunAttempt performs one probe against ep and labels the result with attempt.
// The probe is bounded by the configured timeout, or the default timeout when
// none is set; the connection it opens is
// released before RunAttempt returns, whatever the outcome.
func (p *Prober) RunAttempt(ctx context.Context, ep Endpoint, creds Credentials, attempt int) Result {
	cfg := p.Config
	if cfg == nil {
		cfg = ldap.DefaultConfig()
	}

	now := p.Now
	if now == nil {
		now = time.Now
	}

	fields := map[string]any{
		"mode":      ep.Mode.String(),
		"endpoint":  ep.URL,
		"attempt":   attempt,
		"principal": creds.Principal,
	}
	tflog.SubsystemDebug(ctx, Subsystem, "Starting probe", ldap.SanitizeFields(fields))

	start := now()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = ldap.DefaultConfig().Timeout
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s := &session{
		prober:   p,
		cfg:      cfg,
		endpoint: ep,
		creds:    creds,
	}
	perr := s.run(probeCtx)

	duration := now().Sub(start)

	res := Result{
		Mode:      ep.Mode,
		Attempt:   attempt,
		Endpoint:  ep.URL,
		Outcome:   OutcomeSuccess,
		Warnings:  s.warnings,
		Identity:  s.identity,
		Duration:  duration,
		LatencyMs: float64(duration.Microseconds()) / 1000,
	}

	fields["duration_ms"] = duration.Milliseconds()

	if perr != nil {
		res.Outcome = OutcomeFailure
		res.Phase = perr.Phase
		res.Detail = perr.Error()
		res.Rejected = perr.Rejected
		res.Category = string(ldap.GetErrorCategory(perr.Err))
		res.Retryable = !perr.Rejected && ldap.IsRetryableError(perr.Err)
		res.Err = perr

		fields["phase"] = perr.Phase.String()
		fields["error"] = perr.Error()
		tflog.SubsystemWarn(ctx, Subsystem, "Probe failed", ldap.SanitizeFields(fields))
		return res
	}

	fields["warnings"] = len(s.warnings)
	tflog.SubsystemInfo(ctx, Subsystem, "Probe succeeded", ldap.SanitizeFields(fields))
	return res
}

// session is the state of one in-flight probe.
type session struct {
	prober   *Prober
	cfg      *ldap.ConnectionConfig
	endpoint Endpoint
	creds    Credentials

	warnings []Warning
	identity *ldap.Identity
}

func (s *session) run(ctx context.Context) *PhaseError {
	server, err := ldap.ParseLDAPURL(s.endpoint.URL)
	if err != nil {
		return s.fail(ctx, PhaseConnect, err)
	}

	tlsConfig, err := ldap.BuildTLSConfig(s.cfg, server.Host)
	if err != nil {
		return s.fail(ctx, PhaseConnect, err)
	}

	if s.prober.Dialer == nil {
		return s.fail(ctx, PhaseConnect, errors.New("no dialer configured"))
	}

	conn, err := s.prober.Dialer.Dial(ctx, server, tlsConfig)
	if err != nil {
		return s.fail(ctx, PhaseConnect, err)
	}
	if conn == nil {
		return s.fail(ctx, PhaseConnect, errors.New("dialer returned no connection"))
	}

	rel := &releaser{conn: conn}
	defer func() {
		rel.release()
		if rel.err != nil {
			tflog.SubsystemTrace(ctx, Subsystem, "Connection close reported an error", map[string]any{
				"error": rel.err.Error(),
			})
		}
	}()

	// Closing the connection under a blocked request is the only way to
	// interrupt go-ldap, which has no per-call context.
	stop := context.AfterFunc(ctx, rel.release)
	defer stop()

	if s.endpoint.UpgradeRequested {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, PhaseUpgrade, err)
		}
		if err := conn.StartTLS(tlsConfig); err != nil {
			ldap.LogConnectionEvent(ctx, "tls_upgrade_failed", map[string]any{
				"server": s.endpoint.URL,
				"error":  err.Error(),
			})
			return s.fail(ctx, PhaseUpgrade, err)
		}
		ldap.LogConnectionEvent(ctx, "tls_upgraded", map[string]any{
			"server": s.endpoint.URL,
		})
	}

	if err := ctx.Err(); err != nil {
		return s.fail(ctx, PhaseAuthenticate, err)
	}
	if err := ldap.Authenticate(ctx, conn, s.cfg, server, s.creds.Principal, s.creds.Secret); err != nil {
		return s.fail(ctx, PhaseAuthenticate, err)
	}

	if s.prober.Identify {
		identity, err := ldap.Identify(ctx, conn)
		if err != nil {
			s.warn(s.fail(ctx, PhaseIdentify, err))
		} else {
			s.identity = identity
		}
	}

	if err := ctx.Err(); err != nil {
		return s.disconnectFailure(s.fail(ctx, PhaseDisconnect, err))
	}
	if err := conn.Unbind(); err != nil {
		ldap.LogConnectionEvent(ctx, "unbind_failed", map[string]any{
			"server": s.endpoint.URL,
			"error":  err.Error(),
		})
		return s.disconnectFailure(s.fail(ctx, PhaseDisconnect, err))
	}

	return nil
}

// disconnectFailure applies the unbind policy: a warning unless StrictUnbind is set.
func (s *session) disconnectFailure(perr *PhaseError) *PhaseError {
	if s.prober.StrictUnbind {
		return perr
	}
	s.warn(perr)
	return nil
}

func (s *session) warn(perr *PhaseError) {
	s.warnings = append(s.warnings, Warning{Phase: perr.Phase, Detail: perr.Error()})
}

// fail builds the phase error for err, noting when the probe deadline or the
// caller's cancellation is what interrupted the phase.
func (s *session) fail(ctx context.Context, phase Phase, err error) *PhaseError {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}

	perr := &PhaseError{Phase: phase, Err: err}
	if phase == PhaseAuthenticate {
		if code, ok := ldap.ServerResultCode(err); ok {
			perr.Rejected = true
			perr.Code = code
		}
	}

	return perr
}

// releaser closes a connection exactly once.
type releaser struct {
	once sync.Once
	conn ldap.Conn
	err  error
}

func (r *releaser) release() {
	r.once.Do(func() {
		r.err = r.conn.Close()
	})
}
