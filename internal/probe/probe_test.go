package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tflogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldapprobe/internal/ldap"
)

// mockConn records the LDAP calls a probe makes. Close is counted rather than
// mocked so every test can assert the connection was released exactly once.
type mockConn struct {
	mock.Mock

	closes    atomic.Int32
	closeOnce sync.Once
	closed    chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{closed: make(chan struct{})}
}

func (m *mockConn) StartTLS(config *tls.Config) error {
	return m.Called(config).Error(0)
}

func (m *mockConn) Bind(username, password string) error {
	return m.Called(username, password).Error(0)
}

func (m *mockConn) ExternalBind() error {
	return m.Called().Error(0)
}

func (m *mockConn) GSSAPIBind(client goldap.GSSAPIClient, servicePrincipal, authzid string) error {
	return m.Called(client, servicePrincipal, authzid).Error(0)
}

func (m *mockConn) WhoAmI(controls []goldap.Control) (*goldap.WhoAmIResult, error) {
	args := m.Called(controls)
	result, _ := args.Get(0).(*goldap.WhoAmIResult)
	return result, args.Error(1)
}

func (m *mockConn) Search(req *goldap.SearchRequest) (*goldap.SearchResult, error) {
	args := m.Called(req)
	result, _ := args.Get(0).(*goldap.SearchResult)
	return result, args.Error(1)
}

func (m *mockConn) Unbind() error {
	return m.Called().Error(0)
}

func (m *mockConn) Close() error {
	m.closes.Add(1)
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

type fakeDialer struct {
	conn  ldap.Conn
	err   error
	dials atomic.Int32
	last  *ldap.ServerInfo
}

func (d *fakeDialer) Dial(_ context.Context, server *ldap.ServerInfo, _ *tls.Config) (ldap.Conn, error) {
	d.dials.Add(1)
	d.last = server
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func testProber(dialer ldap.Dialer) *Prober {
	return &Prober{
		Dialer: dialer,
		Config: &ldap.ConnectionConfig{Timeout: 5 * time.Second},
	}
}

var testCreds = Credentials{Principal: "alice@example.com", Secret: "s3cret-pa55"}

func invalidCredentials() error {
	return goldap.NewError(goldap.LDAPResultInvalidCredentials, errors.New("80090308: LdapErr: DSID-0C09044E, AcceptSecurityContext error, data 52e"))
}

func TestProber_SuccessEveryMode(t *testing.T) {
	for _, mode := range AllModes {
		t.Run(mode.String(), func(t *testing.T) {
			conn := newMockConn()
			if mode == ModeStartTLS {
				conn.On("StartTLS", mock.AnythingOfType("*tls.Config")).Return(nil).Once()
			}
			conn.On("Bind", testCreds.Principal, testCreds.Secret).Return(nil).Once()
			conn.On("Unbind").Return(nil).Once()

			dialer := &fakeDialer{conn: conn}
			res := testProber(dialer).RunAttempt(context.Background(), Resolve("dc1.example.com", mode), testCreds, 2)

			require.True(t, res.Succeeded(), res.Detail)
			assert.Equal(t, mode, res.Mode)
			assert.Equal(t, 2, res.Attempt)
			assert.Equal(t, PhaseNone, res.Phase)
			assert.Empty(t, res.Warnings)
			assert.NoError(t, res.Err)
			assert.Equal(t, mode == ModeLDAPS, dialer.last.UseTLS)

			conn.AssertExpectations(t)
			if mode != ModeStartTLS {
				conn.AssertNotCalled(t, "StartTLS", mock.Anything)
			}
			assert.Equal(t, int32(1), conn.closes.Load())
		})
	}
}

func TestProber_UnreachableNeverBinds(t *testing.T) {
	for _, mode := range AllModes {
		t.Run(mode.String(), func(t *testing.T) {
			conn := newMockConn()
			dialer := &fakeDialer{
				conn: conn,
				err:  ldap.NewConnectionError("failed to connect to ldap://dc1.example.com:389", true, errors.New("dial tcp 192.0.2.1:389: connect: connection refused")),
			}

			res := testProber(dialer).Run(context.Background(), Resolve("dc1.example.com", mode), testCreds)

			assert.False(t, res.Succeeded())
			assert.Equal(t, PhaseConnect, res.Phase)
			assert.False(t, res.Rejected)
			assert.Equal(t, string(ldap.ErrorCategoryConnection), res.Category)
			assert.True(t, res.Retryable)
			assert.Contains(t, res.Detail, "connect: ")
			conn.AssertNotCalled(t, "Bind", mock.Anything, mock.Anything)
			conn.AssertNotCalled(t, "Unbind")
			assert.Zero(t, conn.closes.Load())
		})
	}
}

func TestProber_UpgradeRefused(t *testing.T) {
	conn := newMockConn()
	conn.On("StartTLS", mock.Anything).Return(goldap.NewError(goldap.LDAPResultUnavailable, errors.New("StartTLS not supported"))).Once()

	res := testProber(&fakeDialer{conn: conn}).Run(context.Background(), Resolve("dc1.example.com", ModeStartTLS), testCreds)

	assert.False(t, res.Succeeded())
	assert.Equal(t, PhaseUpgrade, res.Phase)
	assert.Contains(t, res.Detail, "upgrade: ")
	conn.AssertNotCalled(t, "Bind", mock.Anything, mock.Anything)
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestProber_InvalidCredentialsEveryMode(t *testing.T) {
	for _, mode := range AllModes {
		t.Run(mode.String(), func(t *testing.T) {
			conn := newMockConn()
			conn.On("StartTLS", mock.Anything).Return(nil).Maybe()
			conn.On("Bind", testCreds.Principal, testCreds.Secret).Return(invalidCredentials()).Once()

			res := testProber(&fakeDialer{conn: conn}).Run(context.Background(), Resolve("dc1.example.com", mode), testCreds)

			assert.False(t, res.Succeeded())
			assert.Equal(t, PhaseAuthenticate, res.Phase)
			assert.True(t, res.Rejected)
			assert.Contains(t, res.Detail, "server rejected bind")
			assert.Equal(t, string(ldap.ErrorCategoryAuthentication), res.Category)
			assert.False(t, res.Retryable)
			assert.ErrorIs(t, res.Err, ErrCredentialsRejected)

			var perr *PhaseError
			require.ErrorAs(t, res.Err, &perr)
			assert.Equal(t, uint16(goldap.LDAPResultInvalidCredentials), perr.Code)

			conn.AssertNotCalled(t, "Unbind")
			assert.Equal(t, int32(1), conn.closes.Load())
		})
	}
}

func TestProber_BindExchangeFailure(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		err   error
	}{
		{
			name:  "network error",
			creds: testCreds,
			err:   goldap.NewError(goldap.ErrorNetwork, errors.New("connection reset by peer")),
		},
		{
			name:  "client refuses empty password",
			creds: Credentials{Principal: "alice@example.com"},
			err:   goldap.NewError(goldap.ErrorEmptyPassword, errors.New("ldap: empty password not allowed by the client")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newMockConn()
			conn.On("Bind", tt.creds.Principal, tt.creds.Secret).Return(tt.err).Once()

			res := testProber(&fakeDialer{conn: conn}).Run(context.Background(), Resolve("dc1.example.com", ModePlain), tt.creds)

			assert.Equal(t, PhaseAuthenticate, res.Phase)
			assert.False(t, res.Rejected)
			assert.Contains(t, res.Detail, "bind exchange failed")
			assert.NotErrorIs(t, res.Err, ErrCredentialsRejected)
			assert.Equal(t, int32(1), conn.closes.Load())
		})
	}
}

func TestProber_MissingPrincipal(t *testing.T) {
	conn := newMockConn()

	res := testProber(&fakeDialer{conn: conn}).Run(context.Background(), Resolve("dc1.example.com", ModePlain), Credentials{})

	assert.Equal(t, PhaseAuthenticate, res.Phase)
	assert.False(t, res.Rejected)
	conn.AssertNotCalled(t, "Bind", mock.Anything, mock.Anything)
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestProber_DisconnectPolicy(t *testing.T) {
	unbindErr := goldap.NewError(goldap.ErrorNetwork, errors.New("write: broken pipe"))

	tests := []struct {
		name        string
		strict      bool
		wantOutcome Outcome
		wantPhase   Phase
		wantWarning bool
	}{
		{
			name:        "lenient records a warning",
			wantOutcome: OutcomeSuccess,
			wantPhase:   PhaseNone,
			wantWarning: true,
		},
		{
			name:        "strict fails the probe",
			strict:      true,
			wantOutcome: OutcomeFailure,
			wantPhase:   PhaseDisconnect,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newMockConn()
			conn.On("Bind", mock.Anything, mock.Anything).Return(nil).Once()
			conn.On("Unbind").Return(unbindErr).Once()

			p := testProber(&fakeDialer{conn: conn})
			p.StrictUnbind = tt.strict

			res := p.Run(context.Background(), Resolve("dc1.example.com", ModeLDAPS), testCreds)

			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantPhase, res.Phase)
			if tt.wantWarning {
				require.Len(t, res.Warnings, 1)
				assert.Equal(t, PhaseDisconnect, res.Warnings[0].Phase)
				assert.Contains(t, res.Warnings[0].Detail, "broken pipe")
			} else {
				assert.Empty(t, res.Warnings)
			}
			assert.Equal(t, int32(1), conn.closes.Load())
		})
	}
}

func TestProber_TimeoutTagsPhaseInProgress(t *testing.T) {
	conn := newMockConn()
	conn.On("Bind", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-conn.closed }).
		Return(goldap.NewError(goldap.ErrorNetwork, errors.New("ldap: connection closed"))).
		Once()

	p := testProber(&fakeDialer{conn: conn})
	p.Config.Timeout = 50 * time.Millisecond

	res := p.Run(context.Background(), Resolve("dc1.example.com", ModePlain), testCreds)

	assert.Equal(t, PhaseAuthenticate, res.Phase)
	assert.False(t, res.Rejected)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Contains(t, res.Detail, "context deadline exceeded")
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestProber_UnsetTimeoutUsesDefault(t *testing.T) {
	for _, timeout := range []time.Duration{0, -time.Second} {
		t.Run(timeout.String(), func(t *testing.T) {
			conn := newMockConn()
			conn.On("Bind", testCreds.Principal, testCreds.Secret).Return(nil).Once()
			conn.On("Unbind").Return(nil).Once()

			p := &Prober{
				Dialer: &fakeDialer{conn: conn},
				Config: &ldap.ConnectionConfig{Timeout: timeout},
			}
			res := p.Run(context.Background(), Resolve("dc1.example.com", ModePlain), testCreds)

			require.True(t, res.Succeeded(), res.Detail)
			assert.Equal(t, PhaseNone, res.Phase)
			conn.AssertExpectations(t)
			assert.Equal(t, int32(1), conn.closes.Load())
		})
	}
}

func TestProber_CancelledBeforeBind(t *testing.T) {
	conn := newMockConn()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := testProber(&fakeDialer{conn: conn}).Run(ctx, Resolve("dc1.example.com", ModeStartTLS), testCreds)

	assert.Equal(t, PhaseUpgrade, res.Phase)
	assert.ErrorIs(t, res.Err, context.Canceled)
	conn.AssertNotCalled(t, "StartTLS", mock.Anything)
	conn.AssertNotCalled(t, "Bind", mock.Anything, mock.Anything)
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestProber_Identify(t *testing.T) {
	t.Run("identity recorded", func(t *testing.T) {
		conn := newMockConn()
		conn.On("Bind", mock.Anything, mock.Anything).Return(nil)
		conn.On("WhoAmI", mock.Anything).Return(&goldap.WhoAmIResult{AuthzID: "u:alice@example.com"}, nil)
		conn.On("Unbind").Return(nil)

		p := testProber(&fakeDialer{conn: conn})
		p.Identify = true

		res := p.Run(context.Background(), Resolve("dc1.example.com", ModeLDAPS), testCreds)

		require.True(t, res.Succeeded())
		require.NotNil(t, res.Identity)
		assert.Equal(t, "upn", res.Identity.Format)
		assert.Equal(t, "alice@example.com", res.Identity.UserPrincipalName)
	})

	t.Run("lookup failure is a warning", func(t *testing.T) {
		conn := newMockConn()
		conn.On("Bind", mock.Anything, mock.Anything).Return(nil)
		conn.On("WhoAmI", mock.Anything).Return(nil, goldap.NewError(goldap.LDAPResultProtocolError, errors.New("unsupported extended operation")))
		conn.On("Unbind").Return(nil)

		p := testProber(&fakeDialer{conn: conn})
		p.Identify = true

		res := p.Run(context.Background(), Resolve("dc1.example.com", ModeLDAPS), testCreds)

		require.True(t, res.Succeeded())
		assert.Nil(t, res.Identity)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, PhaseIdentify, res.Warnings[0].Phase)
	})
}

func TestProber_InjectedClock(t *testing.T) {
	conn := newMockConn()
	conn.On("Bind", mock.Anything, mock.Anything).Return(nil)
	conn.On("Unbind").Return(nil)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var ticks int
	p := testProber(&fakeDialer{conn: conn})
	p.Now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * 1500 * time.Microsecond)
	}

	res := p.Run(context.Background(), Resolve("dc1.example.com", ModePlain), testCreds)

	assert.Equal(t, 1500*time.Microsecond, res.Duration)
	assert.InDelta(t, 1.5, res.LatencyMs, 1e-9)
}

func TestProber_InvalidEndpoint(t *testing.T) {
	dialer := &fakeDialer{conn: newMockConn()}

	res := testProber(dialer).Run(context.Background(), Endpoint{Mode: ModePlain, URL: "http://dc1.example.com"}, testCreds)

	assert.Equal(t, PhaseConnect, res.Phase)
	assert.Zero(t, dialer.dials.Load())
}

func TestProber_LogsNeverContainSecret(t *testing.T) {
	var output bytes.Buffer
	ctx := tflogtest.RootLogger(context.Background(), &output)
	ctx = tflog.NewSubsystem(ctx, Subsystem)
	ctx = tflog.NewSubsystem(ctx, ldap.Subsystem)
	ctx = ldap.RedactSecrets(ctx, []string{Subsystem, ldap.Subsystem}, testCreds.Secret)

	conn := newMockConn()
	conn.On("Bind", mock.Anything, mock.Anything).
		Return(goldap.NewError(goldap.LDAPResultInvalidCredentials, errors.New("bad password "+testCreds.Secret))).
		Once()

	res := testProber(&fakeDialer{conn: conn}).Run(ctx, Resolve("dc1.example.com", ModePlain), testCreds)
	require.Equal(t, PhaseAuthenticate, res.Phase)

	assert.NotContains(t, output.String(), testCreds.Secret)

	entries, err := tflogtest.MultilineJSONDecode(&output)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	var sawFailure bool
	for _, entry := range entries {
		if entry["@message"] == "Probe failed" {
			sawFailure = true
			assert.Equal(t, "authenticate", entry["phase"])
		}
	}
	assert.True(t, sawFailure)
}
