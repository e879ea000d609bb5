package marketplace

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bissquit/bagwatch/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const (
	authByEmailPath    = "auth/v3/authByEmail"
	authPollingPath    = "auth/v3/authByRequestPollingId"
	signUpByEmailPath  = "auth/v3/signUpByEmail"
	refreshTokenPath   = "auth/v3/token/refresh"
	expiryRefreshSlack = time.Minute
)

// State is the authentication state of a Session.
type State int

// Session states.
const (
	StateUnauthenticated State = iota
	StateEmailSubmitted
	StatePolling
	StateAuthenticated
	StateRefreshing
	StateLoginFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateEmailSubmitted:
		return "EMAIL_SUBMITTED"
	case StatePolling:
		return "POLLING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateRefreshing:
		return "REFRESHING"
	case StateLoginFailed:
		return "LOGIN_FAILED"
	default:
		return "UNKNOWN"
	}
}

// SessionConfig holds the login inputs and token lifecycle settings.
type SessionConfig struct {
	Email               string
	Credentials         domain.Credentials
	DeviceType          string
	AccessTokenLifetime time.Duration
	MaxPollingTries     int
	PollingWaitTime     time.Duration
}

// Session owns the account tokens and keeps them valid.
// All methods are safe for concurrent use; login and refresh are serialized.
type Session struct {
	mu          sync.Mutex
	config      SessionConfig
	creds       domain.Credentials
	lastRefresh time.Time
	state       State
	loginErr    error

	transport *transport
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// authAttempt tracks one email-confirmation polling run.
type authAttempt struct {
	pollingID string
	attempts  int
	waited    time.Duration
}

func newSession(config SessionConfig, t *transport, logger *slog.Logger) (*Session, error) {
	creds := config.Credentials
	if config.Email == "" && !creds.Complete() {
		return nil, domain.NewConfigurationError("marketplace",
			"either email or access token, refresh token and user id are required")
	}
	if config.DeviceType == "" {
		config.DeviceType = defaultDeviceType
	}
	if config.AccessTokenLifetime <= 0 {
		config.AccessTokenLifetime = defaultAccessTokenLifetime
	}
	if config.MaxPollingTries <= 0 {
		config.MaxPollingTries = defaultMaxPollingTries
	}
	if config.PollingWaitTime < 0 {
		config.PollingWaitTime = defaultPollingWaitTime
	}

	state := StateUnauthenticated
	if creds.Complete() {
		state = StateAuthenticated
	} else {
		creds = domain.Credentials{}
	}

	return &Session{
		config:    config,
		creds:     creds,
		state:     state,
		transport: t,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

// State returns the current authentication state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Credentials returns a copy of the current tokens.
func (s *Session) Credentials() domain.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

// EnsureReady logs in when no tokens are held and refreshes them when the
// refresh window has elapsed. It returns the tokens to use for the next call.
func (s *Session) EnsureReady(ctx context.Context) (domain.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateLoginFailed {
		return domain.Credentials{}, s.loginErr
	}

	if !s.creds.Complete() {
		if err := s.login(ctx); err != nil {
			// Shutdown mid-login leaves the session retryable.
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.state = StateUnauthenticated
				return domain.Credentials{}, ctxErr
			}
			s.state = StateLoginFailed
			s.loginErr = err
			return domain.Credentials{}, err
		}
		return s.creds, nil
	}

	if s.refreshDue() {
		if err := s.refresh(ctx); err != nil {
			return domain.Credentials{}, err
		}
	}

	return s.creds, nil
}

func (s *Session) refreshDue() bool {
	if s.lastRefresh.IsZero() {
		return true
	}
	now := s.now()
	if now.Sub(s.lastRefresh) > s.config.AccessTokenLifetime {
		return true
	}
	if exp, ok := tokenExpiry(s.creds.AccessToken); ok && exp.Sub(now) < expiryRefreshSlack {
		return true
	}
	return false
}

// tokenExpiry reads the exp claim of a JWT access token without verifying it.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	StartupData  struct {
		User struct {
			UserID flexString `json:"user_id"`
		} `json:"user"`
	} `json:"startup_data"`
}

func (s *Session) refresh(ctx context.Context) error {
	s.state = StateRefreshing
	defer func() { s.state = StateAuthenticated }()

	resp, err := s.transport.post(ctx, refreshTokenPath, "", refreshRequest{RefreshToken: s.creds.RefreshToken})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return resp.apiError()
	}

	var tokens tokenResponse
	if err := resp.decode(&tokens); err != nil {
		return err
	}

	s.creds.AccessToken = tokens.AccessToken
	s.creds.RefreshToken = tokens.RefreshToken
	s.lastRefresh = s.now()
	s.logger.Debug("access token refreshed")
	return nil
}

type authByEmailRequest struct {
	DeviceType string `json:"device_type"`
	Email      string `json:"email"`
}

type authByEmailResponse struct {
	State     string `json:"state"`
	PollingID string `json:"polling_id"`
}

func (s *Session) login(ctx context.Context) error {
	if s.config.Email == "" {
		return domain.NewConfigurationError("marketplace", "email is required to log in")
	}

	s.state = StateEmailSubmitted
	resp, err := s.transport.post(ctx, authByEmailPath, "", authByEmailRequest{
		DeviceType: s.config.DeviceType,
		Email:      s.config.Email,
	})
	if err != nil {
		return &LoginError{Reason: "submit email", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &LoginError{StatusCode: resp.StatusCode, Err: resp.apiError()}
	}

	var first authByEmailResponse
	if err := resp.decode(&first); err != nil {
		return &LoginError{StatusCode: resp.StatusCode, Err: err}
	}

	switch first.State {
	case "TERMS":
		return &LoginError{
			StatusCode: resp.StatusCode,
			Reason:     "email " + s.config.Email + " is not linked to an account, sign up with this email first",
		}
	case "WAIT":
		return s.poll(ctx, &authAttempt{pollingID: first.PollingID})
	default:
		return &LoginError{StatusCode: resp.StatusCode, Reason: "unexpected login state " + first.State, Err: resp.apiError()}
	}
}

type pollingRequest struct {
	DeviceType       string `json:"device_type"`
	Email            string `json:"email"`
	RequestPollingID string `json:"request_polling_id"`
}

func (s *Session) poll(ctx context.Context, attempt *authAttempt) error {
	s.state = StatePolling

	for attempt.attempts < s.config.MaxPollingTries {
		attempt.attempts++

		resp, err := s.transport.post(ctx, authPollingPath, "", pollingRequest{
			DeviceType:       s.config.DeviceType,
			Email:            s.config.Email,
			RequestPollingID: attempt.pollingID,
		})
		if err != nil {
			return &LoginError{Reason: "poll login confirmation", Err: err}
		}

		switch resp.StatusCode {
		case http.StatusAccepted:
			s.logger.Warn("check your mailbox on a desktop to confirm the login, the mailbox on a phone with the app installed won't work",
				"attempt", attempt.attempts,
				"max_attempts", s.config.MaxPollingTries,
			)
			if err := s.sleep(ctx, s.config.PollingWaitTime); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &LoginError{Reason: "polling interrupted", Err: err}
			}
			attempt.waited += s.config.PollingWaitTime
		case http.StatusOK:
			var tokens tokenResponse
			if err := resp.decode(&tokens); err != nil {
				return &LoginError{StatusCode: resp.StatusCode, Err: err}
			}
			s.setTokens(tokens)
			s.logger.Info("logged in", "attempts", attempt.attempts)
			return nil
		default:
			return &LoginError{StatusCode: resp.StatusCode, Err: resp.apiError()}
		}
	}

	return &PollingError{Attempts: attempt.attempts, Waited: attempt.waited}
}

func (s *Session) setTokens(tokens tokenResponse) {
	s.creds = domain.Credentials{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		UserID:       string(tokens.StartupData.User.UserID),
	}
	s.lastRefresh = s.now()
	s.state = StateAuthenticated
	s.loginErr = nil
}

// SignUpRequest holds the account details for a new sign-up.
type SignUpRequest struct {
	Name                  string
	CountryID             string
	NewsletterOptIn       bool
	PushNotificationOptIn bool
}

type signUpPayload struct {
	CountryID             string `json:"country_id"`
	DeviceType            string `json:"device_type"`
	Email                 string `json:"email"`
	Name                  string `json:"name"`
	NewsletterOptIn       bool   `json:"newsletter_opt_in"`
	PushNotificationOptIn bool   `json:"push_notification_opt_in"`
}

type signUpResponse struct {
	LoginResponse tokenResponse `json:"login_response"`
}

// SignUp registers the configured email and stores the returned tokens.
func (s *Session) SignUp(ctx context.Context, req SignUpRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Email == "" {
		return domain.NewConfigurationError("marketplace", "email is required to sign up")
	}
	if req.CountryID == "" {
		req.CountryID = "GB"
	}

	resp, err := s.transport.post(ctx, signUpByEmailPath, "", signUpPayload{
		CountryID:             req.CountryID,
		DeviceType:            s.config.DeviceType,
		Email:                 s.config.Email,
		Name:                  req.Name,
		NewsletterOptIn:       req.NewsletterOptIn,
		PushNotificationOptIn: req.PushNotificationOptIn,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return resp.apiError()
	}

	var out signUpResponse
	if err := resp.decode(&out); err != nil {
		return err
	}
	s.setTokens(out.LoginResponse)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
