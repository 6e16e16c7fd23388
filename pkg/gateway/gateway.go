// Package gateway holds the business operations behind the HTTP routes:
// login, the cached user listing, the random dog image and the secret data.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/openshift/directory-gateway/pkg/authorize"
	"github.com/openshift/directory-gateway/pkg/session"
	"github.com/openshift/directory-gateway/pkg/upstream"
)

// DefaultDogFallbackURL is served whenever the image service cannot provide an image.
const DefaultDogFallbackURL = "https://images.dog.ceo/breeds/hound-afghan/n02088094_1003.jpg"

const secretNote = "This is super secret data stored in memory."

// CredentialsAuthenticator checks a username and password pair.
type CredentialsAuthenticator interface {
	AuthenticateCredentials(ctx context.Context, username, password string) (bool, error)
}

// TokenIssuer mints a bearer token for a username.
type TokenIssuer interface {
	Issue(username string) (string, error)
}

// UsersGetter returns the user directory, possibly from a cache.
type UsersGetter interface {
	Get(ctx context.Context) ([]upstream.User, error)
}

// ImageFetcher returns a random image from the image service.
type ImageFetcher interface {
	FetchImage(ctx context.Context) (*upstream.Image, error)
}

type LoginResponse struct {
	Token string `json:"token"`
	User  string `json:"user"`
}

type SimplifiedUser struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type UsersResponse struct {
	Items []SimplifiedUser `json:"items"`
	Count int              `json:"count"`
}

type DogResponse struct {
	Image  string  `json:"image"`
	Status string  `json:"status"`
	Error  *string `json:"error,omitempty"`
}

type SecretData struct {
	Owner *string `json:"owner"`
	Note  string  `json:"note"`
}

type Service struct {
	credentials CredentialsAuthenticator
	tokens      TokenIssuer
	users       UsersGetter
	images      ImageFetcher
	session     *session.State
	limiter     *loginLimiter
	fallbackURL string
	now         func() time.Time
	logger      log.Logger
}

type Option func(*Service)

// WithDogFallbackURL sets the image returned when the image service fails.
func WithDogFallbackURL(url string) Option {
	return func(s *Service) {
		if len(url) > 0 {
			s.fallbackURL = url
		}
	}
}

// WithLoginRateLimit allows at most one login attempt per username every
// interval. A zero interval disables the limit.
func WithLoginRateLimit(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.limiter = newLoginLimiter(interval)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithLogger(logger log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(credentials CredentialsAuthenticator, tokens TokenIssuer, users UsersGetter, images ImageFetcher, state *session.State, opts ...Option) *Service {
	s := &Service{
		credentials: credentials,
		tokens:      tokens,
		users:       users,
		images:      images,
		session:     state,
		fallbackURL: DefaultDogFallbackURL,
		now:         time.Now,
		logger:      log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.With(s.logger, "component", "gateway")
	return s
}

// Login checks the credentials, issues a token and makes username the owner
// of the secret data.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	if s.limiter != nil {
		if wait := s.limiter.reserve(username, clientAddr(ctx), s.now()); wait > 0 {
			return nil, &LimitError{RetryAfter: wait}
		}
	}

	ok, err := s.credentials.AuthenticateCredentials(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		level.Debug(s.logger).Log("msg", "login rejected", "user", username)
		return nil, authorize.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(username)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.session.RecordLogin(username)

	return &LoginResponse{Token: token, User: username}, nil
}

// ListUsers returns the simplified user directory. It fails with an
// *UnavailableError when the directory cannot be fetched; stale entries are
// never served.
func (s *Service) ListUsers(ctx context.Context) (*UsersResponse, error) {
	users, err := s.users.Get(ctx)
	if err != nil {
		level.Warn(s.logger).Log("msg", "user directory unavailable", "err", err)
		return nil, &UnavailableError{cause: err}
	}

	items := make([]SimplifiedUser, 0, len(users))
	for _, u := range users {
		items = append(items, SimplifiedUser{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	return &UsersResponse{Items: items, Count: len(items)}, nil
}

// RandomDog never fails. When the image service misbehaves the fallback image
// is returned with a degraded status and the reason in Error.
func (s *Service) RandomDog(ctx context.Context) *DogResponse {
	img, err := s.images.FetchImage(ctx)
	if err != nil {
		var se *upstream.StatusError
		if errors.As(err, &se) {
			return s.fallback("fallback", fmt.Sprintf("upstream:%d", se.StatusCode))
		}
		level.Warn(s.logger).Log("msg", "image service unavailable", "err", err)
		return s.fallback("error", err.Error())
	}

	if len(img.Message) == 0 {
		return s.fallback("fallback", "missing-image")
	}

	status := img.Status
	if len(status) == 0 {
		status = "ok"
	}
	return &DogResponse{Image: img.Message, Status: status}
}

func (s *Service) fallback(status, reason string) *DogResponse {
	return &DogResponse{Image: s.fallbackURL, Status: status, Error: &reason}
}

// SecretData returns the secret note owned by the most recent login, if any.
func (s *Service) SecretData(_ context.Context) *SecretData {
	data := &SecretData{Note: secretNote}
	if owner, ok := s.session.CurrentOwner(); ok {
		data.Owner = &owner
	}
	return data
}

// ErrUpstreamUnavailable matches every *UnavailableError.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// UnavailableError reports a failed user directory fetch. Upstream status and
// payload failures map to 502, everything else to 503.
type UnavailableError struct {
	cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", ErrUpstreamUnavailable, e.cause)
}

func (e *UnavailableError) Unwrap() error {
	return e.cause
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

func (e *UnavailableError) HTTPStatusCode() int {
	var se *upstream.StatusError
	if errors.As(e.cause, &se) || errors.Is(e.cause, upstream.ErrMalformedResponse) {
		return http.StatusBadGateway
	}
	return http.StatusServiceUnavailable
}

// Message is safe to show to callers.
func (e *UnavailableError) Message() string {
	var se *upstream.StatusError
	switch {
	case errors.As(e.cause, &se):
		return fmt.Sprintf("External API returned status %d", se.StatusCode)
	case errors.Is(e.cause, upstream.ErrMalformedResponse):
		return "External API returned a malformed response"
	default:
		return "Failed to fetch users"
	}
}
