package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pocket_archiver/internal/domain"
)

// TokenCache persists the access token between runs.
type TokenCache interface {
	// Load returns an empty token when nothing is cached.
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// Authorizer performs the remote side of the handshake.
type Authorizer interface {
	ConsumerKey() string
	RequestCode(ctx context.Context) (string, error)
	AuthorizeURL(code string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
}

// Approver blocks until the operator has approved access at authorizeURL.
type Approver interface {
	AwaitApproval(ctx context.Context, authorizeURL string) error
}

// Store hands out the cached credential, running the handshake once when
// nothing is cached.
type Store struct {
	cache      TokenCache
	authorizer Authorizer
	approver   Approver
	logger     *slog.Logger
}

func NewStore(cache TokenCache, authorizer Authorizer, approver Approver, logger *slog.Logger) *Store {
	return &Store{
		cache:      cache,
		authorizer: authorizer,
		approver:   approver,
		logger:     logger.With("component", "credential"),
	}
}

// Obtain returns the cached credential without network I/O, or performs the
// three-step handshake and caches the resulting token.
func (s *Store) Obtain(ctx context.Context) (domain.Credential, error) {
	cred := domain.Credential{ConsumerKey: s.authorizer.ConsumerKey()}

	token, err := s.cache.Load()
	if err != nil {
		s.logger.Warn("failed to read cached token, re-authorizing", "error", err)
	}
	if token != "" {
		cred.AccessToken = token
		s.logger.Debug("using cached access token")
		return cred, nil
	}

	code, err := s.authorizer.RequestCode(ctx)
	if err != nil {
		return domain.Credential{}, &domain.AuthError{Step: domain.AuthStepRequestCode, Err: err}
	}

	if err := s.approver.AwaitApproval(ctx, s.authorizer.AuthorizeURL(code)); err != nil {
		if !errors.Is(err, domain.ErrNotApproved) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", domain.ErrNotApproved, err)
		}
		return domain.Credential{}, &domain.AuthError{Step: domain.AuthStepApproval, Err: err}
	}

	token, err = s.authorizer.ExchangeCode(ctx, code)
	if err != nil {
		return domain.Credential{}, &domain.AuthError{Step: domain.AuthStepExchange, Err: err}
	}

	if err := s.cache.Save(token); err != nil {
		return domain.Credential{}, fmt.Errorf("save access token: %w", err)
	}

	s.logger.Info("access token cached")
	cred.AccessToken = token
	return cred, nil
}

// Forget drops the cached token so the next Obtain re-authorizes.
func (s *Store) Forget() error {
	if err := s.cache.Clear(); err != nil {
		return fmt.Errorf("clear access token: %w", err)
	}
	return nil
}
