package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tasktrail/internal/domain"
	"tasktrail/internal/repo"
)

// BotTokenPrefix is part of the wire contract: middleware routes the auth
// strategy on it.
const BotTokenPrefix = "bot_"

const (
	sessionTTL      = 7 * 24 * time.Hour
	sessionTokenLen = 32
	botTokenLen     = 32
)

var (
	ErrInvalidTokenFormat     = errors.New("invalid token format")
	ErrInvalidOrInactiveToken = errors.New("invalid or inactive token")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrInvalidCredentials     = errors.New("invalid username or password")
)

// Service resolves credentials into principals and manages sessions.
type Service struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Resolve turns a raw credential into a Principal. Bot tokens are routed on
// the bot_ prefix; anything else is treated as a session id.
func (s Service) Resolve(ctx context.Context, credential string) (Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Principal{}, ErrUnauthenticated
	}
	if strings.HasPrefix(credential, BotTokenPrefix) {
		return s.ResolveToken(ctx, credential)
	}
	return s.ResolveSession(ctx, credential)
}

// ResolveToken authenticates a bot API token. Deliberately read only: bots
// authenticate at high frequency and a per-call last-used write caused
// contention in the predecessor system. Track usage out of band if needed.
func (s Service) ResolveToken(ctx context.Context, token string) (Principal, error) {
	if !strings.HasPrefix(token, BotTokenPrefix) {
		return Principal{}, ErrInvalidTokenFormat
	}
	bot, err := s.Repo.GetActiveBotByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Principal{}, ErrInvalidOrInactiveToken
		}
		return Principal{}, err
	}
	perms, err := NewCapabilitySet(bot.Permissions)
	if err != nil {
		return Principal{}, fmt.Errorf("bot %s: %w", bot.ID, err)
	}
	p := Principal{
		ID:          bot.ID,
		Username:    bot.Username,
		Type:        PrincipalBot,
		OwnerID:     bot.OwnerID,
		Permissions: perms,
	}
	// The bot's effective team is its owner's team, one hop.
	owner, err := s.Repo.GetUser(ctx, bot.OwnerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Principal{}, ErrInvalidOrInactiveToken
		}
		return Principal{}, err
	}
	p.TeamID = owner.TeamID
	return p, nil
}

// ResolveSession authenticates a human session id against a non-expired
// session joined to an active user.
func (s Service) ResolveSession(ctx context.Context, sessionID string) (Principal, error) {
	now := s.now().UTC().Format(time.RFC3339)
	u, err := s.Repo.GetSessionUser(ctx, sessionID, now)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, err
	}
	return Principal{
		ID:       u.ID,
		Username: u.Username,
		FullName: u.FullName,
		Type:     PrincipalHuman,
		TeamID:   u.TeamID,
	}, nil
}

// Login verifies a password and mints a 7-day session.
func (s Service) Login(ctx context.Context, username, password string) (domain.Session, domain.User, error) {
	u, err := s.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Session{}, domain.User{}, ErrInvalidCredentials
		}
		return domain.Session{}, domain.User{}, err
	}
	if !u.IsActive || !VerifyPassword(password, u.PasswordHash, u.PasswordSalt) {
		return domain.Session{}, domain.User{}, ErrInvalidCredentials
	}
	token, err := NewToken(sessionTokenLen)
	if err != nil {
		return domain.Session{}, domain.User{}, err
	}
	now := s.now().UTC()
	sess := domain.Session{
		ID:        token,
		UserID:    u.ID,
		CreatedAt: now.Format(time.RFC3339),
		ExpiresAt: now.Add(sessionTTL).Format(time.RFC3339),
	}
	if err := s.Repo.InsertSession(ctx, sess); err != nil {
		return domain.Session{}, domain.User{}, err
	}
	ts := now.Format(time.RFC3339)
	if err := s.Repo.UpdateLastLogin(ctx, u.ID, ts); err != nil {
		return domain.Session{}, domain.User{}, err
	}
	u.LastLogin = &ts
	return sess, u, nil
}

// Logout discards a session. Unknown ids are not an error.
func (s Service) Logout(ctx context.Context, sessionID string) error {
	return s.Repo.DeleteSession(ctx, sessionID)
}

// NewBotToken mints a bot API token with the wire prefix.
func NewBotToken() (string, error) {
	raw, err := NewToken(botTokenLen)
	if err != nil {
		return "", err
	}
	return BotTokenPrefix + raw, nil
}

// NewID returns a fresh entity id.
func NewID() string {
	return uuid.New().String()
}
