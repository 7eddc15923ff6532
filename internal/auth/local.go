package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"taskmanager/internal/eventbus"
	"taskmanager/internal/model"
	"taskmanager/internal/storage"
	logx "taskmanager/pkg/logx"
)

var emailPattern = regexp.MustCompile(`^\w+([.-]?\w+)*@\w+([.-]?\w+)*(\.\w{2,3})+$`)

// ValidEmail reports whether s looks like an email address.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// UserStore is the user part of storage.Store.
type UserStore interface {
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	PutUser(ctx context.Context, u model.User) error
}

type Config struct {
	AllowRegistration bool
	MinPasswordLength int
	BcryptCost        int
	TokenTTL          time.Duration
	SessionTTL        time.Duration
	// Failed logins allowed per email per minute, with LoginBurst headroom.
	LoginRatePerMinute int
	LoginBurst         int
	// BaseURL prefixes the links put in verification and reset mails.
	BaseURL string
}

func (c Config) withDefaults() Config {
	if c.MinPasswordLength <= 0 {
		c.MinPasswordLength = 6
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * 24 * time.Hour
	}
	if c.LoginRatePerMinute <= 0 {
		c.LoginRatePerMinute = 5
	}
	if c.LoginBurst <= 0 {
		c.LoginBurst = 5
	}
	return c
}

type session struct {
	userID  string
	expires time.Time
}

// Local is a store-backed Provider.
type Local struct {
	cfg    Config
	users  UserStore
	mailer Mailer
	now    func() time.Time
	log    logx.Logger
	bus    eventbus.Bus

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	sessions map[string]session // token hash -> session
}

type LocalOption func(*Local)

func WithNow(now func() time.Time) LocalOption { return func(l *Local) { l.now = now } }

func WithLogger(log logx.Logger) LocalOption { return func(l *Local) { l.log = log } }

func WithBus(bus eventbus.Bus) LocalOption { return func(l *Local) { l.bus = bus } }

func NewLocal(cfg Config, users UserStore, mailer Mailer, opts ...LocalOption) *Local {
	l := &Local{
		cfg:      cfg.withDefaults(),
		users:    users,
		mailer:   mailer,
		now:      time.Now,
		limiters: map[string]*rate.Limiter{},
		sessions: map[string]session{},
	}
	for _, o := range opts {
		o(l)
	}
	if l.log.IsZero() {
		l.log = logx.Nop()
	}
	if l.bus == nil {
		l.bus = eventbus.Nop()
	}
	if l.mailer == nil {
		l.mailer = LogMailer{Log: l.log}
	}
	return l
}

var _ Provider = (*Local)(nil)

func (l *Local) Register(ctx context.Context, email, password string) (model.User, error) {
	if !l.cfg.AllowRegistration {
		return model.User{}, newError(CodeOperationNotAllowed)
	}
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return model.User{}, newError(CodeInvalidEmail)
	}
	if len(password) < l.cfg.MinPasswordLength {
		return model.User{}, newError(CodeWeakPassword)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.cfg.BcryptCost)
	if err != nil {
		return model.User{}, &Error{Code: CodeWeakPassword, Err: err}
	}
	u, err := l.users.CreateUser(ctx, model.User{
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    l.now(),
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return model.User{}, newError(CodeEmailAlreadyInUse)
		}
		return model.User{}, storeError(err)
	}
	l.log.Info("user registered", logx.String("user", u.ID))
	l.bus.Publish(eventbus.Event{Type: "auth.registered", Data: map[string]string{"user": u.ID}})

	if err := l.SendEmailVerification(ctx, u.ID); err != nil {
		return u, err
	}
	return l.users.GetUser(ctx, u.ID)
}

// Login verifies the credentials. Unknown emails and wrong passwords both
// report CodeInvalidCredential. Only failed attempts count against the
// per-email limit.
func (l *Local) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return Session{}, newError(CodeInvalidEmail)
	}
	now := l.now()
	if !l.loginAllowed(email, now) {
		return Session{}, newError(CodeTooManyRequests)
	}

	u, err := l.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			l.loginFailed(email, now)
			return Session{}, newError(CodeInvalidCredential)
		}
		return Session{}, storeError(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		l.loginFailed(email, now)
		l.log.Warn("login failed", logx.String("user", u.ID))
		return Session{}, newError(CodeInvalidCredential)
	}
	if u.Disabled {
		return Session{}, newError(CodeUserDisabled)
	}

	token, hash, err := newToken()
	if err != nil {
		return Session{}, &Error{Code: CodeNetworkRequestFailed, Err: err}
	}
	s := Session{
		Token:         token,
		UserID:        u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		ExpiresAt:     now.Add(l.cfg.SessionTTL),
	}
	l.mu.Lock()
	l.sessions[hash] = session{userID: u.ID, expires: s.ExpiresAt}
	l.pruneLocked(now)
	l.mu.Unlock()
	l.bus.Publish(eventbus.Event{Type: "auth.login", Data: map[string]string{"user": u.ID}})
	return s, nil
}

// Authenticate resolves a session token to its user.
func (l *Local) Authenticate(ctx context.Context, token string) (model.User, error) {
	l.mu.Lock()
	s, ok := l.sessions[hashToken(token)]
	l.mu.Unlock()
	if !ok || !l.now().Before(s.expires) {
		return model.User{}, newError(CodeInvalidCredential)
	}
	return l.Reload(ctx, s.userID)
}

// Logout forgets the session. Unknown tokens are not an error.
func (l *Local) Logout(_ context.Context, token string) error {
	l.mu.Lock()
	delete(l.sessions, hashToken(token))
	l.mu.Unlock()
	return nil
}

func (l *Local) SendEmailVerification(ctx context.Context, userID string) error {
	u, err := l.Reload(ctx, userID)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return nil
	}
	token, hash, err := newToken()
	if err != nil {
		return &Error{Code: CodeNetworkRequestFailed, Err: err}
	}
	u.VerifyTokenHash = hash
	u.VerifyExpires = l.now().Add(l.cfg.TokenTTL)
	if err := l.users.PutUser(ctx, u); err != nil {
		return storeError(err)
	}
	return l.mail(ctx, Mail{
		To:      u.Email,
		Subject: "Vérifiez votre adresse email",
		Body:    "Confirmez votre adresse email : " + l.link("verify", token),
	})
}

// ConfirmEmail completes the verification flow started by
// SendEmailVerification.
func (l *Local) ConfirmEmail(ctx context.Context, userID, token string) error {
	u, err := l.Reload(ctx, userID)
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return nil
	}
	if err := l.checkToken(u.VerifyTokenHash, u.VerifyExpires, token); err != nil {
		return err
	}
	u.EmailVerified = true
	u.VerifyTokenHash = ""
	u.VerifyExpires = time.Time{}
	if err := l.users.PutUser(ctx, u); err != nil {
		return storeError(err)
	}
	l.bus.Publish(eventbus.Event{Type: "auth.verified", Data: map[string]string{"user": u.ID}})
	return nil
}

func (l *Local) IsEmailVerified(ctx context.Context, userID string) (bool, error) {
	u, err := l.Reload(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.EmailVerified, nil
}

// Reload returns the current user record.
func (l *Local) Reload(ctx context.Context, userID string) (model.User, error) {
	u, err := l.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.User{}, newError(CodeUserNotFound)
		}
		return model.User{}, storeError(err)
	}
	return u, nil
}

func (l *Local) SendPasswordResetEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return newError(CodeInvalidEmail)
	}
	u, err := l.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return newError(CodeUserNotFound)
		}
		return storeError(err)
	}
	token, hash, err := newToken()
	if err != nil {
		return &Error{Code: CodeNetworkRequestFailed, Err: err}
	}
	u.ResetTokenHash = hash
	u.ResetExpires = l.now().Add(l.cfg.TokenTTL)
	if err := l.users.PutUser(ctx, u); err != nil {
		return storeError(err)
	}
	return l.mail(ctx, Mail{
		To:      u.Email,
		Subject: "Réinitialisation du mot de passe",
		Body:    "Choisissez un nouveau mot de passe : " + l.link("reset", token),
	})
}

// ResetPassword completes the reset flow and drops every open session of
// the user.
func (l *Local) ResetPassword(ctx context.Context, email, token, password string) error {
	u, err := l.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return newError(CodeUserNotFound)
		}
		return storeError(err)
	}
	if err := l.checkToken(u.ResetTokenHash, u.ResetExpires, token); err != nil {
		return err
	}
	if len(password) < l.cfg.MinPasswordLength {
		return newError(CodeWeakPassword)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.cfg.BcryptCost)
	if err != nil {
		return &Error{Code: CodeWeakPassword, Err: err}
	}
	u.PasswordHash = string(hash)
	u.ResetTokenHash = ""
	u.ResetExpires = time.Time{}
	if err := l.users.PutUser(ctx, u); err != nil {
		return storeError(err)
	}

	l.mu.Lock()
	for k, s := range l.sessions {
		if s.userID == u.ID {
			delete(l.sessions, k)
		}
	}
	l.mu.Unlock()
	l.log.Info("password reset", logx.String("user", u.ID))
	return nil
}

func (l *Local) checkToken(wantHash string, expires time.Time, token string) error {
	if wantHash == "" || hashToken(token) != wantHash {
		return newError(CodeInvalidActionCode)
	}
	if !l.now().Before(expires) {
		return newError(CodeExpiredActionCode)
	}
	return nil
}

// loginAllowed reports whether email has a token left. Emails without a
// limiter have never failed and are always allowed.
func (l *Local) loginAllowed(email string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[strings.ToLower(email)]
	return !ok || lim.TokensAt(now) >= 1
}

func (l *Local) loginFailed(email string, now time.Time) {
	key := strings.ToLower(email)
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.cfg.LoginRatePerMinute)), l.cfg.LoginBurst)
		l.limiters[key] = lim
	}
	lim.AllowN(now, 1)
	l.pruneLocked(now)
}

// pruneLocked drops expired sessions and limiters that refilled to full
// burst; a fresh limiter behaves the same.
func (l *Local) pruneLocked(now time.Time) {
	for k, s := range l.sessions {
		if !now.Before(s.expires) {
			delete(l.sessions, k)
		}
	}
	for k, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(l.limiters, k)
		}
	}
}

func (l *Local) mail(ctx context.Context, m Mail) error {
	if err := l.mailer.SendMail(ctx, m); err != nil {
		l.log.Warn("mail not sent", logx.String("subject", m.Subject), logx.Err(err))
		return &Error{Code: CodeNetworkRequestFailed, Err: err}
	}
	return nil
}

func (l *Local) link(action, token string) string {
	base := strings.TrimRight(l.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/%s?token=%s", base, action, token)
}

func storeError(err error) error {
	return &Error{Code: CodeNetworkRequestFailed, Err: err}
}

func newToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// LogMailer writes mails to the log instead of sending them.
type LogMailer struct {
	Log logx.Logger
}

func (m LogMailer) SendMail(_ context.Context, mail Mail) error {
	m.Log.Info("mail", logx.String("to", mail.To), logx.String("subject", mail.Subject), logx.String("body", mail.Body))
	return nil
}
