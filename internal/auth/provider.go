// Package auth is the identity provider the task service relies on for
// account registration, login, email verification and password reset.
package auth

import (
	"context"
	"time"

	"taskmanager/internal/model"
)

// Session is the result of a successful login. Token is only ever returned
// here; the provider keeps its hash.
type Session struct {
	Token         string    `json:"token"`
	UserID        string    `json:"userId"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Provider errors are *Error values with a Code.
type Provider interface {
	Login(ctx context.Context, email, password string) (Session, error)
	Register(ctx context.Context, email, password string) (model.User, error)
	Logout(ctx context.Context, token string) error
	SendEmailVerification(ctx context.Context, userID string) error
	IsEmailVerified(ctx context.Context, userID string) (bool, error)
	Reload(ctx context.Context, userID string) (model.User, error)
	SendPasswordResetEmail(ctx context.Context, email string) error
}

// Mail is one outgoing message.
type Mail struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	SendMail(ctx context.Context, m Mail) error
}

type MailerFunc func(ctx context.Context, m Mail) error

func (f MailerFunc) SendMail(ctx context.Context, m Mail) error { return f(ctx, m) }
