package auth

import (
	"errors"
	"fmt"
)

// Code is a provider error code, shared with the hosted identity service the
// clients were first written against.
type Code string

const (
	CodeUserNotFound         Code = "user-not-found"
	CodeInvalidCredential    Code = "invalid-credential"
	CodeInvalidEmail         Code = "invalid-email"
	CodeTooManyRequests      Code = "too-many-requests"
	CodeUserDisabled         Code = "user-disabled"
	CodeEmailAlreadyInUse    Code = "email-already-in-use"
	CodeWeakPassword         Code = "weak-password"
	CodeWrongPassword        Code = "wrong-password"
	CodeOperationNotAllowed  Code = "operation-not-allowed"
	CodeNetworkRequestFailed Code = "network-request-failed"
	CodeInvalidActionCode    Code = "invalid-action-code"
	CodeExpiredActionCode    Code = "expired-action-code"
)

type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth/%s: %v", e.Code, e.Err)
	}
	return "auth/" + string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code) *Error { return &Error{Code: code} }

// CodeOf returns the provider code carried by err, or "".
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

var messages = map[Code]string{
	CodeUserNotFound:         "Aucun compte n'est associé à cet email.",
	CodeInvalidCredential:    "Adresse email ou mot de passe incorrect",
	CodeInvalidEmail:         "L'adresse email n'est pas valide.",
	CodeTooManyRequests:      "Trop de tentatives. Veuillez réessayer plus tard.",
	CodeUserDisabled:         "Ce compte a été désactivé",
	CodeEmailAlreadyInUse:    "Cet email est déjà utilisé par un autre compte.",
	CodeWeakPassword:         "Le mot de passe est trop faible (minimum 6 caractères).",
	CodeWrongPassword:        "L'adresse email ou le mot de passe est incorrect.",
	CodeOperationNotAllowed:  "L'inscription est temporairement désactivée.",
	CodeNetworkRequestFailed: "Problème de connexion réseau. Veuillez vérifier votre connexion.",
	CodeInvalidActionCode:    "Ce lien n'est pas valide.",
	CodeExpiredActionCode:    "Ce lien a expiré.",
}

const fallbackMessage = "Une erreur est survenue. Veuillez réessayer."

// Message maps a code to the text shown to end users.
func Message(code Code) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return fallbackMessage
}
