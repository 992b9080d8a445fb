package session

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go-quest-session/internal/transport"
)

type Kind int

const (
	KindServer Kind = iota
	KindValidation
	KindAuthentication
	KindVerificationPending
	KindConflict
	KindNetwork
	KindFatalSession
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindVerificationPending:
		return "verification_pending"
	case KindConflict:
		return "conflict"
	case KindNetwork:
		return "network"
	case KindFatalSession:
		return "fatal_session"
	case KindStorage:
		return "storage"
	default:
		return "server"
	}
}

// Error is the single failure type surfaced by Manager operations. Message is
// safe to show to a user; it never contains token values.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a session Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

const (
	opInitialize     = "initialize"
	opLogin          = "login"
	opRegister       = "register"
	opVerifyEmail    = "verify_email"
	opResendCode     = "resend_verification_code"
	opRequestReset   = "request_password_reset"
	opResetPassword  = "reset_password"
	opRefresh        = "refresh"
	opCurrentUser    = "current_user"
	opLogout         = "logout"
	opChangePassword = "change_password"
)

var (
	verificationPendingPhrases = []string{"verify your email", "not verified", "unverified", "verification pending", "pending verification"}
	conflictPhrases            = []string{"already exists", "already registered", "already in use", "already taken"}
)

func validationError(op string, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

func notAuthenticated(op string) *Error {
	return &Error{Kind: KindAuthentication, Op: op, Message: "Not authenticated"}
}

// classify maps a transport failure onto the error taxonomy. fallback is used
// whenever the server supplied no message.
func classify(op string, err error, fallback string) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.Message
		if msg == "" {
			msg = fallback
		}
		return &Error{Kind: kindForStatus(statusErr.Status, msg), Op: op, Message: msg, Status: statusErr.Status, Err: err}
	}

	if errors.Is(err, transport.ErrNetwork) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindNetwork, Op: op, Message: fallback, Err: err}
	}

	return &Error{Kind: KindServer, Op: op, Message: fallback, Err: err}
}

func kindForStatus(status int, message string) Kind {
	lower := strings.ToLower(message)

	if containsAny(lower, verificationPendingPhrases) {
		return KindVerificationPending
	}
	if status == http.StatusConflict || containsAny(lower, conflictPhrases) {
		return KindConflict
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthentication
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	default:
		return KindServer
	}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
