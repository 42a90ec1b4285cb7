// Error taxonomy shared by the dispatcher, channels and lists. Failures are
// soft (reported to the client, connection stays open) or hard (reported,
// then the connection is closed).

package fault

import "errors"

type Kind int

const (
	KindAuthentication Kind = iota // not logged in
	KindAuthorization              // logged in but not entitled
	KindRateLimited                // retry interval not expired
	KindTooManyAttempts            // attempt counter exhausted
	KindAccessDenied               // bad credentials
	KindNotFound                   // unknown channel/list/user or not a member
	KindNotJoined                  // operation requires prior join
	KindValidation                 // missing required message field
	KindIndex                      // list index out of range
	KindProtocol                   // malformed envelope; the only hard kind
)

type Failure struct {
	Kind    Kind
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

// Hard reports whether the failure must terminate the connection after the
// error frame is sent.
func (f *Failure) Hard() bool {
	return f.Kind == KindProtocol
}

// Of extracts the Failure from an error chain.
func Of(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}

func Authentication(msg string) *Failure {
	if msg == "" {
		msg = "You are not logged in."
	}
	return &Failure{Kind: KindAuthentication, Message: msg}
}

func Authorization(msg string) *Failure {
	if msg == "" {
		msg = "You are not allowed to join this channel."
	}
	return &Failure{Kind: KindAuthorization, Message: msg}
}

func RateLimited(msg string) *Failure {
	if msg == "" {
		msg = "Minimum retry interval not expired."
	}
	return &Failure{Kind: KindRateLimited, Message: msg}
}

func TooManyAttempts(msg string) *Failure {
	if msg == "" {
		msg = "Too many attempts."
	}
	return &Failure{Kind: KindTooManyAttempts, Message: msg}
}

func AccessDenied(msg string) *Failure {
	if msg == "" {
		msg = "Access Denied."
	}
	return &Failure{Kind: KindAccessDenied, Message: msg}
}

func NotFound(msg string) *Failure {
	if msg == "" {
		msg = "Not found."
	}
	return &Failure{Kind: KindNotFound, Message: msg}
}

func NotJoined(msg string) *Failure {
	if msg == "" {
		msg = "Not joined to channel."
	}
	return &Failure{Kind: KindNotJoined, Message: msg}
}

func Validation(msg string) *Failure {
	if msg == "" {
		msg = "Data validation error."
	}
	return &Failure{Kind: KindValidation, Message: msg}
}

func Index(msg string) *Failure {
	if msg == "" {
		msg = "Index out of range."
	}
	return &Failure{Kind: KindIndex, Message: msg}
}

func Protocol(msg string) *Failure {
	if msg == "" {
		msg = "Malformed message."
	}
	return &Failure{Kind: KindProtocol, Message: msg}
}
