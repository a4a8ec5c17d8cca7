package sso

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// TokenExchangeError is returned when the SSO token or revoke endpoint answers
// with a non-2xx status.
type TokenExchangeError struct {
	StatusCode int
	Message    string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("sso token endpoint returned HTTP %d: %s", e.StatusCode, e.Message)
}

// asTokenExchangeError converts an oauth2 retrieval failure into a
// TokenExchangeError. Other errors (transport, context) are returned as is.
func asTokenExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	out := &TokenExchangeError{Message: re.ErrorDescription}
	if re.Response != nil {
		out.StatusCode = re.Response.StatusCode
	}
	if out.Message == "" {
		out.Message = re.ErrorCode
	}
	if out.Message == "" {
		out.Message = strings.TrimSpace(string(re.Body))
	}
	return out
}
