package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ggoodman/drinkshop/internal/jwks"
	"github.com/ggoodman/drinkshop/internal/jwtauth"
)

// Code identifies why a request was not authorized. It is rendered as the
// "code" member of the JSON error body.
type Code string

const (
	CodeMissingToken         Code = "missing_token"
	CodeMalformedToken       Code = "malformed_token"
	CodeUnsupportedAlgorithm Code = "unsupported_algorithm"
	CodeKeyNotFound          Code = "key_not_found"
	CodeKeyFetchError        Code = "key_fetch_error"
	CodeKeyFetchTimeout      Code = "key_fetch_timeout"
	CodeInvalidSignature     Code = "invalid_signature"
	CodeMalformedClaims      Code = "malformed_claims"
	CodeExpired              Code = "expired"
	CodeNotYetValid          Code = "not_yet_valid"
	CodeWrongAudience        Code = "wrong_audience"
	CodeWrongIssuer          Code = "wrong_issuer"
	CodeNoPermissionsClaim   Code = "no_permissions_claim"
	CodeMissingPermission    Code = "missing_permission"
)

var messages = map[Code]string{
	CodeMissingToken:         "authorization header is missing or is not a bearer token",
	CodeMalformedToken:       "token is malformed",
	CodeUnsupportedAlgorithm: "token signing algorithm is not allowed",
	CodeKeyNotFound:          "token signing key is unknown",
	CodeKeyFetchError:        "signing keys could not be retrieved",
	CodeKeyFetchTimeout:      "timed out retrieving signing keys",
	CodeInvalidSignature:     "token signature is invalid",
	CodeMalformedClaims:      "token claims are malformed",
	CodeExpired:              "token has expired",
	CodeNotYetValid:          "token is not yet valid",
	CodeWrongAudience:        "token audience is not accepted",
	CodeWrongIssuer:          "token issuer is not accepted",
	CodeNoPermissionsClaim:   "token carries no permissions",
	CodeMissingPermission:    "permission not found",
}

// Failure is the outcome of a rejected authorization attempt. Every failure
// renders as 401.
type Failure struct {
	Code    Code
	Message string
	Status  int
	// Permission is the permission that was required, if the gate rejected
	// the request.
	Permission string

	err error
}

func (f *Failure) Error() string {
	if f.err != nil {
		return fmt.Sprintf("%s: %v", f.Code, f.err)
	}
	return string(f.Code)
}

func (f *Failure) Unwrap() error { return f.err }

// NewFailure builds a Failure for code wrapping the underlying cause.
func NewFailure(code Code, cause error) *Failure {
	return &Failure{
		Code:    code,
		Message: messages[code],
		Status:  http.StatusUnauthorized,
		err:     cause,
	}
}

var classifications = []struct {
	target error
	code   Code
}{
	{jwtauth.ErrMalformedToken, CodeMalformedToken},
	{jwtauth.ErrUnsupportedAlgorithm, CodeUnsupportedAlgorithm},
	{jwks.ErrKeyNotFound, CodeKeyNotFound},
	{jwks.ErrKeyFetchTimeout, CodeKeyFetchTimeout},
	{jwks.ErrKeyFetch, CodeKeyFetchError},
	{jwtauth.ErrInvalidSignature, CodeInvalidSignature},
	{jwtauth.ErrMalformedClaims, CodeMalformedClaims},
	{jwtauth.ErrExpired, CodeExpired},
	{jwtauth.ErrNotYetValid, CodeNotYetValid},
	{jwtauth.ErrWrongAudience, CodeWrongAudience},
	{jwtauth.ErrWrongIssuer, CodeWrongIssuer},
	{ErrNoPermissionsClaim, CodeNoPermissionsClaim},
	{ErrMissingPermission, CodeMissingPermission},
}

// FailureFromError classifies a verifier or gate error. Errors that match no
// known kind are reported as malformed tokens.
func FailureFromError(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	for _, c := range classifications {
		if errors.Is(err, c.target) {
			return NewFailure(c.code, err)
		}
	}
	return NewFailure(CodeMalformedToken, err)
}

// challenge builds the RFC 6750 WWW-Authenticate value for f:
//
//	Bearer realm="<realm>", error="...", error_description="..."
//
// A request without credentials gets a bare challenge with no error code.
func (f *Failure) challenge(realm string) string {
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	pieces := make([]string, 0, 4)
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	switch f.Code {
	case CodeMissingToken:
	case CodeNoPermissionsClaim, CodeMissingPermission:
		pieces = append(pieces, `error="insufficient_scope"`, fmt.Sprintf(`error_description="%s"`, esc(f.Message)))
		if f.Permission != "" {
			pieces = append(pieces, fmt.Sprintf(`scope="%s"`, esc(f.Permission)))
		}
	default:
		pieces = append(pieces, `error="invalid_token"`, fmt.Sprintf(`error_description="%s"`, esc(f.Message)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// writeFailure renders f as a JSON error body with a Bearer challenge.
func writeFailure(w http.ResponseWriter, realm string, f *Failure) {
	w.Header().Add("WWW-Authenticate", f.challenge(realm))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.Status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   f.Status,
		"message": f.Message,
		"code":    f.Code,
	})
}
