// Package oauth performs the client-credentials exchange against the
// VoipNow identity endpoint and classifies its failures. It is the only
// place the application talks to /oauth/token.php.
package oauth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/alexjbarnes/voipnow-mcp/internal/token"
)

const (
	// issueTimeout bounds the whole exchange, connectTimeout just the
	// TCP connect. Matches the provisioning endpoint's own limits.
	issueTimeout   = 30 * time.Second
	connectTimeout = 5 * time.Second

	// maxErrorBody caps how much of an error response is read when
	// looking for the OAuth error code.
	maxErrorBody = 4 * 1024

	userAgent = "VoipNow Provisioning MCP"
)

// Kind classifies an issuance failure.
type Kind int

const (
	KindTimeout Kind = iota
	KindConnectionFailed
	KindTLSFailed
	KindRejected
)

// nonRetryableCode is the OAuth error code for bad client credentials.
// No amount of retrying fixes a wrong appId/appSecret pair.
const nonRetryableCode = "invalid_client"

// IssueError is a classified failure of the token exchange. Its
// message never contains credential material.
type IssueError struct {
	Kind   Kind
	Code   string // OAuth error code for KindRejected, "" otherwise
	Status int    // HTTP status for KindRejected, 0 otherwise
	cause  error
}

func (e *IssueError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "token request timed out"
	case KindConnectionFailed:
		return "cannot connect to OAuth server"
	case KindTLSFailed:
		return "TLS verification failed for OAuth server"
	default:
		if e.Code != "" {
			return fmt.Sprintf("token request rejected: %s (HTTP %d)", e.Code, e.Status)
		}

		return fmt.Sprintf("token request rejected: HTTP %d", e.Status)
	}
}

func (e *IssueError) Unwrap() error { return e.cause }

// Permanent reports whether retrying can never succeed.
func (e *IssueError) Permanent() bool {
	return e.Kind == KindRejected && e.Code == nonRetryableCode
}

// Issuer exchanges application credentials for an access token. One
// issuer is built per loaded configuration; a reload that changes the
// auth fields builds a new one.
type Issuer struct {
	appID     string
	appSecret string
	tokenURL  string
	client    *http.Client
}

// NewIssuer builds an issuer for the given VoipNow host. A host
// without a scheme is assumed to be https.
func NewIssuer(appID, appSecret, host string, insecure bool) *Issuer {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
	}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Issuer{
		appID:     appID,
		appSecret: appSecret,
		tokenURL:  strings.TrimSuffix(host, "/") + "/oauth/token.php",
		client: &http.Client{
			Timeout:   issueTimeout,
			Transport: transport,
		},
	}
}

// Issue performs the client-credentials exchange and returns the new
// token with issue and expiry timestamps filled in.
func (i *Issuer) Issue(ctx context.Context) (token.Token, error) {
	form := url.Values{
		"client_id":     {i.appID},
		"client_secret": {i.appSecret},
		"grant_type":    {"client_credentials"},
		"type":          {"unifiedapi"},
		"redirect_uri":  {i.tokenURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return token.Token{}, fmt.Errorf("building token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := i.client.Do(req)
	if err != nil {
		return token.Token{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return token.Token{}, &IssueError{
			Kind:   KindRejected,
			Code:   gjson.GetBytes(body, "error").String(),
			Status: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return token.Token{}, &IssueError{Kind: KindConnectionFailed, cause: err}
	}

	secret := gjson.GetBytes(body, "access_token").String()

	expiresIn := gjson.GetBytes(body, "expires_in").Int()
	if secret == "" || expiresIn <= 0 {
		return token.Token{}, &IssueError{
			Kind:   KindRejected,
			Code:   "invalid_response",
			Status: resp.StatusCode,
		}
	}

	now := time.Now().Unix()

	return token.Token{
		IssuedAt:  now,
		ExpiresAt: now + expiresIn,
		Secret:    secret,
	}, nil
}

// classifyTransportError maps a transport-level failure onto the
// timeout / connection / TLS taxonomy.
func classifyTransportError(err error) *IssueError {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &IssueError{Kind: KindTimeout, cause: err}
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return &IssueError{Kind: KindTLSFailed, cause: err}
	}

	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return &IssueError{Kind: KindTLSFailed, cause: err}
	}

	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return &IssueError{Kind: KindTLSFailed, cause: err}
	}

	return &IssueError{Kind: KindConnectionFailed, cause: err}
}
