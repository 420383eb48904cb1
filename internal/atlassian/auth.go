package atlassian

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type AuthKind string

const (
	AuthBasic      AuthKind = "basic"
	AuthBearer     AuthKind = "bearer"
	AuthConnectJWT AuthKind = "connect_jwt"
)

// Credentials holds every supported credential set. Exactly one complete
// set selects the auth kind: email + API token, a personal access token,
// or a Connect app key + shared secret.
type Credentials struct {
	Email               string
	APIToken            string
	PersonalAccessToken string
	ConnectAppKey       string
	ConnectSharedSecret string
}

// Kind returns the auth kind the credentials complete, or "" when none is
// complete. Basic wins over bearer, bearer over Connect.
func (c Credentials) Kind() AuthKind {
	switch {
	case strings.TrimSpace(c.Email) != "" && strings.TrimSpace(c.APIToken) != "":
		return AuthBasic
	case strings.TrimSpace(c.PersonalAccessToken) != "":
		return AuthBearer
	case strings.TrimSpace(c.ConnectAppKey) != "" && strings.TrimSpace(c.ConnectSharedSecret) != "":
		return AuthConnectJWT
	}
	return ""
}

type authenticator interface {
	kind() AuthKind
	sign(req *http.Request, path string, query url.Values) error
}

func newAuthenticator(c Credentials) (authenticator, error) {
	switch c.Kind() {
	case AuthBasic:
		return basicAuth{email: strings.TrimSpace(c.Email), token: strings.TrimSpace(c.APIToken)}, nil
	case AuthBearer:
		return bearerAuth{token: strings.TrimSpace(c.PersonalAccessToken)}, nil
	case AuthConnectJWT:
		return connectAuth{
			appKey: strings.TrimSpace(c.ConnectAppKey),
			secret: []byte(strings.TrimSpace(c.ConnectSharedSecret)),
			now:    time.Now,
		}, nil
	}
	return nil, fmt.Errorf("atlassian credentials are incomplete")
}

type basicAuth struct{ email, token string }

func (basicAuth) kind() AuthKind { return AuthBasic }

func (a basicAuth) sign(req *http.Request, _ string, _ url.Values) error {
	req.SetBasicAuth(a.email, a.token)
	return nil
}

type bearerAuth struct{ token string }

func (bearerAuth) kind() AuthKind { return AuthBearer }

func (a bearerAuth) sign(req *http.Request, _ string, _ url.Values) error {
	req.Header.Set("Authorization", "Bearer "+a.token)
	return nil
}

type connectClaims struct {
	QSH string `json:"qsh"`
	jwt.RegisteredClaims
}

// connectAuth signs each request with a short-lived HS256 JWT bound to the
// request by its query string hash, as Atlassian Connect apps do.
type connectAuth struct {
	appKey string
	secret []byte
	now    func() time.Time
}

func (connectAuth) kind() AuthKind { return AuthConnectJWT }

func (a connectAuth) sign(req *http.Request, path string, query url.Values) error {
	now := a.now()
	claims := connectClaims{
		QSH: QueryStringHash(req.Method, path, query),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.appKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(3 * time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "JWT "+token)
	return nil
}

// QueryStringHash computes the Connect qsh claim: the SHA-256 of
// METHOD&path&sorted-query, where path is relative to the site base path
// and the jwt parameter is excluded.
func QueryStringHash(method, path string, query url.Values) string {
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "jwt" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		enc := make([]string, len(vals))
		for i, v := range vals {
			enc[i] = percentEncode(v)
		}
		parts = append(parts, percentEncode(k)+"="+strings.Join(enc, ","))
	}
	canonical := strings.ToUpper(method) + "&" + path + "&" + strings.Join(parts, "&")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// percentEncode is RFC 3986 encoding: spaces become %20, not +.
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
