package credentials

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/EvgenSuit/My-Speechy/internal/accounts"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// EnvApplicationCredentials is the conventional fallback location for key files.
	EnvApplicationCredentials = "GOOGLE_APPLICATION_CREDENTIALS"

	defaultTokenURI       = "https://oauth2.googleapis.com/token"
	serviceAccountType    = "service_account"
	assertionLifetime     = time.Hour
	opLocate              = "credentials.locate"
	opLoad                = "credentials.load"
	opVerifyAssertion     = "credentials.verify_assertion"
	cloudPlatformScope    = "https://www.googleapis.com/auth/cloud-platform"
	firebaseDatabaseScope = "https://www.googleapis.com/auth/firebase.database"
)

var (
	errMissingClientEmail = errors.New("client_email is required")
	errMissingPrivateKey  = errors.New("private_key is required")
	errWrongKeyType       = errors.New("key file is not a service account key")
)

// Scopes lists the OAuth2 scopes the tool requests with service-account credentials.
var Scopes = []string{cloudPlatformScope, firebaseDatabaseScope, "https://www.googleapis.com/auth/userinfo.email"}

type keyFile struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id"`
	TokenURI     string `json:"token_uri"`
}

// ServiceAccount is a parsed and validated service-account key. The raw JSON is
// kept for the SDK; it must never be logged.
type ServiceAccount struct {
	ProjectID    string
	ClientEmail  string
	PrivateKeyID string
	TokenURI     string
	privateKey   *rsa.PrivateKey
	raw          []byte
}

// Locate resolves the key file path from the configured value or the
// GOOGLE_APPLICATION_CREDENTIALS fallback.
func Locate(path string) (string, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = strings.TrimSpace(os.Getenv(EnvApplicationCredentials))
	}
	if resolved == "" {
		return "", accounts.Errorf(accounts.CredentialsNotFound, opLocate,
			"no key file configured and %s is unset", EnvApplicationCredentials)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", accounts.Errorf(accounts.CredentialsNotFound, opLocate, "key file %s does not exist", resolved)
		}
		return "", accounts.NewError(accounts.CredentialsNotFound, opLocate, err)
	}
	if info.IsDir() {
		return "", accounts.Errorf(accounts.CredentialsNotFound, opLocate, "key file %s is a directory", resolved)
	}
	return resolved, nil
}

// Load locates, reads and validates a service-account key file.
func Load(path string, now time.Time) (*ServiceAccount, error) {
	resolved, err := Locate(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, accounts.NewError(accounts.CredentialsNotFound, opLoad, err)
	}
	return Parse(data, now)
}

// Parse validates raw key material and checks that the key can sign.
func Parse(data []byte, now time.Time) (*ServiceAccount, error) {
	var parsed keyFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, accounts.NewError(accounts.CredentialsInvalid, opLoad, fmt.Errorf("parse key file: %w", err))
	}
	if parsed.Type != serviceAccountType {
		return nil, accounts.NewError(accounts.CredentialsInvalid, opLoad, errWrongKeyType)
	}
	clientEmail := strings.TrimSpace(parsed.ClientEmail)
	if clientEmail == "" {
		return nil, accounts.NewError(accounts.CredentialsInvalid, opLoad, errMissingClientEmail)
	}
	if strings.TrimSpace(parsed.PrivateKey) == "" {
		return nil, accounts.NewError(accounts.CredentialsInvalid, opLoad, errMissingPrivateKey)
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(parsed.PrivateKey))
	if err != nil {
		return nil, accounts.NewError(accounts.CredentialsInvalid, opLoad, fmt.Errorf("parse private key: %w", err))
	}
	tokenURI := strings.TrimSpace(parsed.TokenURI)
	if tokenURI == "" {
		tokenURI = defaultTokenURI
	}

	account := &ServiceAccount{
		ProjectID:    strings.TrimSpace(parsed.ProjectID),
		ClientEmail:  clientEmail,
		PrivateKeyID: strings.TrimSpace(parsed.PrivateKeyID),
		TokenURI:     tokenURI,
		privateKey:   privateKey,
		raw:          append([]byte(nil), data...),
	}

	assertion, err := account.SignAssertion(now)
	if err != nil {
		return nil, accounts.NewError(accounts.CredentialsInvalid, opLoad, fmt.Errorf("sign assertion: %w", err))
	}
	if err := account.VerifyAssertion(assertion, now); err != nil {
		return nil, err
	}
	return account, nil
}

// JSON returns the raw key file contents for the SDK.
func (a *ServiceAccount) JSON() []byte {
	return append([]byte(nil), a.raw...)
}

// SignAssertion produces the RS256 JWT bearer assertion the token endpoint expects.
func (a *ServiceAccount) SignAssertion(now time.Time) (string, error) {
	issuedAt := now.UTC()
	claims := assertionClaims{
		Scope: strings.Join(Scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.ClientEmail,
			Subject:   a.ClientEmail,
			Audience:  []string{a.TokenURI},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(assertionLifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if a.PrivateKeyID != "" {
		token.Header["kid"] = a.PrivateKeyID
	}
	return token.SignedString(a.privateKey)
}

// VerifyAssertion checks an assertion against the public half of the key.
func (a *ServiceAccount) VerifyAssertion(assertion string, now time.Time) error {
	claims := &assertionClaims{}
	parsed, err := jwt.ParseWithClaims(
		assertion,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return &a.privateKey.PublicKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithAudience(a.TokenURI),
		jwt.WithIssuer(a.ClientEmail),
	)
	if err != nil {
		return accounts.NewError(accounts.CredentialsInvalid, opVerifyAssertion, err)
	}
	if parsed == nil || !parsed.Valid {
		return accounts.Errorf(accounts.CredentialsInvalid, opVerifyAssertion, "assertion signature invalid")
	}
	return nil
}

type assertionClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}
