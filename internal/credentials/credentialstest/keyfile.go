// Package credentialstest writes throwaway service-account key files for tests.
package credentialstest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

// ClientEmail is the service account written by WriteKeyFile.
const ClientEmail = "accountctl@test-project.iam.gserviceaccount.com"

// DefaultTokenURI is the token endpoint written into generated key files.
const DefaultTokenURI = "https://oauth2.googleapis.com/token"

// KeyJSON returns a service-account key document for projectID with a freshly
// generated RSA key.
func KeyJSON(t *testing.T, projectID string) []byte {
	t.Helper()
	return KeyJSONWithTokenURI(t, projectID, DefaultTokenURI)
}

// KeyJSONWithTokenURI is KeyJSON with a custom token endpoint, for tests that
// stand up their own OAuth2 server.
func KeyJSONWithTokenURI(t *testing.T, projectID, tokenURI string) []byte {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate rsa key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to marshal rsa key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	document := map[string]string{
		"type":                        "service_account",
		"project_id":                  projectID,
		"private_key_id":              "test-key-1",
		"private_key":                 string(keyPEM),
		"client_email":                ClientEmail,
		"client_id":                   "1234567890",
		"auth_uri":                    "https://accounts.google.com/o/oauth2/auth",
		"token_uri":                   tokenURI,
		"auth_provider_x509_cert_url": "https://www.googleapis.com/oauth2/v1/certs",
	}
	data, err := json.Marshal(document)
	if err != nil {
		t.Fatalf("failed to encode key file: %v", err)
	}
	return data
}

// WriteKeyFile writes a key file into a temporary directory and returns its path.
func WriteKeyFile(t *testing.T, projectID string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service-account.json")
	if err := os.WriteFile(path, KeyJSON(t, projectID), 0o600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	return path
}
