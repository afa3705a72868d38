package identity

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const (
	ProviderFirebase = "firebase"
	ProviderGoogle   = "google"
)

type Config struct {
	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`
	FirebaseJWKSURL   string `env:"FIREBASE_JWKS_URL" envDefault:"https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"`
	GoogleClientID    string `env:"GOOGLE_CLIENT_ID"`
	GoogleJWKSURL     string `env:"GOOGLE_JWKS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
}

func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := utilities.ParseEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("identity config: %w", err)
	}
	return cfg, nil
}

// NewFirebaseVerifier accepts Firebase Auth ID tokens for projectID.
func NewFirebaseVerifier(projectID string, keys *KeySet) *IDTokenVerifier {
	return &IDTokenVerifier{
		provider: ProviderFirebase,
		keys:     keys,
		issuers:  []string{"https://securetoken.google.com/" + projectID},
		audience: projectID,
		now:      time.Now,
	}
}

// NewGoogleVerifier accepts Google Sign-In ID tokens minted for clientID.
func NewGoogleVerifier(clientID string, keys *KeySet) *IDTokenVerifier {
	return &IDTokenVerifier{
		provider: ProviderGoogle,
		keys:     keys,
		issuers:  []string{"accounts.google.com", "https://accounts.google.com"},
		audience: clientID,
		now:      time.Now,
	}
}

// NewChain builds the verifier chain: Firebase first, then Google. Providers
// without an audience configured are left out.
func NewChain(cfg Config, client *http.Client) Chain {
	var c Chain
	if cfg.FirebaseProjectID != "" {
		c = append(c, NewFirebaseVerifier(cfg.FirebaseProjectID, NewKeySet(cfg.FirebaseJWKSURL, client)))
	}
	if cfg.GoogleClientID != "" {
		c = append(c, NewGoogleVerifier(cfg.GoogleClientID, NewKeySet(cfg.GoogleJWKSURL, client)))
	}
	return c
}
