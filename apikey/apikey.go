// Package apikey loads the credential file issued during onboarding. The
// websocket session only needs the private JWT it contains; the key and
// secret are used by the REST signing layer, which lives outside this module.
package apikey

import (
	"encoding/json"
	"fmt"
	"os"
)

// ApiKey holds one API credential set.
type ApiKey struct {
	Key        string `json:"key"`
	Secret     string `json:"secret"`
	PublicJwt  string `json:"publicJwt"`
	PrivateJwt string `json:"privateJwt"`
}

// FromFile reads an API key from a JSON credential file.
func FromFile(path string) (*ApiKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read api key file: %w", err)
	}

	key := &ApiKey{}
	if err := json.Unmarshal(data, key); err != nil {
		return nil, fmt.Errorf("parse api key file: %w", err)
	}
	if key.Key == "" {
		return nil, fmt.Errorf("api key file %s is missing the key field", path)
	}
	return key, nil
}

// Token returns the opaque session token used to authenticate the websocket
// connection.
func (k *ApiKey) Token() string {
	return k.PrivateJwt
}

// String identifies the credential without leaking the secret.
func (k *ApiKey) String() string {
	return k.Key
}
