package domain

import (
	"context"
	"errors"
)

// Credential parameterizes request signing for one user. It is never persisted by the pipeline.
type Credential struct {
	UserID            int64
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

// Validate reports missing signing material.
func (c Credential) Validate() error {
	switch {
	case c.ConsumerKey == "":
		return errors.New("credential: missing consumer key")
	case c.ConsumerSecret == "":
		return errors.New("credential: missing consumer secret")
	case c.AccessToken == "":
		return errors.New("credential: missing access token")
	case c.AccessTokenSecret == "":
		return errors.New("credential: missing access token secret")
	}
	return nil
}

// CredentialSource resolves the credentials a run sweeps. An empty userIDs filter means every known user.
type CredentialSource interface {
	Credentials(ctx context.Context, userIDs []int64) ([]Credential, error)
}

// StaticCredentials serves a single credential read from configuration.
type StaticCredentials struct {
	Credential Credential
}

// Credentials returns the configured credential unless the filter excludes its user.
func (s StaticCredentials) Credentials(_ context.Context, userIDs []int64) ([]Credential, error) {
	if len(userIDs) == 0 {
		return []Credential{s.Credential}, nil
	}
	for _, id := range userIDs {
		if id == s.Credential.UserID {
			return []Credential{s.Credential}, nil
		}
	}
	return nil, nil
}
