// Package secretstore implements capability.SecretStore over AWS Secrets
// Manager, grounded on original_source's APIKeyManager.get_openai_key and the
// audit scripts' boto3 secretsmanager.get_secret_value calls, which resolve
// LLM_SECRET_NAME (§6) the same way. Built on the aws-sdk-go-v2 root module
// the teacher already requires for bedrockruntime.
package secretstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
)

// Store resolves secret names to their current string value, caching
// successful lookups for the lifetime of the process (secrets referenced by
// LLM_SECRET_NAME do not rotate within a single job run).
type Store struct {
	client *secretsmanager.Client

	mu    sync.RWMutex
	cache map[string]string
}

// New constructs a Store backed by client.
func New(client *secretsmanager.Client) *Store {
	return &Store{client: client, cache: make(map[string]string)}
}

var _ capability.SecretStore = (*Store)(nil)

func (s *Store) Get(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if v, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("secretstore: get %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secretstore: secret %s has no string value", name)
	}

	s.mu.Lock()
	s.cache[name] = *out.SecretString
	s.mu.Unlock()

	return *out.SecretString, nil
}
