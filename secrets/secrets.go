// Package secrets retrieves credentials for the external collaborators.
// The core never reads secret material directly; it receives it through the
// narrow Source interface so tests can substitute fixed values.
package secrets

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Source retrieves a named secret.
type Source interface {
	Get(ctx context.Context, name string) (string, error)
}

// TokenSource supplies OAuth bearer tokens for Google API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// EnvSource resolves secrets from environment variables. Secret names are
// upper-cased with dashes replaced by underscores ("google-sheets-credentials"
// -> "GOOGLE_SHEETS_CREDENTIALS").
type EnvSource struct{}

func (EnvSource) Get(_ context.Context, name string) (string, error) {
	key := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("secret %s not set in environment (%s)", name, key)
	}
	return value, nil
}

// StaticToken is a TokenSource returning a fixed token. Used in tests and
// for locally supplied credentials.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// ManagerClient reads secrets from the Google Secret Manager REST API.
type ManagerClient struct {
	http      *resty.Client
	projectID string
	tokens    TokenSource
}

// NewManagerClient creates a Secret Manager client for one project.
func NewManagerClient(projectID string, tokens TokenSource) *ManagerClient {
	http := resty.New()
	http.SetBaseURL("https://secretmanager.googleapis.com/v1")
	http.SetTimeout(15 * time.Second)
	return &ManagerClient{http: http, projectID: projectID, tokens: tokens}
}

// newManagerClientForTest allows pointing the client at a test server.
func newManagerClientForTest(baseURL, projectID string, tokens TokenSource) *ManagerClient {
	c := NewManagerClient(projectID, tokens)
	c.http.SetBaseURL(baseURL)
	return c
}

type accessResponse struct {
	Payload struct {
		Data string `json:"data"`
	} `json:"payload"`
}

// Get accesses the latest version of the named secret.
func (c *ManagerClient) Get(ctx context.Context, name string) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("secret %s: token: %w", name, err)
	}

	var parsed accessResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&parsed).
		Get(fmt.Sprintf("/projects/%s/secrets/%s/versions/latest:access", c.projectID, name))
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", name, err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("secret %s: status %d: %s", name, resp.StatusCode(), resp.String())
	}

	data, err := base64.StdEncoding.DecodeString(parsed.Payload.Data)
	if err != nil {
		return "", fmt.Errorf("secret %s: decode payload: %w", name, err)
	}
	return string(data), nil
}

// MetadataToken fetches access tokens from the GCE metadata server, the
// ambient identity available inside Cloud Functions and Cloud Run.
type MetadataToken struct {
	http *resty.Client

	token  string
	expiry time.Time
}

// NewMetadataToken creates a metadata-server token source.
func NewMetadataToken() *MetadataToken {
	http := resty.New()
	http.SetBaseURL("http://metadata.google.internal/computeMetadata/v1")
	http.SetHeader("Metadata-Flavor", "Google")
	http.SetTimeout(5 * time.Second)
	return &MetadataToken{http: http}
}

type metadataTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a cached token, refreshing it when within a minute of expiry.
func (m *MetadataToken) Token(ctx context.Context) (string, error) {
	if m.token != "" && time.Until(m.expiry) > time.Minute {
		return m.token, nil
	}

	var parsed metadataTokenResponse
	resp, err := m.http.R().
		SetContext(ctx).
		SetResult(&parsed).
		Get("/instance/service-accounts/default/token")
	if err != nil {
		return "", fmt.Errorf("metadata token: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("metadata token: status %d", resp.StatusCode())
	}

	m.token = parsed.AccessToken
	m.expiry = time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	return m.token, nil
}
