package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SchemaRegistryClient talks to a Confluent Schema Registry. The dispatcher
// only needs two operations: resolve the latest version of a subject, and
// register a schema when the subject does not exist yet.
type SchemaRegistryClient struct {
	baseURL string
	client  *http.Client
}

func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// EnsureSchema returns the registered id for subject, posting the schema if
// no version exists. The lookup-then-register order keeps the common path to
// a single GET.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject, schema string) (int, error) {
	latest := fmt.Sprintf("%s/subjects/%s/versions/latest", c.baseURL, subject)
	if id, err := c.fetchID(ctx, http.MethodGet, latest, nil); err == nil {
		return id, nil
	}

	body, err := json.Marshal(map[string]any{
		"schemaType": "JSON",
		"schema":     schema,
	})
	if err != nil {
		return 0, err
	}
	register := fmt.Sprintf("%s/subjects/%s/versions", c.baseURL, subject)
	return c.fetchID(ctx, http.MethodPost, register, body)
}

func (c *SchemaRegistryClient) fetchID(ctx context.Context, method, url string, body []byte) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("schema registry %s %s: %s", method, url, detail)
	}

	var out struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.ID, nil
}
