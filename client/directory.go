package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"vault-signal/common"
	"vault-signal/configs"
	"vault-signal/protocol"
)

// Directory talks to the relay's prekey endpoints.
type Directory struct {
	serverURL  string
	httpClient *http.Client
}

func NewDirectory(serverURL string, httpClient *http.Client) *Directory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Directory{serverURL: serverURL, httpClient: httpClient}
}

func (d *Directory) keysURL(userID string) string {
	return d.serverURL + configs.PublishKeysPath + "/" + url.PathEscape(userID)
}

// PublishBundle uploads our public bundle, one-time prekeys included.
func (d *Directory) PublishBundle(ctx context.Context, bundle *common.PrekeyBundle) error {
	payload, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.keysURL(bundle.UserID), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned non-OK status: %v", resp.Status)
	}
	return nil
}

// FetchBundle gets a peer's bundle with at most one one-time prekey. A missing or undecodable bundle is a handshake
// error: the conversation cannot start.
func (d *Directory) FetchBundle(ctx context.Context, userID string) (*common.PrekeyBundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.keysURL(userID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetching keys for %s: %v", protocol.ErrHandshake, userID, resp.Status)
	}

	var bundle common.PrekeyBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("%w: failed to decode bundle: %v", protocol.ErrHandshake, err)
	}
	return &bundle, nil
}
