// Package indexer contains a GraphQL client for the Aptos indexer, used to
// look up on-chain balances and ledger state for API consumers.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// aptCoinType is the canonical coin type for the native APT coin.
const aptCoinType = "0x1::aptos_coin::AptosCoin"

// Client is a GraphQL client for the Aptos indexer.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new indexer client.
//
// graphqlURL is the indexer endpoint, e.g.
// "https://api.mainnet.aptoslabs.com/v1/graphql".
func NewClient(graphqlURL, apiKey string) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GetCoinBalance returns an account's native APT balance in octas. A
// missing account returns zero, not an error.
func (c *Client) GetCoinBalance(ctx context.Context, address string) (uint64, error) {
	query := `
		query CoinBalance($owner: String!, $coinType: String!) {
			current_fungible_asset_balances(
				where: { owner_address: { _eq: $owner }, asset_type: { _eq: $coinType } }
				limit: 1
			) {
				amount
			}
		}
	`

	variables := map[string]any{
		"owner":    address,
		"coinType": aptCoinType,
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return 0, fmt.Errorf("indexer: get coin balance: %w", err)
	}

	var result struct {
		Balances []struct {
			Amount json.Number `json:"amount"`
		} `json:"current_fungible_asset_balances"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("indexer: decode coin balance: %w", err)
	}
	if len(result.Balances) == 0 {
		return 0, nil
	}

	amount, err := strconv.ParseUint(result.Balances[0].Amount.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("indexer: parse balance %q: %w", result.Balances[0].Amount, err)
	}
	return amount, nil
}

// GetLedgerVersion returns the latest ledger version processed by the
// indexer. Useful for monitoring indexing lag.
func (c *Client) GetLedgerVersion(ctx context.Context) (int64, error) {
	query := `
		query LedgerVersion {
			ledger_infos(limit: 1) {
				chain_id
				version: latest_version
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("indexer: get ledger version: %w", err)
	}

	var result struct {
		LedgerInfos []struct {
			Version int64 `json:"version"`
		} `json:"ledger_infos"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("indexer: decode ledger version: %w", err)
	}
	if len(result.LedgerInfos) == 0 {
		return 0, fmt.Errorf("indexer: no ledger info returned")
	}

	return result.LedgerInfos[0].Version, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doQuery executes a GraphQL query against the indexer and returns the raw
// "data" field from the response.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}
