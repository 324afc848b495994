package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// rpcClient is a minimal JSON-RPC 2.0 client, just enough surface to
// query the chain values a fixture needs.
type rpcClient struct {
	endpoint string
	http     *http.Client
}

func newRPCClient(endpoint string) *rpcClient {
	return &rpcClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *rpcClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request to %s failed: %w", method, c.endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s request to %s failed: HTTP %d", method, c.endpoint, resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s response from %s is not valid JSON: %w", method, c.endpoint, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("%s failed: %s (code %d)", method, envelope.Error.Message, envelope.Error.Code)
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return fmt.Errorf("%s returned no result", method)
	}
	return json.Unmarshal(envelope.Result, result)
}

// outputResponse is the subset of optimism_outputAtBlock the generator
// reads: the output root, the L2 block it commits to, and that block's
// L1 origin.
type outputResponse struct {
	OutputRoot string `json:"outputRoot"`
	BlockRef   struct {
		Hash     string `json:"hash"`
		Number   uint64 `json:"number"`
		L1Origin struct {
			Hash   string `json:"hash"`
			Number uint64 `json:"number"`
		} `json:"l1origin"`
	} `json:"blockRef"`
}

func (c *rpcClient) outputAtBlock(ctx context.Context, number uint64) (*outputResponse, error) {
	var out outputResponse
	if err := c.call(ctx, "optimism_outputAtBlock", []any{hexUint(number)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *rpcClient) blockHashByNumber(ctx context.Context, number uint64) (string, error) {
	var block struct {
		Hash string `json:"hash"`
	}
	if err := c.call(ctx, "eth_getBlockByNumber", []any{hexUint(number), false}, &block); err != nil {
		return "", err
	}
	if block.Hash == "" {
		return "", fmt.Errorf("block %d has no hash in eth_getBlockByNumber response", number)
	}
	return block.Hash, nil
}

func (c *rpcClient) chainID(ctx context.Context) (uint64, error) {
	var raw string
	if err := c.call(ctx, "eth_chainId", []any{}, &raw); err != nil {
		return 0, err
	}
	return parseHexUint(raw)
}

func hexUint(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}

func parseHexUint(s string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex quantity %q: %w", s, err)
	}
	return n, nil
}
