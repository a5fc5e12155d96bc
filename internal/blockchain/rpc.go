package blockchain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/thousandfans/fanclub/internal/models"
)

// RPCError is an error object returned by a NEAR JSON-RPC node.
type RPCError struct {
	Name  string `json:"name"`
	Cause struct {
		Name string          `json:"name"`
		Info json.RawMessage `json:"info"`
	} `json:"cause"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *RPCError) Error() string {
	if e.Cause.Name != "" {
		return fmt.Sprintf("rpc error %s: %s", e.Cause.Name, strings.Trim(string(e.Data), `"`))
	}
	return fmt.Sprintf("rpc error %d: %s %s", e.Code, e.Message, strings.Trim(string(e.Data), `"`))
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCClient talks JSON-RPC 2.0 to a NEAR node over HTTP.
type RPCClient struct {
	url    string
	client *http.Client
	nextID atomic.Uint64
}

func NewRPCClient(url string) *RPCClient {
	return &RPCClient{
		url: url,
		client: &http.Client{
			// broadcast_tx_commit waits for the transaction to execute
			Timeout: 60 * time.Second,
		},
	}
}

// Call performs one JSON-RPC request and decodes its result into out.
func (c *RPCClient) Call(ctx context.Context, method string, params, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      fmt.Sprintf("fanclub-%d", c.nextID.Add(1)),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		// Nodes answer handler errors with a non-200 status and a JSON-RPC body.
		var rpcResp rpcResponse
		if json.Unmarshal(raw, &rpcResp) == nil && rpcResp.Error != nil {
			return rpcResp.Error
		}
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(raw))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

type accountView struct {
	Amount string `json:"amount"`
	Locked string `json:"locked"`
}

type accessKeyView struct {
	Nonce     uint64 `json:"nonce"`
	BlockHash string `json:"block_hash"`
	// Error is set by older nodes that report query failures inside the result.
	Error string `json:"error"`
}

type callResult struct {
	Result []int    `json:"result"`
	Logs   []string `json:"logs"`
	Error  string   `json:"error"`
}

func (c *RPCClient) viewAccount(ctx context.Context, accountID string) (*accountView, error) {
	var view accountView
	err := c.Call(ctx, "query", map[string]interface{}{
		"request_type": "view_account",
		"finality":     "final",
		"account_id":   accountID,
	}, &view)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (c *RPCClient) viewAccessKey(ctx context.Context, accountID string, pk PublicKey) (*accessKeyView, error) {
	var view accessKeyView
	err := c.Call(ctx, "query", map[string]interface{}{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   pk.String(),
	}, &view)
	if err != nil {
		return nil, err
	}
	if view.Error != "" {
		if strings.Contains(view.Error, "does not exist") {
			return nil, fmt.Errorf("%s: %w", view.Error, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to view access key: %s", view.Error)
	}
	return &view, nil
}

// callView runs a view function and decodes its JSON return value into out.
func (c *RPCClient) callView(ctx context.Context, contractID, method string, args, out interface{}) error {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode %s args: %w", method, err)
	}
	var res callResult
	err = c.Call(ctx, "query", map[string]interface{}{
		"request_type": "call_function",
		"finality":     "optimistic",
		"account_id":   contractID,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(argsJSON),
	}, &res)
	if err != nil {
		return err
	}
	if res.Error != "" {
		return fmt.Errorf("view call %s failed: %s", method, res.Error)
	}
	raw := make([]byte, len(res.Result))
	for i, b := range res.Result {
		raw[i] = byte(b)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s return value: %w", method, err)
	}
	return nil
}

func (c *RPCClient) broadcastTxCommit(ctx context.Context, signedTx []byte) (*TxOutcome, error) {
	var outcome TxOutcome
	err := c.Call(ctx, "broadcast_tx_commit", []string{base64.StdEncoding.EncodeToString(signedTx)}, &outcome)
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}
