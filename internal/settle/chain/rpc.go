package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/chenzhangda16/web3-settle/internal/settle/faults"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// batchCaller posts raw JSON-RPC batches and hands back each response object
// untouched, so absent fields can be reported by name.
type batchCaller struct {
	url string
	hc  *http.Client
}

func (b *batchCaller) call(ctx context.Context, reqs []rpcRequest) (map[int]map[string]json.RawMessage, error) {
	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, faults.New(faults.KindTransport, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, faults.New(faults.KindTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.hc.Do(req)
	if err != nil {
		return nil, faults.New(faults.KindTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, faults.Newf(faults.KindTransport, "rpc batch status=%d", resp.StatusCode)
	}

	var items []map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, faults.Newf(faults.KindTransport, "decode rpc batch: %w", err)
	}

	out := make(map[int]map[string]json.RawMessage, len(items))
	for _, it := range items {
		var id int
		if raw, ok := it["id"]; ok {
			if err := json.Unmarshal(raw, &id); err != nil {
				return nil, faults.Newf(faults.KindTransport, "bad rpc id %s", raw)
			}
		}
		out[id] = it
	}
	for _, r := range reqs {
		if _, ok := out[r.ID]; !ok {
			return nil, faults.Newf(faults.KindTransport, "rpc batch: no response for %s (id=%d)", r.Method, r.ID)
		}
	}
	return out, nil
}

type feeQuote struct {
	gasPrice *big.Int
	nonce    uint64
}

// quote fetches gas price and the latest nonce of from in one round trip.
func (b *batchCaller) quote(ctx context.Context, from common.Address) (feeQuote, error) {
	const (
		gasPriceID = 1
		nonceID    = 2
	)
	resps, err := b.call(ctx, []rpcRequest{
		{JSONRPC: "2.0", Method: "eth_gasPrice", Params: []any{}, ID: gasPriceID},
		{JSONRPC: "2.0", Method: "eth_getTransactionCount", Params: []any{from, "latest"}, ID: nonceID},
	})
	if err != nil {
		return feeQuote{}, err
	}

	gp, err := resultString(resps[gasPriceID])
	if err != nil {
		return feeQuote{}, err
	}
	gasPrice, err := hexutil.DecodeBig(gp)
	if err != nil {
		return feeQuote{}, faults.Newf(faults.KindNumericParse, "gas price %q: %w", gp, err)
	}

	nv, err := resultString(resps[nonceID])
	if err != nil {
		return feeQuote{}, err
	}
	nonce, err := hexutil.DecodeUint64(nv)
	if err != nil {
		return feeQuote{}, faults.Newf(faults.KindNumericParse, "nonce %q: %w", nv, err)
	}
	return feeQuote{gasPrice: gasPrice, nonce: nonce}, nil
}

func resultString(item map[string]json.RawMessage) (string, error) {
	raw, ok := item["result"]
	if !ok || string(raw) == "null" {
		return "", faults.MissingField("result")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", faults.MissingField("result")
	}
	return s, nil
}
