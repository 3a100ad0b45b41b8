package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/chenzhangda16/web3-settle/internal/mockchain"
)

const maxBodyBytes = 1 << 20

type request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Faults makes the node misbehave per method, for exercising client error
// paths. Errors wins over RawResults, which wins over OmitResult.
type Faults struct {
	Errors     map[string]string
	RawResults map[string]json.RawMessage
	OmitResult map[string]bool
}

type Server struct {
	node *mockchain.Node

	mu     sync.Mutex
	faults Faults
	calls  map[string]int
	total  int
}

func NewServer(node *mockchain.Node) *Server {
	return &Server{node: node, calls: make(map[string]int)}
}

func (s *Server) Inject(f Faults) {
	s.mu.Lock()
	s.faults = f
	s.mu.Unlock()
}

// Calls counts every JSON-RPC method invocation, batch members included.
func (s *Server) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Server) MethodCalls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)

	// inspection endpoints
	mux.HandleFunc("/chain/head", s.handleChainHead)
	mux.HandleFunc("/block/by-number/", s.handleBlockByNumber)
	mux.HandleFunc("/tx/by-hash/", s.handleTxByHash)
	return mux
}

// -------------------- helpers --------------------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	http.Error(w, msg, http.StatusBadRequest)
}

// -------------------- json-rpc --------------------

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		var reqs []request
		if err := json.Unmarshal(body, &reqs); err != nil {
			writeJSON(w, 200, parseError(err))
			return
		}
		out := make([]response, 0, len(reqs))
		for _, req := range reqs {
			out = append(out, s.serve(req))
		}
		writeJSON(w, 200, out)
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, 200, parseError(err))
		return
	}
	writeJSON(w, 200, s.serve(req))
}

func parseError(err error) response {
	return response{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: &rpcError{Code: -32700, Message: err.Error()}}
}

func (s *Server) serve(req request) response {
	s.mu.Lock()
	s.total++
	s.calls[req.Method]++
	f := s.faults
	s.mu.Unlock()

	resp := response{JSONRPC: "2.0", ID: req.ID}
	if msg, ok := f.Errors[req.Method]; ok {
		resp.Error = &rpcError{Code: -32000, Message: msg}
		return resp
	}
	if raw, ok := f.RawResults[req.Method]; ok {
		resp.Result = raw
		return resp
	}
	if f.OmitResult[req.Method] {
		return resp
	}

	v, rerr := s.call(req.Method, req.Params)
	if rerr != nil {
		resp.Error = rerr
		return resp
	}
	raw, err := json.Marshal(v)
	if err != nil {
		resp.Error = &rpcError{Code: -32603, Message: err.Error()}
		return resp
	}
	resp.Result = raw
	return resp
}

func (s *Server) call(method string, params []json.RawMessage) (any, *rpcError) {
	switch method {
	case "eth_chainId":
		return (*hexutil.Big)(s.node.ChainID()), nil
	case "net_version":
		return s.node.ChainID().String(), nil
	case "eth_gasPrice":
		return (*hexutil.Big)(s.node.GasPrice()), nil
	case "eth_blockNumber":
		var n int64
		if head, ok := s.node.Head(); ok {
			n = head.Header.Number
		}
		return hexutil.Uint64(n), nil

	case "eth_getTransactionCount":
		var addr, tag string
		if err := stringParams(params, &addr, &tag); err != nil {
			return nil, err
		}
		if !common.IsHexAddress(addr) {
			return nil, invalidParams("invalid address " + addr)
		}
		return hexutil.Uint64(s.node.Nonce(common.HexToAddress(addr), tag == "pending")), nil

	case "eth_sendRawTransaction":
		var input string
		if err := stringParams(params, &input); err != nil {
			return nil, err
		}
		raw, err := hexutil.Decode(input)
		if err != nil {
			return nil, invalidParams(err.Error())
		}
		h, err := s.node.SubmitRaw(raw)
		if err != nil {
			return nil, &rpcError{Code: -32000, Message: err.Error()}
		}
		return h, nil

	case "eth_getTransactionByHash":
		var hs string
		if err := stringParams(params, &hs); err != nil {
			return nil, err
		}
		tx, ok := s.node.Transaction(common.HexToHash(hs))
		if !ok {
			return nil, nil
		}
		return tx, nil
	}
	return nil, &rpcError{Code: -32601, Message: "the method " + method + " does not exist/is not available"}
}

func stringParams(params []json.RawMessage, dst ...*string) *rpcError {
	if len(params) < len(dst) {
		return invalidParams("missing value for required argument " + strconv.Itoa(len(params)))
	}
	for i, d := range dst {
		if err := json.Unmarshal(params[i], d); err != nil {
			return invalidParams("invalid argument " + strconv.Itoa(i) + ": " + err.Error())
		}
	}
	return nil
}

func invalidParams(msg string) *rpcError {
	return &rpcError{Code: -32602, Message: msg}
}

// -------------------- inspection handlers --------------------

func (s *Server) handleChainHead(w http.ResponseWriter, r *http.Request) {
	head, ok := s.node.Head()
	if !ok {
		writeJSON(w, 200, map[string]any{"empty": true})
		return
	}
	writeJSON(w, 200, map[string]any{
		"head_num":       head.Header.Number,
		"head_hash":      head.Hash.Hex(),
		"head_timestamp": head.Header.Timestamp,
		"head_age":       time.Since(time.Unix(head.Header.Timestamp, 0)).Truncate(time.Second).String(),
	})
}

func (s *Server) handleBlockByNumber(w http.ResponseWriter, r *http.Request) {
	nStr := strings.TrimPrefix(r.URL.Path, "/block/by-number/")
	n, err := strconv.ParseInt(nStr, 10, 64)
	if err != nil || n <= 0 {
		badRequest(w, "bad block number")
		return
	}
	blk, ok := s.node.BlockByNumber(n)
	if !ok {
		http.Error(w, "block not found", 404)
		return
	}
	writeJSON(w, 200, blk)
}

func (s *Server) handleTxByHash(w http.ResponseWriter, r *http.Request) {
	hs := strings.TrimPrefix(r.URL.Path, "/tx/by-hash/")
	b, err := hexutil.Decode(hs)
	if err != nil || len(b) != common.HashLength {
		badRequest(w, "bad tx hash")
		return
	}
	tx, ok := s.node.Transaction(common.BytesToHash(b))
	if !ok {
		http.Error(w, "tx not found", 404)
		return
	}
	writeJSON(w, 200, tx)
}
