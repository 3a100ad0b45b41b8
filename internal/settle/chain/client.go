package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/chenzhangda16/web3-settle/internal/settle/faults"
	"github.com/chenzhangda16/web3-settle/internal/settle/model"
	"github.com/chenzhangda16/web3-settle/internal/settle/token"
)

// TransferGasLimit is the fixed gas budget of one ERC20 transfer.
const TransferGasLimit = 50000

type Config struct {
	URL            string
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// Client builds, signs and broadcasts ERC20 transfers. The chain id is read
// once by Dial and never changes afterwards.
type Client struct {
	rpc     *rpc.Client
	batch   *batchCaller
	tokens  *token.Registry
	chainID *big.Int
	signer  types.Signer
}

func Dial(ctx context.Context, cfg Config, tokens *token.Registry) (*Client, error) {
	hc := newHTTPClient(cfg)
	rc, err := rpc.DialOptions(ctx, cfg.URL, rpc.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	chainID, err := ethclient.NewClient(rc).ChainID(ctx)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("get chain_id failed: %w", err)
	}
	return New(rc, hc, cfg.URL, chainID, tokens), nil
}

func New(rc *rpc.Client, hc *http.Client, url string, chainID *big.Int, tokens *token.Registry) *Client {
	id := new(big.Int).Set(chainID)
	return &Client{
		rpc:     rc,
		batch:   &batchCaller{url: url, hc: hc},
		tokens:  tokens,
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
	}
}

func newHTTPClient(cfg Config) *http.Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	return &http.Client{Transport: tr, Timeout: cfg.Timeout}
}

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *Client) Close() { c.rpc.Close() }

// Dispatch sends amount of the token identified by code from one account to
// another and returns the full 0x-prefixed transaction hash.
func (c *Client) Dispatch(ctx context.Context, code model.TokenCode, from, to model.Account, amount *big.Int) (string, error) {
	contract, ok := c.tokens.Contract(code)
	if !ok {
		return "", faults.Newf(faults.KindAddressFormat, "invalid contract address %q for %s", c.tokens.Address(code), code)
	}
	if !common.IsHexAddress(from.Address) {
		return "", faults.Newf(faults.KindAddressFormat, "invalid from address %q", from.Address)
	}
	if !common.IsHexAddress(to.Address) {
		return "", faults.Newf(faults.KindAddressFormat, "invalid to address %q", to.Address)
	}
	fromAddr := common.HexToAddress(from.Address)
	toAddr := common.HexToAddress(to.Address)

	key, err := parsePrivateKey(from.PrivateKey)
	if err != nil {
		return "", err
	}
	if signer := crypto.PubkeyToAddress(key.PublicKey); signer != fromAddr {
		return "", faults.Newf(faults.KindSigning, "private key belongs to %s, not %s", signer.Hex(), fromAddr.Hex())
	}

	quote, err := c.batch.quote(ctx, fromAddr)
	if err != nil {
		return "", err
	}

	data, err := transferCalldata(toAddr, amount)
	if err != nil {
		return "", faults.Newf(faults.KindSigning, "encode transfer: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    quote.nonce,
		GasPrice: quote.gasPrice,
		Gas:      TransferGasLimit,
		To:       &contract,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, c.signer, key)
	if err != nil {
		return "", faults.Newf(faults.KindSigning, "sign tx: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", faults.Newf(faults.KindSigning, "encode tx: %w", err)
	}

	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return "", faults.New(faults.KindChainProvider, err)
	}
	return hash.Hex(), nil
}

func parsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	rest, ok := strings.CutPrefix(s, "0x")
	if !ok {
		return nil, faults.New(faults.KindPrivateKey, nil)
	}
	key, err := crypto.HexToECDSA(rest)
	if err != nil {
		return nil, faults.New(faults.KindPrivateKey, err)
	}
	return key, nil
}
