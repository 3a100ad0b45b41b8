// Package mockchain is an in-memory development node that accepts signed
// ERC20 transfers over JSON-RPC and seals them into blocks.
package mockchain

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chenzhangda16/web3-settle/internal/mockchain/model"
)

var (
	ErrNonceTooLow   = errors.New("nonce too low")
	ErrNonceTooHigh  = errors.New("nonce too high")
	ErrUnderpriced   = errors.New("transaction underpriced")
	ErrAlreadyKnown  = errors.New("already known")
	ErrWrongChain    = errors.New("invalid chain id")
	ErrNotATransfer  = errors.New("calldata is not an erc20 transfer")
	ErrNoContractTo  = errors.New("contract creation not supported")
	ErrInvalidTxData = errors.New("invalid transaction")
)

var transferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

type Options struct {
	ChainID  *big.Int
	GasPrice *big.Int
	// AutoMine seals a block on every accepted transaction.
	AutoMine bool
}

type Node struct {
	chainID  *big.Int
	gasPrice *big.Int
	signer   types.Signer
	autoMine bool

	mu      sync.Mutex
	latest  map[common.Address]uint64
	pending map[common.Address]uint64
	pool    []model.Tx
	txs     map[common.Hash]model.Tx
	blocks  []model.Block
}

func NewNode(opts Options) *Node {
	if opts.ChainID == nil {
		opts.ChainID = big.NewInt(1337)
	}
	if opts.GasPrice == nil {
		opts.GasPrice = big.NewInt(1_000_000_000)
	}
	return &Node{
		chainID:  new(big.Int).Set(opts.ChainID),
		gasPrice: new(big.Int).Set(opts.GasPrice),
		signer:   types.LatestSignerForChainID(opts.ChainID),
		autoMine: opts.AutoMine,
		latest:   make(map[common.Address]uint64),
		pending:  make(map[common.Address]uint64),
		txs:      make(map[common.Hash]model.Tx),
	}
}

func (n *Node) ChainID() *big.Int  { return new(big.Int).Set(n.chainID) }
func (n *Node) GasPrice() *big.Int { return new(big.Int).Set(n.gasPrice) }

// Nonce returns the transaction count of addr, counting pool entries when
// pending is set.
func (n *Node) Nonce(addr common.Address, pending bool) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if pending {
		return n.pending[addr]
	}
	return n.latest[addr]
}

// SetNonce moves both counters of addr, e.g. to simulate an account with
// prior history.
func (n *Node) SetNonce(addr common.Address, v uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest[addr] = v
	n.pending[addr] = v
}

// SubmitRaw validates and pools a signed, RLP-encoded transaction.
func (n *Node) SubmitRaw(raw []byte) (common.Hash, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidTxData, err)
	}
	if tx.ChainId().Cmp(n.chainID) != 0 {
		return common.Hash{}, fmt.Errorf("%w: have %s want %s", ErrWrongChain, tx.ChainId(), n.chainID)
	}
	from, err := types.Sender(n.signer, &tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidTxData, err)
	}
	if tx.To() == nil {
		return common.Hash{}, ErrNoContractTo
	}
	recipient, amount, err := decodeTransfer(tx.Data())
	if err != nil {
		return common.Hash{}, err
	}
	if tx.GasPrice().Cmp(n.gasPrice) < 0 {
		return common.Hash{}, ErrUnderpriced
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	h := tx.Hash()
	if _, ok := n.txs[h]; ok {
		return common.Hash{}, ErrAlreadyKnown
	}
	switch want := n.pending[from]; {
	case tx.Nonce() < want:
		return common.Hash{}, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooLow, from.Hex(), tx.Nonce(), want)
	case tx.Nonce() > want:
		return common.Hash{}, fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooHigh, from.Hex(), tx.Nonce(), want)
	}

	n.pending[from]++
	rec := model.Tx{
		Hash:      h,
		From:      from,
		Contract:  *tx.To(),
		Recipient: recipient,
		Amount:    (*hexutil.Big)(amount),
		Nonce:     tx.Nonce(),
		GasPrice:  (*hexutil.Big)(tx.GasPrice()),
	}
	n.pool = append(n.pool, rec)
	n.txs[h] = rec
	if n.autoMine {
		n.sealLocked(time.Now().Unix())
	}
	return h, nil
}

func decodeTransfer(data []byte) (common.Address, *big.Int, error) {
	if len(data) != 4+64 || !bytes.Equal(data[:4], transferSelector) {
		return common.Address{}, nil, ErrNotATransfer
	}
	to := common.BytesToAddress(data[4+12 : 4+32])
	amount := new(big.Int).SetBytes(data[4+32 : 4+64])
	return to, amount, nil
}

// Seal moves the pool into a new block. It reports false when the pool was
// empty.
func (n *Node) Seal(ts int64) (model.Block, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sealLocked(ts)
}

func (n *Node) sealLocked(ts int64) (model.Block, bool) {
	if len(n.pool) == 0 {
		return model.Block{}, false
	}
	var parent common.Hash
	number := int64(len(n.blocks)) + 1
	if len(n.blocks) > 0 {
		head := n.blocks[len(n.blocks)-1]
		parent = head.Hash
		if ts <= head.Header.Timestamp {
			ts = head.Header.Timestamp + 1
		}
	}

	txs := n.pool
	n.pool = nil
	blk := model.BuildBlock(number, parent, txs, ts)
	n.blocks = append(n.blocks, blk)

	for _, tx := range blk.Txs {
		n.txs[tx.Hash] = tx
		if tx.Nonce+1 > n.latest[tx.From] {
			n.latest[tx.From] = tx.Nonce + 1
		}
	}
	return blk, true
}

func (n *Node) Transaction(h common.Hash) (model.Tx, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tx, ok := n.txs[h]
	return tx, ok
}

// Transactions returns every accepted transaction, sealed ones first.
func (n *Node) Transactions() []model.Tx {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.Tx, 0, len(n.txs))
	for _, b := range n.blocks {
		out = append(out, b.Txs...)
	}
	return append(out, n.pool...)
}

func (n *Node) Head() (model.Block, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.blocks) == 0 {
		return model.Block{}, false
	}
	return n.blocks[len(n.blocks)-1], true
}

func (n *Node) BlockByNumber(num int64) (model.Block, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if num <= 0 || num > int64(len(n.blocks)) {
		return model.Block{}, false
	}
	return n.blocks[num-1], true
}
