package mockchain

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

func signedTransfer(t *testing.T, key *ecdsa.PrivateKey, chainID *big.Int, nonce uint64, to common.Address, amount int64) []byte {
	t.Helper()
	data := append([]byte{}, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(amount).Bytes(), 32)...)

	contract := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      50000,
		To:       &contract,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}

func TestSubmitRawRecoversSenderAndTracksNonce(t *testing.T) {
	n := NewNode(Options{ChainID: big.NewInt(7)})
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	h, err := n.SubmitRaw(signedTransfer(t, key, big.NewInt(7), 0, to, 42))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	tx, ok := n.Transaction(h)
	if !ok {
		t.Fatalf("tx %s not recorded", h.Hex())
	}
	if tx.From != from || tx.Recipient != to || tx.Amount.ToInt().Int64() != 42 {
		t.Fatalf("tx=%+v", tx)
	}
	if got := n.Nonce(from, true); got != 1 {
		t.Fatalf("pending nonce=%d want 1", got)
	}
	if got := n.Nonce(from, false); got != 0 {
		t.Fatalf("latest nonce=%d want 0 before sealing", got)
	}

	blk, ok := n.Seal(100)
	if !ok || len(blk.Txs) != 1 || blk.Txs[0].BlockNum != 1 {
		t.Fatalf("seal: ok=%v blk=%+v", ok, blk)
	}
	if got := n.Nonce(from, false); got != 1 {
		t.Fatalf("latest nonce=%d want 1 after sealing", got)
	}
	if _, ok := n.Seal(101); ok {
		t.Fatalf("empty pool must not seal")
	}
}

func TestSubmitRawRejects(t *testing.T) {
	n := NewNode(Options{ChainID: big.NewInt(7)})
	key, _ := crypto.GenerateKey()
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	if _, err := n.SubmitRaw(signedTransfer(t, key, big.NewInt(8), 0, to, 1)); !errors.Is(err, ErrWrongChain) {
		t.Fatalf("wrong chain: err=%v", err)
	}
	if _, err := n.SubmitRaw(signedTransfer(t, key, big.NewInt(7), 3, to, 1)); !errors.Is(err, ErrNonceTooHigh) {
		t.Fatalf("gap nonce: err=%v", err)
	}
	raw := signedTransfer(t, key, big.NewInt(7), 0, to, 1)
	if _, err := n.SubmitRaw(raw); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := n.SubmitRaw(raw); !errors.Is(err, ErrAlreadyKnown) {
		t.Fatalf("resubmit: err=%v", err)
	}
	if _, err := n.SubmitRaw(signedTransfer(t, key, big.NewInt(7), 0, to, 2)); !errors.Is(err, ErrNonceTooLow) {
		t.Fatalf("reused nonce: err=%v", err)
	}
	if _, err := n.SubmitRaw([]byte{0x01, 0x02}); !errors.Is(err, ErrInvalidTxData) {
		t.Fatalf("garbage: err=%v", err)
	}
}

func TestAutoMineSealsEachTransaction(t *testing.T) {
	n := NewNode(Options{AutoMine: true})
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	for i := uint64(0); i < 3; i++ {
		if _, err := n.SubmitRaw(signedTransfer(t, key, n.ChainID(), i, to, 1)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	head, ok := n.Head()
	if !ok || head.Header.Number != 3 {
		t.Fatalf("head=%+v ok=%v", head.Header, ok)
	}
	prev, _ := n.BlockByNumber(2)
	if head.Header.ParentHash != prev.Hash {
		t.Fatalf("parent link broken")
	}
	if head.Header.Timestamp <= prev.Header.Timestamp {
		t.Fatalf("timestamps not increasing: %d <= %d", head.Header.Timestamp, prev.Header.Timestamp)
	}
	if got := n.Nonce(from, false); got != 3 {
		t.Fatalf("latest nonce=%d", got)
	}
	if got := len(n.Transactions()); got != 3 {
		t.Fatalf("transactions=%d", got)
	}
}
