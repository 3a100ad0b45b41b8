package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

type BlockHeader struct {
	Number     int64       `json:"number"`
	ParentHash common.Hash `json:"parent_hash"`
	Timestamp  int64       `json:"timestamp"`
	TxRoot     common.Hash `json:"tx_root"`
}

type Block struct {
	Header BlockHeader `json:"header"`
	Hash   common.Hash `json:"hash"`
	Txs    []Tx        `json:"txs"`
}

// Tx is an accepted ERC20 transfer. BlockNum is 0 while it sits in the pool.
type Tx struct {
	Hash      common.Hash    `json:"hash"`
	From      common.Address `json:"from"`
	Contract  common.Address `json:"contract"`
	Recipient common.Address `json:"recipient"`
	Amount    *hexutil.Big   `json:"amount"`
	Nonce     uint64         `json:"nonce"`
	GasPrice  *hexutil.Big   `json:"gas_price"`
	BlockNum  int64          `json:"block_num"`
}

func BuildBlock(number int64, parentHash common.Hash, txs []Tx, timestamp int64) Block {
	hashes := make([]common.Hash, 0, len(txs))
	for i := range txs {
		txs[i].BlockNum = number
		hashes = append(hashes, txs[i].Hash)
	}
	header := BlockHeader{
		Number:     number,
		ParentHash: parentHash,
		Timestamp:  timestamp,
		TxRoot:     TxRoot(hashes),
	}
	return Block{Header: header, Hash: HashHeader(header), Txs: txs}
}

func HashHeader(h BlockHeader) common.Hash {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, h.Number)
	_ = binary.Write(&buf, binary.BigEndian, h.Timestamp)
	buf.Write(h.ParentHash[:])
	buf.Write(h.TxRoot[:])
	return crypto.Keccak256Hash(buf.Bytes())
}

// TxRoot is order independent.
func TxRoot(hashes []common.Hash) common.Hash {
	sorted := slices.Clone(hashes)
	slices.SortFunc(sorted, func(a, b common.Hash) int { return bytes.Compare(a[:], b[:]) })
	var buf bytes.Buffer
	for _, h := range sorted {
		buf.Write(h[:])
	}
	return crypto.Keccak256Hash(buf.Bytes())
}

func EncodeBlock(b Block) ([]byte, error) { return json.Marshal(b) }
