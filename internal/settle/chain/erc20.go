package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20TransferABI = `[{
  "constant": false,
  "inputs": [{"name": "_to", "type": "address"}, {"name": "_value", "type": "uint256"}],
  "name": "transfer",
  "outputs": [{"name": "", "type": "bool"}],
  "payable": false,
  "stateMutability": "nonpayable",
  "type": "function"
}]`

var erc20 = mustParseABI(erc20TransferABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// transferCalldata encodes transfer(to, amount).
func transferCalldata(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20.Pack("transfer", to, amount)
}
