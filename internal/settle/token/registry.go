package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chenzhangda16/web3-settle/internal/settle/model"
)

// Registry maps every TokenCode to its ERC20 contract. Immutable after New.
type Registry struct {
	addrs [5]string
}

// New takes contract addresses in TokenCodes() order.
func New(addrs map[model.TokenCode]string) (*Registry, error) {
	r := &Registry{}
	for _, c := range model.TokenCodes() {
		a, ok := addrs[c]
		if !ok || a == "" {
			return nil, fmt.Errorf("token registry: missing contract for %s", c)
		}
		r.addrs[c] = a
	}
	return r, nil
}

// Address returns the raw configured contract for code; invalid codes get the
// default entry.
func (r *Registry) Address(code model.TokenCode) string {
	if !code.Valid() {
		code = model.DefaultToken
	}
	return r.addrs[code]
}

// Contract resolves and validates the contract address for code.
func (r *Registry) Contract(code model.TokenCode) (common.Address, bool) {
	a := r.Address(code)
	if !common.IsHexAddress(a) {
		return common.Address{}, false
	}
	return common.HexToAddress(a), true
}
