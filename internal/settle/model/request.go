package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TokenCode is the closed set of tokens the bridge can settle.
type TokenCode uint8

const (
	TokenA TokenCode = iota
	TokenB
	TokenC
	TokenD
	TokenE

	tokenCount
)

// DefaultToken is what unknown or missing codes resolve to.
const DefaultToken = TokenA

var tokenNames = [tokenCount]string{"token_a", "token_b", "token_c", "token_d", "token_e"}

// TokenCodes lists every code in registry order.
func TokenCodes() []TokenCode {
	out := make([]TokenCode, 0, tokenCount)
	for c := TokenA; c < tokenCount; c++ {
		out = append(out, c)
	}
	return out
}

// ParseTokenCode is total: "a" and "token_a" style names are accepted in any
// case, everything else maps to DefaultToken.
func ParseTokenCode(s string) TokenCode {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "token_")
	if len(s) == 1 && s[0] >= 'a' && s[0] < 'a'+byte(tokenCount) {
		return TokenCode(s[0] - 'a')
	}
	return DefaultToken
}

func (c TokenCode) Valid() bool { return c < tokenCount }

func (c TokenCode) String() string {
	if !c.Valid() {
		return tokenNames[DefaultToken]
	}
	return tokenNames[c]
}

func (c TokenCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *TokenCode) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = DefaultToken
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("coin_code: %w", err)
	}
	*c = ParseTokenCode(s)
	return nil
}

// TransferRequest is the queue payload. TagID is the idempotency key.
type TransferRequest struct {
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	OrderID    string    `json:"order_id"`
	Point      int64     `json:"point"`
	CoinCode   TokenCode `json:"coin_code"`
	GenTime    int64     `json:"gen_time"`
	TagID      string    `json:"tag_id"`
	ExtJSON    *string   `json:"ext_json"`
	StoreID    *string   `json:"store_id"`
}

var ErrInvalidRequest = errors.New("invalid transfer request")

// DecodeRequest parses and validates one payload.
func DecodeRequest(b []byte) (TransferRequest, error) {
	var r TransferRequest
	if err := json.Unmarshal(b, &r); err != nil {
		return TransferRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := r.Validate(); err != nil {
		return TransferRequest{}, err
	}
	return r, nil
}

func (r TransferRequest) Validate() error {
	switch {
	case r.TagID == "":
		return fmt.Errorf("%w: empty tag_id", ErrInvalidRequest)
	case r.FromUserID == "":
		return fmt.Errorf("%w: empty from_user_id", ErrInvalidRequest)
	case r.ToUserID == "":
		return fmt.Errorf("%w: empty to_user_id", ErrInvalidRequest)
	case r.Point < 0:
		return fmt.Errorf("%w: negative point %d", ErrInvalidRequest, r.Point)
	}
	return nil
}
