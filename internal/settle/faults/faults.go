// Package faults names the failure kinds of the settlement pipeline and maps
// them onto ingestion decisions and persisted status codes.
package faults

import (
	"errors"
	"fmt"

	"github.com/chenzhangda16/web3-settle/internal/settle/model"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindDuplicate
	KindStoreAccess
	KindPoolAcquisition
	KindAddressFormat
	KindPrivateKey
	KindSigning
	KindChainProvider
	KindTransport
	KindMissingField
	KindNumericParse
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindDuplicate:       "duplicate_key",
	KindStoreAccess:     "store_access",
	KindPoolAcquisition: "pool_acquisition",
	KindAddressFormat:   "address_format",
	KindPrivateKey:      "private_key",
	KindSigning:         "signing",
	KindChainProvider:   "chain_provider",
	KindTransport:       "transport",
	KindMissingField:    "missing_field",
	KindNumericParse:    "numeric_parse",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error tags an underlying error with its Kind. Field is set for
// KindMissingField.
type Error struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindMissingField:
		return fmt.Sprintf("can't get key %s from item", e.Field)
	case KindPrivateKey:
		if e.Err == nil {
			return "incorrect private key"
		}
		return "incorrect private key: " + e.Err.Error()
	}
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func MissingField(field string) error {
	return &Error{Kind: KindMissingField, Field: field}
}

// ErrDuplicate is returned by stores when the tag already has a row.
var ErrDuplicate = &Error{Kind: KindDuplicate, Err: errors.New("duplicate key value violates unique constraint")}

// KindOf reports the outermost Kind found in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func IsDuplicate(err error) bool { return KindOf(err) == KindDuplicate }

// IsFatal reports resource exhaustion that must stop the process.
func IsFatal(err error) bool { return KindOf(err) == KindPoolAcquisition }

type Stage int

const (
	Ingestion Stage = iota
	Settlement
)

type Class int

const (
	ClassNone Class = iota
	ClassDuplicate
	ClassRetryableIngestion
	ClassTerminalSettlement
)

func (c Class) String() string {
	switch c {
	case ClassDuplicate:
		return "duplicate"
	case ClassRetryableIngestion:
		return "retryable_ingestion"
	case ClassTerminalSettlement:
		return "terminal_settlement"
	}
	return "none"
}

// Verdict is the classifier output. Code is only set for settlement failures.
type Verdict struct {
	Class Class
	Code  int
}

// Classify maps a failure seen at stage into a pipeline decision.
func Classify(stage Stage, err error) Verdict {
	if err == nil {
		return Verdict{}
	}
	if stage == Ingestion {
		if IsDuplicate(err) {
			return Verdict{Class: ClassDuplicate}
		}
		return Verdict{Class: ClassRetryableIngestion}
	}
	switch KindOf(err) {
	case KindStoreAccess, KindChainProvider:
		return Verdict{Class: ClassTerminalSettlement, Code: model.CodeProviderError}
	default:
		return Verdict{Class: ClassTerminalSettlement, Code: model.CodeInternalError}
	}
}
