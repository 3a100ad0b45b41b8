package model

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusFail    Status = "fail"
	StatusSuccess Status = "success"
)

// Status codes written by settlement.
const (
	CodeSubmitted     = 202
	CodeProviderError = 400
	CodeInternalError = 500
)

// LedgerEntry mirrors one transactions_pool row.
type LedgerEntry struct {
	TransferRequest

	Status      Status
	StatusCode  *int
	TxHash      *string
	FailReason  *string
	RequestTime *time.Time
	UpdatedAt   time.Time
}

// Outcome is the single mutation settlement applies to a pending row.
type Outcome struct {
	TagID       string
	Status      Status
	StatusCode  int
	TxHash      string
	FailReason  string
	RequestTime time.Time
}

func Submitted(tag, txHash string, requestTime time.Time) Outcome {
	return Outcome{
		TagID:       tag,
		Status:      StatusSuccess,
		StatusCode:  CodeSubmitted,
		TxHash:      txHash,
		RequestTime: requestTime,
	}
}

func Failed(tag string, code int, reason string, requestTime time.Time) Outcome {
	return Outcome{
		TagID:       tag,
		Status:      StatusFail,
		StatusCode:  code,
		FailReason:  reason,
		RequestTime: requestTime,
	}
}

// Account is a signing identity from the userinfo directory.
type Account struct {
	UserID     string
	Address    string
	PrivateKey string
}
