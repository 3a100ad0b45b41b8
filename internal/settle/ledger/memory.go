package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/chenzhangda16/web3-settle/internal/settle/faults"
	"github.com/chenzhangda16/web3-settle/internal/settle/model"
)

// Memory is a Store kept in process memory with the same duplicate and
// pending-only semantics as Postgres. The error fields inject failures.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*model.LedgerEntry
	order    []string
	accounts map[string]model.Account
	inserts  int
	records  int

	InsertErr  error
	AcquireErr error
	RecordErr  error
}

func NewMemory(accounts ...model.Account) *Memory {
	m := &Memory{
		entries:  make(map[string]*model.LedgerEntry),
		accounts: make(map[string]model.Account),
	}
	for _, a := range accounts {
		m.accounts[a.UserID] = a
	}
	return m
}

func (m *Memory) AddAccount(a model.Account) {
	m.mu.Lock()
	m.accounts[a.UserID] = a
	m.mu.Unlock()
}

func (m *Memory) Insert(ctx context.Context, r model.TransferRequest) error {
	if err := ctx.Err(); err != nil {
		return faults.New(faults.KindStoreAccess, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	if _, ok := m.entries[r.TagID]; ok {
		return faults.ErrDuplicate
	}
	m.inserts++
	m.entries[r.TagID] = &model.LedgerEntry{TransferRequest: r, Status: model.StatusPending, UpdatedAt: time.Now()}
	m.order = append(m.order, r.TagID)
	return nil
}

func (m *Memory) Acquire(ctx context.Context) (Session, error) {
	m.mu.Lock()
	err := m.AcquireErr
	m.mu.Unlock()
	if err != nil {
		return nil, faults.New(faults.KindPoolAcquisition, err)
	}
	return memSession{m: m}, nil
}

// Entry returns a copy of the row for tag.
func (m *Memory) Entry(tag string) (model.LedgerEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[tag]
	if !ok {
		return model.LedgerEntry{}, false
	}
	return *e, true
}

// Tags lists inserted tags in insertion order.
func (m *Memory) Tags() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Counts reports successful inserts and applied outcome writes.
func (m *Memory) Counts() (inserts, records int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts, m.records
}

type memSession struct {
	m *Memory
}

func (s memSession) Account(_ context.Context, userID string) (model.Account, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.accounts[userID]
	if !ok {
		return model.Account{}, faults.Newf(faults.KindStoreAccess, "account %s: no rows in result set", userID)
	}
	return a, nil
}

func (s memSession) Record(_ context.Context, o model.Outcome) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.RecordErr != nil {
		return false, faults.New(faults.KindStoreAccess, s.m.RecordErr)
	}
	e, ok := s.m.entries[o.TagID]
	if !ok || e.Status != model.StatusPending {
		return false, nil
	}
	code := o.StatusCode
	rt := o.RequestTime
	e.Status = o.Status
	e.StatusCode = &code
	e.RequestTime = &rt
	e.TxHash, e.FailReason = nil, nil
	if o.Status == model.StatusSuccess {
		h := o.TxHash
		e.TxHash = &h
	} else {
		r := o.FailReason
		e.FailReason = &r
	}
	e.UpdatedAt = time.Now()
	s.m.records++
	return true, nil
}

func (memSession) Release() {}
