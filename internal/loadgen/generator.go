// Package loadgen produces replayable TransferRequest traffic for exercising a
// running settler.
package loadgen

import (
	"errors"
	"io"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/chenzhangda16/web3-settle/internal/settle/model"
	"github.com/chenzhangda16/web3-settle/pkg/hash"
	"github.com/chenzhangda16/web3-settle/pkg/rng"
)

// Stream names; each draws from its own seed so tuning one knob does not
// reshuffle the others.
const (
	StreamUsers  = "loadgen.users"
	StreamAmount = "loadgen.amount"
	StreamToken  = "loadgen.token"
	StreamDup    = "loadgen.dup"
	StreamOrder  = "loadgen.order"
)

type Config struct {
	Users    []string
	MaxPoint int64
	// DupRatio is the share of emitted requests that replay an earlier tag.
	DupRatio float64
	Start    time.Time
}

type Generator struct {
	cfg  Config
	seed int64

	rUsers *rand.Rand
	rAmt   *rand.Rand
	rTok   *rand.Rand
	rDup   *rand.Rand
	order  io.Reader

	seq  uint64
	sent []model.TransferRequest
}

func NewGenerator(cfg Config, f *rng.Factory) (*Generator, error) {
	if len(cfg.Users) < 2 {
		return nil, errors.New("loadgen: need at least two users")
	}
	if cfg.MaxPoint <= 0 {
		cfg.MaxPoint = 1000
	}
	if cfg.DupRatio < 0 || cfg.DupRatio > 1 {
		return nil, errors.New("loadgen: dup ratio must be within [0,1]")
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Unix(1_700_000_000, 0)
	}
	return &Generator{
		cfg:    cfg,
		seed:   f.Seed(),
		rUsers: f.R(StreamUsers),
		rAmt:   f.R(StreamAmount),
		rTok:   f.R(StreamToken),
		rDup:   f.R(StreamDup),
		order:  f.Reader(StreamOrder),
	}, nil
}

// Next returns the next request and whether it replays an earlier tag.
func (g *Generator) Next() (model.TransferRequest, bool) {
	if len(g.sent) > 0 && g.rDup.Float64() < g.cfg.DupRatio {
		return g.sent[g.rDup.IntN(len(g.sent))], true
	}

	users := g.cfg.Users
	from := g.rUsers.IntN(len(users))
	to := g.rUsers.IntN(len(users) - 1)
	if to >= from {
		to++
	}
	point := 1 + g.rAmt.Int64N(g.cfg.MaxPoint)
	codes := model.TokenCodes()
	coin := codes[g.rTok.IntN(len(codes))]

	orderID, err := uuid.NewRandomFromReader(g.order)
	if err != nil {
		orderID = uuid.New()
	}

	r := model.TransferRequest{
		FromUserID: users[from],
		ToUserID:   users[to],
		OrderID:    orderID.String(),
		Point:      point,
		CoinCode:   coin,
		GenTime:    g.cfg.Start.Add(time.Duration(g.seq) * time.Millisecond).UnixMilli(),
	}
	r.TagID = g.tag(r)
	g.seq++
	g.sent = append(g.sent, r)
	return r, false
}

func (g *Generator) tag(r model.TransferRequest) string {
	sum := hash.NewBuilder().
		PutI64(g.seed).
		PutU64(g.seq).
		PutString(r.FromUserID).
		PutString(r.ToUserID).
		PutI64(r.Point).
		PutString(r.CoinCode.String()).
		Sum()
	return sum.Hex()[2:34]
}
