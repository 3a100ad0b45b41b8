package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chenzhangda16/web3-settle/internal/settle/faults"
	"github.com/chenzhangda16/web3-settle/internal/settle/model"
)

const (
	insertSQL = `INSERT INTO transactions_pool
	(from_user_id, to_user_id, order_id, point, coin_code, gen_time, ext_json, tag_id, store_id, status)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (tag_id) DO NOTHING`

	successSQL = `UPDATE transactions_pool
	SET status=$1, status_code=$2, tx_hash=$3, fail_reason=NULL, request_time=$4, updated_at=current_timestamp
	WHERE tag_id=$5 AND status=$6`

	failSQL = `UPDATE transactions_pool
	SET status=$1, status_code=$2, tx_hash=NULL, fail_reason=$3, request_time=$4, updated_at=current_timestamp
	WHERE tag_id=$5 AND status=$6`

	accountSQL = `SELECT address, private_key FROM userinfo WHERE user_id=$1`

	entrySQL = `SELECT from_user_id, to_user_id, order_id, point, coin_code, gen_time, ext_json, tag_id, store_id,
	status, status_code, tx_hash, fail_reason, request_time, updated_at
	FROM transactions_pool WHERE tag_id=$1`
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS transactions_pool (
  id            bigserial   PRIMARY KEY,
  from_user_id  text        NOT NULL,
  to_user_id    text        NOT NULL,
  order_id      text        NOT NULL,
  point         bigint      NOT NULL,
  coin_code     text        NOT NULL,
  gen_time      bigint      NOT NULL,
  ext_json      text,
  tag_id        text        NOT NULL,
  store_id      text,
  status        text        NOT NULL DEFAULT 'pending',
  status_code   int,
  tx_hash       text,
  fail_reason   text,
  request_time  timestamptz,
  updated_at    timestamptz NOT NULL DEFAULT now(),
  CONSTRAINT transactions_pool_tag_id_key UNIQUE (tag_id)
);
CREATE INDEX IF NOT EXISTS idx_transactions_pool_status ON transactions_pool(status);
CREATE TABLE IF NOT EXISTS userinfo (
  user_id      text PRIMARY KEY,
  address      text NOT NULL,
  private_key  text NOT NULL
);
`

type PostgresConfig struct {
	URL      string
	MaxConns int32
}

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

// EnsureSchema creates the ledger and directory tables when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaDDL)
	return err
}

// Stat exposes pool usage for metrics.
func (p *Postgres) Stat() (acquired, total int32) {
	s := p.pool.Stat()
	return s.AcquiredConns(), s.TotalConns()
}

func (p *Postgres) Insert(ctx context.Context, r model.TransferRequest) error {
	tag, err := p.pool.Exec(ctx, insertSQL,
		r.FromUserID, r.ToUserID, r.OrderID, r.Point, r.CoinCode.String(), r.GenTime,
		r.ExtJSON, r.TagID, r.StoreID, string(model.StatusPending),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return faults.ErrDuplicate
		}
		return faults.New(faults.KindStoreAccess, err)
	}
	if tag.RowsAffected() == 0 {
		return faults.ErrDuplicate
	}
	return nil
}

func (p *Postgres) Acquire(ctx context.Context) (Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, faults.New(faults.KindPoolAcquisition, fmt.Errorf("get db connection error: %w", err))
	}
	return &pgSession{conn: conn}, nil
}

// Entry loads one ledger row by tag.
func (p *Postgres) Entry(ctx context.Context, tagID string) (model.LedgerEntry, error) {
	var (
		e      model.LedgerEntry
		coin   string
		status string
	)
	err := p.pool.QueryRow(ctx, entrySQL, tagID).Scan(
		&e.FromUserID, &e.ToUserID, &e.OrderID, &e.Point, &coin, &e.GenTime, &e.ExtJSON, &e.TagID, &e.StoreID,
		&status, &e.StatusCode, &e.TxHash, &e.FailReason, &e.RequestTime, &e.UpdatedAt,
	)
	if err != nil {
		return model.LedgerEntry{}, faults.New(faults.KindStoreAccess, err)
	}
	e.CoinCode = model.ParseTokenCode(coin)
	e.Status = model.Status(status)
	return e, nil
}

type pgSession struct {
	conn *pgxpool.Conn
}

func (s *pgSession) Account(ctx context.Context, userID string) (model.Account, error) {
	a := model.Account{UserID: userID}
	if err := s.conn.QueryRow(ctx, accountSQL, userID).Scan(&a.Address, &a.PrivateKey); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, faults.Newf(faults.KindStoreAccess, "account %s: %w", userID, err)
		}
		return model.Account{}, faults.New(faults.KindStoreAccess, err)
	}
	return a, nil
}

func (s *pgSession) Record(ctx context.Context, o model.Outcome) (bool, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if o.Status == model.StatusSuccess {
		tag, err = s.conn.Exec(ctx, successSQL,
			string(o.Status), o.StatusCode, o.TxHash, o.RequestTime, o.TagID, string(model.StatusPending))
	} else {
		tag, err = s.conn.Exec(ctx, failSQL,
			string(o.Status), o.StatusCode, o.FailReason, o.RequestTime, o.TagID, string(model.StatusPending))
	}
	if err != nil {
		return false, faults.New(faults.KindStoreAccess, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgSession) Release() { s.conn.Release() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
