package postgres

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spaolacci/murmur3"

	pgutil "github.com/code-payments/tokenitis-server/pkg/database/postgres"
	"github.com/code-payments/tokenitis-server/pkg/ledger"
)

const (
	tableName = "tokenitis__core_account"
)

type model struct {
	Id sql.NullInt64 `db:"id"`

	Address string `db:"address"`
	Owner   string `db:"owner"`
	Data    []byte `db:"data"`

	LastUpdatedAt time.Time `db:"last_updated_at"`
}

func toModel(obj *ledger.Account) (*model, error) {
	if err := obj.Validate(); err != nil {
		return nil, err
	}

	data := obj.Data
	if data == nil {
		data = []byte{}
	}

	return &model{
		Address:       obj.Address,
		Owner:         obj.Owner,
		Data:          data,
		LastUpdatedAt: obj.LastUpdatedAt,
	}, nil
}

func fromModel(obj *model) *ledger.Account {
	var data []byte
	if len(obj.Data) > 0 {
		data = make([]byte, len(obj.Data))
		copy(data, obj.Data)
	}

	return &ledger.Account{
		Address:       obj.Address,
		Owner:         obj.Owner,
		Data:          data,
		LastUpdatedAt: obj.LastUpdatedAt,
	}
}

func (m *model) dbSave(ctx context.Context, db *sqlx.DB) error {
	return pgutil.ExecuteInTx(ctx, db, sql.LevelDefault, func(tx *sqlx.Tx) error {
		if err := dbLockAddresses(ctx, tx, m.Address); err != nil {
			return err
		}
		return m.dbUpsert(ctx, tx)
	})
}

func (m *model) dbUpsert(ctx context.Context, tx *sqlx.Tx) error {
	query := `INSERT INTO ` + tableName + `
		(address, owner, data, last_updated_at)
		VALUES ($1, $2, $3, $4)

		ON CONFLICT (address)
		DO UPDATE
			SET owner = $2, data = $3, last_updated_at = $4
			WHERE ` + tableName + `.address = $1

		RETURNING
			id, address, owner, data, last_updated_at`

	m.LastUpdatedAt = time.Now()

	return tx.QueryRowxContext(
		ctx,
		query,
		m.Address,
		m.Owner,
		m.Data,
		m.LastUpdatedAt.UTC(),
	).StructScan(m)
}

func dbGetByAddress(ctx context.Context, db sqlx.QueryerContext, address string) (*model, error) {
	res := &model{}

	query := `SELECT id, address, owner, data, last_updated_at FROM ` + tableName + `
		WHERE address = $1
		LIMIT 1`

	err := sqlx.GetContext(ctx, db, res, query, address)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, ledger.ErrAccountNotFound)
	}
	return res, nil
}

// dbLockAddresses takes transaction scoped advisory locks for every address.
// Advisory locks cover addresses that don't have a row yet, which row locks
// can't. Locks are taken in key order so overlapping sets cannot deadlock.
func dbLockAddresses(ctx context.Context, tx *sqlx.Tx, addresses ...string) error {
	unique := make(map[int64]struct{})
	for _, address := range addresses {
		unique[lockKey(address)] = struct{}{}
	}

	keys := make([]int64, 0, len(unique))
	for key := range unique {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
			return err
		}
	}
	return nil
}

func lockKey(address string) int64 {
	return int64(murmur3.Sum64([]byte(tableName + ":" + address)))
}
