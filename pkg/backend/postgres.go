package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/dory-project/dory/pkg/doryerr"
)

// PostgresConfig configures a Postgres-backed Device.
type PostgresConfig struct {
	ConnectionString string
	MaxConnections    int32
	ConnectTimeout    time.Duration
	// SectorSize is the row granularity. Reads and writes must start and
	// end on a SectorSize boundary; unaligned access returns an error and
	// is not realigned.
	SectorSize int32
	// SectorCount is the fixed device capacity in sectors.
	SectorCount int64
}

// Postgres is a Device that stores each sector as a row in a Postgres
// table, demonstrating that the cache shim works unmodified against a
// networked, possibly slow backing store.
type Postgres struct {
	pool       *pgxpool.Pool
	sectorSize int32
	size       int64
}

// NewPostgres connects to Postgres, creates the sectors table if absent,
// and returns a ready Device.
func NewPostgres(ctx context.Context, cfg *PostgresConfig) (*Postgres, error) {
	if cfg.SectorSize <= 0 {
		return nil, doryerr.NewConfigInvalid("postgres backend sector size must be positive, got %d", cfg.SectorSize)
	}
	if cfg.SectorCount <= 0 {
		return nil, doryerr.NewConfigInvalid("postgres backend sector count must be positive, got %d", cfg.SectorCount)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, doryerr.Wrap(doryerr.ConfigInvalid, "parse postgres connection string", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, doryerr.Wrap(doryerr.Allocation, "create postgres pool", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, doryerr.Wrap(doryerr.Allocation, "ping postgres backend", err)
	}

	p := &Postgres{pool: pool, sectorSize: cfg.SectorSize, size: cfg.SectorCount * int64(cfg.SectorSize)}
	if err := p.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	const createTable = `CREATE TABLE IF NOT EXISTS dory_sectors (
		sector_number BIGINT PRIMARY KEY,
		data BYTEA NOT NULL
	)`
	if _, err := p.pool.Exec(ctx, createTable); err != nil {
		return doryerr.Wrap(doryerr.Allocation, "create sectors table", err)
	}
	return nil
}

func (p *Postgres) sectorRange(off int64, n int) (first, last int64, err error) {
	if off%int64(p.sectorSize) != 0 || n%int(p.sectorSize) != 0 {
		return 0, 0, fmt.Errorf("postgres backend requires sector-aligned access, got off=%d len=%d sector=%d", off, n, p.sectorSize)
	}
	first = off / int64(p.sectorSize)
	last = first + int64(n)/int64(p.sectorSize) - 1
	return first, last, nil
}

func (p *Postgres) ReadAt(ctx context.Context, buf []byte, off int64) error {
	first, last, err := p.sectorRange(off, len(buf))
	if err != nil {
		return err
	}

	rows, err := p.pool.Query(ctx,
		`SELECT sector_number, data FROM dory_sectors WHERE sector_number BETWEEN $1 AND $2`,
		first, last)
	if err != nil {
		return doryerr.Wrap(doryerr.IoFailed, "query sectors", err)
	}
	defer rows.Close()

	// Unwritten sectors read as zero, matching a freshly allocated device.
	for i := range buf {
		buf[i] = 0
	}
	for rows.Next() {
		var sectorNum int64
		var data []byte
		if err := rows.Scan(&sectorNum, &data); err != nil {
			return doryerr.Wrap(doryerr.IoFailed, "scan sector row", err)
		}
		rel := (sectorNum - first) * int64(p.sectorSize)
		copy(buf[rel:rel+int64(p.sectorSize)], data)
	}
	return rows.Err()
}

func (p *Postgres) WriteAt(ctx context.Context, buf []byte, off int64) error {
	first, _, err := p.sectorRange(off, len(buf))
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return doryerr.Wrap(doryerr.IoFailed, "begin sector write transaction", err)
	}
	defer tx.Rollback(ctx)

	sectors := len(buf) / int(p.sectorSize)
	for i := 0; i < sectors; i++ {
		sectorNum := first + int64(i)
		data := buf[i*int(p.sectorSize) : (i+1)*int(p.sectorSize)]
		if _, err := tx.Exec(ctx,
			`INSERT INTO dory_sectors (sector_number, data) VALUES ($1, $2)
			 ON CONFLICT (sector_number) DO UPDATE SET data = EXCLUDED.data`,
			sectorNum, data); err != nil {
			return doryerr.Wrap(doryerr.IoFailed, "upsert sector", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return doryerr.Wrap(doryerr.IoFailed, "commit sector write transaction", err)
	}
	return nil
}

func (p *Postgres) Flush(ctx context.Context) error {
	// Each write is already committed per-transaction; nothing to flush.
	return nil
}

func (p *Postgres) Size() int64 {
	return p.size
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
