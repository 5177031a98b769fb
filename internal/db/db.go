package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
)

type Options struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
	ConnMaxIdle  time.Duration
	PingTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = 50
	}
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = 25
	}
	if o.ConnMaxLife == 0 {
		o.ConnMaxLife = 30 * time.Minute
	}
	if o.ConnMaxIdle == 0 {
		o.ConnMaxIdle = 5 * time.Minute
	}
	if o.PingTimeout == 0 {
		o.PingTimeout = 2 * time.Second
	}
	return o
}

type DB struct {
	DB *sql.DB
}

// ParseDSN validates dsn and forces parseTime so DATETIME columns scan into
// time.Time.
func ParseDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func Open(opt Options) (*DB, error) {
	opt = opt.withDefaults()
	dsn, err := ParseDSN(opt.DSN)
	if err != nil {
		return nil, err
	}
	d, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	d.SetMaxOpenConns(opt.MaxOpenConns)
	d.SetMaxIdleConns(opt.MaxIdleConns)
	d.SetConnMaxLifetime(opt.ConnMaxLife)
	d.SetConnMaxIdleTime(opt.ConnMaxIdle)

	ctx, cancel := context.WithTimeout(context.Background(), opt.PingTimeout)
	defer cancel()
	if err := d.PingContext(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return &DB{DB: d}, nil
}

func (d *DB) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
