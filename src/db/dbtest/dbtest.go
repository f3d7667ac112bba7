// Package dbtest provides an in-memory db.Pool for tests.
package dbtest

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"age-classifier/src/db"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("dbtest: pool closed")

// Pool keeps inserted models in memory and assigns sequential ids to any
// int64 field named ID.
type Pool struct {
	// InsertErr, when set, is returned by every Insert.
	InsertErr error

	mu       sync.Mutex
	rows     []interface{}
	nextID   int64
	acquired int
	released int
	closed   bool
}

func New() *Pool {
	return &Pool{}
}

// Opener returns an Opener that always yields p.
func (p *Pool) Opener() db.Opener {
	return func(context.Context) (db.Pool, error) {
		p.mu.Lock()
		p.closed = false
		p.mu.Unlock()
		return p, nil
	}
}

func (p *Pool) Acquire(context.Context) (db.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	p.acquired++
	return &conn{pool: p}, nil
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Rows returns the models inserted so far.
func (p *Pool) Rows() []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]interface{}(nil), p.rows...)
}

// Outstanding is the number of acquired connections not yet released.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired - p.released
}

func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type conn struct {
	pool     *Pool
	released bool
}

func (c *conn) Insert(_ context.Context, model interface{}) error {
	p := c.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.InsertErr != nil {
		return p.InsertErr
	}

	p.nextID++
	if v := reflect.ValueOf(model); v.Kind() == reflect.Ptr && v.Elem().Kind() == reflect.Struct {
		if f := v.Elem().FieldByName("ID"); f.IsValid() && f.CanSet() && f.Kind() == reflect.Int64 {
			f.SetInt(p.nextID)
		}
	}
	p.rows = append(p.rows, model)
	return nil
}

func (c *conn) Release() error {
	if c.released {
		return errors.New("dbtest: connection released twice")
	}
	c.released = true
	c.pool.mu.Lock()
	c.pool.released++
	c.pool.mu.Unlock()
	return nil
}

// FailingOpener returns an Opener that always fails with err.
func FailingOpener(err error) db.Opener {
	return func(context.Context) (db.Pool, error) {
		return nil, err
	}
}
