// ABOUTME: Charm KV client wrapper using the transactional Do API
// ABOUTME: Short-lived connections so the recorder and the MCP server can share the store

package charm

import (
	"fmt"
	"os"

	"github.com/charmbracelet/charm/kv"
)

const (
	// DBName is the Charm KV database holding delivered walk samples.
	DBName = "walktrack"

	// DefaultCharmHost is used when neither the config nor CHARM_HOST names a server.
	DefaultCharmHost = "charm.2389.dev"

	SamplePrefix  = "sample:"
	SessionPrefix = "session:"
)

// Config selects the Charm server and database.
type Config struct {
	Host   string
	DBName string
	// PushOnWrite syncs with the Charm server after every write transaction.
	PushOnWrite bool
}

// DefaultConfig reads CHARM_HOST and pushes on every write.
func DefaultConfig() *Config {
	host := os.Getenv("CHARM_HOST")
	if host == "" {
		host = DefaultCharmHost
	}
	return &Config{Host: host, DBName: DBName, PushOnWrite: true}
}

// Client runs operations against one KV database. It holds no connection:
// every call opens the database, runs, and closes it again.
type Client struct {
	db   string
	push bool
}

// NewClient points the charm library at cfg.Host and returns a client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Host != "" {
		if err := os.Setenv("CHARM_HOST", cfg.Host); err != nil {
			return nil, fmt.Errorf("set charm host: %w", err)
		}
	}
	db := cfg.DBName
	if db == "" {
		db = DBName
	}
	return &Client{db: db, push: cfg.PushOnWrite}, nil
}

// NewTestClient returns a client on db that never contacts a server.
func NewTestClient(db string) *Client {
	return &Client{db: db}
}

// Get reads one key.
func (c *Client) Get(key []byte) ([]byte, error) {
	var val []byte
	err := c.DoReadOnly(func(k *kv.KV) error {
		var err error
		val, err = k.Get(key)
		return err
	})
	return val, err
}

// DoReadOnly runs fn against a read-only view of the database.
func (c *Client) DoReadOnly(fn func(k *kv.KV) error) error {
	return kv.DoReadOnly(c.db, fn)
}

// Do runs fn in a write transaction, then pushes to the server when
// PushOnWrite is set.
func (c *Client) Do(fn func(k *kv.KV) error) error {
	return kv.Do(c.db, func(k *kv.KV) error {
		if err := fn(k); err != nil {
			return err
		}
		if !c.push {
			return nil
		}
		return k.Sync()
	})
}
