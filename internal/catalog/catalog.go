// Package catalog persists the small pieces of server state that are not
// page blobs: the downstream-peer registry and index metadata, so they
// survive a sealed restart. Trigger registrations are not stored here.
// Grounded on the teacher's pkg/storage/boltdb.go: one bbolt bucket per
// entity kind, values JSON-marshaled under a string key.
package catalog

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketPeers   = []byte("peers")
	bucketIndexes = []byte("indexes")
)

// Peer is a downstream replica this server forwards commit notifications
// to, identified by its attested session identity.
type Peer struct {
	ID         string `json:"id"`
	Address    string `json:"address"`
	Downstream bool   `json:"downstream"`
	PublicKey  []byte `json:"public_key"`
}

// IndexEntry records that collection has a secondary index over paths, so
// the index set can be rebuilt on restart without a full collection scan.
type IndexEntry struct {
	Collection string   `json:"collection"`
	Paths      []string `json:"paths"`
}

// Catalog is a bbolt-backed store for peer and index metadata.
type Catalog struct {
	db *bolt.DB
}

// Open creates or opens the catalog database under dataDir.
func Open(dataDir string) (*Catalog, error) {
	path := filepath.Join(dataDir, "catalog.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPeers, bucketIndexes} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// PutPeer upserts a peer record.
func (c *Catalog) PutPeer(p Peer) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPeers).Put([]byte(p.ID), data)
	})
}

// DeletePeer removes a peer record.
func (c *Catalog) DeletePeer(id string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).Delete([]byte(id))
	})
}

// ListPeers returns every registered peer.
func (c *Catalog) ListPeers() ([]Peer, error) {
	var peers []Peer
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPeers).ForEach(func(k, v []byte) error {
			var p Peer
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			peers = append(peers, p)
			return nil
		})
	})
	return peers, err
}

// PutIndex records that collection now has an index over paths.
func (c *Catalog) PutIndex(entry IndexEntry) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIndexes).Put([]byte(entry.Collection), data)
	})
}

// DeleteIndex removes collection's index record.
func (c *Catalog) DeleteIndex(collection string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndexes).Delete([]byte(collection))
	})
}

// ListIndexes returns every recorded index, used to rebuild in-memory
// indexes in internal/store after a restart.
func (c *Catalog) ListIndexes() ([]IndexEntry, error) {
	var entries []IndexEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndexes).ForEach(func(k, v []byte) error {
			var e IndexEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}
