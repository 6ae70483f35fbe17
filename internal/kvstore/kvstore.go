// Package kvstore defines the durable record store the bot keeps its
// state in: protected links, verification tokens, access marks and the
// broadcast audience.
//
// Records are JSON documents addressed by (collection, key). A write is
// durable when it returns and is visible to every later read. The store
// assumes a single writing process.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is returned for collection names or keys the store
// cannot address.
var ErrInvalidName = errors.New("kvstore: invalid name")

var collectionRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// Entry is one raw record of a collection.
type Entry struct {
	Key   string
	Value json.RawMessage
}

// Decode unmarshals the entry value into out.
func (e Entry) Decode(out any) error {
	return json.Unmarshal(e.Value, out)
}

// Store is implemented by every backend.
type Store interface {
	// Put stores record under key, replacing any previous value.
	Put(ctx context.Context, collection, key string, record any) error
	// Get decodes the record stored under key into out. It reports false
	// when the key is absent or the stored value does not decode into out.
	Get(ctx context.Context, collection, key string, out any) (bool, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, collection, key string) error
	// List returns every record of the collection ordered by key.
	List(ctx context.Context, collection string) ([]Entry, error)
}

// CheckName validates a collection name and a key.
func CheckName(collection, key string) error {
	if !collectionRe.MatchString(collection) {
		return fmt.Errorf("%w: collection %q", ErrInvalidName, collection)
	}
	if key == "" || len(key) > 256 {
		return fmt.Errorf("%w: key of length %d", ErrInvalidName, len(key))
	}
	return nil
}

// CheckCollection validates a collection name.
func CheckCollection(collection string) error {
	return CheckName(collection, "-")
}
