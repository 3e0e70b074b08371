/*
Package registry provides a persistent key-value store for service
metadata, such as the deployed version stamp and the fingerprint of the
boot manifest. Values are serialized as JSON.
*/
package registry

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/schemaforge/schemaforge/core/csql"
)

// Registry is a persistent key-value store in a sql database.
type Registry struct {
	db *csql.DB
}

// New opens the registry for the specified database and creates its
// backing table if necessary.
func New(db *csql.DB) Registry {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + db.Schema + `."_registry_"
(key varchar NOT NULL,
value json NOT NULL,
created_at timestamp NOT NULL,
PRIMARY KEY(key)
);`)
	if err != nil {
		panic(err)
	}
	return Registry{db: db}
}

// Accessor reads and writes registry values under a common prefix. Keys
// are stored as "{prefix}:{key}".
type Accessor struct {
	registry Registry
	prefix   string
}

// Accessor returns an accessor for the given prefix.
func (r Registry) Accessor(prefix string) Accessor {
	return Accessor{registry: r, prefix: prefix}
}

func (a Accessor) storedKey(key string) string {
	if len(a.prefix) > 0 {
		return a.prefix + ":" + key
	}
	return key
}

// Read reads the value stored under key into value, which must be a
// pointer. It returns the time the value was written. A zero time and a
// nil error mean the key does not exist.
func (a Accessor) Read(key string, value interface{}) (time.Time, error) {
	var (
		raw       json.RawMessage
		createdAt time.Time
	)
	err := a.registry.db.QueryRow(
		`SELECT value, created_at FROM `+a.registry.db.Schema+`."_registry_" WHERE key=$1;`,
		a.storedKey(key)).Scan(&raw, &createdAt)
	if err == csql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot read key '%s': %w", key, err)
	}
	return createdAt, json.Unmarshal(raw, value)
}

// Write stores value under key, replacing any earlier value.
func (a Accessor) Write(key string, value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = a.registry.db.Exec(
		`INSERT INTO `+a.registry.db.Schema+`."_registry_"(key,value,created_at)
VALUES($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET value=$2,created_at=$3;`,
		a.storedKey(key), string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cannot write key '%s': %w", key, err)
	}
	return nil
}

// Delete removes key from the registry. Deleting a key which does not
// exist is not an error.
func (a Accessor) Delete(key string) error {
	_, err := a.registry.db.Exec(
		`DELETE FROM `+a.registry.db.Schema+`."_registry_" WHERE key=$1;`,
		a.storedKey(key))
	if err != nil {
		return fmt.Errorf("cannot delete key '%s': %w", key, err)
	}
	return nil
}
