// Package csql provides a thin layer above database/sql to work with
// postgres database schemas
package csql

import (
	"database/sql"

	// import the postgres database driver
	_ "github.com/lib/pq"
)

// DB is a database handle with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is the error returned by Scan when QueryRow does not return a row
var ErrNoRows = sql.ErrNoRows

// OpenWithSchema opens a postgres database for the specified schema.
// If the schema does not exist, it gets created.
//
// The password - if given - is added to the data source name as password=...
//
// This function panics if the database cannot be opened.
func OpenWithSchema(dataSourceName, dataSourcePassword, schema string) *DB {
	if len(schema) == 0 {
		schema = "public"
	}
	openString := dataSourceName
	if len(dataSourcePassword) > 0 {
		openString += " password=" + dataSourcePassword
	}
	db, err := sql.Open("postgres", openString)
	if err != nil {
		panic(err)
	}
	err = db.Ping()
	if err != nil {
		panic(err)
	}

	if schema != "public" {
		_, err = db.Exec(`CREATE SCHEMA IF NOT EXISTS ` + schema)
		if err != nil {
			panic(err)
		}
	}

	return &DB{DB: db, Schema: schema}
}

// ClearSchema drops and recreates the schema. This is useful for testing.
//
// For safety reasons, this function panics when called on the public schema.
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refusing to clear public schema")
	}
	_, err := db.Exec(`DROP SCHEMA IF EXISTS ` + db.Schema + ` CASCADE`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE SCHEMA ` + db.Schema)
	if err != nil {
		panic(err)
	}
}
