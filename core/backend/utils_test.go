package backend_test

import (
	"encoding/json"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"

	"github.com/schemaforge/schemaforge/core/backend"
	"github.com/schemaforge/schemaforge/core/client"
	"github.com/schemaforge/schemaforge/core/csql"
)

// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type TestService struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	backend          *backend.Backend
	client           client.Client
	clientNoAuth     client.Client
	Db               *csql.DB
	Router           *mux.Router
}

// adminToken is the admin token all test services run with
const adminToken = "test-admin-token"

// CreateTestService creates a new service that can be used for testing
// It is expected to close the Db from the returned object when the object is no longer used
func CreateTestService(config, schemaName string) *TestService {
	return createTestServiceInternal(config, schemaName, true) // clear schema
}

// UpdateTestService creates a new service that can be used for testing, reusing
// the data in the schema from the previous call.
// It is expected to close the Db from the returned object when the object is no longer used
func UpdateTestService(config, schemaName string) *TestService {
	return createTestServiceInternal(config, schemaName, false) // keep schema
}

func createTestServiceInternal(config, schemaName string, clearSchema bool) *TestService {

	s := TestService{}
	if err := envdecode.Decode(&s); err != nil {
		panic(err)
	}

	s.Db = csql.OpenWithSchema(s.Postgres, s.PostgresPassword, schemaName)
	if clearSchema {
		s.Db.ClearSchema()
	}

	s.Router = mux.NewRouter()

	builder := backend.Builder{
		Config:       config,
		DB:           s.Db,
		Router:       s.Router,
		AdminToken:   adminToken,
		UpdateSchema: true,
	}
	s.backend = backend.New(&builder)
	s.client = client.NewWithRouter(s.Router).WithAdminAuthorization()
	s.clientNoAuth = client.NewWithRouter(s.Router)

	return &s
}

func asJSON(object interface{}) string {
	j, _ := json.Marshal(object)
	return string(j)
}
