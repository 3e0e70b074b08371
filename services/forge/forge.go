package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/gorilla/mux"

	"github.com/schemaforge/schemaforge/core/backend"
	"github.com/schemaforge/schemaforge/core/csql"
	"github.com/schemaforge/schemaforge/core/logger"
)

// version is the build version reported by the /version route. It can be
// overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	PostgresSchema   string `env:"POSTGRES_SCHEMA,default=schemaforge" description:"the database schema"`
	Port             string `env:"PORT,default=3000" description:"the port to listen on"`
	KafkaBrokers     string `env:"KAFKA_BROKERS,optional" description:"comma separated list of kafka brokers for event delivery"`
	AdminToken       string `env:"ADMIN_TOKEN,optional" description:"the admin token; authorization is disabled when empty"`
	MaxResources     int    `env:"MAX_RESOURCES,default=50" description:"the maximum number of dynamic APIs"`
	Manifest         string `env:"MANIFEST,optional" description:"path to a JSON manifest with resources to create at startup"`
	LogLevel         string `env:"LOG_LEVEL,default=info" description:"the log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	logLevel, err := logrus.ParseLevel(service.LogLevel)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(logLevel)

	db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, service.PostgresSchema)
	defer db.Close()

	config := ""
	if len(service.Manifest) > 0 {
		data, err := os.ReadFile(service.Manifest)
		if err != nil {
			panic(err)
		}
		config = string(data)
	}

	var kafkaBrokers []string
	if len(service.KafkaBrokers) > 0 {
		kafkaBrokers = strings.Split(service.KafkaBrokers, ",")
	}

	backend.Version = version
	router := mux.NewRouter()
	backend.New(&backend.Builder{
		Config:       config,
		DB:           db,
		Router:       router,
		KafkaBrokers: kafkaBrokers,
		AdminToken:   service.AdminToken,
		MaxResources: service.MaxResources,
		UpdateSchema: true,
	})

	log.Println("listen on port :" + service.Port)
	http.ListenAndServe(":"+service.Port, router)
}
