package backend

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/schemaforge/schemaforge/core"
	"github.com/schemaforge/schemaforge/core/access"
	"github.com/schemaforge/schemaforge/core/catalog"
	"github.com/schemaforge/schemaforge/core/csql"
	"github.com/schemaforge/schemaforge/core/logger"
	"github.com/schemaforge/schemaforge/core/registry"
)

// Backend is the dynamic rest backend. It turns JSON schemas into
// postgres tables with generated CRUD routes, at startup and at runtime.
type Backend struct {
	db       *csql.DB
	router   *mux.Router
	notifier core.Notifier
	catalog  *catalog.Catalog

	// manageMutex serializes creation and deletion of resources
	manageMutex sync.Mutex

	mountMutex sync.RWMutex
	mounts     map[string]*mountSlot

	maxResources    int
	defaultPageSize int
	maxPageSize     int

	authorizationEnabled bool

	kafkaNotifier    *KafkaNotifier
	outboxTable      string
	hasEventOutbox   bool
	eventTrigger     chan struct{}
	eventStop        chan struct{}
	eventWG          sync.WaitGroup
	eventInsertQuery string
	eventClaimQuery  string
	eventDeleteQuery string

	// Registry is the persistent key-value registry for this backend's schema
	Registry registry.Registry
}

// mountSlot holds the generated router of one dynamic resource. The
// slot goes inactive when the resource is deleted and is reused when a
// resource with the same prefix is created again.
type mountSlot struct {
	router *mux.Router
	routes routeSet
	active bool
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is a JSON manifest of resources to create at startup. Each
	// entry goes through the same creation path as the management
	// route. This is optional.
	Config string
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives notifications about all mutations on generated
	// resources. This is optional.
	Notifier core.Notifier
	// KafkaBrokers is a list of kafka brokers to deliver mutation
	// notifications to. This is optional and ignored when a Notifier is set.
	KafkaBrokers []string
	// OutboxTableName is the name of the event outbox table. The
	// default is "_event_outbox_".
	OutboxTableName string
	// AdminToken enables authorization. Requests carrying the token - or
	// a JWT signed with it - can reach the management routes. This is optional.
	AdminToken string
	// MaxResources limits the number of dynamic resources. The default is 50.
	MaxResources int
	// DefaultPageSize is the page size of list routes when the request
	// does not specify one. The default is 20.
	DefaultPageSize int
	// MaxPageSize caps the page size of list routes. The default is 100.
	MaxPageSize int
	// UpdateSchema enables table creation for the resources declared in
	// Config. Resources created through the management routes always get
	// their tables, regardless of this flag.
	UpdateSchema bool
}

// New realizes the actual backend. It creates the metadata relations
// (if they do not exist), brings up the resources declared in the
// builder's manifest and adds all routes to the router.
func New(bb *Builder) *Backend {

	var manifest Manifest
	if len(bb.Config) > 0 {
		err := json.Unmarshal([]byte(bb.Config), &manifest)
		if err != nil {
			panic(fmt.Errorf("parse error in backend configuration: %s", err))
		}
	}

	if bb.DB == nil {
		panic("DB is missing")
	}

	if bb.Router == nil {
		panic("Router is missing")
	}

	notifier := bb.Notifier
	var kafkaNotifier *KafkaNotifier
	if notifier == nil && len(bb.KafkaBrokers) > 0 {
		kafkaNotifier = NewKafkaNotifier(bb.KafkaBrokers...)
		notifier = kafkaNotifier
	}

	b := &Backend{
		db:              bb.DB,
		router:          bb.Router,
		notifier:        notifier,
		kafkaNotifier:   kafkaNotifier,
		catalog:         catalog.New(),
		mounts:          make(map[string]*mountSlot),
		maxResources:    bb.MaxResources,
		defaultPageSize: bb.DefaultPageSize,
		maxPageSize:     bb.MaxPageSize,
		outboxTable:     bb.OutboxTableName,
		Registry:        registry.New(bb.DB),
	}
	if b.maxResources <= 0 {
		b.maxResources = 50
	}
	if len(b.outboxTable) == 0 {
		b.outboxTable = "_event_outbox_"
	}
	if b.defaultPageSize <= 0 {
		b.defaultPageSize = 20
	}
	if b.maxPageSize <= 0 {
		b.maxPageSize = 100
	}

	if len(bb.AdminToken) > 0 {
		b.authorizationEnabled = true
		b.router.Use(access.NewTokenMiddleware(&access.TokenMiddlewareBuilder{
			AdminToken: bb.AdminToken,
		}))
		access.HandleAuthorizationRoute(b.router)
	}
	logger.AddRequestID(b.router)
	b.handleCORS()
	b.handleCompression()

	b.handleManagementRoutes(b.router)
	b.handleVersion(b.router)
	b.handleStatistics(b.router)

	if b.notifier != nil {
		b.handleEvents()
	}

	for _, rc := range manifest.Resources {
		_, err := b.declareResource(rc.Name, rc.Schema, rc.Options, bb.UpdateSchema)
		if err != nil {
			panic(fmt.Errorf("cannot create resource '%s': %s", rc.Name, err))
		}
	}

	b.stampDeployment(bb.Config)

	// the dispatcher for the dynamic routes comes last, it matches
	// everything the fixed routes do not
	b.handleDispatcher(b.router)
	return b
}

// Close stops the background delivery of notifications and closes the
// notifier if the backend created it. The database stays open.
func (b *Backend) Close() {
	if b.hasEventOutbox {
		close(b.eventStop)
		b.eventWG.Wait()
	}
	if b.kafkaNotifier != nil {
		b.kafkaNotifier.Close()
	}
}

func (b *Backend) handleCompression() {

	compressionMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlers.CompressHandler(h).ServeHTTP(w, r)
		})
	}
	b.router.Use(compressionMiddleware)
}

// mountResource makes the generated routes of a resource reachable
// through the dispatcher
func (b *Backend) mountResource(res *catalog.Resource, routes routeSet, page pageSettings) {
	router := mux.NewRouter()
	b.createResourceRoutes(router, res, routes, page)
	b.mountMutex.Lock()
	b.mounts[res.Prefix] = &mountSlot{router: router, routes: routes, active: true}
	b.mountMutex.Unlock()
}

// unmountResource deactivates the generated routes of a resource. The
// underlying mux router cannot unregister routes, hence the slot only
// goes inactive.
func (b *Backend) unmountResource(prefix string) {
	b.mountMutex.Lock()
	if slot, ok := b.mounts[prefix]; ok {
		slot.active = false
	}
	b.mountMutex.Unlock()
}

func (b *Backend) mountedRoutes(prefix string) routeSet {
	b.mountMutex.RLock()
	defer b.mountMutex.RUnlock()
	if slot, ok := b.mounts[prefix]; ok {
		return slot.routes
	}
	return routeSet{}
}

// handleDispatcher adds the catch-all route which dispatches requests
// to the routers of the dynamic resources
func (b *Backend) handleDispatcher(router *mux.Router) {
	logger.Default().Debugln("  handle dynamic resource routes: /{prefix}...")
	router.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := strings.ToLower(strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)[0])
		b.mountMutex.RLock()
		slot, ok := b.mounts[prefix]
		b.mountMutex.RUnlock()
		if !ok || !slot.active {
			writeDetail(w, http.StatusNotFound, "Not Found")
			return
		}
		slot.router.ServeHTTP(w, r)
	})
}

// stampDeployment records the running version and a fingerprint of the
// boot manifest in the registry, so that a deployment can be told apart
// from its predecessor.
func (b *Backend) stampDeployment(config string) {
	a := b.Registry.Accessor("schemaforge")

	var version string
	if _, err := a.Read("version", &version); err != nil {
		logger.Default().WithError(err).Errorln("Error 4101: cannot read version stamp")
		return
	}
	if version != Version {
		logger.Default().Infoln("version changed from", version, "to", Version)
		if err := a.Write("version", Version); err != nil {
			logger.Default().WithError(err).Errorln("Error 4102: cannot write version stamp")
		}
	}

	hash := md5.Sum([]byte(config))
	fingerprint := hex.EncodeToString(hash[:])
	var previous string
	if _, err := a.Read("manifest", &previous); err != nil {
		logger.Default().WithError(err).Errorln("Error 4103: cannot read manifest stamp")
		return
	}
	if previous != fingerprint {
		logger.Default().Infoln("manifest changed, new fingerprint", fingerprint)
		if err := a.Write("manifest", fingerprint); err != nil {
			logger.Default().WithError(err).Errorln("Error 4104: cannot write manifest stamp")
		}
	}
}
