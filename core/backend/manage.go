package backend

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/schemaforge/schemaforge/core"
	"github.com/schemaforge/schemaforge/core/access"
	"github.com/schemaforge/schemaforge/core/catalog"
	"github.com/schemaforge/schemaforge/core/logger"
	"github.com/schemaforge/schemaforge/core/record"
	"github.com/schemaforge/schemaforge/core/schema"
	"github.com/schemaforge/schemaforge/core/table"
)

const serviceName = "schemaforge"

// resourceNameRegex limits resource names to something that works both
// as a path segment and as part of a postgres table name
var resourceNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,49}$`)

// reservedPrefixes are the path prefixes taken by the fixed routes
var reservedPrefixes = map[string]bool{
	"manage":        true,
	"health":        true,
	"version":       true,
	"authorization": true,
}

// apiError is a management operation failure with a dedicated response status
type apiError struct {
	status int
	detail string
}

func (e *apiError) Error() string {
	return e.detail
}

// envelope is the response format of the management routes
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	jsonData, _ := json.Marshal(envelope{Success: success, Message: message, Data: data})
	w.Write(jsonData)
}

// endpointInfo describes one generated route of a resource
type endpointInfo struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// resourceDescriptor is the management representation of a dynamic
// resource. Freshly created resources carry a status, stored ones their
// creation time.
type resourceDescriptor struct {
	Name      string          `json:"name"`
	Prefix    string          `json:"prefix"`
	Schema    json.RawMessage `json:"schema"`
	Status    string          `json:"status,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
	Endpoints []endpointInfo  `json:"endpoints"`
}

func buildEndpoints(path string, routes routeSet) []endpointInfo {
	endpoints := []endpointInfo{}
	if routes.getAll {
		endpoints = append(endpoints, endpointInfo{http.MethodGet, path, "Get all items"})
	}
	if routes.create {
		endpoints = append(endpoints, endpointInfo{http.MethodPost, path, "Create a new item"})
	}
	if routes.getOne {
		endpoints = append(endpoints, endpointInfo{http.MethodGet, path + "/{id}", "Get item by ID"})
	}
	if routes.update {
		endpoints = append(endpoints, endpointInfo{http.MethodPut, path + "/{id}", "Update item by ID"})
	}
	if routes.deleteOne {
		endpoints = append(endpoints, endpointInfo{http.MethodDelete, path + "/{id}", "Delete item by ID"})
	}
	if routes.deleteAll {
		endpoints = append(endpoints, endpointInfo{http.MethodDelete, path, "Delete all items"})
	}
	return endpoints
}

func (b *Backend) describeResource(res *catalog.Resource, status string) resourceDescriptor {
	d := resourceDescriptor{
		Name:      res.Name,
		Prefix:    res.Path(),
		Schema:    res.Schema,
		Status:    status,
		Endpoints: buildEndpoints(res.Path(), b.mountedRoutes(res.Prefix)),
	}
	if status == "" {
		d.CreatedAt = res.CreatedAt.Format(time.RFC3339)
	}
	return d
}

// requireAdmin returns true if the request may use the management
// routes. It writes the error response otherwise.
func (b *Backend) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !b.authorizationEnabled {
		return true
	}
	auth := access.AuthorizationFromContext(r.Context())
	if !auth.HasRole("admin") {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (b *Backend) handleManagementRoutes(router *mux.Router) {
	logger.Default().Debugln("management")
	logger.Default().Debugln("  handle route: / GET")
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		b.serviceInfo(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	logger.Default().Debugln("  handle route: /health GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		b.health(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	logger.Default().Debugln("  handle route: /manage/apis GET POST")
	router.HandleFunc("/manage/apis", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.createAPIWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/manage/apis", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.listAPIsWithAuth(w, r)
	}).Methods(http.MethodGet)

	logger.Default().Debugln("  handle route: /manage/apis/{name} GET DELETE")
	router.HandleFunc("/manage/apis/{name}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.getAPIWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/manage/apis/{name}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.deleteAPIWithAuth(w, r)
	}).Methods(http.MethodDelete)

	logger.Default().Debugln("  handle route: /manage/validate-schema POST")
	router.HandleFunc("/manage/validate-schema", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.validateSchemaWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)
}

type serviceDescription struct {
	Service             string            `json:"service"`
	Version             string            `json:"version"`
	Description         string            `json:"description"`
	ManagementEndpoints map[string]string `json:"management_endpoints"`
}

func (b *Backend) serviceInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	jsonData, _ := json.Marshal(serviceDescription{
		Service:     serviceName,
		Version:     Version,
		Description: "Create REST APIs dynamically from JSON schemas",
		ManagementEndpoints: map[string]string{
			"create_api":      "POST /manage/apis",
			"list_apis":       "GET /manage/apis",
			"get_api_info":    "GET /manage/apis/{name}",
			"delete_api":      "DELETE /manage/apis/{name}",
			"validate_schema": "POST /manage/validate-schema",
			"statistics":      "GET /manage/statistics",
		},
	})
	w.Write(jsonData)
}

func (b *Backend) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	jsonData, _ := json.Marshal(map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"version": Version,
	})
	w.Write(jsonData)
}

func (b *Backend) createAPIWithAuth(w http.ResponseWriter, r *http.Request) {
	if !b.requireAdmin(w, r) {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json data: "+err.Error())
		return
	}
	var request struct {
		Name    string          `json:"name"`
		Schema  json.RawMessage `json:"schema"`
		Options *Options        `json:"options,omitempty"`
	}
	if err := json.Unmarshal(body, &request); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json data: "+err.Error())
		return
	}

	res, err := b.declareResource(request.Name, request.Schema, request.Options, true)
	if err != nil {
		var ae *apiError
		if errors.As(err, &ae) {
			writeDetail(w, ae.status, ae.detail)
			return
		}
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Internal server error: %s", err))
		return
	}
	message := fmt.Sprintf("API '%s' created successfully", res.Name)
	writeEnvelope(w, http.StatusOK, true, message, b.describeResource(res, "created"))
}

// declareResource runs the creation path shared by the management route
// and the boot manifest: validate name and schema, create the table,
// mount the generated routes. With materialize set to false the table
// is taken as already existing and only routes are installed.
func (b *Backend) declareResource(name string, schemaJSON []byte, options *Options, materialize bool) (*catalog.Resource, error) {
	b.manageMutex.Lock()
	defer b.manageMutex.Unlock()

	name = strings.TrimSpace(name)
	if !resourceNameRegex.MatchString(name) || reservedPrefixes[strings.ToLower(name)] {
		return nil, &apiError{http.StatusBadRequest, fmt.Sprintf("Invalid API name '%s'", name)}
	}
	if _, ok := b.catalog.Lookup(name); ok {
		return nil, &apiError{http.StatusBadRequest, fmt.Sprintf("API '%s' already exists", name)}
	}
	if b.catalog.Len() >= b.maxResources {
		return nil, &apiError{http.StatusBadRequest, "Maximum number of dynamic APIs reached"}
	}

	doc, err := schema.Parse(schemaJSON)
	if err != nil {
		return nil, &apiError{http.StatusBadRequest, "Invalid JSON schema provided"}
	}
	rec, err := record.Translate(name, doc)
	if err != nil {
		return nil, &apiError{http.StatusBadRequest, "Invalid JSON schema provided"}
	}

	def := table.Build(rec)
	if materialize {
		if err := def.Materialize(b.db); err != nil {
			return nil, &apiError{http.StatusInternalServerError, fmt.Sprintf("Failed to create API: %s", err)}
		}
	}

	res := &catalog.Resource{
		Name:      name,
		Prefix:    strings.ToLower(name),
		Schema:    append(json.RawMessage{}, schemaJSON...),
		Record:    rec,
		Table:     def,
		CreatedAt: time.Now().UTC(),
	}
	b.catalog.Register(res)
	b.mountResource(res, options.resolveRoutes(), options.resolvePagination(b.defaultPageSize, b.maxPageSize))
	logger.Default().Infoln("created dynamic resource:", res.Name)
	b.raiseLifecycleEvent(core.OperationCreate, res)
	return res, nil
}

func (b *Backend) listAPIsWithAuth(w http.ResponseWriter, r *http.Request) {
	if !b.requireAdmin(w, r) {
		return
	}
	descriptors := []resourceDescriptor{}
	for _, res := range b.catalog.List() {
		descriptors = append(descriptors, b.describeResource(res, ""))
	}
	data := struct {
		APIs       []resourceDescriptor `json:"apis"`
		Total      int                  `json:"total"`
		MaxAllowed int                  `json:"max_allowed"`
	}{descriptors, len(descriptors), b.maxResources}
	writeEnvelope(w, http.StatusOK, true, "APIs retrieved successfully", data)
}

func (b *Backend) getAPIWithAuth(w http.ResponseWriter, r *http.Request) {
	if !b.requireAdmin(w, r) {
		return
	}
	name := mux.Vars(r)["name"]
	res, ok := b.catalog.Lookup(name)
	if !ok {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("API '%s' not found", name))
		return
	}
	message := fmt.Sprintf("API '%s' information retrieved successfully", res.Name)
	writeEnvelope(w, http.StatusOK, true, message, b.describeResource(res, ""))
}

func (b *Backend) deleteAPIWithAuth(w http.ResponseWriter, r *http.Request) {
	if !b.requireAdmin(w, r) {
		return
	}
	name := mux.Vars(r)["name"]

	b.manageMutex.Lock()
	res, ok := b.catalog.Delete(name)
	if ok {
		b.unmountResource(res.Prefix)
	}
	b.manageMutex.Unlock()

	if !ok {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("API '%s' not found", name))
		return
	}
	logger.Default().Infoln("deleted dynamic resource:", res.Name)
	b.raiseLifecycleEvent(core.OperationDelete, res)

	data := map[string]string{
		"name":    res.Name,
		"status":  "deleted",
		"message": "API removed from registry. Service restart recommended for complete removal.",
	}
	message := fmt.Sprintf("API '%s' deleted successfully", res.Name)
	writeEnvelope(w, http.StatusOK, true, message, data)
}

// validationResult is the data part of a schema validation response
type validationResult struct {
	Valid  bool            `json:"valid"`
	Errors []string        `json:"errors,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

func (b *Backend) validateSchemaWithAuth(w http.ResponseWriter, r *http.Request) {
	if !b.requireAdmin(w, r) {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err == nil {
		var anything interface{}
		err = json.Unmarshal(body, &anything)
	}
	if err != nil {
		writeEnvelope(w, http.StatusOK, false, "Schema validation failed",
			validationResult{Valid: false, Errors: []string{err.Error()}})
		return
	}

	findings := []string{}
	doc, err := schema.Parse(body)
	if err != nil {
		findings = append(findings, err.Error())
	} else {
		findings = append(findings, doc.Problems()...)
	}
	findings = append(findings, schema.Check(body)...)

	if len(findings) > 0 {
		writeEnvelope(w, http.StatusOK, false, "Schema is invalid",
			validationResult{Valid: false, Errors: findings})
		return
	}
	writeEnvelope(w, http.StatusOK, true, "Schema is valid",
		validationResult{Valid: true, Schema: body})
}
