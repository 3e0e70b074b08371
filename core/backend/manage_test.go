package backend_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"

	"github.com/schemaforge/schemaforge/core/backend"
	"github.com/schemaforge/schemaforge/core/client"
	"github.com/schemaforge/schemaforge/core/csql"
)

// envelopeResponse is the response format of the management routes
type envelopeResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiEndpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

type apiDescriptor struct {
	Name      string          `json:"name"`
	Prefix    string          `json:"prefix"`
	Schema    json.RawMessage `json:"schema"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at"`
	Endpoints []apiEndpoint   `json:"endpoints"`
}

type apiList struct {
	APIs       []apiDescriptor `json:"apis"`
	Total      int             `json:"total"`
	MaxAllowed int             `json:"max_allowed"`
}

func createAPIRequest(name string) []byte {
	return []byte(`{"name": "` + name + `", "schema": ` + productSchemaJSON + `}`)
}

// TestServiceInfo verifies that the root route describes the service and
// its management routes
func TestServiceInfo(t *testing.T) {
	testService := CreateTestService("", t.Name())
	defer testService.Db.Close()

	var info struct {
		Service             string            `json:"service"`
		Version             string            `json:"version"`
		Description         string            `json:"description"`
		ManagementEndpoints map[string]string `json:"management_endpoints"`
	}
	_, err := testService.clientNoAuth.RawGet("/", &info)
	if err != nil {
		t.Fatal(err)
	}
	if info.Service != "schemaforge" {
		t.Fatalf("Expecting service 'schemaforge', got '%s'", info.Service)
	}
	if len(info.ManagementEndpoints) != 6 {
		t.Fatalf("Expecting 6 management endpoints, got %d", len(info.ManagementEndpoints))
	}
	if info.ManagementEndpoints["create_api"] != "POST /manage/apis" {
		t.Fatalf("Unexpected create_api endpoint: %s", info.ManagementEndpoints["create_api"])
	}
}

// TestHealth verifies that the /health route works without authorization
func TestHealth(t *testing.T) {
	testService := CreateTestService("", t.Name())
	defer testService.Db.Close()

	var health map[string]string
	_, err := testService.clientNoAuth.RawGet("/health", &health)
	if err != nil {
		t.Fatal(err)
	}
	if health["status"] != "healthy" {
		t.Fatalf("Expecting status 'healthy', got '%s'", health["status"])
	}
	if health["service"] != "schemaforge" {
		t.Fatalf("Expecting service 'schemaforge', got '%s'", health["service"])
	}
}

// TestCreateAPI verifies that an API can be declared at runtime and that
// its generated routes are live immediately
func TestCreateAPI(t *testing.T) {
	testService := CreateTestService("", t.Name())
	defer testService.Db.Close()

	var res envelopeResponse
	status, err := testService.client.RawPost("/manage/apis", createAPIRequest("Product"), &res)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK {
		t.Fatalf("Expecting status 200, got %d", status)
	}
	if !res.Success {
		t.Fatal("Expecting success")
	}
	if res.Message != "API 'Product' created successfully" {
		t.Fatalf("Unexpected message: %s", res.Message)
	}

	var d apiDescriptor
	if err := json.Unmarshal(res.Data, &d); err != nil {
		t.Fatal(err)
	}
	if d.Name != "Product" {
		t.Fatalf("Expecting name 'Product', got '%s'", d.Name)
	}
	if d.Prefix != "/product" {
		t.Fatalf("Expecting prefix '/product', got '%s'", d.Prefix)
	}
	if d.Status != "created" {
		t.Fatalf("Expecting status 'created', got '%s'", d.Status)
	}
	if len(d.Endpoints) != 6 {
		t.Fatalf("Expecting 6 endpoints, got %d", len(d.Endpoints))
	}
	if d.Endpoints[0].Method != http.MethodGet || d.Endpoints[0].Path != "/product" {
		t.Fatalf("Unexpected first endpoint: %v", d.Endpoints[0])
	}

	// the generated routes are live immediately, without authorization
	var created Product
	status, err = testService.clientNoAuth.Collection("Product").Create(
		map[string]interface{}{"name": "Apple", "price": 1.99}, &created)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated {
		t.Fatalf("Expecting status 201, got %d", status)
	}
	if created.ID != 1 {
		t.Fatalf("Expecting id 1, got %d", created.ID)
	}

	// a second API with the same name is refused, in any casing
	status, err = testService.client.RawPost("/manage/apis", createAPIRequest("Product"), nil)
	if status != http.StatusBadRequest {
		t.Fatalf("Expecting status 400, got %d", status)
	}
	if err == nil || !strings.Contains(err.Error(), "API 'Product' already exists") {
		t.Fatalf("Expecting already-exists error, got %v", err)
	}
	status, err = testService.client.RawPost("/manage/apis", createAPIRequest("PRODUCT"), nil)
	if status != http.StatusBadRequest {
		t.Fatalf("Expecting status 400, got %d", status)
	}
	if err == nil || !strings.Contains(err.Error(), "API 'PRODUCT' already exists") {
		t.Fatalf("Expecting already-exists error, got %v", err)
	}
}

// TestCreateAPIInvalidName verifies that impossible and reserved names
// are refused
func TestCreateAPIInvalidName(t *testing.T) {
	testService := CreateTestService("", t.Name())
	defer testService.Db.Close()

	names := []string{
		"",
		"1product",
		"pro duct",
		"manage",
		"health",
		"Version",
		"authorization",
		strings.Repeat("p", 51),
	}
	for _, name := range names {
		status, err := testService.client.RawPost("/manage/apis", createAPIRequest(name), nil)
		if status != http.StatusBadRequest {
			t.Fatalf("Name '%s': expecting status 400, got %d", name, status)
		}
		if err == nil || !strings.Contains(err.Error(), "Invalid API name") {
			t.Fatalf("Name '%s': expecting invalid-name error, got %v", name, err)
		}
	}
}

// TestCreateAPIBadSchema verifies that unusable schemas and malformed
// request bodies are refused
func TestCreateAPIBadSchema(t *testing.T) {
	testService := CreateTestService("", t.Name())
	defer testService.Db.Close()

	// schema without properties
	status, err := testService.client.RawPost("/manage/apis",
		[]byte(`{"name": "Thing", "schema": {"type": "object"}}`), nil)
	if status != http.StatusBadRequest {
		t.Fatalf("Expecting status 400, got %d", status)
	}
	if err == nil || !strings.Contains(err.Error(), "Invalid JSON schema provided") {
		t.Fatalf("Expecting invalid-schema error, got %v", err)
	}

	// property name which cannot become a column
	status, err = testService.client.RawPost("/manage/apis",
		[]byte(`{"name": "Thing", "schema": {"type": "object", "properties": {"bad name": {"type": "string"}}}}`), nil)
	if status != http.StatusBadRequest {
		t.Fatalf("Expecting status 400, got %d", status)
	}
	if err == nil || !strings.Contains(err.Error(), "Invalid JSON schema provided") {
		t.Fatalf("Expecting invalid-schema error, got %v", err)
	}

	// malformed request body
	status, err = testService.client.RawPost("/manage/apis", []byte(`{"name": "Thing"`), nil)
	if status != http.StatusBadRequest {
		t.Fatalf("Expecting status 400, got %d", status)
	}
	if err == nil || !strings.Contains(err.Error(), "invalid json data") {
		t.Fatalf("Expecting invalid-json error, got %v", err)
	}
}

// TestListAPIs verifies that declared APIs are listed in declaration order
func TestListAPIs(t *testing.T) {
	testService := CreateTestService("", t.Name())
	defer testService.Db.Close()

	for _, name := range []string{"Product", "Customer"} {
		if _, err := testService.client.RawPost("/manage/apis", createAPIRequest(name), nil); err != nil {
			t.Fatal(err)
		}
	}

	var res envelopeResponse
	_, err := testService.client.RawGet("/manage/apis", &res)
	if err != nil {
		t.Fatal(err)
	}
	if res.Message != "APIs retrieved successfully" {
		t.Fatalf("Unexpected message: %s", res.Message)
	}
	var list apiList
	if err := json.Unmarshal(res.Data, &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 2 {
		t.Fatalf("Expecting 2 APIs, got %d", list.Total)
	}
	if list.MaxAllowed != 50 {
		t.Fatalf("Expecting max_allowed 50, got %d", list.MaxAllowed)
	}
	if list.APIs[0].Name != "Product" || list.APIs[1].Name != "Customer" {
		t.Fatalf("Unexpected API order: %s, %s", list.APIs[0].Name, list.APIs[1].Name)
	}
	if list.APIs[0].CreatedAt == "" {
		t.Fatal("Expecting a creation time for stored APIs")
	}
	if list.APIs[0].Status != "" {
		t.Fatalf("Expecting no status for stored APIs, got '%s'", list.APIs[0].Status)
	}
}

// TestGetAPIInfo verifies the single API info route, including lookup in
// any casing
func TestGetAPIInfo(t *testing.T) {
	testService := CreateTestService("", t.Name())
	defer testService.Db.Close()

	if _, err := testService.client.RawPost("/manage/apis", createAPIRequest("Product"), nil); err != nil {
		t.Fatal(err)
	}

	var res envelopeResponse
	_, err := testService.client.RawGet("/manage/apis/PRODUCT", &res)
	if err != nil {
		t.Fatal(err)
	}
	if res.Message != "API 'Product' information retrieved successfully" {
		t.Fatalf("Unexpected message: %s", res.Message)
	}
	var d apiDescriptor
	if err := json.Unmarshal(res.Data, &d); err != nil {
		t.Fatal(err)
	}
	if d.Name != "Product" {
		t.Fatalf("Expecting name 'Product', got '%s'", d.Name)
	}
	if d.CreatedAt == "" {
		t.Fatal("Expecting a creation time")
	}

	status, err := testService.client.RawGet("/manage/apis/Ghost", nil)
	if status != http.StatusNotFound {
		t.Fatalf("Expecting status 404, got %d", status)
	}
	if err == nil || !strings.Contains(err.Error(), "API 'Ghost' not found") {
		t.Fatalf("Expecting not-found error, got %v", err)
	}
}

// TestDeleteAPI verifies that a deleted API disappears from the registry
// and its routes, and that the name can be declared again
func TestDeleteAPI(t *testing.T) {
	testService := CreateTestService("", t.Name())
	defer testService.Db.Close()

	if _, err := testService.client.RawPost("/manage/apis", createAPIRequest("Product"), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := testService.client.Collection("Product").Create(
		map[string]interface{}{"name": "Apple", "price": 1.99}, nil); err != nil {
		t.Fatal(err)
	}

	var res envelopeResponse
	status, err := testService.client.RawDeleteWithResult("/manage/apis/Product", &res)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK {
		t.Fatalf("Expecting status 200, got %d", status)
	}
	if res.Message != "API 'Product' deleted successfully" {
		t.Fatalf("Unexpected message: %s", res.Message)
	}
	var deleted struct {
		Name    string `json:"name"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(res.Data, &deleted); err != nil {
		t.Fatal(err)
	}
	if deleted.Name != "Product" || deleted.Status != "deleted" {
		t.Fatalf("Unexpected delete data: %v", deleted)
	}
	if deleted.Message != "API removed from registry. Service restart recommended for complete removal." {
		t.Fatalf("Unexpected delete message: %s", deleted.Message)
	}

	// the generated routes are gone
	if status, _ = testService.client.RawGet("/product", nil); status != http.StatusNotFound {
		t.Fatalf("Expecting status 404, got %d", status)
	}
	if status, _ = testService.client.RawGet("/product/1", nil); status != http.StatusNotFound {
		t.Fatalf("Expecting status 404, got %d", status)
	}

	// so is the API itself
	status, err = testService.client.RawGet("/manage/apis/Product", nil)
	if status != http.StatusNotFound {
		t.Fatalf("Expecting status 404, got %d", status)
	}
	if err == nil || !strings.Contains(err.Error(), "API 'Product' not found") {
		t.Fatalf("Expecting not-found error, got %v", err)
	}
	if status, _ = testService.client.RawDelete("/manage/apis/Product"); status != http.StatusNotFound {
		t.Fatalf("Expecting status 404, got %d", status)
	}

	// the name can be declared again, the table and its data survive
	// until a restart
	if _, err := testService.client.RawPost("/manage/apis", createAPIRequest("Product"), nil); err != nil {
		t.Fatal(err)
	}
	var products []Product
	if _, err := testService.client.Collection("Product").List(&products); err != nil {
		t.Fatal(err)
	}
	if len(products) != 1 || products[0].Name != "Apple" {
		t.Fatalf("Expecting the stored item to survive, got %v", products)
	}
}

// TestValidateSchema verifies the three outcomes of the schema
// validation route
func TestValidateSchema(t *testing.T) {
	testService := CreateTestService("", t.Name())
	defer testService.Db.Close()

	type validation struct {
		Valid  bool            `json:"valid"`
		Errors []string        `json:"errors"`
		Schema json.RawMessage `json:"schema"`
	}

	var res envelopeResponse
	var result validation
	if _, err := testService.client.RawPost("/manage/validate-schema", []byte(productSchemaJSON), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Message != "Schema is valid" {
		t.Fatalf("Expecting a valid schema, got %s", res.Message)
	}
	if err := json.Unmarshal(res.Data, &result); err != nil {
		t.Fatal(err)
	}
	if !result.Valid || len(result.Schema) == 0 {
		t.Fatal("Expecting the validated schema to be echoed")
	}

	if _, err := testService.client.RawPost("/manage/validate-schema", []byte(`{"type": "object"}`), &res); err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Message != "Schema is invalid" {
		t.Fatalf("Expecting an invalid schema, got %s", res.Message)
	}
	result = validation{}
	if err := json.Unmarshal(res.Data, &result); err != nil {
		t.Fatal(err)
	}
	if result.Valid || len(result.Errors) == 0 {
		t.Fatal("Expecting validation errors")
	}

	if _, err := testService.client.RawPost("/manage/validate-schema", []byte(`{"type":`), &res); err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Message != "Schema validation failed" {
		t.Fatalf("Expecting failed validation, got %s", res.Message)
	}
}

// TestMaxResources verifies that the number of dynamic APIs is limited
// and that deletion frees a slot
func TestMaxResources(t *testing.T) {
	var env TestService
	if err := envdecode.Decode(&env); err != nil {
		panic(err)
	}
	db := csql.OpenWithSchema(env.Postgres, env.PostgresPassword, t.Name())
	defer db.Close()
	db.ClearSchema()

	router := mux.NewRouter()
	backend.New(&backend.Builder{
		DB:           db,
		Router:       router,
		MaxResources: 2,
	})
	cl := client.NewWithRouter(router)

	for _, name := range []string{"one", "two"} {
		if _, err := cl.RawPost("/manage/apis", createAPIRequest(name), nil); err != nil {
			t.Fatal(err)
		}
	}

	status, err := cl.RawPost("/manage/apis", createAPIRequest("three"), nil)
	if status != http.StatusBadRequest {
		t.Fatalf("Expecting status 400, got %d", status)
	}
	if err == nil || !strings.Contains(err.Error(), "Maximum number of dynamic APIs reached") {
		t.Fatalf("Expecting maximum-reached error, got %v", err)
	}

	var res envelopeResponse
	var list apiList
	if _, err := cl.RawGet("/manage/apis", &res); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(res.Data, &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 2 {
		t.Fatalf("Expecting the declared APIs to survive, got %d", list.Total)
	}
	if list.MaxAllowed != 2 {
		t.Fatalf("Expecting max_allowed 2, got %d", list.MaxAllowed)
	}

	// deleting an API frees its slot
	if _, err := cl.RawDelete("/manage/apis/one"); err != nil {
		t.Fatal(err)
	}
	if _, err := cl.RawPost("/manage/apis", createAPIRequest("three"), nil); err != nil {
		t.Fatal(err)
	}
}

// TestBootManifest verifies that resources declared in the builder
// configuration come up at startup, and that a new service over the same
// schema keeps the stored data
func TestBootManifest(t *testing.T) {
	testService := CreateTestService(configurationJSON, t.Name())
	defer testService.Db.Close()

	var res envelopeResponse
	var list apiList
	if _, err := testService.client.RawGet("/manage/apis", &res); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(res.Data, &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 1 || list.APIs[0].Name != "Product" {
		t.Fatalf("Expecting the manifest API, got %v", list)
	}

	if _, err := testService.client.Collection("Product").Create(
		map[string]interface{}{"name": "Apple", "price": 1.99}, nil); err != nil {
		t.Fatal(err)
	}

	updatedService := UpdateTestService(configurationJSON, t.Name())
	defer updatedService.Db.Close()

	var products []Product
	if _, err := updatedService.client.Collection("Product").List(&products); err != nil {
		t.Fatal(err)
	}
	if len(products) != 1 || products[0].Name != "Apple" {
		t.Fatalf("Expecting the stored item after restart, got %v", products)
	}
}

// TestPreflightCORS verifies that OPTIONS preflight requests are handled
// by the CORS middleware
func TestPreflightCORS(t *testing.T) {
	testService := CreateTestService("", t.Name())
	defer testService.Db.Close()

	r := httptest.NewRequest(http.MethodOptions, "/manage/apis", nil)
	w := httptest.NewRecorder()
	testService.Router.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expecting status 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("Expecting CORS headers")
	}
}
