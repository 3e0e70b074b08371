package backend_test

import (
	"net/http"
	"testing"

	"github.com/schemaforge/schemaforge/core/backend"
)

// TestVersion verifies that the /version endpoint works
func TestVersion(t *testing.T) {
	testService := CreateTestService("", t.Name())
	defer testService.Db.Close()

	var version struct {
		Version string `json:"version"`
	}
	_, err := testService.client.RawGet("/version", &version)
	if err != nil {
		t.Fatal(err)
	}
	if version.Version != "unset" {
		t.Fatalf("Expecting 'unset' version by default, got %s", version.Version)
	}

	backend.Version = "another version"
	defer func() { backend.Version = "unset" }()

	_, err = testService.client.RawGet("/version", &version)
	if err != nil {
		t.Fatal(err)
	}
	if version.Version != "another version" {
		t.Fatalf("Expecting 'another version', got %s", version.Version)
	}

	// the route needs authorization
	status, _ := testService.clientNoAuth.RawGet("/version", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("Expecting status 401, got %d", status)
	}
}
