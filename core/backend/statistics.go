package backend

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/goccy/go-json"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/schemaforge/schemaforge/core/access"
	"github.com/schemaforge/schemaforge/core/logger"
)

// ResourceStatistics represents storage information about one dynamic resource
type ResourceStatistics struct {
	Resource     string  `json:"resource"`
	Count        int64   `json:"count"`
	SizeMB       float64 `json:"size_mb"`
	AverageSizeB float64 `json:"average_size_b"`
}

// StatisticsDetails represents storage information about all dynamic resources
type StatisticsDetails struct {
	Resources []ResourceStatistics `json:"resources"`
}

func (b *Backend) handleStatistics(router *mux.Router) {
	logger.Default().Debugln("statistics")
	logger.Default().Debugln("  handle statistics route: /manage/statistics GET")
	router.Handle("/manage/statistics", handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.statisticsWithAuth(w, r)
	}))).Methods(http.MethodOptions, http.MethodGet)
}

func (b *Backend) statisticsWithAuth(w http.ResponseWriter, r *http.Request) {
	if b.authorizationEnabled {
		auth := access.AuthorizationFromContext(r.Context())
		if !auth.HasRole("admin") && !auth.HasRole("admin viewer") {
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
	}
	var names sort.StringSlice
	for _, res := range b.catalog.List() {
		names = append(names, res.Name)
	}
	// Sort the resources so that ETag is unchanged regardless of the order of resources
	names.Sort()

	// do not return null in json, but empty array
	s := StatisticsDetails{Resources: []ResourceStatistics{}}
	for _, name := range names {
		res, ok := b.catalog.Lookup(name)
		if !ok {
			continue
		}
		table := res.Table.Name
		row := b.db.QueryRow(fmt.Sprintf(`SELECT pg_total_relation_size('%s."%s"'), count(*) FROM %s."%s" `, b.db.Schema, table, b.db.Schema, table))
		var size, count int64
		if err := row.Scan(&size, &count); err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("Error 4028: Scan")
			http.Error(w, "Error 4028: ", http.StatusInternalServerError)
			return
		}
		var averageSize float64 = 0
		if count != 0 {
			averageSize = float64(size / count)
		}

		s.Resources = append(s.Resources, ResourceStatistics{
			Resource:     res.Name,
			Count:        count,
			SizeMB:       float64(size) / 1024. / 1024.,
			AverageSizeB: averageSize,
		})
	}

	jsonData, _ := json.Marshal(s)
	etag := bytesToEtag(jsonData)
	w.Header().Set("Etag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(jsonData)
}
