package backend

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/schemaforge/schemaforge/core"
	"github.com/schemaforge/schemaforge/core/catalog"
	"github.com/schemaforge/schemaforge/core/csql"
	"github.com/schemaforge/schemaforge/core/logger"
	"github.com/schemaforge/schemaforge/core/record"
)

// returns $1,...,$n
func parameterString(n int) string {
	result := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			result += ","
		}
		result += "$" + strconv.Itoa(i+1)
	}
	return result
}

// createResourceRoutes generates the CRUD routes for one resource and
// adds them to the resource's own router. All SQL is precomputed, the
// handlers are closures over it.
func (b *Backend) createResourceRoutes(router *mux.Router, res *catalog.Resource, routes routeSet, page pageSettings) {
	schema := b.db.Schema
	rec := res.Record
	resource := res.Name
	nillog := logger.FromContext(nil)
	nillog.Debugln("create dynamic resource:", resource)

	quoted := []string{}
	for _, f := range rec.Fields {
		quoted = append(quoted, "\""+f.Name+"\"")
	}
	columnList := strings.Join(quoted, ", ")
	tableRef := schema + ".\"" + res.Table.Name + "\""

	readQuery := "SELECT " + columnList + " FROM " + tableRef + " WHERE id = $1;"
	listQuery := "SELECT " + columnList + ", count(*) OVER() AS full_count FROM " + tableRef +
		" ORDER BY id ASC LIMIT $1 OFFSET $2;"
	countQuery := "SELECT count(*) FROM " + tableRef + ";"

	writable := rec.Writable()
	insertQuery := "INSERT INTO " + tableRef + " DEFAULT VALUES RETURNING id;"
	updateQuery := ""
	if len(writable) > 0 {
		names := []string{}
		assignments := []string{}
		for i, f := range writable {
			names = append(names, "\""+f.Name+"\"")
			assignments = append(assignments, "\""+f.Name+"\" = $"+strconv.Itoa(i+2))
		}
		insertQuery = "INSERT INTO " + tableRef + " (" + strings.Join(names, ", ") + ")" +
			" VALUES(" + parameterString(len(writable)) + ") RETURNING id;"
		updateQuery = "UPDATE " + tableRef + " SET " + strings.Join(assignments, ", ") + " WHERE id = $1;"
	}
	deleteQuery := "DELETE FROM " + tableRef + " WHERE id = $1 RETURNING " + columnList + ";"
	clearQuery := "DELETE FROM " + tableRef + ";"

	idFromRequest := func(w http.ResponseWriter, r *http.Request) (int64, bool) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "parameter 'id': "+err.Error())
			return 0, false
		}
		return id, true
	}

	// readObject reads a single item. The querier is either the database
	// or an open transaction.
	readObject := func(querier interface {
		QueryRow(query string, args ...interface{}) *sql.Row
	}, id int64) (*record.Object, error) {
		values := rec.ScanValues()
		err := querier.QueryRow(readQuery, id).Scan(values...)
		if err != nil {
			return nil, err
		}
		return rec.Object(values)
	}

	list := func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		limit := 0
		if page.enabled {
			limit = page.size
		}
		pageNumber := 1
		for key, array := range r.URL.Query() {
			var err error
			if len(array) != 1 {
				writeDetail(w, http.StatusBadRequest, "parameter '"+key+"': only one value allowed")
				return
			}
			value := array[0]
			switch key {
			case "limit":
				limit, err = strconv.Atoi(value)
				if err == nil && (limit < 1 || limit > b.maxPageSize) {
					err = fmt.Errorf("out of range")
				}
			case "page":
				pageNumber, err = strconv.Atoi(value)
				if err == nil && pageNumber < 1 {
					err = fmt.Errorf("out of range")
				}
			default:
				err = fmt.Errorf("unknown")
			}
			if err != nil {
				writeDetail(w, http.StatusBadRequest, "parameter '"+key+"': "+err.Error())
				return
			}
		}

		// limit 0 means no pagination, NULL switches the limit off
		var limitParameter interface{}
		offset := 0
		if limit > 0 {
			limitParameter = limit
			offset = (pageNumber - 1) * limit
		}
		rows, err := b.db.Query(listQuery, limitParameter, offset)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4711: cannot execute query `%s`", listQuery)
			writeDetail(w, http.StatusInternalServerError, "Error 4711")
			return
		}
		defer rows.Close()
		response := []interface{}{}
		var totalCount int
		for rows.Next() {
			values := rec.ScanValues()
			values = append(values, &totalCount)
			if err := rows.Scan(values...); err != nil {
				rlog.WithError(err).Errorf("Error 4712: cannot scan values")
				writeDetail(w, http.StatusInternalServerError, "Error 4712")
				return
			}
			object, err := rec.Object(values[:len(values)-1])
			if err != nil {
				rlog.WithError(err).Errorf("Error 4713: cannot rebuild object")
				writeDetail(w, http.StatusInternalServerError, "Error 4713")
				return
			}
			response = append(response, object)
		}
		jsonData, _ := json.MarshalWithOption(response, json.DisableHTMLEscape())

		if limit > 0 {
			if len(response) == 0 {
				// the window function does not return the total count
				// when the requested page is out of range, hence we need
				// a second query
				if err := b.db.QueryRow(countQuery).Scan(&totalCount); err != nil {
					rlog.WithError(err).Errorf("Error 4714: cannot scan total count")
					writeDetail(w, http.StatusInternalServerError, "Error 4714")
					return
				}
			}
			w.Header().Set("Pagination-Limit", strconv.Itoa(limit))
			w.Header().Set("Pagination-Total-Count", strconv.Itoa(totalCount))
			w.Header().Set("Pagination-Page-Count", strconv.Itoa(((totalCount-1)/limit)+1))
			w.Header().Set("Pagination-Current-Page", strconv.Itoa(pageNumber))
		}

		etag := bytesPlusTotalCountToEtag(jsonData, totalCount)
		w.Header().Set("Etag", etag)
		if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}

	create := func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		body, _ := io.ReadAll(r.Body)
		values, err := rec.Construct(body)
		if err != nil {
			var fieldErrs *record.FieldErrors
			if errors.As(err, &fieldErrs) {
				writeFieldErrors(w, fieldErrs)
				return
			}
			writeDetail(w, http.StatusBadRequest, "invalid json data: "+err.Error())
			return
		}
		queryParameters, err := rec.ParameterValues(values)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4701: cannot bind parameters")
			writeDetail(w, http.StatusInternalServerError, "Error 4701")
			return
		}

		tx, err := b.db.BeginTx(r.Context(), nil)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4702: cannot BeginTx")
			writeDetail(w, http.StatusInternalServerError, "Error 4702")
			return
		}
		var id int64
		err = tx.QueryRow(insertQuery, queryParameters...).Scan(&id)
		if err != nil {
			tx.Rollback()
			writeSQLError(w, r, err, 4703)
			return
		}
		object, err := readObject(tx, id)
		if err != nil {
			tx.Rollback()
			rlog.WithError(err).Errorf("Error 4704: cannot read object back")
			writeDetail(w, http.StatusInternalServerError, "Error 4704")
			return
		}
		jsonData, _ := json.MarshalWithOption(object, json.DisableHTMLEscape())
		if err := b.commitWithEvent(r.Context(), tx, resource, core.OperationCreate, jsonData); err != nil {
			rlog.WithError(err).Errorf("Error 4705: cannot commit")
			writeDetail(w, http.StatusInternalServerError, "Error 4705")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		w.Write(jsonData)
	}

	read := func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		id, ok := idFromRequest(w, r)
		if !ok {
			return
		}
		object, err := readObject(b.db, id)
		if err == csql.ErrNoRows {
			writeDetail(w, http.StatusNotFound, "Item not found")
			return
		}
		if err != nil {
			rlog.WithError(err).Errorf("Error 4721: cannot read object")
			writeDetail(w, http.StatusInternalServerError, "Error 4721")
			return
		}
		jsonData, _ := json.MarshalWithOption(object, json.DisableHTMLEscape())
		etag := bytesToEtag(jsonData)
		w.Header().Set("Etag", etag)
		if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}

	update := func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		id, ok := idFromRequest(w, r)
		if !ok {
			return
		}
		body, _ := io.ReadAll(r.Body)
		values, err := rec.Construct(body)
		if err != nil {
			var fieldErrs *record.FieldErrors
			if errors.As(err, &fieldErrs) {
				writeFieldErrors(w, fieldErrs)
				return
			}
			writeDetail(w, http.StatusBadRequest, "invalid json data: "+err.Error())
			return
		}
		queryParameters, err := rec.ParameterValues(values)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4731: cannot bind parameters")
			writeDetail(w, http.StatusInternalServerError, "Error 4731")
			return
		}

		tx, err := b.db.BeginTx(r.Context(), nil)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4732: cannot BeginTx")
			writeDetail(w, http.StatusInternalServerError, "Error 4732")
			return
		}
		if len(writable) > 0 {
			result, err := tx.Exec(updateQuery, append([]interface{}{id}, queryParameters...)...)
			if err != nil {
				tx.Rollback()
				writeSQLError(w, r, err, 4733)
				return
			}
			count, err := result.RowsAffected()
			if err != nil {
				tx.Rollback()
				rlog.WithError(err).Errorf("Error 4734: cannot get rows affected")
				writeDetail(w, http.StatusInternalServerError, "Error 4734")
				return
			}
			if count == 0 {
				tx.Rollback()
				writeDetail(w, http.StatusNotFound, "Item not found")
				return
			}
		}
		object, err := readObject(tx, id)
		if err == csql.ErrNoRows {
			tx.Rollback()
			writeDetail(w, http.StatusNotFound, "Item not found")
			return
		}
		if err != nil {
			tx.Rollback()
			rlog.WithError(err).Errorf("Error 4735: cannot read object back")
			writeDetail(w, http.StatusInternalServerError, "Error 4735")
			return
		}
		jsonData, _ := json.MarshalWithOption(object, json.DisableHTMLEscape())
		if err := b.commitWithEvent(r.Context(), tx, resource, core.OperationUpdate, jsonData); err != nil {
			rlog.WithError(err).Errorf("Error 4736: cannot commit")
			writeDetail(w, http.StatusInternalServerError, "Error 4736")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}

	deleteOne := func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		id, ok := idFromRequest(w, r)
		if !ok {
			return
		}
		tx, err := b.db.BeginTx(r.Context(), nil)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4741: cannot BeginTx")
			writeDetail(w, http.StatusInternalServerError, "Error 4741")
			return
		}
		values := rec.ScanValues()
		err = tx.QueryRow(deleteQuery, id).Scan(values...)
		if err == csql.ErrNoRows {
			tx.Rollback()
			writeDetail(w, http.StatusNotFound, "Item not found")
			return
		}
		if err != nil {
			tx.Rollback()
			writeSQLError(w, r, err, 4742)
			return
		}
		object, err := rec.Object(values)
		if err != nil {
			tx.Rollback()
			rlog.WithError(err).Errorf("Error 4743: cannot rebuild object")
			writeDetail(w, http.StatusInternalServerError, "Error 4743")
			return
		}
		jsonData, _ := json.MarshalWithOption(object, json.DisableHTMLEscape())
		if err := b.commitWithEvent(r.Context(), tx, resource, core.OperationDelete, jsonData); err != nil {
			rlog.WithError(err).Errorf("Error 4744: cannot commit")
			writeDetail(w, http.StatusInternalServerError, "Error 4744")
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write(jsonData)
	}

	clear := func(w http.ResponseWriter, r *http.Request) {
		rlog := logger.FromContext(r.Context())
		tx, err := b.db.BeginTx(r.Context(), nil)
		if err != nil {
			rlog.WithError(err).Errorf("Error 4751: cannot BeginTx")
			writeDetail(w, http.StatusInternalServerError, "Error 4751")
			return
		}
		result, err := tx.Exec(clearQuery)
		if err != nil {
			tx.Rollback()
			writeSQLError(w, r, err, 4752)
			return
		}
		count, _ := result.RowsAffected()
		payload, _ := json.Marshal(map[string]int64{"deleted": count})
		if err := b.commitWithEvent(r.Context(), tx, resource, core.OperationClear, payload); err != nil {
			rlog.WithError(err).Errorf("Error 4753: cannot commit")
			writeDetail(w, http.StatusInternalServerError, "Error 4753")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}

	listRoute := res.Path()
	itemRoute := res.Path() + "/{id}"

	if routes.getAll {
		nillog.Debugln("  handle dynamic route:", listRoute, "GET")
		router.HandleFunc(listRoute, func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			list(w, r)
		}).Methods(http.MethodOptions, http.MethodGet)
	}
	if routes.create {
		nillog.Debugln("  handle dynamic route:", listRoute, "POST")
		router.HandleFunc(listRoute, func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			create(w, r)
		}).Methods(http.MethodOptions, http.MethodPost)
	}
	if routes.getOne {
		nillog.Debugln("  handle dynamic route:", itemRoute, "GET")
		router.HandleFunc(itemRoute, func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			read(w, r)
		}).Methods(http.MethodOptions, http.MethodGet)
	}
	if routes.update {
		nillog.Debugln("  handle dynamic route:", itemRoute, "PUT")
		router.HandleFunc(itemRoute, func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			update(w, r)
		}).Methods(http.MethodOptions, http.MethodPut)
	}
	if routes.deleteOne {
		nillog.Debugln("  handle dynamic route:", itemRoute, "DELETE")
		router.HandleFunc(itemRoute, func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			deleteOne(w, r)
		}).Methods(http.MethodOptions, http.MethodDelete)
	}
	if routes.deleteAll {
		nillog.Debugln("  handle dynamic route:", listRoute, "DELETE")
		router.HandleFunc(listRoute, func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			clear(w, r)
		}).Methods(http.MethodOptions, http.MethodDelete)
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
}
