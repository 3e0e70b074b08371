package backend

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/schemaforge/schemaforge/core/logger"
	"github.com/schemaforge/schemaforge/core/record"
)

// writeDetail writes a JSON error object with a single detail message.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	data, _ := json.Marshal(map[string]string{"detail": detail})
	w.Write(data)
}

type fieldErrorDetail struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// writeFieldErrors renders a 422 with one detail entry per rejected field.
func writeFieldErrors(w http.ResponseWriter, errs *record.FieldErrors) {
	details := make([]fieldErrorDetail, 0, len(errs.Fields))
	for _, f := range errs.Fields {
		details = append(details, fieldErrorDetail{
			Loc:  []string{"body", f.Name},
			Msg:  f.Problem,
			Type: "value_error",
		})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnprocessableEntity)
	data, _ := json.Marshal(map[string]interface{}{"detail": details})
	w.Write(data)
}

// writeSQLError maps well-known postgres failure codes to client errors
// and everything else to a numbered internal error.
func writeSQLError(w http.ResponseWriter, r *http.Request, err error, number int) {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "22P02": // invalid_text_representation
			writeDetail(w, http.StatusBadRequest, pqErr.Message)
			return
		case "23502": // not_null_violation
			writeDetail(w, http.StatusUnprocessableEntity, pqErr.Message)
			return
		case "23505": // unique_violation
			writeDetail(w, http.StatusConflict, pqErr.Message)
			return
		}
	}
	logger.FromContext(r.Context()).WithError(err).Errorf("Error %d: database query failed", number)
	writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Error %d", number))
}
