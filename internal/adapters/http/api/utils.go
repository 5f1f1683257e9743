package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/pkg/logger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Snapshot metadata headers set on every read response.
const (
	HeaderSnapshotVersion   = "X-Snapshot-Version"
	HeaderSnapshotCommitted = "X-Snapshot-Committed-At"
	HeaderTotalCount        = "X-Total-Count"
	HeaderGameweek          = "X-Gameweek"
	HeaderAPIKey            = "X-API-Key"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil && status < statusInternalError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail translates err into a JSON error response. Server errors are logged
// and their details withheld.
func fail(w http.ResponseWriter, r *http.Request, log logger.Logger, err error) {
	status, code := statusFor(err)
	if status >= statusInternalError {
		log.Error(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeError(w, status, code, err)
}

func setSnapshot(w http.ResponseWriter, info model.SnapshotInfo) {
	if info.Version == 0 {
		return
	}
	w.Header().Set(HeaderSnapshotVersion, strconv.FormatInt(info.Version, 10))
	w.Header().Set(HeaderSnapshotCommitted, info.CommittedAt.UTC().Format(time.RFC3339Nano))
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue(name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// entities never encodes as null.
func entities(list []model.Entity) []model.Entity {
	if list == nil {
		return []model.Entity{}
	}
	return list
}
