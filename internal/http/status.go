package httpserver

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"cms_migrator/internal/ledger"
	"cms_migrator/internal/migrate"
)

// Inspector plans without changing the database.
type Inspector interface {
	Inspect(ctx context.Context, conn ledger.Conn) (*migrate.Plan, error)
}

type StatusHandler struct {
	DB               *sql.DB
	Inspector        Inspector
	Metrics          *Metrics
	Logger           *slog.Logger
	Engine           string
	TransactionalDDL bool
}

type statusResponse struct {
	Engine           string          `json:"engine"`
	TransactionalDDL bool            `json:"transactional_ddl"`
	LedgerPresent    bool            `json:"ledger_present"`
	Discovered       int             `json:"discovered"`
	Applied          int             `json:"applied"`
	Pending          []string        `json:"pending"`
	Drifted          []migrate.Drift `json:"drifted"`
	Missing          []string        `json:"missing"`
	UpToDate         bool            `json:"up_to_date"`
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	plan, err := h.Inspector.Inspect(ctx, h.DB)
	if err != nil {
		var drift *migrate.DriftError
		if errors.As(err, &drift) {
			h.Metrics.ObserveDrift()
			writeMigrationError(w, http.StatusConflict, "drift_detected", err.Error(), drift.Name)
			return
		}
		h.Metrics.ObserveError()
		h.Logger.Error("status check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "status_failed", "could not determine migration status")
		return
	}
	h.Metrics.Observe(plan)

	resp := statusResponse{
		Engine:           h.Engine,
		TransactionalDDL: h.TransactionalDDL,
		LedgerPresent:    plan.LedgerPresent,
		Discovered:       plan.Discovered,
		Applied:          len(plan.Applied),
		Pending:          plan.PendingNames(),
		Drifted:          plan.Drifted,
		Missing:          make([]string, 0, len(plan.Missing)),
		UpToDate:         plan.Empty(),
	}
	if resp.Drifted == nil {
		resp.Drifted = []migrate.Drift{}
	}
	for _, m := range plan.Missing {
		resp.Missing = append(resp.Missing, m.Name)
	}
	writeJSON(w, http.StatusOK, resp)
}
