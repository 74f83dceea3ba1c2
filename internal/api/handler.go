package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/monitoring"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/sweep"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	sweeper  *sweep.Sweeper
	resolver *monitoring.Resolver
	alerts   *alerts.Service
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, sweeper *sweep.Sweeper, resolver *monitoring.Resolver, alertService *alerts.Service, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		sweeper:  sweeper,
		resolver: resolver,
		alerts:   alertService,
		version:  version,
	}
}

// Health returns service health including repository and cache checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// RunSweep handles POST /sweep: it evaluates every active alert
// definition across all projects and reports the outcome. Intended to
// be invoked by an external scheduler.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "sweeper not available",
		})
		return
	}

	report, err := h.sweeper.CheckAllAlerts(r.Context())
	if err != nil {
		slog.Error("sweep failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "sweep failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// MonitoringCheckRequest is the request body for POST /monitoring/check.
type MonitoringCheckRequest struct {
	BusinessID       string `json:"businessId"`
	ReportID         string `json:"reportId"`
	BusinessReportID string `json:"businessReportId,omitempty"`
	CompanyName      string `json:"companyName,omitempty"`
}

// CheckMonitoring handles POST /monitoring/check: it runs the
// ongoing-monitoring risk check against a stored report. The response
// carries the created alert, or a null alert when no rule matched or an
// open alert already covers the business.
func (h *Handler) CheckMonitoring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := GetProjectID(ctx)

	if h.resolver == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "monitoring resolver not available",
		})
		return
	}

	var req MonitoringCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.BusinessID == "" || (req.ReportID == "" && req.BusinessReportID == "") {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "businessId and reportId (or businessReportId) are required",
		})
		return
	}

	params := domain.MonitoringCheckParams{
		ProjectID:        projectID,
		BusinessID:       req.BusinessID,
		ReportID:         req.ReportID,
		BusinessReportID: req.BusinessReportID,
	}
	alert, err := h.resolver.CheckOngoingMonitoringAlert(ctx, params, req.CompanyName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "report not found",
			})
			return
		}
		slog.Error("monitoring check failed",
			"project_id", projectID,
			"business_id", req.BusinessID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "monitoring check failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alert": alert,
	})
}

// MerchantRef identifies the business an alert concerns.
type MerchantRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// AlertRow is an alert enriched for listing: the definition description
// as alertDetails and the resolved merchant, when known.
type AlertRow struct {
	*domain.Alert
	AlertDetails string       `json:"alertDetails,omitempty"`
	Merchant     *MerchantRef `json:"merchant,omitempty"`
}

// formatAlertRows resolves each alert's definition and business once and
// builds the listing rows. Missing references are omitted, not errors:
// a definition deleted after its alerts fired must not break the list.
func (h *Handler) formatAlertRows(ctx context.Context, projectID string, found []*domain.Alert) []AlertRow {
	details := make(map[string]string)
	merchants := make(map[string]*MerchantRef)

	rows := make([]AlertRow, 0, len(found))
	for _, alert := range found {
		row := AlertRow{Alert: alert}

		if _, ok := details[alert.AlertDefinitionID]; !ok {
			details[alert.AlertDefinitionID] = ""
			if def, err := h.repo.GetAlertDefinition(ctx, projectID, alert.AlertDefinitionID); err == nil {
				details[alert.AlertDefinitionID] = def.Description
			}
		}
		row.AlertDetails = details[alert.AlertDefinitionID]

		if alert.BusinessID != "" {
			if _, ok := merchants[alert.BusinessID]; !ok {
				ref := &MerchantRef{ID: alert.BusinessID}
				if biz, err := h.repo.GetBusiness(ctx, projectID, alert.BusinessID); err == nil {
					ref.Name = biz.CompanyName
				}
				merchants[alert.BusinessID] = ref
			}
			row.Merchant = merchants[alert.BusinessID]
		}

		rows = append(rows, row)
	}
	return rows
}

// ListAlerts handles GET /alerts with optional filters passed as query
// parameters: definitionId, counterpartyId, businessId, assigneeId,
// status (repeatable), and open=true.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := GetProjectID(ctx)

	query := r.URL.Query()
	filter := domain.AlertFilter{
		AlertDefinitionID: query.Get("definitionId"),
		CounterpartyID:    query.Get("counterpartyId"),
		BusinessID:        query.Get("businessId"),
		AssigneeID:        query.Get("assigneeId"),
		OpenOnly:          query.Get("open") == "true",
	}
	for _, status := range query["status"] {
		filter.Statuses = append(filter.Statuses, domain.AlertStatus(status))
	}

	found, err := h.repo.FindAlerts(ctx, projectID, filter)
	if err != nil {
		slog.Error("failed to list alerts", "project_id", projectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	rows := h.formatAlertRows(ctx, projectID, found)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": rows,
		"count":  len(rows),
	})
}

// AssignAlertsRequest is the request body for PATCH /alerts/assign.
type AssignAlertsRequest struct {
	AlertIDs   []string `json:"alertIds"`
	AssigneeID string   `json:"assigneeId"`
}

// AssignAlerts handles PATCH /alerts/assign: a bulk assignment with a
// per-id outcome. An empty assigneeId unassigns.
func (h *Handler) AssignAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := GetProjectID(ctx)

	var req AssignAlertsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.AlertIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alertIds is required",
		})
		return
	}

	updated, err := h.alerts.UpdateAlertsAssignee(ctx, req.AlertIDs, projectID, req.AssigneeID)
	if err != nil {
		slog.Error("bulk assign failed", "project_id", projectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to assign alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, alerts.BuildBulkResponse(req.AlertIDs, updated))
}

// DecideAlertsRequest is the request body for PATCH /alerts/decision.
type DecideAlertsRequest struct {
	AlertIDs []string `json:"alertIds"`
	Decision string   `json:"decision"`
	UserID   string   `json:"userId,omitempty"`
	UserType string   `json:"userType,omitempty"`
}

// DecideAlerts handles PATCH /alerts/decision: a bulk decision with a
// per-id outcome. When the caller identifies as a human user, that user
// is assigned to the alerts as part of the decision.
func (h *Handler) DecideAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := GetProjectID(ctx)

	var req DecideAlertsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.AlertIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alertIds is required",
		})
		return
	}

	decision := domain.AlertDecision(req.Decision)
	switch decision {
	case domain.DecisionRejected, domain.DecisionDismissed, domain.DecisionCleared:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "decision must be one of: rejected, dismissed, cleared",
		})
		return
	}

	actor := alerts.Actor{
		UserID:  req.UserID,
		IsHuman: req.UserType != "service" && req.UserType != "customer",
	}
	updated, err := h.alerts.DecideAlerts(ctx, req.AlertIDs, projectID, decision, actor)
	if err != nil {
		slog.Error("bulk decision failed", "project_id", projectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to decide alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, alerts.BuildBulkResponse(req.AlertIDs, updated))
}

// GetAlertDefinition handles GET /alerts/{id}/definition: it resolves
// the definition that produced an alert.
func (h *Handler) GetAlertDefinition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := GetProjectID(ctx)
	alertID := chi.URLParam(r, "id")

	alert, err := h.repo.GetAlert(ctx, projectID, alertID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert not found",
			})
			return
		}
		slog.Error("failed to get alert", "alert_id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get alert",
		})
		return
	}

	def, err := h.repo.GetAlertDefinition(ctx, projectID, alert.AlertDefinitionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "alert definition not found",
			})
			return
		}
		slog.Error("failed to get definition", "definition_id", alert.AlertDefinitionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get alert definition",
		})
		return
	}

	writeJSON(w, http.StatusOK, def)
}

// ListDefinitions handles GET /definitions with an optional category
// query parameter.
func (h *Handler) ListDefinitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := GetProjectID(ctx)
	category := domain.DefinitionCategory(r.URL.Query().Get("category"))

	defs, err := h.repo.ListAlertDefinitions(ctx, projectID, category)
	if err != nil {
		slog.Error("failed to list definitions", "project_id", projectID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alert definitions",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"definitions": defs,
		"count":       len(defs),
	})
}

// CreateDefinition handles POST /definitions. The inline rule is
// validated against the rule catalog before the definition is saved, so
// a malformed definition is rejected up front instead of being skipped
// on every sweep.
func (h *Handler) CreateDefinition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := GetProjectID(ctx)

	var def domain.AlertDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if def.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}

	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	def.ProjectID = projectID
	if def.Category == "" {
		def.Category = domain.CategoryTransactionMonitoring
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	}
	def.Enabled = true

	if _, err := rules.Prepare(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveAlertDefinition(ctx, projectID, &def); err != nil {
		slog.Error("failed to save definition", "name", def.Name, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save alert definition",
		})
		return
	}

	// Refresh the cached definition list so the next sweep sees the
	// new definition without waiting out the TTL.
	if h.cache != nil {
		if defs, err := h.repo.ListAlertDefinitions(ctx, projectID, def.Category); err == nil {
			_ = h.cache.SetDefinitions(ctx, projectID, def.Category, defs, time.Minute)
		}
	}

	slog.Info("alert definition created", "id", def.ID, "name", def.Name, "project_id", projectID)
	writeJSON(w, http.StatusCreated, &def)
}

// IngestTransaction handles POST /transactions: it persists the record
// and publishes an ingestion event for async consumers.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := GetProjectID(ctx)

	var tx domain.TransactionRecord
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if tx.BaseAmount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "baseAmount must be positive",
		})
		return
	}

	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.ProjectID = projectID
	if tx.Date.IsZero() {
		tx.Date = time.Now().UTC()
	}

	if err := h.repo.SaveTransaction(ctx, projectID, &tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(&tx)
		if err := h.bus.Publish(ctx, projectID, domain.TopicTransactionIngested, payload); err != nil {
			slog.Warn("failed to publish transaction event", "tx_id", tx.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, &tx)
}

// IngestReportRequest is the request body for POST /reports.
type IngestReportRequest struct {
	Report   domain.BusinessReport `json:"report"`
	Business *domain.Business      `json:"business,omitempty"`
}

// IngestReport handles POST /reports: it persists the business report
// (and the optional business snapshot), runs the ongoing-monitoring
// check against it, and returns the stored report together with any
// alert the check raised.
func (h *Handler) IngestReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID := GetProjectID(ctx)

	var req IngestReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	report := req.Report
	if report.BusinessID == "" || report.ReportID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "report.businessId and report.reportId are required",
		})
		return
	}

	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	report.ProjectID = projectID
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	companyName := ""
	if req.Business != nil {
		business := req.Business
		business.ProjectID = projectID
		companyName = business.CompanyName
		if err := h.repo.SaveBusiness(ctx, projectID, business); err != nil {
			slog.Error("failed to save business", "business_id", business.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save business",
			})
			return
		}
	}

	if err := h.repo.SaveBusinessReport(ctx, projectID, &report); err != nil {
		slog.Error("failed to save report", "report_id", report.ReportID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save business report",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(&req)
		if err := h.bus.Publish(ctx, projectID, domain.TopicReportIngested, payload); err != nil {
			slog.Warn("failed to publish report event", "report_id", report.ReportID, "error", err)
		}
	}

	var alert *domain.Alert
	if h.resolver != nil {
		params := domain.MonitoringCheckParams{
			ProjectID:        projectID,
			BusinessID:       report.BusinessID,
			ReportID:         report.ReportID,
			BusinessReportID: report.ID,
		}
		var err error
		alert, err = h.resolver.CheckOngoingMonitoringAlert(ctx, params, companyName)
		if err != nil {
			slog.Error("monitoring check failed", "report_id", report.ReportID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"report": &report,
		"alert":  alert,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
