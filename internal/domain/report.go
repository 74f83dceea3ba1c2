package domain

import "time"

// BusinessReportType distinguishes onboarding reports from the periodic
// ongoing-monitoring reports that carry a predecessor snapshot.
type BusinessReportType string

const (
	ReportTypeMerchant        BusinessReportType = "MERCHANT_REPORT_T1"
	ReportTypeOngoingMerchant BusinessReportType = "ONGOING_MERCHANT_REPORT_T1"
)

// ReportSummary is the scored summary block of a report payload.
type ReportSummary struct {
	RiskScore float64 `json:"riskScore"`
}

// PreviousReportSnapshot is the embedded predecessor of an
// ongoing-monitoring report. Only snapshots whose ReportType is the
// ongoing-monitoring type make the current report eligible for the
// risk-delta resolver.
type PreviousReportSnapshot struct {
	Summary    ReportSummary      `json:"summary"`
	ReportType BusinessReportType `json:"reportType"`
}

// ReportPayload is the data block of a business report.
type ReportPayload struct {
	Summary        ReportSummary           `json:"summary"`
	PreviousReport *PreviousReportSnapshot `json:"previousReport,omitempty"`
}

// BusinessReport is a periodic risk assessment of a business.
type BusinessReport struct {
	ID         string             `json:"id"`
	ProjectID  string             `json:"projectId"`
	BusinessID string             `json:"businessId"`
	ReportID   string             `json:"reportId"`
	Type       BusinessReportType `json:"type"`
	RiskScore  float64            `json:"riskScore"`
	Payload    ReportPayload      `json:"payload"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// Business is a monitored merchant entity.
type Business struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	CompanyName string    `json:"companyName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MonitoringCheckParams identifies the report a monitoring check runs on.
type MonitoringCheckParams struct {
	ProjectID        string `json:"projectId"`
	BusinessID       string `json:"businessId"`
	ReportID         string `json:"reportId"`
	BusinessReportID string `json:"businessReportId"`
}
