package rules

import (
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// apmDenyList inverts the card allow-list: with excludePaymentMethods
// set, every method outside it counts as an alternative payment method.
var cardMethods = []domain.PaymentMethod{domain.PaymentMethodCreditCard}

// DefaultTransactionDefinitions returns the stock transaction-monitoring
// rule catalog for a project. Thresholds mirror the shipped defaults;
// administrators tune them per project after seeding.
func DefaultTransactionDefinitions(projectID string) []*domain.AlertDefinition {
	return []*domain.AlertDefinition{
		newDefinition(projectID, "STRUC_CC", "Structuring - credit card",
			"Significant number of inbound credit card payments just below the reporting limit",
			domain.SeverityMedium, domain.InlineRule{
				ID:       "STRUC_CC",
				Strategy: domain.StrategyAmountRangeCount,
				Subjects: []string{"counterpartyId"},
				Options: domain.RuleOptions{
					Direction:      domain.DirectionInbound,
					PaymentMethods: cardMethods,
					AmountBetween:  &domain.AmountRange{Min: 500, Max: 1000},
					CountThreshold: 5,
					TimeWindowDays: 7,
				},
			}),
		newDefinition(projectID, "STRUC_APM", "Structuring - alternative payment methods",
			"Significant number of inbound APM payments just below the reporting limit",
			domain.SeverityMedium, domain.InlineRule{
				ID:       "STRUC_APM",
				Strategy: domain.StrategyAmountRangeCount,
				Subjects: []string{"counterpartyId"},
				Options: domain.RuleOptions{
					Direction:             domain.DirectionInbound,
					PaymentMethods:        cardMethods,
					ExcludePaymentMethods: true,
					AmountBetween:         &domain.AmountRange{Min: 500, Max: 1000},
					CountThreshold:        5,
					TimeWindowDays:        7,
				},
			}),
		newDefinition(projectID, "CHVC_C", "High chargeback volume",
			"High volume of chargebacks for a merchant",
			domain.SeverityHigh, domain.InlineRule{
				ID:       "CHVC_C",
				Strategy: domain.StrategyCountThreshold,
				Subjects: []string{"counterpartyId"},
				Options: domain.RuleOptions{
					TransactionType: domain.RecordTypeChargeback,
					GroupBy:         domain.SubjectOriginator,
					CountThreshold:  15,
					TimeWindowDays:  7,
				},
			}),
		newDefinition(projectID, "SHCAC_C", "High cumulative chargeback amount",
			"Cumulative chargeback amount exceeds the configured limit",
			domain.SeverityHigh, domain.InlineRule{
				ID:       "SHCAC_C",
				Strategy: domain.StrategySumThreshold,
				Subjects: []string{"counterpartyId"},
				Options: domain.RuleOptions{
					TransactionType: domain.RecordTypeChargeback,
					GroupBy:         domain.SubjectOriginator,
					SumThreshold:    5000,
					TimeWindowDays:  7,
				},
			}),
		newDefinition(projectID, "CHCR_C", "High refund volume",
			"High volume of refunds for a merchant",
			domain.SeverityMedium, domain.InlineRule{
				ID:       "CHCR_C",
				Strategy: domain.StrategyCountThreshold,
				Subjects: []string{"counterpartyId"},
				Options: domain.RuleOptions{
					TransactionType: domain.RecordTypeRefund,
					GroupBy:         domain.SubjectOriginator,
					CountThreshold:  15,
					TimeWindowDays:  7,
				},
			}),
		newDefinition(projectID, "SHCAR_C", "High cumulative refund amount",
			"Cumulative refund amount exceeds the configured limit",
			domain.SeverityMedium, domain.InlineRule{
				ID:       "SHCAR_C",
				Strategy: domain.StrategySumThreshold,
				Subjects: []string{"counterpartyId"},
				Options: domain.RuleOptions{
					TransactionType: domain.RecordTypeRefund,
					GroupBy:         domain.SubjectOriginator,
					SumThreshold:    5000,
					TimeWindowDays:  7,
				},
			}),
		newDefinition(projectID, "HPC", "High chargeback ratio",
			"Chargebacks form a large share of a merchant's transactions",
			domain.SeverityHigh, domain.InlineRule{
				ID:       "HPC",
				Strategy: domain.StrategyRatio,
				Subjects: []string{"counterpartyId"},
				Options: domain.RuleOptions{
					TransactionType: domain.RecordTypeChargeback,
					GroupBy:         domain.SubjectOriginator,
					MinimumCount:    3,
					RatioThreshold:  50,
					TimeWindowDays:  7,
				},
			}),
		newDefinition(projectID, "TLHAICC", "Unusually high credit card amount",
			"An inbound credit card transaction far exceeds the merchant's average",
			domain.SeverityMedium, domain.InlineRule{
				ID:       "TLHAICC",
				Strategy: domain.StrategyOutlierAverage,
				Subjects: []string{"counterpartyId"},
				Options: domain.RuleOptions{
					Direction:      domain.DirectionInbound,
					PaymentMethods: cardMethods,
					MinimumCount:   2,
					AmountFloor:    100,
					TimeWindowDays: 7,
				},
			}),
		newDefinition(projectID, "TLHAIAPM", "Unusually high APM amount",
			"An inbound APM transaction far exceeds the merchant's average",
			domain.SeverityMedium, domain.InlineRule{
				ID:       "TLHAIAPM",
				Strategy: domain.StrategyOutlierAverage,
				Subjects: []string{"counterpartyId"},
				Options: domain.RuleOptions{
					Direction:             domain.DirectionInbound,
					PaymentMethods:        cardMethods,
					ExcludePaymentMethods: true,
					MinimumCount:          2,
					AmountFloor:           100,
					TimeWindowDays:        7,
				},
			}),
		newDefinition(projectID, "PAY_HCA_CC", "High credit card activity",
			"Very high count of inbound credit card payments",
			domain.SeverityMedium, domain.InlineRule{
				ID:       "PAY_HCA_CC",
				Strategy: domain.StrategyCountThreshold,
				Subjects: []string{"counterpartyId"},
				Options: domain.RuleOptions{
					Direction:      domain.DirectionInbound,
					PaymentMethods: cardMethods,
					CountThreshold: 1000,
					TimeWindowDays: 7,
				},
			}),
		newDefinition(projectID, "PAY_HCA_APM", "High APM activity",
			"Very high count of inbound APM payments",
			domain.SeverityMedium, domain.InlineRule{
				ID:       "PAY_HCA_APM",
				Strategy: domain.StrategyCountThreshold,
				Subjects: []string{"counterpartyId"},
				Options: domain.RuleOptions{
					Direction:             domain.DirectionInbound,
					PaymentMethods:        cardMethods,
					ExcludePaymentMethods: true,
					CountThreshold:        1000,
					TimeWindowDays:        7,
				},
			}),
	}
}

// DefaultMonitoringDefinitions returns the stock merchant-monitoring
// rule catalog for a project.
func DefaultMonitoringDefinitions(projectID string) []*domain.AlertDefinition {
	increase := newDefinition(projectID, "MERCHANT_ONGOING_RISK_ALERT_RISK_INCREASE",
		"Ongoing monitoring risk increase",
		"The merchant's risk score increased significantly since the previous ongoing report",
		domain.SeverityLow, domain.InlineRule{
			ID:       "MERCHANT_ONGOING_RISK_ALERT_RISK_INCREASE",
			Strategy: domain.StrategyRiskIncrease,
			Subjects: []string{"businessId", "projectId"},
			Options: domain.RuleOptions{
				RiskScoreDelta: 20,
			},
		})
	increase.Category = domain.CategoryMerchantMonitoring

	threshold := newDefinition(projectID, "MERCHANT_ONGOING_RISK_ALERT_THRESHOLD",
		"Ongoing monitoring risk threshold",
		"The merchant's risk score exceeded the configured ceiling",
		domain.SeverityMedium, domain.InlineRule{
			ID:       "MERCHANT_ONGOING_RISK_ALERT_THRESHOLD",
			Strategy: domain.StrategyRiskThreshold,
			Subjects: []string{"businessId", "projectId"},
			Options: domain.RuleOptions{
				MaxRiskScoreThreshold: 40,
			},
		})
	threshold.Category = domain.CategoryMerchantMonitoring

	return []*domain.AlertDefinition{increase, threshold}
}

func newDefinition(projectID, name, title, description string, severity domain.Severity, rule domain.InlineRule) *domain.AlertDefinition {
	now := time.Now().UTC()
	return &domain.AlertDefinition{
		ID:              uuid.New().String(),
		ProjectID:       projectID,
		Name:            name,
		Description:     title + ": " + description,
		Category:        domain.CategoryTransactionMonitoring,
		Rule:            rule,
		DefaultSeverity: severity,
		Enabled:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
