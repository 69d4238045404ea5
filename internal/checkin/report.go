package checkin

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/store"
)

// Report thresholds.
const (
	repeatOffenderAttempts = 3
	sharedNetworkStudents  = 5
	sharedDeviceStudents   = 2
)

// Report summarises attempts and alerts over a period.
type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Since       time.Time       `json:"since"`
	Summary     ReportSummary   `json:"summary"`
	Patterns    []ReportPattern `json:"patterns"`
}

// ReportSummary holds the period totals.
type ReportSummary struct {
	TotalAttempts   int                        `json:"total_attempts"`
	InvalidAttempts int                        `json:"invalid_attempts"`
	AvgRiskScore    float64                    `json:"avg_risk_score"`
	ByRiskLevel     map[domain.RiskLevel]int   `json:"by_risk_level"`
	TotalAlerts     int                        `json:"total_alerts"`
	AlertsByType    map[domain.AlertType]int   `json:"alerts_by_type"`
	AlertsByStatus  map[domain.AlertStatus]int `json:"alerts_by_status"`
}

// ReportPattern is one recurring behaviour seen across attempts.
type ReportPattern struct {
	Type        string   `json:"type"`
	Key         string   `json:"key"`
	Description string   `json:"description"`
	Count       int      `json:"count"`
	Students    []string `json:"students,omitempty"`
}

// Report builds a report over every attempt and alert since the given time.
func (s *Service) Report(ctx context.Context, since time.Time) (Report, error) {
	attempts, err := s.stores.Attempts.AttemptsSince(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("load attempts: %w", err)
	}
	alerts, err := s.stores.Alerts.ListAlerts(ctx, store.AlertFilter{})
	if err != nil {
		return Report{}, fmt.Errorf("load alerts: %w", err)
	}
	recent := alerts[:0:0]
	for _, a := range alerts {
		if !a.CreatedAt.Before(since) {
			recent = append(recent, a)
		}
	}
	return buildReport(attempts, recent, since, s.now().UTC()), nil
}

func buildReport(attempts []domain.ScoredAttempt, alerts []domain.FraudAlert, since, now time.Time) Report {
	sum := ReportSummary{
		ByRiskLevel:    make(map[domain.RiskLevel]int),
		AlertsByType:   make(map[domain.AlertType]int),
		AlertsByStatus: make(map[domain.AlertStatus]int),
	}

	invalidByStudent := make(map[string]int)
	ipStudents := make(map[string]map[string]struct{})
	deviceStudents := make(map[string]map[string]struct{})
	var totalScore float64

	for _, a := range attempts {
		sum.TotalAttempts++
		totalScore += a.Score
		sum.ByRiskLevel[a.RiskLevel]++
		if !a.IsValid {
			sum.InvalidAttempts++
			invalidByStudent[a.StudentID]++
		}
		addTo(ipStudents, a.IPAddress, a.StudentID)
		addTo(deviceStudents, a.DeviceID, a.StudentID)
	}
	if sum.TotalAttempts > 0 {
		sum.AvgRiskScore = totalScore / float64(sum.TotalAttempts)
	}
	for _, a := range alerts {
		sum.TotalAlerts++
		sum.AlertsByType[a.Type]++
		sum.AlertsByStatus[a.Status]++
	}

	var patterns []ReportPattern
	for student, n := range invalidByStudent {
		if n >= repeatOffenderAttempts {
			patterns = append(patterns, ReportPattern{
				Type:        "repeat_offender",
				Key:         student,
				Description: fmt.Sprintf("student %s failed validation %d times", student, n),
				Count:       n,
				Students:    []string{student},
			})
		}
	}
	for ip, students := range ipStudents {
		if len(students) >= sharedNetworkStudents {
			patterns = append(patterns, ReportPattern{
				Type:        "shared_network",
				Key:         ip,
				Description: fmt.Sprintf("IP %s was used by %d students", ip, len(students)),
				Count:       len(students),
				Students:    sortedKeys(students),
			})
		}
	}
	for id, students := range deviceStudents {
		if len(students) >= sharedDeviceStudents {
			patterns = append(patterns, ReportPattern{
				Type:        "shared_device",
				Key:         id,
				Description: fmt.Sprintf("device %s was used by %d students", id, len(students)),
				Count:       len(students),
				Students:    sortedKeys(students),
			})
		}
	}

	// Largest first; ties by type then key so the output is stable.
	slices.SortFunc(patterns, func(a, b ReportPattern) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		if c := strings.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	if patterns == nil {
		patterns = []ReportPattern{}
	}

	return Report{GeneratedAt: now, Since: since, Summary: sum, Patterns: patterns}
}

func addTo(m map[string]map[string]struct{}, key, student string) {
	if key == "" {
		return
	}
	if m[key] == nil {
		m[key] = make(map[string]struct{})
	}
	m[key][student] = struct{}{}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
