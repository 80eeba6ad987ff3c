package models

import "time"

// RushLevel labels expected turnout pressure.
type RushLevel string

const (
	RushHigh   RushLevel = "HIGH"
	RushMedium RushLevel = "MEDIUM"
	RushLow    RushLevel = "LOW"
)

// TurnoutPrediction estimates attendance for a prospective session slot.
type TurnoutPrediction struct {
	CourseID       string    `json:"course_id"`
	PredictedCount int       `json:"predicted_count"`
	EnrolledCount  int       `json:"enrolled_count"`
	PredictedRate  float64   `json:"predicted_rate"`
	RushLevel      RushLevel `json:"rush_level"`
	Confidence     float64   `json:"confidence"`
	SampleSize     int       `json:"sample_size"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// SlotRecommendation proposes a time slot for a new session.
type SlotRecommendation struct {
	Date      string `json:"date"`
	Day       string `json:"day"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Score     int    `json:"score"`
	Reason    string `json:"reason"`
}

// PatternInsight is one observation over historical attendance.
type PatternInsight struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Severity string `json:"severity"`
}

// PatternAnalysis bundles insights for a course.
type PatternAnalysis struct {
	CourseID      string           `json:"course_id"`
	TotalSessions int              `json:"total_sessions"`
	Insights      []PatternInsight `json:"insights"`
	Message       string           `json:"message,omitempty"`
}
