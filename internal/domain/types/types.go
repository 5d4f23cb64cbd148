// Package types contains the request and response bodies of the public API.
package types

import (
	"strings"
	"time"

	"github.com/okian/strokeauth/internal/domain/apperr"
	"github.com/okian/strokeauth/internal/domain/capture"
	"github.com/okian/strokeauth/internal/domain/comparison"
	"github.com/okian/strokeauth/internal/domain/enrollment"
	"github.com/okian/strokeauth/internal/domain/features"
	"github.com/okian/strokeauth/internal/domain/model"
	"github.com/okian/strokeauth/internal/domain/quality"
)

// DefaultBiometricType is used when a request names none.
const DefaultBiometricType = "signature"

const maxIDLength = 128

// FeaturesResponse answers POST /v1/features.
type FeaturesResponse struct {
	Features features.FeatureSet `json:"features"`
	Quality  quality.Assessment  `json:"quality"`
	Warnings []string            `json:"warnings"`
}

// EnrollRequest is the body of POST /v1/enrollments.
type EnrollRequest struct {
	UserID        string          `json:"userId"`
	BiometricType string          `json:"biometricType"`
	Capture       capture.Session `json:"capture"`
}

// Normalize trims identifiers and applies the default biometric type.
func (r *EnrollRequest) Normalize() error {
	var err error
	r.UserID, r.BiometricType, err = normalizeKey(r.UserID, r.BiometricType)
	return err
}

// EnrollResponse reports the baseline after an accepted sample.
type EnrollResponse struct {
	UserID          string             `json:"userId"`
	BiometricType   string             `json:"biometricType"`
	Status          enrollment.Status  `json:"status"`
	SamplesAccepted int                `json:"samplesAccepted"`
	RequiredSamples int                `json:"requiredSamples"`
	Complete        bool               `json:"complete"`
	Quality         quality.Assessment `json:"quality"`
	Warnings        []string           `json:"warnings"`
}

// AuthenticateRequest is the body of POST /v1/authenticate.
type AuthenticateRequest struct {
	UserID        string          `json:"userId"`
	BiometricType string          `json:"biometricType"`
	Mode          string          `json:"mode"`
	Capture       capture.Session `json:"capture"`
}

// Normalize trims identifiers, applies the default biometric type and
// resolves the mode.
func (r *AuthenticateRequest) Normalize() (comparison.Mode, error) {
	var err error
	r.UserID, r.BiometricType, err = normalizeKey(r.UserID, r.BiometricType)
	if err != nil {
		return "", err
	}
	return comparison.ParseMode(r.Mode)
}

// AuthenticateResponse is a comparison result plus its audit id.
type AuthenticateResponse struct {
	AttemptID string `json:"attemptId"`
	comparison.Result
	Quality  float64  `json:"quality"`
	Warnings []string `json:"warnings"`
}

// BaselineSummary answers GET /v1/enrollments/{userId}/{biometricType}.
// Samples are omitted.
type BaselineSummary struct {
	UserID           string                    `json:"userId"`
	BiometricType    string                    `json:"biometricType"`
	Status           enrollment.Status         `json:"status"`
	SamplesAccepted  int                       `json:"samplesAccepted"`
	RequiredSamples  int                       `json:"requiredSamples"`
	AlgorithmVersion string                    `json:"algorithmVersion"`
	Variance         map[features.Axis]float64 `json:"variance"`
	Consistency      enrollment.Consistency    `json:"consistency"`
	ExcludedAxes     []features.Axis           `json:"excludedAxes"`
	CreatedAt        time.Time                 `json:"createdAt"`
	UpdatedAt        time.Time                 `json:"updatedAt"`
}

// Summarize builds the summary of b.
func Summarize(b *enrollment.Baseline) BaselineSummary {
	excluded := b.Template.ExcludedAxes
	if excluded == nil {
		excluded = []features.Axis{}
	}
	return BaselineSummary{
		UserID:           b.UserID,
		BiometricType:    b.BiometricType,
		Status:           b.Status,
		SamplesAccepted:  b.SamplesAccepted,
		RequiredSamples:  b.RequiredSamples,
		AlgorithmVersion: b.Template.AlgorithmVersion,
		Variance:         b.Variance,
		Consistency:      b.Consistency,
		ExcludedAxes:     excluded,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

// Stats answers GET /stats.
type Stats struct {
	Started          bool                 `json:"started"`
	Baselines        int                  `json:"baselines"`
	QueueLength      int                  `json:"queueLength"`
	QueueCapacity    int                  `json:"queueCapacity"`
	WorkerCount      int                  `json:"workerCount"`
	AttemptsRecorded int64                `json:"attemptsRecorded"`
	ReplaySessions   int64                `json:"replaySessions"`
	MLMode           string               `json:"mlMode"`
	Algorithm        string               `json:"algorithm"`
	Attempts         []model.AttemptStats `json:"attempts"`
}

// NormalizeKey validates a (userId, biometricType) pair from a URL or body.
func NormalizeKey(userID, biometricType string) (enrollment.Key, error) {
	u, b, err := normalizeKey(userID, biometricType)
	return enrollment.Key{UserID: u, BiometricType: b}, err
}

func normalizeKey(userID, biometricType string) (string, string, error) {
	const op = "types.normalize"
	userID = strings.TrimSpace(userID)
	biometricType = strings.ToLower(strings.TrimSpace(biometricType))
	if biometricType == "" {
		biometricType = DefaultBiometricType
	}
	if userID == "" {
		return "", "", apperr.Invalid(op, "userId", "must not be empty")
	}
	if len(userID) > maxIDLength {
		return "", "", apperr.Validation(op, "userId", "maxLength", maxIDLength, float64(len(userID)))
	}
	if len(biometricType) > maxIDLength {
		return "", "", apperr.Validation(op, "biometricType", "maxLength", maxIDLength, float64(len(biometricType)))
	}
	return userID, biometricType, nil
}
