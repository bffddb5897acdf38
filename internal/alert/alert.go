// Package alert defines the ingress alert model and webhook payload.
package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Alert statuses as reported by the alerting backend.
const (
	StatusFiring   = "firing"
	StatusResolved = "resolved"
)

// Alert is one alert condition as delivered by Alertmanager or the poll loop.
// Alerts are immutable once ingested.
type Alert struct {
	Status       string            `json:"status"`
	Fingerprint  string            `json:"fingerprint,omitempty"`
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations"`
	StartsAt     time.Time         `json:"startsAt,omitempty"`
	EndsAt       time.Time         `json:"endsAt,omitempty"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
}

// Webhook is the Alertmanager webhook payload shape.
type Webhook struct {
	Alerts []Alert `json:"alerts"`
}

// Name returns the alertname label, or "" when absent.
func (a *Alert) Name() string { return a.Labels["alertname"] }

// Severity returns the severity label, or "" when absent.
func (a *Alert) Severity() string { return a.Labels["severity"] }

// Summary returns the summary annotation, or "" when absent.
func (a *Alert) Summary() string { return a.Annotations["summary"] }

// Key returns the deduplication key for the alert: the source-supplied
// fingerprint when present, otherwise a stable hash over
// (alertname, instance, startsAt).
func (a *Alert) Key() string {
	if a.Fingerprint != "" {
		return a.Fingerprint
	}
	h := sha256.New()
	h.Write([]byte(a.Labels["alertname"]))
	h.Write([]byte{0})
	h.Write([]byte(a.Labels["instance"]))
	h.Write([]byte{0})
	h.Write([]byte(a.StartsAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
