package domain

import "time"

// UnknownDimensionValue is the owner and tier attached to events whose
// service has no dimension row effective at the event time.
const UnknownDimensionValue = "UNKNOWN"

// ServiceDimensionRecord is one SCD-2 version of a service's metadata.
// The [EffectiveFrom, EffectiveTo) intervals of all rows of a service
// partition time with no gaps or overlaps.
type ServiceDimensionRecord struct {
	// Service is the natural key.
	Service string `json:"service"`

	// Owner is the owning team.
	Owner string `json:"owner"`

	// Tier is the service criticality tier.
	Tier string `json:"tier"`

	// EffectiveFrom is the inclusive start of the version's validity.
	EffectiveFrom time.Time `json:"effective_from"`

	// EffectiveTo is the exclusive end of validity. Nil while the row is open.
	EffectiveTo *time.Time `json:"effective_to,omitempty"`

	// IsCurrent is true for the single open row of a service.
	IsCurrent bool `json:"is_current"`
}

// Contains returns true if ts falls inside the row's validity interval.
func (r *ServiceDimensionRecord) Contains(ts time.Time) bool {
	if ts.Before(r.EffectiveFrom) {
		return false
	}
	return r.EffectiveTo == nil || ts.Before(*r.EffectiveTo)
}

// IsUnknown returns true for the sentinel record.
func (r *ServiceDimensionRecord) IsUnknown() bool {
	return r.Owner == UnknownDimensionValue && r.Tier == UnknownDimensionValue && r.EffectiveFrom.IsZero()
}

// UnknownDimension returns the sentinel record for a service.
func UnknownDimension(service string) ServiceDimensionRecord {
	return ServiceDimensionRecord{
		Service: service,
		Owner:   UnknownDimensionValue,
		Tier:    UnknownDimensionValue,
	}
}

// DimensionChange is a request to version a service's metadata.
type DimensionChange struct {
	Service     string    `json:"service"`
	Owner       string    `json:"owner"`
	Tier        string    `json:"tier"`
	EffectiveAt time.Time `json:"effective_at"`
}

// EnrichedEvent is a valid log event joined with the dimension row that was
// effective at the event's own timestamp.
type EnrichedEvent struct {
	LogEvent

	// Dimension is the matching row or the UNKNOWN sentinel.
	Dimension ServiceDimensionRecord `json:"dimension"`
}
