package domain

import "math"

// PriceRecomputeThresholdHours is the smallest duration change that reprices a modified
// booking. Smaller timing differences keep the price agreed at creation.
const PriceRecomputeThresholdHours = 0.5

// ComputePrice bills whole units: partial hours and partial days round up.
// Durations reaching the day threshold are billed per started 24h period. A resource
// without a day rate falls back to hourly billing for long bookings.
func ComputePrice(durationHours float64, rs RateSchedule) (int64, DurationType) {
	if durationHours <= 0 {
		return 0, DurationTypeHour
	}
	if durationHours >= rs.threshold() {
		if rs.PricePerDay > 0 {
			days := int64(math.Ceil(durationHours / 24))
			return days * rs.PricePerDay, DurationTypeDay
		}
		return int64(math.Ceil(durationHours)) * rs.PricePerHour, DurationTypeDay
	}
	return int64(math.Ceil(durationHours)) * rs.PricePerHour, DurationTypeHour
}

// DurationTypeFor classifies a duration against the resource's day threshold.
func DurationTypeFor(durationHours float64, rs RateSchedule) DurationType {
	if durationHours > 0 && durationHours >= rs.threshold() {
		return DurationTypeDay
	}
	return DurationTypeHour
}

func ShouldRecomputePrice(oldHours, newHours float64) bool {
	return math.Abs(newHours-oldHours) > PriceRecomputeThresholdHours
}
