package scoring

import (
	"math"
	"time"

	"github.com/fintech/fraud-engine/internal/geo"
	"github.com/fintech/fraud-engine/internal/models"
)

// Reason codes, in rule order.
const (
	ReasonAmountSpike       = "amount_spike"
	ReasonVelocitySpike     = "velocity_spike"
	ReasonVelocityUnusual   = "velocity_unusual"
	ReasonLocationMismatch  = "location_mismatch"
	ReasonDeviceChange      = "device_change"
	ReasonMerchantBlacklist = "merchant_blacklist"
	ReasonDuplicate         = "duplicate_transaction"
)

// Rule thresholds and score contributions.
const (
	amountSpikeMultiplier = 5.0
	amountSpikeScore      = 30

	velocityHighCount  = 3
	velocityHighWindow = 60 * time.Second
	velocityHighScore  = 25

	velocityUnusualCount  = 5
	velocityUnusualWindow = 600 * time.Second
	velocityUnusualScore  = 15

	locationDistanceThresholdKM = 500.0
	locationTimeThresholdHours  = 12.0
	locationMismatchScore       = 20

	deviceChangeScore = 10

	merchantBlacklistScore = 40

	duplicateWindow = 30 * time.Second
	duplicateScore  = 35

	// DefaultFlagThreshold is the score at which a transaction is flagged
	// for review.
	DefaultFlagThreshold = 50
)

// Snapshot is the collaborator state one evaluation reads: the historical
// baseline and the behavioral-cache view, gathered once so each rule is a
// pure function of (transaction, snapshot). Degraded flags record a
// collaborator that was unavailable; the affected rules treat that as "no
// signal".
type Snapshot struct {
	AvgAmount       *float64
	HistoryDegraded bool

	Count60s         int
	Count10m         int
	VelocityDegraded bool

	LastKnown         *models.LastKnownState
	LastKnownDegraded bool

	IsDuplicate       bool
	DuplicateDegraded bool
}

// RuleOutcome is one rule's contribution: an additive score delta, a reason
// code when the rule fired, and the evidence record it always writes.
type RuleOutcome struct {
	Slot     string
	Delta    int
	Reason   string
	Evidence Evidence
}

// checkAmountSpike fires when the amount exceeds 5x the user's trailing
// average. A missing or zero baseline is "no history", never a trigger.
func checkAmountSpike(tx *models.TransactionInput, snap *Snapshot) RuleOutcome {
	if snap.HistoryDegraded {
		return RuleOutcome{Slot: SlotAmountSpike, Evidence: AmountSpikeEvidence{Status: StatusHistoryUnavailable}}
	}

	avg := snap.AvgAmount
	if avg == nil || *avg <= 0 {
		return RuleOutcome{Slot: SlotAmountSpike, Evidence: AmountSpikeEvidence{
			Status:  StatusNoHistory,
			Message: "No previous transactions to compare",
		}}
	}

	threshold := *avg * amountSpikeMultiplier
	if tx.Amount <= threshold {
		return RuleOutcome{Slot: SlotAmountSpike, Evidence: AmountSpikeEvidence{
			Status:        StatusNormal,
			CurrentAmount: floatPtr(tx.Amount),
			AverageAmount: floatPtr(round2(*avg)),
			Threshold:     floatPtr(round2(threshold)),
		}}
	}

	return RuleOutcome{
		Slot:   SlotAmountSpike,
		Delta:  amountSpikeScore,
		Reason: ReasonAmountSpike,
		Evidence: AmountSpikeEvidence{
			CurrentAmount: floatPtr(tx.Amount),
			AverageAmount: floatPtr(round2(*avg)),
			Threshold:     floatPtr(round2(threshold)),
			Multiplier:    floatPtr(round2(tx.Amount / *avg)),
		},
	}
}

// checkVelocity fires the 60-second spike first; the 10-minute unusual check
// only applies when the spike did not fire.
func checkVelocity(_ *models.TransactionInput, snap *Snapshot) RuleOutcome {
	if snap.VelocityDegraded {
		return RuleOutcome{Slot: SlotVelocity, Evidence: VelocityEvidence{Status: StatusCacheUnavailable}}
	}

	if snap.Count60s >= velocityHighCount {
		return RuleOutcome{
			Slot:   SlotVelocity,
			Delta:  velocityHighScore,
			Reason: ReasonVelocitySpike,
			Evidence: VelocityEvidence{
				Type:      ReasonVelocitySpike,
				Count60s:  intPtr(snap.Count60s),
				Threshold: intPtr(velocityHighCount),
			},
		}
	}

	if snap.Count10m >= velocityUnusualCount {
		return RuleOutcome{
			Slot:   SlotVelocity,
			Delta:  velocityUnusualScore,
			Reason: ReasonVelocityUnusual,
			Evidence: VelocityEvidence{
				Type:      ReasonVelocityUnusual,
				Count10m:  intPtr(snap.Count10m),
				Threshold: intPtr(velocityUnusualCount),
			},
		}
	}

	return RuleOutcome{Slot: SlotVelocity, Evidence: VelocityEvidence{
		Status:   StatusNormal,
		Count60s: intPtr(snap.Count60s),
		Count10m: intPtr(snap.Count10m),
	}}
}

// checkLocationMismatch fires when the transaction is over 500 km from the
// last-known position observed less than 12 hours earlier.
func checkLocationMismatch(tx *models.TransactionInput, snap *Snapshot) RuleOutcome {
	if !tx.HasLocation() {
		return RuleOutcome{Slot: SlotLocation, Evidence: LocationEvidence{Status: StatusNoLocationProvided}}
	}
	if snap.LastKnownDegraded {
		return RuleOutcome{Slot: SlotLocation, Evidence: LocationEvidence{Status: StatusCacheUnavailable}}
	}

	last := snap.LastKnown
	if last == nil || !last.HasLocation() {
		return RuleOutcome{Slot: SlotLocation, Evidence: LocationEvidence{Status: StatusNoPreviousLocation}}
	}

	distance := geo.Haversine(*last.Lat, *last.Lng, *tx.LocationLat, *tx.LocationLng)
	timeDiff := tx.Timestamp.Sub(last.Timestamp).Hours()

	if distance > locationDistanceThresholdKM && timeDiff < locationTimeThresholdHours {
		return RuleOutcome{
			Slot:   SlotLocation,
			Delta:  locationMismatchScore,
			Reason: ReasonLocationMismatch,
			Evidence: LocationEvidence{
				Type:            "mismatch",
				DistanceKM:      floatPtr(round2(distance)),
				TimeDiffHours:   floatPtr(round2(timeDiff)),
				LastLocation:    &Coordinates{Lat: *last.Lat, Lng: *last.Lng},
				CurrentLocation: &Coordinates{Lat: *tx.LocationLat, Lng: *tx.LocationLng},
			},
		}
	}

	return RuleOutcome{Slot: SlotLocation, Evidence: LocationEvidence{
		Status:        StatusNormal,
		DistanceKM:    floatPtr(round2(distance)),
		TimeDiffHours: floatPtr(round2(timeDiff)),
	}}
}

// checkDeviceChange fires when the transaction's device differs from the
// last-known one. A first sighting establishes the baseline without firing.
func checkDeviceChange(tx *models.TransactionInput, snap *Snapshot) RuleOutcome {
	if tx.DeviceID == nil {
		return RuleOutcome{Slot: SlotDevice, Evidence: DeviceEvidence{Status: StatusNoDeviceProvided}}
	}
	if snap.LastKnownDegraded {
		return RuleOutcome{Slot: SlotDevice, Evidence: DeviceEvidence{Status: StatusCacheUnavailable}}
	}

	last := snap.LastKnown
	if last == nil || last.DeviceID == "" {
		return RuleOutcome{Slot: SlotDevice, Evidence: DeviceEvidence{
			Status:   StatusFirstDevice,
			DeviceID: *tx.DeviceID,
		}}
	}

	if *tx.DeviceID != last.DeviceID {
		return RuleOutcome{
			Slot:   SlotDevice,
			Delta:  deviceChangeScore,
			Reason: ReasonDeviceChange,
			Evidence: DeviceEvidence{
				Type:           "changed",
				PreviousDevice: last.DeviceID,
				CurrentDevice:  *tx.DeviceID,
			},
		}
	}

	return RuleOutcome{Slot: SlotDevice, Evidence: DeviceEvidence{
		Status:   StatusSameDevice,
		DeviceID: *tx.DeviceID,
	}}
}

// checkMerchantBlacklist fires on membership in the static blacklist.
func (e *Evaluator) checkMerchantBlacklist(tx *models.TransactionInput) RuleOutcome {
	if _, blacklisted := e.blacklist[tx.MerchantID]; blacklisted {
		return RuleOutcome{
			Slot:   SlotMerchant,
			Delta:  merchantBlacklistScore,
			Reason: ReasonMerchantBlacklist,
			Evidence: MerchantEvidence{
				Type:       "blacklisted",
				MerchantID: tx.MerchantID,
			},
		}
	}

	return RuleOutcome{Slot: SlotMerchant, Evidence: MerchantEvidence{
		Status:     StatusNotBlacklisted,
		MerchantID: tx.MerchantID,
	}}
}

// checkDuplicate reports the cache's check-and-mark result for the
// (user, merchant, amount) signature.
func checkDuplicate(tx *models.TransactionInput, snap *Snapshot) RuleOutcome {
	if snap.DuplicateDegraded {
		return RuleOutcome{Slot: SlotDuplicate, Evidence: DuplicateEvidence{Status: StatusCacheUnavailable}}
	}

	if snap.IsDuplicate {
		return RuleOutcome{
			Slot:   SlotDuplicate,
			Delta:  duplicateScore,
			Reason: ReasonDuplicate,
			Evidence: DuplicateEvidence{
				Type:          "detected",
				WindowSeconds: intPtr(int(duplicateWindow / time.Second)),
				MerchantID:    tx.MerchantID,
				Amount:        floatPtr(tx.Amount),
			},
		}
	}

	return RuleOutcome{Slot: SlotDuplicate, Evidence: DuplicateEvidence{Status: StatusNotDuplicate}}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
