package scoring

// Evidence slot names, one per rule. Every evaluation writes all six slots;
// downstream review tooling depends on each slot being present whether or
// not the rule fired.
const (
	SlotAmountSpike = "amount_spike"
	SlotVelocity    = "velocity"
	SlotLocation    = "location"
	SlotDevice      = "device"
	SlotMerchant    = "merchant"
	SlotDuplicate   = "duplicate"
)

// Evidence statuses for rules that produced no signal.
const (
	StatusNoHistory          = "no_history"
	StatusNormal             = "normal"
	StatusNoLocationProvided = "no_location_provided"
	StatusNoPreviousLocation = "no_previous_location"
	StatusNoDeviceProvided   = "no_device_provided"
	StatusFirstDevice        = "first_device"
	StatusSameDevice         = "same_device"
	StatusNotBlacklisted     = "not_blacklisted"
	StatusNotDuplicate       = "not_duplicate"
	StatusCacheUnavailable   = "cache_unavailable"
	StatusHistoryUnavailable = "history_unavailable"
)

// Evidence is the structured explanation a rule writes for its slot. Each
// rule has its own variant; the Status/Type field discriminates the shape.
type Evidence interface {
	isEvidence()
}

// AmountSpikeEvidence explains the amount-spike decision.
type AmountSpikeEvidence struct {
	Status        string   `json:"status,omitempty"`
	Message       string   `json:"message,omitempty"`
	CurrentAmount *float64 `json:"current_amount,omitempty"`
	AverageAmount *float64 `json:"average_amount,omitempty"`
	Threshold     *float64 `json:"threshold,omitempty"`
	Multiplier    *float64 `json:"multiplier,omitempty"`
}

// VelocityEvidence explains both velocity checks; the two windows share one
// slot because at most one of them can fire.
type VelocityEvidence struct {
	Type      string `json:"type,omitempty"`
	Status    string `json:"status,omitempty"`
	Count60s  *int   `json:"count_60s,omitempty"`
	Count10m  *int   `json:"count_10m,omitempty"`
	Threshold *int   `json:"threshold,omitempty"`
}

// Coordinates is a lat/lng pair inside location evidence.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationEvidence explains the location-mismatch decision.
type LocationEvidence struct {
	Type            string       `json:"type,omitempty"`
	Status          string       `json:"status,omitempty"`
	DistanceKM      *float64     `json:"distance_km,omitempty"`
	TimeDiffHours   *float64     `json:"time_diff_hours,omitempty"`
	LastLocation    *Coordinates `json:"last_location,omitempty"`
	CurrentLocation *Coordinates `json:"current_location,omitempty"`
}

// DeviceEvidence explains the device-change decision.
type DeviceEvidence struct {
	Type           string `json:"type,omitempty"`
	Status         string `json:"status,omitempty"`
	DeviceID       string `json:"device_id,omitempty"`
	PreviousDevice string `json:"previous_device,omitempty"`
	CurrentDevice  string `json:"current_device,omitempty"`
}

// MerchantEvidence explains the blacklist decision.
type MerchantEvidence struct {
	Type       string `json:"type,omitempty"`
	Status     string `json:"status,omitempty"`
	MerchantID string `json:"merchant_id"`
}

// DuplicateEvidence explains the duplicate-signature decision.
type DuplicateEvidence struct {
	Type          string   `json:"type,omitempty"`
	Status        string   `json:"status,omitempty"`
	WindowSeconds *int     `json:"window_seconds,omitempty"`
	MerchantID    string   `json:"merchant_id,omitempty"`
	Amount        *float64 `json:"amount,omitempty"`
}

func (AmountSpikeEvidence) isEvidence() {}
func (VelocityEvidence) isEvidence()    {}
func (LocationEvidence) isEvidence()    {}
func (DeviceEvidence) isEvidence()      {}
func (MerchantEvidence) isEvidence()    {}
func (DuplicateEvidence) isEvidence()   {}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
