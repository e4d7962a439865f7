package model

// Staleness classifies a header's agreement with current artifact content.
// Classification is computed fresh on every evaluation; nothing persists
// between runs.
type Staleness string

const (
	StalenessValid     Staleness = "VALID"
	StalenessStale     Staleness = "STALE"
	StalenessAbsent    Staleness = "ABSENT"
	StalenessMalformed Staleness = "MALFORMED"
)

// StaleReason names the specific condition that made a header stale.
type StaleReason string

const (
	ReasonChecksumMismatch StaleReason = "checksum_mismatch"
	ReasonFingerprintDrift StaleReason = "fingerprint_drift"
	ReasonMissingField     StaleReason = "missing_field"
	// ReasonInterfaceUnknown means the extractor could not read the body.
	// Unknown is handled conservatively: the header regenerates.
	ReasonInterfaceUnknown StaleReason = "interface_unknown"
)

// Disposition is the safety gate's verdict on whether an artifact may
// drive a side-effecting action.
type Disposition string

const (
	DispositionExecute Disposition = "EXECUTE"
	DispositionDryRun  Disposition = "DRY_RUN"
	DispositionReject  Disposition = "REJECT"
)
