package domain

import "time"

// Measurement is one immutable probe reading, chained into the forensic
// ledger by the forensic hasher (A) before it ever reaches storage (B).
//
// OwnHash and PreviousHash are 64-hex-character SHA-256 digests; Signature
// carries a key-id prefix (see forensic.Sign). A zero-value Measurement has
// not yet been chained — OwnHash is only meaningful once set by the hasher.
type Measurement struct {
	SensorID      string
	Depth         int
	Timestamp     time.Time
	VWC           float64
	Temperature   *float64
	Potential     *float64
	SignalQuality float64

	PreviousHash string
	OwnHash      string
	Signature    string
}

// Batch is an ordered group of measurements chained together as a unit
// (§3 "Batch"): a Merkle root over their own-hashes, plus a batch-hash
// binding the batch to its predecessor and its first/last member hashes.
type Batch struct {
	Measurements   []Measurement
	PreviousBatch  string
	FirstOwnHash   string
	LastOwnHash    string
	MerkleRoot     string
	Count          int
	Timestamp      time.Time
	BatchHash      string
}
