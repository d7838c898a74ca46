// Package forensic implements the hub's chain-of-custody layer (component A):
// canonicalisation, SHA-256 chain hashing, Merkle roots over batches, and
// HMAC-SHA256 signing, grounded on the reference forensic/integrity.py
// ForensicHasher but reworked into deterministic, allocation-light Go.
package forensic

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/farmsense/hub/internal/domain"
	domainerrors "github.com/farmsense/hub/internal/domain/errors"
)

// Hasher canonicalises and chains records for the hub. It holds no mutable
// state beyond an optional signing key, so a single instance is safe for
// concurrent use.
type Hasher struct {
	signingKey string
}

// NewHasher constructs a Hasher. An empty signingKey disables Sign/Verify
// (every signature is reported "unsigned").
func NewHasher(signingKey string) *Hasher {
	return &Hasher{signingKey: signingKey}
}

// canonicalField is one entry of a record's canonical form: a fixed
// lexicographically-sorted (key, value) pair, value already rendered as its
// final rounded/formatted string.
type canonicalField struct {
	key   string
	value string
}

func canonicalize(fields map[string]string) []byte {
	entries := make([]canonicalField, 0, len(fields))
	for k, v := range fields {
		entries = append(entries, canonicalField{k, v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte(0) // separator-free per spec: use a byte no field value can contain
		}
		b.WriteString(e.key)
		b.WriteByte(0)
		b.WriteString(e.value)
	}
	return []byte(b.String())
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func roundStr(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

// ChainHash computes the own-hash of a measurement given its chain
// predecessor's own-hash, per §4.1's fixed field ordering and rounding:
// VWC to 1e-6, temperature to 1e-2, potential to 1e-4.
func (h *Hasher) ChainHash(prev string, m domain.Measurement) (string, error) {
	if m.SensorID == "" {
		return "", domainerrors.New(domainerrors.InvalidInput, "measurement missing sensor id", nil)
	}
	fields := map[string]string{
		"sensor_id":      m.SensorID,
		"depth":          strconv.Itoa(m.Depth),
		"timestamp":      m.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		"vwc":            roundStr(m.VWC, 6),
		"signal_quality": roundStr(m.SignalQuality, 4),
		"previous_hash":  prev,
	}
	if m.Temperature != nil {
		fields["temperature"] = roundStr(*m.Temperature, 2)
	}
	if m.Potential != nil {
		fields["potential"] = roundStr(*m.Potential, 4)
	}
	return sha256Hex(canonicalize(fields)), nil
}

// MerkleRoot computes a Merkle root over own-hashes: pairwise combination,
// duplicating the last element when the level is odd; a single hash reduces
// to itself; an empty list reduces to the genesis hash.
func (h *Hasher) MerkleRoot(hashes []string) string {
	return MerkleRootOf(hashes)
}

// MerkleRootOf is the package-level Merkle combination used by both the
// forensic chain (measurement/batch hashes) and the grid store's per-cycle
// root: pairwise combination, duplicating the last element when a level is
// odd; a single hash reduces to itself; an empty list reduces to the
// genesis hash.
func MerkleRootOf(hashes []string) string {
	if len(hashes) == 0 {
		return domain.GenesisHash
	}
	level := append([]string(nil), hashes...)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, sha256Hex([]byte(left+right)))
		}
		level = next
	}
	return level[0]
}

// BatchHash computes the batch-hash binding a batch to its predecessor and
// its first/last member hashes plus its Merkle root.
func (h *Hasher) BatchHash(prevBatchHash string, b domain.Batch) string {
	fields := map[string]string{
		"previous_batch_hash": prevBatchHash,
		"first_hash":          b.FirstOwnHash,
		"last_hash":           b.LastOwnHash,
		"merkle_root":         b.MerkleRoot,
		"count":               strconv.Itoa(b.Count),
		"timestamp":           b.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
	}
	return sha256Hex(canonicalize(fields))
}

// AuditHash computes the own-hash of an audit event, chaining it to prev the
// same way ChainHash chains measurements. Details is serialised in sorted key
// order, each pair written as the key, a NUL byte and the value formatted with
// %v, pairs separated by a NUL byte, so any value type whose %v rendering is
// deterministic hashes consistently.
func (h *Hasher) AuditHash(prev string, e domain.AuditEvent) string {
	detailKeys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		detailKeys = append(detailKeys, k)
	}
	sort.Strings(detailKeys)
	var details strings.Builder
	for i, k := range detailKeys {
		if i > 0 {
			details.WriteByte(0)
		}
		fmt.Fprintf(&details, "%s\x00%v", k, e.Details[k])
	}
	fields := map[string]string{
		"kind":          e.Kind.String(),
		"principal":     e.Principal,
		"timestamp":     e.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		"details":       details.String(),
		"previous_hash": prev,
	}
	return sha256Hex(canonicalize(fields))
}

// Sign produces an HMAC-SHA256 signature of hash carrying a key-id prefix.
// With no signing key configured, it returns an explicit "unsigned:" marker
// rather than silently producing a forgeable signature.
func (h *Hasher) Sign(hash, keyID string) string {
	if h.signingKey == "" {
		return fmt.Sprintf("unsigned:%s", keyID)
	}
	mac := hmac.New(sha256.New, []byte(h.signingKey))
	mac.Write([]byte(hash))
	return fmt.Sprintf("hmac:%s:%s", keyID, hex.EncodeToString(mac.Sum(nil)))
}

// Verify checks an HMAC-SHA256 signature produced by Sign.
func (h *Hasher) Verify(hash, signature string) bool {
	if h.signingKey == "" || strings.HasPrefix(signature, "unsigned:") {
		return false
	}
	parts := strings.SplitN(signature, ":", 3)
	if len(parts) != 3 || parts[0] != "hmac" {
		return false
	}
	expected := h.Sign(hash, parts[1])
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ChainVerification is the report produced by VerifyChain, suitable for
// export as forensic evidence.
type ChainVerification struct {
	OK           bool
	ValidCount   int
	ComputedLast string
}

// VerifyChain recomputes each record's own-hash against its stored value and
// confirms the chain terminates at expectedLast. It never returns an error
// for a mismatch — verification is total, reporting rather than raising.
func (h *Hasher) VerifyChain(records []domain.Measurement, expectedFirst, expectedLast string) ChainVerification {
	prev := expectedFirst
	valid := 0
	for _, r := range records {
		computed, err := h.ChainHash(prev, r)
		if err == nil && computed == r.OwnHash {
			valid++
		}
		prev = r.OwnHash
	}
	return ChainVerification{
		OK:           valid == len(records) && prev == expectedLast,
		ValidCount:   valid,
		ComputedLast: prev,
	}
}
