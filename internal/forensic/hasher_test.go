package forensic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmsense/hub/internal/domain"
)

func measurementAt(sensor string, vwc float64) domain.Measurement {
	return domain.Measurement{
		SensorID:      sensor,
		Depth:         18,
		Timestamp:     time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		VWC:           vwc,
		SignalQuality: 0.95,
	}
}

func TestChainHash_ShouldBeDeterministic_WhenCalledTwiceWithSameInput(t *testing.T) {
	h := NewHasher("")
	m := measurementAt("s-1", 0.21)

	h1, err1 := h.ChainHash(domain.GenesisHash, m)
	h2, err2 := h.ChainHash(domain.GenesisHash, m)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestChainHash_ShouldChange_WhenPreviousHashDiffers(t *testing.T) {
	h := NewHasher("")
	m := measurementAt("s-1", 0.21)

	a, err := h.ChainHash(domain.GenesisHash, m)
	require.NoError(t, err)
	b, err := h.ChainHash(a, m)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestChainHash_ShouldReject_WhenSensorIDMissing(t *testing.T) {
	h := NewHasher("")
	_, err := h.ChainHash(domain.GenesisHash, domain.Measurement{})
	assert.Error(t, err)
}

func TestMerkleRoot_ShouldReturnGenesis_WhenEmpty(t *testing.T) {
	h := NewHasher("")
	assert.Equal(t, domain.GenesisHash, h.MerkleRoot(nil))
}

func TestMerkleRoot_ShouldReturnSingleHash_WhenOneElement(t *testing.T) {
	h := NewHasher("")
	assert.Equal(t, "abc", h.MerkleRoot([]string{"abc"}))
}

func TestMerkleRoot_ShouldDuplicateLast_WhenOddCount(t *testing.T) {
	h := NewHasher("")
	even := h.MerkleRoot([]string{"a", "b", "c", "c"})
	odd := h.MerkleRoot([]string{"a", "b", "c"})
	assert.Equal(t, even, odd)
}

func TestSignVerify_ShouldRoundTrip_WhenKeyConfigured(t *testing.T) {
	h := NewHasher("secret")
	sig := h.Sign("deadbeef", "hub-1")

	assert.True(t, h.Verify("deadbeef", sig))
	assert.False(t, h.Verify("other-hash", sig))
}

func TestSign_ShouldMarkUnsigned_WhenNoKeyConfigured(t *testing.T) {
	h := NewHasher("")
	sig := h.Sign("deadbeef", "hub-1")

	assert.Equal(t, "unsigned:hub-1", sig)
	assert.False(t, h.Verify("deadbeef", sig))
}

func TestVerifyChain_ShouldReportValid_WhenChainUnbroken(t *testing.T) {
	h := NewHasher("")
	m1 := measurementAt("s-1", 0.20)
	h1, err := h.ChainHash(domain.GenesisHash, m1)
	require.NoError(t, err)
	m1.PreviousHash = domain.GenesisHash
	m1.OwnHash = h1

	m2 := measurementAt("s-1", 0.22)
	h2, err := h.ChainHash(h1, m2)
	require.NoError(t, err)
	m2.PreviousHash = h1
	m2.OwnHash = h2

	result := h.VerifyChain([]domain.Measurement{m1, m2}, domain.GenesisHash, h2)

	assert.True(t, result.OK)
	assert.Equal(t, 2, result.ValidCount)
	assert.Equal(t, h2, result.ComputedLast)
}

func TestVerifyChain_ShouldReportInvalid_WhenRecordTampered(t *testing.T) {
	h := NewHasher("")
	m1 := measurementAt("s-1", 0.20)
	h1, err := h.ChainHash(domain.GenesisHash, m1)
	require.NoError(t, err)
	m1.OwnHash = h1

	tampered := m1
	tampered.VWC = 0.99 // payload changed after hashing

	result := h.VerifyChain([]domain.Measurement{tampered}, domain.GenesisHash, h1)

	assert.False(t, result.OK)
	assert.Equal(t, 0, result.ValidCount)
}
