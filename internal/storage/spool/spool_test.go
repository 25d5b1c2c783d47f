package spool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ChuLiYu/pacemaker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(i int) types.PositionSample {
	return types.PositionSample{
		Latitude:  40 + float64(i)*0.0001,
		Longitude: -74,
		Timestamp: int64(i) * 1000,
		Accuracy:  types.Accuracy(5),
	}
}

func openTestSpool(t *testing.T, opts ...Option) *Spool {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "samples.spool"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDrainReturnsSamplesInOrderAndClears(t *testing.T) {
	s := openTestSpool(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(sample(i)))
	}
	assert.Equal(t, 5, s.Len())

	got, err := s.Drain()
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, smp := range got {
		assert.Equal(t, sample(i), smp)
	}

	assert.Equal(t, 0, s.Len())
	again, err := s.Drain()
	require.NoError(t, err)
	assert.Empty(t, again, "drain clears on read")
}

func TestAppendAfterDrainRestartsSequence(t *testing.T) {
	s := openTestSpool(t)
	require.NoError(t, s.Append(sample(1)))
	_, err := s.Drain()
	require.NoError(t, err)

	require.NoError(t, s.Append(sample(2)))

	var seqs []uint64
	require.NoError(t, s.Replay(func(rec Record) error {
		seqs = append(seqs, rec.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{1}, seqs)
}

func TestDrainKeepsMostRecent(t *testing.T) {
	s := openTestSpool(t, WithMaxRecords(3))
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(sample(i)))
	}

	got, err := s.Drain()
	require.NoError(t, err)
	assert.Equal(t, []types.PositionSample{sample(7), sample(8), sample(9)}, got)
}

func TestReopenContinuesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.spool")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(sample(1)))
	require.NoError(t, s.Append(sample(2)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 2, s.Len())
	require.NoError(t, s.Append(sample(3)))

	var last uint64
	require.NoError(t, s.Replay(func(rec Record) error {
		last = rec.Seq
		return nil
	}))
	assert.Equal(t, uint64(3), last)
}

func TestSyncOnAppendIsReadableBeforeClose(t *testing.T) {
	s := openTestSpool(t, WithSyncOnAppend(true))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Append(sample(i)))
	}

	// a second handle sees every record while the writer is still open
	reader, err := Open(s.Path())
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, 3, reader.Len())

	var seqs []uint64
	require.NoError(t, reader.Replay(func(rec Record) error {
		seqs = append(seqs, rec.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestChecksumMismatch(t *testing.T) {
	rec := Record{Seq: 4, Sample: sample(4)}
	rec.Checksum = CalculateChecksum(rec.Seq, rec.Sample)
	require.NoError(t, VerifyChecksum(rec))

	rec.Sample.Latitude += 0.5
	err := VerifyChecksum(rec)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	var ce *ChecksumError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint64(4), ce.Seq)
}

func TestDrainSkipsTamperedRecordAndTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.spool")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append(sample(1)))

	// a record whose checksum does not match, then a half-written line
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"sample":{"latitude":1,"longitude":2,"timestamp":3},"checksum":1}` + "\n")
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":3,"sample":{"lat`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = s.Replay(func(Record) error { return nil })
	assert.ErrorIs(t, err, ErrChecksumMismatch, "replay is strict")

	got, err := s.Drain()
	require.NoError(t, err)
	assert.Equal(t, []types.PositionSample{sample(1)}, got)
}

func TestClosedSpool(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "samples.spool"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	assert.ErrorIs(t, s.Append(sample(1)), ErrSpoolClosed)
	_, err = s.Drain()
	assert.ErrorIs(t, err, ErrSpoolClosed)
}
