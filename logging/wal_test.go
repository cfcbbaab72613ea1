package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaledb/shale/common"
)

// TestFileLogManager_AppendAndFlush checks LSN assignment, the flush point,
// and that appended records land in the file in order.
func TestFileLogManager_AppendAndFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shale.log")
	lm, err := NewFileLogManager(path)
	require.NoError(t, err)

	records := []LogRecord{
		{Type: LogBeginTransaction, TxnID: 1},
		{Type: LogBeginTransaction, TxnID: 2},
		{Type: LogCommit, TxnID: 1},
		{Type: LogAbort, TxnID: 2},
	}
	var last common.LSN
	for i, rec := range records {
		lsn, err := lm.Append(rec)
		require.NoError(t, err)
		assert.Equal(t, common.LSN(i+1), lsn, "LSNs are dense and start at 1")
		last = lsn
	}

	require.NoError(t, lm.WaitUntilFlushed(last))
	assert.Equal(t, last, lm.FlushedUntil())
	require.NoError(t, lm.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, len(records)*logRecordSize)
	for i, want := range records {
		got := readLogRecord(raw[i*logRecordSize:])
		assert.Equal(t, want, got)
	}
}

// TestFileLogManager_ReopenContinuesLSNs checks that a reopened log resumes
// numbering after the existing records.
func TestFileLogManager_ReopenContinuesLSNs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shale.log")
	lm, err := NewFileLogManager(path)
	require.NoError(t, err)
	_, err = lm.Append(LogRecord{Type: LogBeginTransaction, TxnID: 1})
	require.NoError(t, err)
	require.NoError(t, lm.Close())

	lm2, err := NewFileLogManager(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lm2.Close() })

	assert.Equal(t, common.LSN(1), lm2.FlushedUntil())
	lsn, err := lm2.Append(LogRecord{Type: LogCommit, TxnID: 1})
	require.NoError(t, err)
	assert.Equal(t, common.LSN(2), lsn)
}

// TestFileLogManager_ClosedRejectsAppends checks the LogClosedError surface.
func TestFileLogManager_ClosedRejectsAppends(t *testing.T) {
	lm, err := NewFileLogManager(filepath.Join(t.TempDir(), "shale.log"))
	require.NoError(t, err)
	require.NoError(t, lm.Close())

	_, err = lm.Append(LogRecord{Type: LogBeginTransaction, TxnID: 9})
	require.Error(t, err)
	assert.True(t, common.IsDBErrorCode(err, common.LogClosedError))
}
