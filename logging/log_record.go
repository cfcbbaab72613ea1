package logging

import (
	"encoding/binary"

	"github.com/shaledb/shale/common"
)

type LogRecordType uint16

const (
	InvalidLogRecord LogRecordType = iota // catches uninitialized values
	LogBeginTransaction
	LogCommit
	LogAbort
)

func (t LogRecordType) String() string {
	switch t {
	case InvalidLogRecord:
		return "INVALID"
	case LogBeginTransaction:
		return "BEGIN TRANSACTION"
	case LogCommit:
		return "COMMIT"
	case LogAbort:
		return "ABORT"
	}
	return "UNKNOWN"
}

// LogRecord is a transaction lifecycle record in the write-ahead log. The
// engine's access-method layer does not log structural modifications; records
// exist so the transaction manager can mark begin/commit/abort points.
type LogRecord struct {
	Type  LogRecordType
	TxnID common.TransactionID
}

// logRecordSize is the serialized size: type (2) + txn id (8).
const logRecordSize = 10

// writeTo serializes the record into dst, which must hold logRecordSize bytes.
func (r LogRecord) writeTo(dst []byte) {
	common.Assert(len(dst) >= logRecordSize, "log record buffer too small")
	binary.LittleEndian.PutUint16(dst, uint16(r.Type))
	binary.LittleEndian.PutUint64(dst[2:], uint64(r.TxnID))
}

// readLogRecord deserializes a record from src.
func readLogRecord(src []byte) LogRecord {
	common.Assert(len(src) >= logRecordSize, "log record buffer too small")
	return LogRecord{
		Type:  LogRecordType(binary.LittleEndian.Uint16(src)),
		TxnID: common.TransactionID(binary.LittleEndian.Uint64(src[2:])),
	}
}
