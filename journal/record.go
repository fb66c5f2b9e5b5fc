package journal

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	flagStaged byte = 0
	flagCommit byte = 1

	recordHeaderSize = 8 + 8 + 4 // sequence, offset, length
	recordTrailerSize = 4 + 1    // crc32, flag
)

// encodeRecord produces the on-disk bytes for one journal record, per the
// wire format: 8-byte sequence, 8-byte offset, 4-byte length, old bytes,
// new bytes, 4-byte CRC32 over everything preceding it, 1-byte flag. A
// commit marker carries length 0 and no payload.
func encodeRecord(seq, offset uint64, old, newBytes []byte, commit bool) []byte {
	length := uint32(len(newBytes))
	if commit {
		length = 0
	}

	buf := make([]byte, recordHeaderSize, recordHeaderSize+2*int(length)+recordTrailerSize)
	binary.LittleEndian.PutUint64(buf[0:8], seq)
	binary.LittleEndian.PutUint64(buf[8:16], offset)
	binary.LittleEndian.PutUint32(buf[16:20], length)

	if !commit {
		buf = append(buf, old...)
		buf = append(buf, newBytes...)
	}

	crc := crc32.ChecksumIEEE(buf)

	crcAndFlag := make([]byte, recordTrailerSize)
	binary.LittleEndian.PutUint32(crcAndFlag[0:4], crc)
	if commit {
		crcAndFlag[4] = flagCommit
	} else {
		crcAndFlag[4] = flagStaged
	}

	return append(buf, crcAndFlag...)
}

type decodedRecord struct {
	seq      uint64
	offset   uint64
	newBytes []byte
	commit   bool
}

// decodeRecords parses every complete record out of data in order. A
// trailing partial record (not enough bytes left to hold even the header,
// or not enough for the declared length) is silently dropped: it can only
// be the tail of a transaction that never reached a log flush, which
// replay must discard anyway. A complete record whose CRC does not match
// is reported as an error — that is genuine corruption, not a truncated
// write, and replay must stop without touching the image further.
func decodeRecords(data []byte) ([]decodedRecord, error) {
	var records []decodedRecord

	pos := 0
	for {
		if pos+recordHeaderSize > len(data) {
			break
		}

		start := pos
		seq := binary.LittleEndian.Uint64(data[pos : pos+8])
		offset := binary.LittleEndian.Uint64(data[pos+8 : pos+16])
		length := binary.LittleEndian.Uint32(data[pos+16 : pos+20])
		pos += recordHeaderSize

		payloadEnd := pos + 2*int(length)
		if payloadEnd+recordTrailerSize > len(data) {
			break
		}

		old := data[pos : pos+int(length)]
		newBytes := data[pos+int(length) : payloadEnd]
		pos = payloadEnd

		crcField := binary.LittleEndian.Uint32(data[pos : pos+4])
		flag := data[pos+4]
		pos += recordTrailerSize

		if crc32.ChecksumIEEE(data[start:pos-recordTrailerSize]) != crcField {
			return nil, ErrChecksumFailed
		}

		_ = old // old bytes exist for diagnostic/rollback purposes only; replay only needs new

		records = append(records, decodedRecord{
			seq:      seq,
			offset:   offset,
			newBytes: append([]byte(nil), newBytes...),
			commit:   flag == flagCommit,
		})
	}

	return records, nil
}
