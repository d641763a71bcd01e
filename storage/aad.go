package storage

import "encoding/binary"

const aadRecord = "RECORD"

// RecordAAD binds a sealed value to the bucket and key it is stored under,
// so a record copied to another key fails to open.
func RecordAAD(bucket, key string, ver int) []byte {
	return buildAAD(aadRecord, bucket, key, ver)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case int:
			res = binary.BigEndian.AppendUint32(res, uint32(v))
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}
