package badger

import "encoding/binary"

// Key namespace. Every row lives under one of three prefixes so a single
// badger database can hold the map's header and both extensions without
// colliding with anything else stored in the same badger instance.
//
//	u<uid be32>          -> encoded Record+Ref (14 bytes); 5-byte key, no colon
//	s:<token %08x>       -> staged row awaiting AssignUIDs (see transaction.go)
//	h:highest_file_id    -> be32
//	h:next_uid           -> be32
//	h:uid_validity       -> be32
const (
	prefixUID   = 'u'
	keyHighest  = "h:highest_file_id"
	keyNextUID  = "h:next_uid"
	keyValidity = "h:uid_validity"
)

func keyForUID(uid uint32) []byte {
	k := make([]byte, 5)
	k[0] = prefixUID
	binary.BigEndian.PutUint32(k[1:], uid)
	return k
}

func uidFromKey(k []byte) uint32 {
	return binary.BigEndian.Uint32(k[1:])
}

var uidPrefix = []byte{prefixUID}

const rowSize = 4 + 4 + 4 + 2 // file_id, offset, size, refcount

func encodeRow(fileID, offset, size uint32, refcount uint16) []byte {
	b := make([]byte, rowSize)
	binary.BigEndian.PutUint32(b[0:4], fileID)
	binary.BigEndian.PutUint32(b[4:8], offset)
	binary.BigEndian.PutUint32(b[8:12], size)
	binary.BigEndian.PutUint16(b[12:14], refcount)
	return b
}

func decodeRow(b []byte) (fileID, offset, size uint32, refcount uint16, ok bool) {
	if len(b) != rowSize {
		return 0, 0, 0, 0, false
	}
	fileID = binary.BigEndian.Uint32(b[0:4])
	offset = binary.BigEndian.Uint32(b[4:8])
	size = binary.BigEndian.Uint32(b[8:12])
	refcount = binary.BigEndian.Uint16(b[12:14])
	return fileID, offset, size, refcount, true
}

func encodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func decodeU32(b []byte) (uint32, bool) {
	if len(b) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}
