package dboxmap

import (
	"github.com/cobaltmail/dboxmap/pkg/dboxindex"
)

// Record is the physical location of one message body: which data file,
// at what byte offset, of what size.
type Record = dboxindex.Record

// MapHeader mirrors the persisted map extension header.
type MapHeader struct {
	HighestFileID uint32
}

// MapEntry is a fully materialized map row.
type MapEntry struct {
	MapUID   uint32
	Record   Record
	Refcount uint16
}

const (
	// RefcountCeiling is the conservative early limit UpdateRefcounts
	// refuses to cross, leaving headroom under the real uint16 65535
	// ceiling against concurrent writers racing past it.
	RefcountCeiling = 32768

	// MaxBackwardsLookups caps how many distinct files the append search
	// examines during its backward scan before giving up and creating a
	// new file.
	MaxBackwardsLookups = 10
)
