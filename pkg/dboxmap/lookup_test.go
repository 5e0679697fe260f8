package dboxmap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupFound(t *testing.T) {
	l := Found(Record{FileID: 1, Offset: 2, Size: 3})

	v, ok := l.Get()
	assert.True(t, ok)
	assert.Equal(t, Record{FileID: 1, Offset: 2, Size: 3}, v)
	assert.False(t, l.IsMissing())
	assert.NoError(t, l.Error())

	v, found, err := l.Unwrap()
	assert.True(t, found)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), v.FileID)
}

func TestLookupMissing(t *testing.T) {
	l := Missing[Record]()

	v, ok := l.Get()
	assert.False(t, ok)
	assert.Equal(t, Record{}, v)
	assert.True(t, l.IsMissing())
	assert.NoError(t, l.Error())
}

func TestLookupErr(t *testing.T) {
	cause := errors.New("index unavailable")
	l := Err[Record](cause)

	v, ok := l.Get()
	assert.False(t, ok)
	assert.Equal(t, Record{}, v)
	assert.False(t, l.IsMissing())
	assert.Equal(t, cause, l.Error())

	_, found, err := l.Unwrap()
	assert.False(t, found)
	assert.Equal(t, cause, err)
}
