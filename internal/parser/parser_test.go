package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrackerResponse(t *testing.T) {
	raw := "d8:completei5e10:incompletei3e8:intervali1800e5:peersld2:ip8:10.0.0.34:porti6881e10:streamHash3:abceee"

	root, err := Decode([]byte(raw))
	require.NoError(t, err)
	require.True(t, root.IsDict())

	interval, ok := root.LookupInteger("interval")
	require.True(t, ok)
	assert.Equal(t, int64(1800), interval)

	peers, ok := root.Lookup("peers")
	require.True(t, ok)
	list, err := peers.GetListValue()
	require.NoError(t, err)
	require.Len(t, list, 1)

	ip, ok := list[0].LookupString("ip")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.3", ip)

	port, ok := list[0].LookupInteger("port")
	require.True(t, ok)
	assert.Equal(t, int64(6881), port)
}

func TestParseEmptyContainers(t *testing.T) {
	root, err := Decode([]byte("d4:listle4:dictdee"))
	require.NoError(t, err)

	list, ok := root.Lookup("list")
	require.True(t, ok)
	items, err := list.GetListValue()
	require.NoError(t, err)
	assert.Empty(t, items)

	dict, ok := root.Lookup("dict")
	require.True(t, ok)
	assert.True(t, dict.IsDict())
}

func TestParseNegativeInteger(t *testing.T) {
	v, err := Decode([]byte("i-42e"))
	require.NoError(t, err)
	i, err := v.GetIntegerValue()
	require.NoError(t, err)
	assert.Equal(t, int64(-42), i)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]struct {
		input string
		want  error
	}{
		"empty":            {"", ErrUnexpectedEOF},
		"unterminated int": {"i12", ErrUnexpectedEOF},
		"short string":     {"10:abc", ErrUnexpectedEOF},
		"open list":        {"li1e", ErrUnexpectedEOF},
		"open dict":        {"d3:keyi1e", ErrUnexpectedEOF},
		"bad token":        {"x", ErrUnknownToken},
		"trailing":         {"i1ei2e", ErrTrailingData},
		"integer key":      {"di1ei2ee", ErrWrongType},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(tc.input))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseRejectsDeepNesting(t *testing.T) {
	deep := make([]byte, 0, 2*(maxDepth+1))
	for i := 0; i <= maxDepth; i++ {
		deep = append(deep, 'l')
	}
	for i := 0; i <= maxDepth; i++ {
		deep = append(deep, 'e')
	}
	_, err := Decode(deep)
	require.Error(t, err)
}

func TestAccessorsFailWithoutPanicking(t *testing.T) {
	var nilValue *BencodeValue
	_, err := nilValue.GetStringValue()
	assert.ErrorIs(t, err, ErrWrongType)

	_, ok := nilValue.Lookup("interval")
	assert.False(t, ok)

	str := NewString("abc")
	_, err = str.GetIntegerValue()
	assert.ErrorIs(t, err, ErrWrongType)
	_, ok = str.Lookup("x")
	assert.False(t, ok)

	root := NewDict("interval", NewString("1800"))
	_, ok = root.LookupInteger("interval")
	assert.False(t, ok)
}

func TestSerializeMatchesWireForm(t *testing.T) {
	root := NewDict(
		"interval", NewInteger(60),
		"peers", NewBytes([]byte{10, 0, 0, 3, 0x1a, 0xe1}),
	)

	out, err := root.Serialize()
	require.NoError(t, err)
	assert.Equal(t, "d8:intervali60e5:peers6:\x0a\x00\x00\x03\x1a\xe1e", string(out))

	back, err := Decode(out)
	require.NoError(t, err)
	peers, ok := back.LookupString("peers")
	require.True(t, ok)
	assert.Len(t, peers, 6)
}
