package qsync

import (
	"errors"
	"net/netip"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textElement(text string) *Element {
	return &Element{Name: "p", Text: text}
}

func TestBuiltinPropertyPeers(t *testing.T) {
	r := NewPropertyPeerRegistry()
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		wire   string
		text   string
		expect interface{}
	}{
		{"s", " spaced ", " spaced "},
		{"b", "true", true},
		{"i", " 42\n", 42},
		{"l", "-9000000000", int64(-9000000000)},
		{"d", "2.5", 2.5},
		{"t", "2024-03-01T12:30:00Z", when},
	}
	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			peer, typ := r.PeerForName(tt.wire)
			require.NotNil(t, peer)
			assert.Equal(t, reflect.TypeOf(tt.expect), typ)
			assert.NotNil(t, r.PeerForType(typ))

			v, err := peer.Decode(nil, nil, textElement(tt.text))
			require.NoError(t, err)
			if expectTime, ok := tt.expect.(time.Time); ok {
				assert.True(t, expectTime.Equal(v.(time.Time)))
			} else {
				assert.Equal(t, tt.expect, v)
			}
		})
	}
}

func TestPropertyPeerDecodeError(t *testing.T) {
	r := NewPropertyPeerRegistry()
	peer := r.PeerForType(reflect.TypeOf(0))
	require.NotNil(t, peer)

	_, err := peer.Decode(nil, nil, textElement("forty-two"))
	var de *DeserializationError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, reflect.TypeOf(0), de.Type)
}

func TestPropertyPeerTextUnmarshaler(t *testing.T) {
	r := NewPropertyPeerRegistry()
	addrType := reflect.TypeOf(netip.Addr{})

	peer := r.PeerForType(addrType)
	require.NotNil(t, peer)
	v, err := peer.Decode(nil, nil, textElement("192.0.2.1"))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), v)

	_, err = peer.Decode(nil, nil, textElement("not an address"))
	var de *DeserializationError
	assert.True(t, errors.As(err, &de))
}

func TestPropertyPeerMissing(t *testing.T) {
	r := NewPropertyPeerRegistry()
	assert.Nil(t, r.PeerForType(reflect.TypeOf([]string{})))
	assert.Nil(t, r.PeerForType(nil))

	peer, typ := r.PeerForName("nope")
	assert.Nil(t, peer)
	assert.Nil(t, typ)
}

type upperString string

func TestPropertyPeerRegister(t *testing.T) {
	r := NewPropertyPeerRegistry()
	upperType := reflect.TypeOf(upperString(""))
	upper := PropertyPeerFunc(func(ctx *Context, owner reflect.Type, el *Element) (interface{}, error) {
		return upperString(strings.ToUpper(el.Text)), nil
	})

	require.NoError(t, r.Register(upperType, "u", upper))
	peer, typ := r.PeerForName("u")
	require.NotNil(t, peer)
	assert.Equal(t, upperType, typ)
	v, err := peer.Decode(nil, nil, textElement("shout"))
	require.NoError(t, err)
	assert.Equal(t, upperString("SHOUT"), v)

	assert.Error(t, r.Register(reflect.TypeOf(0), "u", upper), "wire names are unique")
	assert.Error(t, r.Register(nil, "", upper))

	r.seal()
	err = r.Register(upperType, "", upper)
	assert.True(t, errors.Is(err, ErrRegistrySealed))
}
