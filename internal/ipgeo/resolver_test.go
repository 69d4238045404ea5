package ipgeo

import (
	"errors"
	"net"
	"testing"

	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	cities map[string]*geoip2.City
	calls  int
	closed bool
}

func (f *fakeReader) City(ip net.IP) (*geoip2.City, error) {
	f.calls++
	c, ok := f.cities[ip.String()]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func cairoCity() *geoip2.City {
	c := &geoip2.City{}
	c.Location.Latitude = 30.0444
	c.Location.Longitude = 31.2357
	c.Location.AccuracyRadius = 50
	c.Location.TimeZone = "Africa/Cairo"
	c.Country.IsoCode = "EG"
	return c
}

func TestLookup(t *testing.T) {
	reader := &fakeReader{cities: map[string]*geoip2.City{"41.33.0.1": cairoCity()}}
	r, err := newResolver(reader, 8)
	require.NoError(t, err)

	loc, ok := r.Lookup("41.33.0.1")
	require.True(t, ok)
	assert.Equal(t, "EG", loc.CountryCode)
	assert.Equal(t, "Africa/Cairo", loc.Timezone)
	assert.Equal(t, 50_000.0, loc.AccuracyRadius)

	_, ok = r.Lookup("41.33.0.1")
	assert.True(t, ok)
	assert.Equal(t, 1, reader.calls, "second lookup is served from cache")
}

func TestLookup_SkipsNonPublic(t *testing.T) {
	reader := &fakeReader{}
	r, err := newResolver(reader, 8)
	require.NoError(t, err)

	for _, ip := range []string{"10.0.0.5", "192.168.1.20", "127.0.0.1", "::1", "not-an-ip", ""} {
		_, ok := r.Lookup(ip)
		assert.False(t, ok, ip)
	}
	assert.Zero(t, reader.calls)
}

func TestLookup_MissIsCached(t *testing.T) {
	reader := &fakeReader{}
	r, err := newResolver(reader, 8)
	require.NoError(t, err)

	_, ok := r.Lookup("8.8.8.8")
	assert.False(t, ok)
	_, ok = r.Lookup("8.8.8.8")
	assert.False(t, ok)
	assert.Equal(t, 1, reader.calls)
}

func TestClose(t *testing.T) {
	reader := &fakeReader{}
	r, err := newResolver(reader, 0)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.True(t, reader.closed)
}
