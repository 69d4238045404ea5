// Package ipgeo resolves a client IP address to an approximate position and
// timezone using a MaxMind GeoLite2 City database.
package ipgeo

import (
	"errors"
	"fmt"
	"net"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oschwald/geoip2-golang"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/domain"
)

// DefaultCacheSize is used when Open is given a non-positive cache size.
const DefaultCacheSize = 4096

// cityReader is the subset of *geoip2.Reader the resolver needs.
type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

type entry struct {
	loc domain.NetworkLocation
	ok  bool
}

// Resolver looks up IPs and caches both hits and misses.
type Resolver struct {
	reader cityReader
	cache  *lru.Cache[string, entry]
}

// Open opens the City database at path.
func Open(path string, cacheSize int) (*Resolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip city db %q: %w", path, err)
	}
	r, err := newResolver(db, cacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func newResolver(reader cityReader, cacheSize int) (*Resolver, error) {
	if reader == nil {
		return nil, errors.New("ipgeo: nil reader")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, entry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create geoip cache: %w", err)
	}
	return &Resolver{reader: reader, cache: cache}, nil
}

// Lookup returns the network location of ip. Private, loopback and
// unparseable addresses, and addresses the database does not place, report
// false.
func (r *Resolver) Lookup(ip string) (domain.NetworkLocation, bool) {
	if e, ok := r.cache.Get(ip); ok {
		return e.loc, e.ok
	}
	e := r.lookup(ip)
	r.cache.Add(ip, e)
	return e.loc, e.ok
}

func (r *Resolver) lookup(ip string) entry {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() || parsed.IsLinkLocalUnicast() {
		return entry{}
	}
	city, err := r.reader.City(parsed)
	if err != nil || city == nil {
		return entry{}
	}
	if city.Location.Latitude == 0 && city.Location.Longitude == 0 {
		return entry{}
	}
	return entry{
		ok: true,
		loc: domain.NetworkLocation{
			Latitude:       city.Location.Latitude,
			Longitude:      city.Location.Longitude,
			AccuracyRadius: float64(city.Location.AccuracyRadius) * 1000, // km in the database
			CountryCode:    city.Country.IsoCode,
			Timezone:       city.Location.TimeZone,
		},
	}
}

// Close releases the database.
func (r *Resolver) Close() error {
	return r.reader.Close()
}
