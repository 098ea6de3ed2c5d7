package service

import (
	"net"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oschwald/geoip2-golang"
	zlog "github.com/rs/zerolog/log"
)

const (
	CityEdition = "GeoLite2-City"
	ASNEdition  = "GeoLite2-ASN"

	privateNetwork = "Private Network"
	geoCacheSize   = 10000
)

type geoResult struct {
	country string
	isp     string
}

// GeoIPService resolves country and network owner for attacker profiles.
// Without database files every lookup resolves to empty strings.
type GeoIPService struct {
	dir   string
	mu    sync.RWMutex
	city  *geoip2.Reader
	asn   *geoip2.Reader
	cache *lru.Cache[string, geoResult]
}

func NewGeoIPService(dir string) *GeoIPService {
	cache, _ := lru.New[string, geoResult](geoCacheSize)
	s := &GeoIPService{dir: dir, cache: cache}
	s.ReloadReaders()
	return s
}

func (s *GeoIPService) findGeoIPPath(edition string) string {
	filename := edition + ".mmdb"
	paths := []string{
		filepath.Join(s.dir, filename),
		filepath.Join("/usr/share/GeoIP", filename),
		filepath.Join("/tmp", filename),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// DBPath is where a downloaded edition is stored.
func (s *GeoIPService) DBPath(edition string) string {
	return filepath.Join(s.dir, edition+".mmdb")
}

func openReader(path string) *geoip2.Reader {
	if path == "" {
		return nil
	}
	r, err := geoip2.Open(path)
	if err != nil {
		zlog.Warn().Err(err).Str("path", path).Msg("GeoIP: failed to open database")
		return nil
	}
	return r
}

// ReloadReaders reopens the database files and drops cached lookups.
func (s *GeoIPService) ReloadReaders() {
	city := openReader(s.findGeoIPPath(CityEdition))
	asn := openReader(s.findGeoIPPath(ASNEdition))

	s.mu.Lock()
	oldCity, oldASN := s.city, s.asn
	s.city, s.asn = city, asn
	s.mu.Unlock()

	if oldCity != nil {
		_ = oldCity.Close()
	}
	if oldASN != nil {
		_ = oldASN.Close()
	}
	s.cache.Purge()

	zlog.Info().Bool("city", city != nil).Bool("asn", asn != nil).Msg("GeoIP: readers loaded")
}

func (s *GeoIPService) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.city != nil || s.asn != nil
}

// Lookup returns the country name and ISP of ip. Unknown parts are empty.
func (s *GeoIPService) Lookup(ipStr string) (string, string) {
	if r, ok := s.cache.Get(ipStr); ok {
		return r.country, r.isp
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "", ""
	}

	var r geoResult
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		r = geoResult{country: privateNetwork, isp: privateNetwork}
	} else {
		s.mu.RLock()
		if s.city != nil {
			if rec, err := s.city.City(ip); err == nil {
				r.country = rec.Country.Names["en"]
				if r.country == "" {
					r.country = rec.Country.IsoCode
				}
			}
		}
		if s.asn != nil {
			if rec, err := s.asn.ASN(ip); err == nil {
				r.isp = rec.AutonomousSystemOrganization
			}
		}
		s.mu.RUnlock()
	}

	s.cache.Add(ipStr, r)
	return r.country, r.isp
}

func (s *GeoIPService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.city != nil {
		_ = s.city.Close()
		s.city = nil
	}
	if s.asn != nil {
		_ = s.asn.Close()
		s.asn = nil
	}
}
