package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MaxMindProvider implements Provider using a MaxMind GeoLite2 City database.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

// NewMaxMindProvider opens the database at dbPath.
func NewMaxMindProvider(dbPath string) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}

	return &MaxMindProvider{reader: reader}, nil
}

// Lookup returns geo information for an IP address.
func (m *MaxMindProvider) Lookup(ip string) (*Info, error) {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ip)
	}

	record, err := m.reader.City(parsedIP)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Country:     record.Country.Names["en"],
		CountryCode: record.Country.IsoCode,
		City:        record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		info.Region = record.Subdivisions[0].Names["en"]
	}

	return info, nil
}

// Close closes the GeoIP database.
func (m *MaxMindProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}
