// Package marketdata serves best-available prices to the paper simulator.
// Every price carries its provenance so a fill backed by public demo data
// is never mistaken for one backed by verified account data.
package marketdata

import (
	"sync"

	"amarktai_core/internal/domain"
	"amarktai_core/pkg/quant"
)

// PricePoint is one observed price with its trust label.
type PricePoint struct {
	PriceMicros quant.PriceMicros
	Provenance  domain.Provenance
	Ts          quant.TimeStamp
}

// PriceSource is the read boundary the simulator consumes.
type PriceSource interface {
	Price(symbol string) (PricePoint, bool)
}

// Cache is a concurrency-safe last-price store fed by the live feed.
type Cache struct {
	mu     sync.RWMutex
	prices map[string]PricePoint
}

// NewCache creates an empty price cache.
func NewCache() *Cache {
	return &Cache{prices: make(map[string]PricePoint)}
}

// Set records the latest price for a symbol.
func (c *Cache) Set(symbol string, price quant.PriceMicros, prov domain.Provenance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = PricePoint{
		PriceMicros: price,
		Provenance:  prov,
		Ts:          quant.Now(),
	}
}

// Price returns the last observed price for a symbol.
func (c *Cache) Price(symbol string) (PricePoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	return p, ok
}

// Static is a fixed price table for tests and tools. Always demo data.
type Static map[string]quant.PriceMicros

func (s Static) Price(symbol string) (PricePoint, bool) {
	p, ok := s[symbol]
	if !ok {
		return PricePoint{}, false
	}
	return PricePoint{PriceMicros: p, Provenance: domain.ProvenanceDemo, Ts: quant.Now()}, true
}
