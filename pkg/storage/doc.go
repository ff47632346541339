// Package storage defines the raw reading store interface.
//
// Raw readings are the only data the retention manager may delete;
// minute/hour/day aggregates live in pkg/stats and survive raw pruning
// indefinitely.
package storage
