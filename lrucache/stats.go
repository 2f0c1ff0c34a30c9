/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

// Stats is a snapshot of the cache state.
type Stats struct {
	Size          int     `json:"size"`
	Buckets       int     `json:"buckets"`
	LoadFactor    float64 `json:"loadFactor"`
	MaxLoadFactor float64 `json:"maxLoadFactor"`

	// Evictions counts entries removed due to capacity pressure.
	Evictions uint64 `json:"evictions"`

	// Expirations counts entries removed because they outlived the max age.
	Expirations uint64 `json:"expirations"`
}
