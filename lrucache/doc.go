/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package lrucache provides string-keyed in-memory cache with LRU eviction policy,
// sliding TTL expiration, load factor controlled hash index, and Prometheus metrics.
package lrucache
