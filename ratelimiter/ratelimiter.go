/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package ratelimiter implements a token-bucket limiter keyed by remote
// IP address. The Multi-Peer Driver uses it as the hardening option noted
// in spec.md §4.7: bound how many connections per source address the
// acceptor admits per second, so one flooding address cannot monopolize
// the peer table.
package ratelimiter

import (
	"net/netip"
	"sync"
	"time"
)

const (
	acceptsPerSecond   = 20
	acceptsBurstable   = 5
	garbageCollectTime = time.Second
	acceptCost         = 1000000000 / acceptsPerSecond
	maxTokens          = acceptCost * acceptsBurstable
)

type bucket struct {
	mu       sync.Mutex
	lastTime time.Time
	tokens   int64
}

// AcceptLimiter gates how many accept() completions per second the
// driver's acceptor admits from a single source address.
type AcceptLimiter struct {
	mu      sync.RWMutex
	timeNow func() time.Time

	stopReset chan struct{} // send to reset, close to stop
	table     map[netip.Addr]*bucket
}

func (rl *AcceptLimiter) Close() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.stopReset != nil {
		close(rl.stopReset)
	}
}

// Init must be called once before the first Allow call. It starts the
// background garbage-collection goroutine that evicts idle buckets.
func (rl *AcceptLimiter) Init() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.timeNow == nil {
		rl.timeNow = time.Now
	}

	if rl.stopReset != nil {
		close(rl.stopReset)
	}

	rl.stopReset = make(chan struct{})
	rl.table = make(map[netip.Addr]*bucket)

	stopReset := rl.stopReset // store in case Init is called again.

	go func() {
		ticker := time.NewTicker(time.Second)
		ticker.Stop()
		for {
			select {
			case _, ok := <-stopReset:
				ticker.Stop()
				if !ok {
					return
				}
				ticker = time.NewTicker(time.Second)
			case <-ticker.C:
				if rl.cleanup() {
					ticker.Stop()
				}
			}
		}
	}()
}

func (rl *AcceptLimiter) cleanup() (empty bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.table {
		entry.mu.Lock()
		if rl.timeNow().Sub(entry.lastTime) > garbageCollectTime {
			delete(rl.table, key)
		}
		entry.mu.Unlock()
	}

	return len(rl.table) == 0
}

// Allow reports whether a newly accepted connection from ip should be
// admitted into the peer table, deducting one accept's worth of tokens
// from that address's bucket.
func (rl *AcceptLimiter) Allow(ip netip.Addr) bool {
	var entry *bucket
	rl.mu.RLock()
	entry = rl.table[ip]
	rl.mu.RUnlock()

	if entry == nil {
		entry = new(bucket)
		entry.tokens = maxTokens - acceptCost
		entry.lastTime = rl.timeNow()
		rl.mu.Lock()
		rl.table[ip] = entry
		if len(rl.table) == 1 {
			rl.stopReset <- struct{}{}
		}
		rl.mu.Unlock()
		return true
	}

	entry.mu.Lock()
	now := rl.timeNow()
	entry.tokens += now.Sub(entry.lastTime).Nanoseconds()
	entry.lastTime = now
	if entry.tokens > maxTokens {
		entry.tokens = maxTokens
	}

	if entry.tokens > acceptCost {
		entry.tokens -= acceptCost
		entry.mu.Unlock()
		return true
	}
	entry.mu.Unlock()
	return false
}
