/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package ratelimiter

import (
	"net/netip"
	"testing"
	"time"
)

// drainBurst calls Allow on ip until it first returns false, up to a
// generous bound, and reports how many accepts were admitted before that.
func drainBurst(rl *AcceptLimiter, ip netip.Addr) int {
	allowed := 0
	for i := 0; i < acceptsBurstable+2; i++ {
		if !rl.Allow(ip) {
			return allowed
		}
		allowed++
	}
	return allowed
}

func TestAcceptLimiterThrottlesAfterBurst(t *testing.T) {
	var rl AcceptLimiter
	now := time.Unix(0, 0)
	rl.timeNow = func() time.Time { return now }
	rl.Init()
	defer rl.Close()

	ip := netip.MustParseAddr("203.0.113.7")

	allowed := drainBurst(&rl, ip)
	if allowed == 0 {
		t.Fatal("expected at least the cold-bucket accept to be allowed")
	}
	if allowed >= acceptsBurstable+2 {
		t.Fatalf("allowed %d accepts without ever throttling", allowed)
	}
	if rl.Allow(ip) {
		t.Fatal("expected the next accept to be throttled once the burst is exhausted")
	}
}

func TestAcceptLimiterRefillsOverTime(t *testing.T) {
	var rl AcceptLimiter
	now := time.Unix(0, 0)
	rl.timeNow = func() time.Time { return now }
	rl.Init()
	defer rl.Close()

	ip := netip.MustParseAddr("203.0.113.8")
	drainBurst(&rl, ip)
	if rl.Allow(ip) {
		t.Fatal("expected throttling once the burst is exhausted")
	}

	now = now.Add(time.Second)
	if !rl.Allow(ip) {
		t.Fatal("expected an accept to be allowed after a full second of refill")
	}
}

func TestAcceptLimiterKeysPerAddress(t *testing.T) {
	var rl AcceptLimiter
	now := time.Unix(0, 0)
	rl.timeNow = func() time.Time { return now }
	rl.Init()
	defer rl.Close()

	a := netip.MustParseAddr("203.0.113.9")
	b := netip.MustParseAddr("203.0.113.10")

	drainBurst(&rl, a)
	if rl.Allow(a) {
		t.Fatal("expected address a to be throttled after its burst")
	}
	if !rl.Allow(b) {
		t.Fatal("address b should have its own independent bucket")
	}
}
