// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// OrgLimiter holds one token bucket per organization.
//
// Buckets idle for longer than the idle TTL are evicted on the next sweep,
// so the map stays bounded by the number of recently active orgs.
type OrgLimiter struct {
	rps   rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*orgBucket
	lastSweep time.Time
}

type orgBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewOrgLimiter returns a limiter allowing rps sustained requests per org
// with bursts up to burst.
func NewOrgLimiter(rps float64, burst int) *OrgLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &OrgLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		ttl:     10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*orgBucket),
	}
}

// Allow reports whether orgID may make a request now.
func (l *OrgLimiter) Allow(orgID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.ttl {
		for id, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.ttl {
				delete(l.buckets, id)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[orgID]
	if !ok {
		b = &orgBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[orgID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RateLimit aborts with 429 when the session's organization has exhausted
// its bucket. A nil limiter disables limiting. It must run after Auth.
func RateLimit(l *OrgLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		key := ""
		if info := GetAuthInfo(c); info != nil {
			key = info.OrgID
			if key == "" {
				key = "user:" + info.UserID
			}
		}
		if !l.Allow(key) {
			retry := 1
			if l.rps > 0 {
				retry = int(math.Ceil(1 / float64(l.rps)))
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}
