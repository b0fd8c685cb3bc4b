/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// BackoffTracker computes per-key exponential retry delays with jitter,
// tracking consecutive failure counts across reconciles for keys that keep
// failing (e.g. an unreachable Machine or a conflicting NixosConfiguration).
type BackoffTracker struct {
	mu       sync.Mutex
	failures map[string]int

	Initial time.Duration
	Max     time.Duration
	Base    float64
}

// NewBackoffTracker constructs a tracker using the given retry parameters.
func NewBackoffTracker(initial, max time.Duration, base float64) *BackoffTracker {
	return &BackoffTracker{
		failures: make(map[string]int),
		Initial:  initial,
		Max:      max,
		Base:     base,
	}
}

// Failure records a failure for key and returns the delay to requeue after.
func (b *BackoffTracker) Failure(key string) time.Duration {
	b.mu.Lock()
	b.failures[key]++
	n := b.failures[key]
	b.mu.Unlock()

	delay := float64(b.Initial) * math.Pow(b.Base, float64(n-1))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	jittered := delay * (0.5 + rand.Float64()*0.5)
	return time.Duration(jittered)
}

// Success clears the failure count for key.
func (b *BackoffTracker) Success(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, key)
}

// Count returns the current consecutive failure count for key.
func (b *BackoffTracker) Count(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures[key]
}
