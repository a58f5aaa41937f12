/*
 * Copyright 2021-present The lwm2mcore-go Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package swtimer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerFiresOnceAndClearsRunningFlag(t *testing.T) {
	ctx := context.Background()
	sv := NewService()
	var fired int32

	sv.TimerSet(ctx, TimerDownloadRetry, 10*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	assert.True(t, sv.TimerIsRunning(ctx, TimerDownloadRetry))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1 && !sv.TimerIsRunning(ctx, TimerDownloadRetry)
	}, time.Second, 5*time.Millisecond)

	// one-shot, no second expiry
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestTimerStopPreventsCallback(t *testing.T) {
	ctx := context.Background()
	sv := NewService()
	var fired int32

	sv.TimerSet(ctx, TimerDownloadRetry, 50*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	sv.TimerStop(ctx, TimerDownloadRetry)
	assert.False(t, sv.TimerIsRunning(ctx, TimerDownloadRetry))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestTimerSetReplacesPendingExpiry(t *testing.T) {
	ctx := context.Background()
	sv := NewService()
	var first, second int32

	sv.TimerSet(ctx, TimerDownloadRetry, 50*time.Millisecond, func() {
		atomic.AddInt32(&first, 1)
	})
	sv.TimerSet(ctx, TimerDownloadRetry, 10*time.Millisecond, func() {
		atomic.AddInt32(&second, 1)
	})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&second) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&first))
}

func TestTimerTypesAreIndependent(t *testing.T) {
	ctx := context.Background()
	sv := NewService()

	sv.TimerSet(ctx, TimerDownloadRetry, time.Minute, func() {})
	sv.TimerSet(ctx, TimerInactivity, time.Minute, func() {})
	sv.TimerStop(ctx, TimerInactivity)

	assert.True(t, sv.TimerIsRunning(ctx, TimerDownloadRetry))
	assert.False(t, sv.TimerIsRunning(ctx, TimerInactivity))
	sv.TimerStop(ctx, TimerDownloadRetry)
}

func TestTimerStopUnknownTypeIsNoOp(t *testing.T) {
	ctx := context.Background()
	sv := NewService()
	sv.TimerStop(ctx, TimerInactivity)
	assert.False(t, sv.TimerIsRunning(ctx, TimerInactivity))
}
