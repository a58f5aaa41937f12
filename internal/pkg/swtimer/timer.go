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

//Package swtimer provides the one-shot software timer service
package swtimer

import (
	"context"
	"sync"
	"time"

	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// TimerType identifies a logical timer slot; at most one timer runs per type.
type TimerType uint8

const (
	// TimerDownloadRetry - re-arms the download handler while a transfer is
	// suspended on a transient network failure
	TimerDownloadRetry TimerType = iota
	// TimerInactivity - watchdog of the management session boundary
	TimerInactivity
)

// String - text representation of the timer type
func (t TimerType) String() string {
	switch t {
	case TimerDownloadRetry:
		return "download-retry"
	case TimerInactivity:
		return "inactivity"
	default:
		return "invalid"
	}
}

//Service runs at most one one-shot timer per timer type; setting a type that
//is already armed replaces the pending expiry
type Service struct {
	mutexTimers sync.Mutex
	timers      map[TimerType]*time.Timer
}

//NewService constructor returns a new instance of a timer Service
func NewService() *Service {
	return &Service{timers: make(map[TimerType]*time.Timer)}
}

//TimerSet arms the one-shot timer of the given type; a timer already armed
//for that type is stopped and replaced
func (sv *Service) TimerSet(ctx context.Context, aType TimerType, aDuration time.Duration,
	aCallback func()) {
	sv.mutexTimers.Lock()
	defer sv.mutexTimers.Unlock()
	if pTimer, exists := sv.timers[aType]; exists {
		pTimer.Stop()
	}
	logger.Debugw(ctx, "arming timer", log.Fields{"type": aType.String(), "duration": aDuration})
	sv.timers[aType] = time.AfterFunc(aDuration, func() {
		sv.mutexTimers.Lock()
		delete(sv.timers, aType)
		sv.mutexTimers.Unlock()
		aCallback()
	})
}

//TimerStop disarms the timer of the given type; stopping an idle type is a
//no-op
func (sv *Service) TimerStop(ctx context.Context, aType TimerType) {
	sv.mutexTimers.Lock()
	defer sv.mutexTimers.Unlock()
	if pTimer, exists := sv.timers[aType]; exists {
		pTimer.Stop()
		delete(sv.timers, aType)
		logger.Debugw(ctx, "timer stopped", log.Fields{"type": aType.String()})
	}
}

//TimerIsRunning reports whether a timer of the given type is armed
func (sv *Service) TimerIsRunning(ctx context.Context, aType TimerType) bool {
	sv.mutexTimers.Lock()
	defer sv.mutexTimers.Unlock()
	_, exists := sv.timers[aType]
	return exists
}
