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

//Package swupg provides the package downloader and the update state machine
package swupg

import (
	"context"
	"sync"

	"github.com/opencord/voltha-lib-go/v7/pkg/log"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
)

// cEventQueueDepth bounds the pending event queue; events beyond it are
// dropped rather than blocking the state machine.
const cEventQueueDepth = 32

//queuedEvent carries one event and the context it was raised under
type queuedEvent struct {
	ctx  context.Context
	info cmn.EventInfo
}

//StatusPropagator fans the update and transfer status events out to the
//single handler registered by the core engine. Events are delivered
//asynchronously on one dispatch goroutine so the state mutation that
//triggered them is already persisted when the handler observes them and
//the handler sees them in the order they were raised.
type StatusPropagator struct {
	mutexHandler sync.RWMutex
	handler      cmn.EventHandler
	events       chan queuedEvent
}

//NewStatusPropagator constructor returns a new instance of a StatusPropagator
func NewStatusPropagator() *StatusPropagator {
	sp := &StatusPropagator{events: make(chan queuedEvent, cEventQueueDepth)}
	go sp.dispatchEvents()
	return sp
}

//dispatchEvents delivers the queued events one at a time, preserving the
//order they were raised in
func (sp *StatusPropagator) dispatchEvents() {
	for event := range sp.events {
		sp.mutexHandler.RLock()
		handler := sp.handler
		sp.mutexHandler.RUnlock()
		if handler != nil {
			handler(event.ctx, event.info)
		}
	}
}

//RegisterEventHandler sets the engine callback; a later registration
//replaces the earlier one
func (sp *StatusPropagator) RegisterEventHandler(ctx context.Context, aHandler cmn.EventHandler) {
	sp.mutexHandler.Lock()
	defer sp.mutexHandler.Unlock()
	logger.Debug(ctx, "event handler registered")
	sp.handler = aHandler
}

//Notify queues the event for ordered background delivery; a missing handler
//or a full queue drops the event
func (sp *StatusPropagator) Notify(ctx context.Context, aInfo cmn.EventInfo) {
	sp.mutexHandler.RLock()
	handler := sp.handler
	sp.mutexHandler.RUnlock()
	if handler == nil {
		logger.Debugw(ctx, "no event handler registered - event dropped", log.Fields{
			"event": aInfo.Event.String()})
		return
	}
	logger.Debugw(ctx, "propagating event", log.Fields{
		"event": aInfo.Event.String(), "type": aInfo.UpdateType.String(),
		"progress": aInfo.Progress, "result": aInfo.Result.String()})
	select {
	case sp.events <- queuedEvent{ctx: ctx, info: aInfo}:
	default:
		logger.Warnw(ctx, "event queue full - event dropped", log.Fields{
			"event": aInfo.Event.String()})
	}
}
