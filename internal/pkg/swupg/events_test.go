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

package swupg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
)

func TestNotifyDeliversToRegisteredHandler(t *testing.T) {
	ctx := context.Background()
	sp := NewStatusPropagator()
	received := make(chan cmn.EventInfo, 1)

	sp.RegisterEventHandler(ctx, func(ctx context.Context, aInfo cmn.EventInfo) {
		received <- aInfo
	})
	sp.Notify(ctx, cmn.EventInfo{Event: cmn.EventDownloadProgress, Progress: 42})

	select {
	case info := <-received:
		assert.Equal(t, cmn.EventDownloadProgress, info.Event)
		assert.Equal(t, uint8(42), info.Progress)
	case <-time.After(time.Second):
		require.Fail(t, "event not delivered")
	}
}

func TestNotifyWithoutHandlerDropsEvent(t *testing.T) {
	ctx := context.Background()
	sp := NewStatusPropagator()
	// must not panic nor block
	sp.Notify(ctx, cmn.EventInfo{Event: cmn.EventDownloadFinished})
}

func TestNotifyPreservesEventOrder(t *testing.T) {
	ctx := context.Background()
	sp := NewStatusPropagator()
	received := make(chan cmn.EventInfo, cEventQueueDepth)

	sp.RegisterEventHandler(ctx, func(ctx context.Context, aInfo cmn.EventInfo) {
		received <- aInfo
	})

	// a finished event raised right after a progress burst must still be
	// observed last
	for progress := uint8(1); progress <= 10; progress++ {
		sp.Notify(ctx, cmn.EventInfo{Event: cmn.EventDownloadProgress, Progress: progress})
	}
	sp.Notify(ctx, cmn.EventInfo{Event: cmn.EventDownloadFinished})

	for progress := uint8(1); progress <= 10; progress++ {
		select {
		case info := <-received:
			assert.Equal(t, cmn.EventDownloadProgress, info.Event)
			assert.Equal(t, progress, info.Progress)
		case <-time.After(time.Second):
			require.Fail(t, "progress event not delivered")
		}
	}
	select {
	case info := <-received:
		assert.Equal(t, cmn.EventDownloadFinished, info.Event)
	case <-time.After(time.Second):
		require.Fail(t, "finished event not delivered")
	}
}

func TestRegisterEventHandlerReplacesEarlierOne(t *testing.T) {
	ctx := context.Background()
	sp := NewStatusPropagator()
	first := make(chan cmn.EventInfo, 1)
	second := make(chan cmn.EventInfo, 1)

	sp.RegisterEventHandler(ctx, func(ctx context.Context, aInfo cmn.EventInfo) {
		first <- aInfo
	})
	sp.RegisterEventHandler(ctx, func(ctx context.Context, aInfo cmn.EventInfo) {
		second <- aInfo
	})
	sp.Notify(ctx, cmn.EventInfo{Event: cmn.EventSessionStart})

	select {
	case <-second:
	case <-time.After(time.Second):
		require.Fail(t, "event not delivered to replacement handler")
	}
	select {
	case <-first:
		require.Fail(t, "event delivered to replaced handler")
	case <-time.After(50 * time.Millisecond):
	}
}
