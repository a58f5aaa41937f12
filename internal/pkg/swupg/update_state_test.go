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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/workspace"
)

func seedState(t *testing.T, f *downloaderFixture, aState cmn.FwUpdateState,
	aResult cmn.FwUpdateResult) {
	ws := workspace.NewPkgDwlWorkspace()
	ws.UpdateType = cmn.UpdateTypeFirmware
	ws.FwState = aState
	ws.FwResult = aResult
	require.NoError(t, f.wsStore.WritePkgDwlWorkspace(context.Background(), ws))
}

func TestSetUpdateAcceptedFromDownloaded(t *testing.T) {
	ctx := context.Background()
	f := newDownloaderFixture(t, nil)
	seedState(t, f, cmn.FwUpdateStateDownloaded, cmn.FwUpdateResultDefaultNormal)

	require.NoError(t, f.dp.SetUpdateAccepted(ctx))
	state, err := f.dp.GetUpdateState(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateStateUpdating, state)
}

func TestSetUpdateAcceptedIsIdempotentWhileUpdating(t *testing.T) {
	ctx := context.Background()
	f := newDownloaderFixture(t, nil)
	seedState(t, f, cmn.FwUpdateStateDownloaded, cmn.FwUpdateResultDefaultNormal)

	require.NoError(t, f.dp.SetUpdateAccepted(ctx))
	// a repeated acceptance must not fail nor change anything
	require.NoError(t, f.dp.SetUpdateAccepted(ctx))
	state, err := f.dp.GetUpdateState(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateStateUpdating, state)
}

func TestSetUpdateAcceptedRejectedOutsideDownloaded(t *testing.T) {
	ctx := context.Background()
	f := newDownloaderFixture(t, nil)

	for _, state := range []cmn.FwUpdateState{
		cmn.FwUpdateStateIdle,
		cmn.FwUpdateStateDownloading,
		cmn.FwUpdateStateWaitInstallResult,
	} {
		seedState(t, f, state, cmn.FwUpdateResultDefaultNormal)
		err := f.dp.SetUpdateAccepted(ctx)
		assert.ErrorIs(t, err, cmn.ErrInvalidState, "state %s", state)

		// no mutation on rejection
		got, rdErr := f.dp.GetUpdateState(ctx)
		require.NoError(t, rdErr)
		assert.Equal(t, state, got)
	}
}

func TestSetUpdateAcceptedRejectedWithTerminalResult(t *testing.T) {
	ctx := context.Background()
	f := newDownloaderFixture(t, nil)
	seedState(t, f, cmn.FwUpdateStateDownloaded, cmn.FwUpdateResultIntegrityCheckFailure)

	assert.ErrorIs(t, f.dp.SetUpdateAccepted(ctx), cmn.ErrInvalidState)
}

func TestSetUpdateResultSuccessEndsCycle(t *testing.T) {
	ctx := context.Background()
	f := newDownloaderFixture(t, nil)
	seedState(t, f, cmn.FwUpdateStateUpdating, cmn.FwUpdateResultDefaultNormal)

	require.NoError(t, f.dp.SetUpdateResult(ctx, true))

	// the terminal result stays readable until a new download replaces it
	ws, err := f.wsStore.ReadPkgDwlWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateStateIdle, ws.FwState)
	assert.Equal(t, cmn.FwUpdateResultInstalledSuccessful, ws.FwResult)
	assert.Equal(t, cmn.UpdateTypeFirmware, ws.UpdateType)
	assert.Empty(t, ws.URL)

	result, err := f.dp.GetUpdateResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateResultInstalledSuccessful, result)
}

func TestSetUpdateResultFromWaitInstallResult(t *testing.T) {
	ctx := context.Background()
	f := newDownloaderFixture(t, nil)
	seedState(t, f, cmn.FwUpdateStateUpdating, cmn.FwUpdateResultDefaultNormal)
	require.NoError(t, f.dp.SetUpdateInstallWaited(ctx))

	waited, err := f.dp.IsFwUpdateInstallWaited(ctx)
	require.NoError(t, err)
	assert.True(t, waited)

	require.NoError(t, f.dp.SetUpdateResult(ctx, false))
	state, err := f.dp.GetUpdateState(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateStateIdle, state)

	result, err := f.dp.GetUpdateResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateResultUpdateFailed, result)
}

func TestSetUpdateResultRejectedOutsideInstall(t *testing.T) {
	ctx := context.Background()
	f := newDownloaderFixture(t, nil)

	for _, state := range []cmn.FwUpdateState{
		cmn.FwUpdateStateIdle,
		cmn.FwUpdateStateDownloading,
		cmn.FwUpdateStateDownloaded,
	} {
		seedState(t, f, state, cmn.FwUpdateResultDefaultNormal)
		assert.ErrorIs(t, f.dp.SetUpdateResult(ctx, true), cmn.ErrInvalidState, "state %s", state)
	}
}

func TestIsFwUpdateOnGoing(t *testing.T) {
	ctx := context.Background()
	f := newDownloaderFixture(t, nil)

	onGoing, err := f.dp.IsFwUpdateOnGoing(ctx)
	require.NoError(t, err)
	assert.False(t, onGoing)

	seedState(t, f, cmn.FwUpdateStateDownloading, cmn.FwUpdateResultDefaultNormal)
	onGoing, err = f.dp.IsFwUpdateOnGoing(ctx)
	require.NoError(t, err)
	assert.True(t, onGoing)
}

func TestSetDownloadErrorMapsToResult(t *testing.T) {
	ctx := context.Background()
	f := newDownloaderFixture(t, nil)
	seedDownloading(t, f.wsStore, cTestURL)

	require.NoError(t, f.dp.SetDownloadError(ctx, cmn.DwlErrMemory))

	ws, err := f.wsStore.ReadPkgDwlWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateStateIdle, ws.FwState)
	assert.Equal(t, cmn.FwUpdateResultOutOfMemory, ws.FwResult)
	assert.Empty(t, ws.URL)
}

func TestTerminalResultSurvivesUntilNewDownload(t *testing.T) {
	ctx := context.Background()
	f := newDownloaderFixture(t, nil)
	seedDownloading(t, f.wsStore, cTestURL)
	require.NoError(t, f.dp.SetDownloadError(ctx, cmn.DwlErrConnection))

	// the terminal result is an end state, re-reads keep returning it
	result, err := f.dp.GetUpdateResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateResultConnectionLost, result)

	result, err = f.dp.GetUpdateResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateResultConnectionLost, result)
}
