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

	"github.com/opencord/voltha-lib-go/v7/pkg/log"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
)

//SetUpdateAccepted moves a downloaded package into the installing state.
//Only valid from Downloaded with no terminal result; calling it again while
//the install is already running is an idempotent no-op.
func (dp *PackageDownloader) SetUpdateAccepted(ctx context.Context) error {
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return err
	}
	if ws.FwState == cmn.FwUpdateStateUpdating && ws.FwResult == cmn.FwUpdateResultDefaultNormal {
		logger.Debugw(ctx, "update already accepted", log.Fields{"instance-id": dp.instanceID})
		return nil
	}
	if ws.FwState != cmn.FwUpdateStateDownloaded || ws.FwResult != cmn.FwUpdateResultDefaultNormal {
		logger.Warnw(ctx, "update acceptance rejected", log.Fields{
			"instance-id": dp.instanceID, "state": ws.FwState.String(), "result": ws.FwResult.String()})
		return cmn.ErrInvalidState
	}
	ws.FwState = cmn.FwUpdateStateUpdating
	if err := dp.wsStore.WritePkgDwlWorkspace(ctx, ws); err != nil {
		return err
	}
	logger.Infow(ctx, "update accepted - install starting", log.Fields{
		"instance-id": dp.instanceID, "type": ws.UpdateType.String()})
	dp.propagator.Notify(ctx, cmn.EventInfo{
		Event: cmn.EventUpdateStarted, UpdateType: ws.UpdateType})
	return nil
}

//SetUpdateInstallWaited parks a running install until the platform reports
//its outcome, typically across the install reboot
func (dp *PackageDownloader) SetUpdateInstallWaited(ctx context.Context) error {
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return err
	}
	if ws.FwState != cmn.FwUpdateStateUpdating || ws.FwResult != cmn.FwUpdateResultDefaultNormal {
		logger.Warnw(ctx, "install wait rejected", log.Fields{
			"instance-id": dp.instanceID, "state": ws.FwState.String(), "result": ws.FwResult.String()})
		return cmn.ErrInvalidState
	}
	ws.FwState = cmn.FwUpdateStateWaitInstallResult
	return dp.wsStore.WritePkgDwlWorkspace(ctx, ws)
}

//SetUpdateResult records the install outcome reported by the platform and
//ends the update cycle. The terminal result stays persisted and readable
//until a brand-new download replaces the workspace; the event raised here
//always agrees with it.
func (dp *PackageDownloader) SetUpdateResult(ctx context.Context, aSuccess bool) error {
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return err
	}
	if (ws.FwState != cmn.FwUpdateStateUpdating && ws.FwState != cmn.FwUpdateStateWaitInstallResult) ||
		ws.FwResult != cmn.FwUpdateResultDefaultNormal {
		logger.Warnw(ctx, "install result rejected", log.Fields{
			"instance-id": dp.instanceID, "state": ws.FwState.String(), "result": ws.FwResult.String()})
		return cmn.ErrInvalidState
	}
	event := cmn.EventUpdateFinished
	result := cmn.FwUpdateResultInstalledSuccessful
	if !aSuccess {
		event = cmn.EventUpdateFailed
		result = cmn.FwUpdateResultUpdateFailed
	}
	ws.FwState = cmn.FwUpdateStateIdle
	ws.FwResult = result
	ws.URL = ""
	if err := dp.wsStore.WritePkgDwlWorkspace(ctx, ws); err != nil {
		return err
	}
	logger.Infow(ctx, "install finished - cycle closed", log.Fields{
		"instance-id": dp.instanceID, "type": ws.UpdateType.String(), "result": result.String()})
	dp.propagator.Notify(ctx, cmn.EventInfo{
		Event: event, UpdateType: ws.UpdateType, Result: result})
	return nil
}

//IsFwUpdateOnGoing reports whether an update cycle is in progress, from the
//first streamed byte until the install outcome is recorded
func (dp *PackageDownloader) IsFwUpdateOnGoing(ctx context.Context) (bool, error) {
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return false, err
	}
	return ws.FwState != cmn.FwUpdateStateIdle, nil
}

//IsFwUpdateInstallWaited reports whether the cycle is parked waiting for the
//platform install outcome
func (dp *PackageDownloader) IsFwUpdateInstallWaited(ctx context.Context) (bool, error) {
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return false, err
	}
	return ws.FwState == cmn.FwUpdateStateWaitInstallResult, nil
}

//GetUpdateState returns the persisted server-visible update state
func (dp *PackageDownloader) GetUpdateState(ctx context.Context) (cmn.FwUpdateState, error) {
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return cmn.FwUpdateStateIdle, err
	}
	return ws.FwState, nil
}

//GetUpdateResult returns the persisted server-visible update result
func (dp *PackageDownloader) GetUpdateResult(ctx context.Context) (cmn.FwUpdateResult, error) {
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return cmn.FwUpdateResultDefaultNormal, err
	}
	return ws.FwResult, nil
}

//SetDownloadError injects a client-side download failure, mapping the error
//category onto the update result space
func (dp *PackageDownloader) SetDownloadError(ctx context.Context, aCode cmn.DownloadErrorCode) error {
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return err
	}
	dp.finishWithResult(ctx, ws, cmn.UpdateResultForDownloadError(aCode), aCode)
	return nil
}
