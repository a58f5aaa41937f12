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
	"errors"
	"io"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/dwl"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/swtimer"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/workspace"
)

// downloader FSM states
const (
	// DwlStDisabled - no download configured
	DwlStDisabled = "disabled"
	// DwlStStarting - download accepted, workspace prepared
	DwlStStarting = "starting"
	// DwlStProbing - package size probe running
	DwlStProbing = "probing"
	// DwlStConnecting - connect attempts running
	DwlStConnecting = "connecting"
	// DwlStDownloading - body bytes streaming
	DwlStDownloading = "downloading"
	// DwlStVerifying - end of stream reached, integrity checks running
	DwlStVerifying = "verifying"
	// DwlStSuspended - transfer paused, resume fields persisted
	DwlStSuspended = "suspended"
	// DwlStAborting - transfer aborted, progress being discarded
	DwlStAborting = "aborting"
	// DwlStResetting - cycle teardown
	DwlStResetting = "resetting"
)

// downloader FSM events
const (
	// DwlEvStart - new download accepted
	DwlEvStart = "start"
	// DwlEvProbe - run the size probe
	DwlEvProbe = "probe"
	// DwlEvConnect - run the connect attempts
	DwlEvConnect = "connect"
	// DwlEvStream - body stream established
	DwlEvStream = "stream"
	// DwlEvVerify - end of stream reached
	DwlEvVerify = "verify"
	// DwlEvSuspend - transfer pauses (request or transient network failure)
	DwlEvSuspend = "suspend"
	// DwlEvAbort - transfer aborted
	DwlEvAbort = "abort"
	// DwlEvReset - cycle finished (success or terminal failure)
	DwlEvReset = "reset"
	// DwlEvDisable - teardown finished
	DwlEvDisable = "disable"
)

// cDownloadChunkSize is the read granularity of the body stream; the
// workspace is persisted and the control flags are polled at this boundary.
const cDownloadChunkSize = 4096

//streamOutcome classifies how the chunk streaming loop ended
type streamOutcome uint8

const (
	cStreamDone streamOutcome = iota
	cStreamSuspended
	cStreamAborted
	cStreamEnvelopeError
	cStreamStorageError
)

//PackageDownloader drives the retrieval of a firmware or software package
//over the pluggable transport: size probe, bounded connect retries, chunk
//streaming through the envelope parser with per-chunk workspace persistence,
//and final integrity verification. All work runs on a single worker
//goroutine; suspend and abort are cooperative flags polled between chunks.
type PackageDownloader struct {
	instanceID string
	mutexDwl   sync.RWMutex
	PAdaptFsm  *cmn.AdapterFsm
	transport  cmn.DownloadTransport
	pkgStore   cmn.PackageStorage
	wsStore    *workspace.Store
	timers     *swtimer.Service
	propagator *StatusPropagator
	retryWait  time.Duration

	downloadActive   bool
	suspendRequested bool
	abortRequested   bool
	lastHTTPStatus   int
	lastErrorCode    cmn.DownloadErrorCode
}

//NewPackageDownloader constructor returns a new instance of a
//PackageDownloader
func NewPackageDownloader(ctx context.Context, aInstanceID string, aTransport cmn.DownloadTransport,
	aPkgStore cmn.PackageStorage, aWsStore *workspace.Store, aTimers *swtimer.Service,
	aPropagator *StatusPropagator, aRetryWait time.Duration) *PackageDownloader {
	dp := &PackageDownloader{
		instanceID: aInstanceID,
		transport:  aTransport,
		pkgStore:   aPkgStore,
		wsStore:    aWsStore,
		timers:     aTimers,
		propagator: aPropagator,
		retryWait:  aRetryWait,
	}
	dp.PAdaptFsm = cmn.NewAdapterFsm("PkgDwlFsm", aInstanceID)
	dp.PAdaptFsm.PFsm = fsm.NewFSM(
		DwlStDisabled,
		fsm.Events{
			{Name: DwlEvStart, Src: []string{DwlStDisabled}, Dst: DwlStStarting},
			{Name: DwlEvProbe, Src: []string{DwlStStarting}, Dst: DwlStProbing},
			{Name: DwlEvConnect, Src: []string{DwlStStarting, DwlStProbing, DwlStSuspended}, Dst: DwlStConnecting},
			{Name: DwlEvStream, Src: []string{DwlStConnecting}, Dst: DwlStDownloading},
			{Name: DwlEvVerify, Src: []string{DwlStDownloading}, Dst: DwlStVerifying},
			{Name: DwlEvSuspend, Src: []string{DwlStConnecting, DwlStDownloading}, Dst: DwlStSuspended},
			{Name: DwlEvAbort, Src: []string{DwlStStarting, DwlStProbing, DwlStConnecting,
				DwlStDownloading, DwlStSuspended}, Dst: DwlStAborting},
			{Name: DwlEvReset, Src: []string{DwlStStarting, DwlStProbing, DwlStConnecting,
				DwlStDownloading, DwlStVerifying, DwlStSuspended, DwlStAborting}, Dst: DwlStResetting},
			{Name: DwlEvDisable, Src: []string{DwlStResetting}, Dst: DwlStDisabled},
		},
		fsm.Callbacks{
			"enter_state": func(e *fsm.Event) { dp.PAdaptFsm.LogFsmStateChange(ctx, e) },
		},
	)
	logger.Debugw(ctx, "PackageDownloader created", log.Fields{"instance-id": aInstanceID})
	return dp
}

//StartPackageDownloader validates the package URI, prepares a fresh
//workspace and launches the download worker. A failed validation persists
//the matching terminal result with the URL erased and no worker started.
func (dp *PackageDownloader) StartPackageDownloader(ctx context.Context, aType cmn.UpdateType,
	aURL string) error {
	if aType == cmn.UpdateTypeNone {
		return cmn.ErrInvalidArg
	}
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return err
	}
	if ws.FwState == cmn.FwUpdateStateUpdating || ws.FwState == cmn.FwUpdateStateWaitInstallResult {
		logger.Warnw(ctx, "download rejected while install running", log.Fields{
			"instance-id": dp.instanceID, "state": ws.FwState.String()})
		return cmn.ErrInvalidState
	}
	dp.mutexDwl.Lock()
	if dp.downloadActive {
		dp.mutexDwl.Unlock()
		return cmn.ErrInvalidState
	}
	dp.mutexDwl.Unlock()

	uriInfo, parseErr := cmn.ParsePackageURI(aURL)
	if parseErr != nil {
		result := cmn.FwUpdateResultInvalidURI
		if cmn.IsUnsupportedSchemeError(parseErr) {
			result = cmn.FwUpdateResultUnsupportedProtocol
		}
		logger.Warnw(ctx, "package uri rejected", log.Fields{
			"instance-id": dp.instanceID, "error": parseErr, "result": result.String()})
		// a new cycle begins even on rejection, prior results are replaced
		_ = dp.wsStore.DeletePkgDwlWorkspace(ctx)
		wsNew := workspace.NewPkgDwlWorkspace()
		wsNew.UpdateType = aType
		wsNew.FwResult = result
		if err := dp.wsStore.WritePkgDwlWorkspace(ctx, wsNew); err != nil {
			return err
		}
		dp.propagator.Notify(ctx, cmn.EventInfo{
			Event: cmn.EventDownloadFailed, UpdateType: aType, Result: result,
			ErrorCode: cmn.DwlErrInvalidArg})
		return parseErr
	}

	logger.Infow(ctx, "package download accepted", log.Fields{
		"instance-id": dp.instanceID, "type": aType.String(), "host": uriInfo.Host})
	if err := dp.wsStore.DeletePkgDwlWorkspace(ctx); err != nil {
		return err
	}
	wsNew := workspace.NewPkgDwlWorkspace()
	wsNew.URL = aURL
	wsNew.UpdateType = aType
	wsNew.FwState = cmn.FwUpdateStateDownloading
	if err := dp.wsStore.WritePkgDwlWorkspace(ctx, wsNew); err != nil {
		return err
	}

	dp.mutexDwl.Lock()
	dp.downloadActive = true
	dp.suspendRequested = false
	dp.abortRequested = false
	dp.lastErrorCode = cmn.DwlErrNone
	dp.lastHTTPStatus = 0
	dp.mutexDwl.Unlock()
	_ = dp.PAdaptFsm.PFsm.Event(DwlEvStart)
	go dp.HandlePackageDownloader(ctx)
	return nil
}

//HandlePackageDownloader is the download worker: probe, connect, stream,
//verify. It runs until the transfer completes, suspends or terminally fails.
func (dp *PackageDownloader) HandlePackageDownloader(ctx context.Context) {
	defer func() {
		dp.mutexDwl.Lock()
		dp.downloadActive = false
		dp.mutexDwl.Unlock()
	}()

	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return
	}
	if ws.URL == "" || ws.UpdateType == cmn.UpdateTypeNone {
		logger.Warnw(ctx, "no download configured", log.Fields{"instance-id": dp.instanceID})
		return
	}
	uriInfo, parseErr := cmn.ParsePackageURI(ws.URL)
	if parseErr != nil {
		// workspace corruption, the URI was validated on acceptance
		dp.finishWithResult(ctx, ws, cmn.FwUpdateResultInvalidURI, cmn.DwlErrInvalidArg)
		return
	}
	resume := ws.Offset > 0
	parser := dwl.NewParser(dp.pkgStore)
	if resume {
		if rErr := parser.RestoreFrom(ws); rErr != nil {
			logger.Warnw(ctx, "could not restore envelope cursor - restarting transfer", log.Fields{
				"instance-id": dp.instanceID, "error": rErr})
			ws.Offset = 0
			ws.Sha1Ctx = nil
			resume = false
			parser = dwl.NewParser(dp.pkgStore)
		}
	}

	if err := dp.transport.InitForDownload(ctx, uriInfo.UseTLS); err != nil {
		dp.finishWithDownloadError(ctx, ws, dp.downloadErrorFromTransport(err))
		return
	}
	defer dp.transport.FreeForDownload(ctx)

	// size probe, skipped when a resume descriptor already carries the size
	if ws.PackageSize == 0 {
		_ = dp.PAdaptFsm.PFsm.Event(DwlEvProbe)
		size, code := dp.probePackageSize(ctx, uriInfo, ws.URL)
		if code != cmn.DwlErrNone {
			dp.finishWithDownloadError(ctx, ws, code)
			return
		}
		ws.PackageSize = size
		if err := dp.wsStore.WritePkgDwlWorkspace(ctx, ws); err != nil {
			dp.finishWithResult(ctx, ws, cmn.FwUpdateResultNoStorageSpace, cmn.DwlErrNone)
			return
		}
		dp.propagator.Notify(ctx, cmn.EventInfo{
			Event: cmn.EventDownloadDetails, UpdateType: ws.UpdateType, PackageSize: size})
	}

	_ = dp.PAdaptFsm.PFsm.Event(DwlEvConnect)
	if code := dp.connectWithRetry(ctx, uriInfo); code != cmn.DwlErrNone {
		dp.finishWithDownloadError(ctx, ws, code)
		return
	}
	defer func() { _ = dp.transport.DisconnectForDownload(ctx) }()

	request := &cmn.DownloadRequest{Method: "GET", URI: ws.URL, RangeOffset: ws.Offset}
	if err := dp.transport.SendForDownload(ctx, request); err != nil {
		dp.finishWithDownloadError(ctx, ws, dp.downloadErrorFromTransport(err))
		return
	}
	status, _ := dp.transport.GetDownloadStatus(ctx)
	if status < 200 || status >= 300 {
		dp.mutexDwl.Lock()
		dp.lastHTTPStatus = status
		dp.mutexDwl.Unlock()
		logger.Warnw(ctx, "package server refused the request", log.Fields{
			"instance-id": dp.instanceID, "status": status})
		dp.finishWithDownloadError(ctx, ws, cmn.DwlErrNet)
		return
	}
	if err := dp.pkgStore.OpenForWrite(ctx, ws.UpdateType, resume); err != nil {
		logger.Errorw(ctx, "could not open package storage", log.Fields{
			"instance-id": dp.instanceID, "error": err})
		dp.finishWithResult(ctx, ws, cmn.FwUpdateResultNoStorageSpace, cmn.DwlErrNone)
		return
	}

	_ = dp.PAdaptFsm.PFsm.Event(DwlEvStream)
	outcome, streamErr := dp.streamChunks(ctx, ws, parser)
	switch outcome {
	case cStreamDone:
		_ = dp.pkgStore.CloseWrite(ctx, true)
		dp.verifyPackage(ctx, ws, parser)
	case cStreamSuspended:
		// partial data is kept for resume
		_ = dp.pkgStore.CloseWrite(ctx, true)
		dp.enterSuspended(ctx, ws, streamErr)
	case cStreamAborted:
		_ = dp.pkgStore.CloseWrite(ctx, false)
		dp.finishAborted(ctx)
	case cStreamEnvelopeError:
		_ = dp.pkgStore.CloseWrite(ctx, false)
		dp.finishWithResult(ctx, ws, resultForEnvelopeError(streamErr), cmn.DwlErrNone)
	case cStreamStorageError:
		_ = dp.pkgStore.CloseWrite(ctx, false)
		dp.finishWithResult(ctx, ws, cmn.FwUpdateResultNoStorageSpace, cmn.DwlErrNone)
	}
}

//streamChunks reads the body in bounded chunks, feeds each one through the
//envelope parser and persists the workspace before the next read
func (dp *PackageDownloader) streamChunks(ctx context.Context, apWs *workspace.PkgDwlWorkspace,
	apParser *dwl.Parser) (streamOutcome, error) {
	buf := make([]byte, cDownloadChunkSize)
	for {
		if dp.CheckDownloadToAbort(ctx) {
			logger.Infow(ctx, "download abort requested", log.Fields{"instance-id": dp.instanceID})
			return cStreamAborted, nil
		}
		if dp.CheckDownloadToSuspend(ctx) {
			logger.Infow(ctx, "download suspend requested", log.Fields{"instance-id": dp.instanceID})
			return cStreamSuspended, nil
		}
		n, err := dp.transport.ReadForDownload(ctx, buf)
		if n > 0 {
			if feedErr := apParser.Feed(ctx, buf[:n]); feedErr != nil {
				if isEnvelopeError(feedErr) {
					return cStreamEnvelopeError, feedErr
				}
				return cStreamStorageError, feedErr
			}
			if saveErr := dp.persistProgress(ctx, apWs, apParser); saveErr != nil {
				return cStreamStorageError, saveErr
			}
			dp.propagator.Notify(ctx, cmn.EventInfo{
				Event: cmn.EventDownloadProgress, UpdateType: apWs.UpdateType,
				PackageSize: apWs.PackageSize, Progress: apWs.GetDownloadProgress()})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return cStreamDone, nil
			}
			// mid-stream failures suspend rather than retry
			dp.setLastError(dp.downloadErrorFromTransport(err))
			logger.Warnw(ctx, "body read failed - suspending transfer", log.Fields{
				"instance-id": dp.instanceID, "offset": apWs.Offset, "error": err})
			return cStreamSuspended, err
		}
	}
}

//persistProgress stores the parser cursor into the workspace record so a
//restart resumes at the persisted offset
func (dp *PackageDownloader) persistProgress(ctx context.Context, apWs *workspace.PkgDwlWorkspace,
	apParser *dwl.Parser) error {
	if err := apParser.SaveTo(apWs); err != nil {
		return err
	}
	return dp.wsStore.WritePkgDwlWorkspace(ctx, apWs)
}

//verifyPackage runs the end-of-stream integrity checks and persists the
//cycle outcome
func (dp *PackageDownloader) verifyPackage(ctx context.Context, apWs *workspace.PkgDwlWorkspace,
	apParser *dwl.Parser) {
	_ = dp.PAdaptFsm.PFsm.Event(DwlEvVerify)
	if err := apParser.Finalize(ctx); err != nil {
		logger.Warnw(ctx, "package verification failed", log.Fields{
			"instance-id": dp.instanceID, "error": err})
		dp.finishWithResult(ctx, apWs, resultForEnvelopeError(err), cmn.DwlErrNone)
		return
	}
	apWs.FwState = cmn.FwUpdateStateDownloaded
	apWs.FwResult = cmn.FwUpdateResultDefaultNormal
	if err := dp.wsStore.WritePkgDwlWorkspace(ctx, apWs); err != nil {
		dp.finishWithResult(ctx, apWs, cmn.FwUpdateResultNoStorageSpace, cmn.DwlErrNone)
		return
	}
	logger.Infow(ctx, "package downloaded and verified", log.Fields{
		"instance-id": dp.instanceID, "type": apWs.UpdateType.String(), "size": apWs.PackageSize})
	dp.propagator.Notify(ctx, cmn.EventInfo{
		Event: cmn.EventDownloadFinished, UpdateType: apWs.UpdateType,
		PackageSize: apWs.PackageSize, Progress: 100})
	dp.fsmToDisabled()
}

//probePackageSize connects and issues the size probe request
func (dp *PackageDownloader) probePackageSize(ctx context.Context, apURIInfo *cmn.PackageURIInfo,
	aURL string) (uint64, cmn.DownloadErrorCode) {
	if code := dp.connectWithRetry(ctx, apURIInfo); code != cmn.DwlErrNone {
		return 0, code
	}
	defer func() { _ = dp.transport.DisconnectForDownload(ctx) }()
	request := &cmn.DownloadRequest{Method: "HEAD", URI: aURL}
	if err := dp.transport.SendForDownload(ctx, request); err != nil {
		return 0, dp.downloadErrorFromTransport(err)
	}
	status, length := dp.transport.GetDownloadStatus(ctx)
	if status < 200 || status >= 300 {
		dp.mutexDwl.Lock()
		dp.lastHTTPStatus = status
		dp.mutexDwl.Unlock()
		logger.Warnw(ctx, "size probe refused", log.Fields{
			"instance-id": dp.instanceID, "status": status})
		return 0, cmn.DwlErrNet
	}
	if length < 0 {
		length = 0
	}
	logger.Debugw(ctx, "package size probed", log.Fields{
		"instance-id": dp.instanceID, "size": length})
	return uint64(length), cmn.DwlErrNone
}

//connectWithRetry runs the bounded connect attempts; retry applies to the
//connect step only
func (dp *PackageDownloader) connectWithRetry(ctx context.Context,
	apURIInfo *cmn.PackageURIInfo) cmn.DownloadErrorCode {
	lastCode := cmn.DwlErrNone
	for attempt := 1; attempt <= cmn.DwlRetries; attempt++ {
		err := dp.transport.ConnectForDownload(ctx, apURIInfo.Host, apURIInfo.Port)
		if err == nil {
			return cmn.DwlErrNone
		}
		lastCode = dp.downloadErrorFromTransport(err)
		logger.Warnw(ctx, "connect attempt failed", log.Fields{
			"instance-id": dp.instanceID, "attempt": attempt, "max": cmn.DwlRetries, "error": err})
	}
	if lastCode == cmn.DwlErrNone {
		// retries exhausted without a definitive cause
		lastCode = cmn.DwlErrRetriesExhausted
	}
	return lastCode
}

//downloadErrorFromTransport translates a wrapped transport failure into the
//closed downloader error set
func (dp *PackageDownloader) downloadErrorFromTransport(err error) cmn.DownloadErrorCode {
	switch {
	case errors.Is(err, cmn.ErrTransportMemory):
		return cmn.DwlErrMemory
	case errors.Is(err, cmn.ErrTransportConnect):
		return cmn.DwlErrConnection
	case errors.Is(err, cmn.ErrTransportSend):
		return cmn.DwlErrSend
	case errors.Is(err, cmn.ErrTransportRecv):
		return cmn.DwlErrRecv
	case errors.Is(err, cmn.ErrTransportTimeout):
		return cmn.DwlErrTimeout
	default:
		// an unclassified transport failure still is a transport failure
		return cmn.DwlErrFault
	}
}

///////////////////////////////////////////////////////////

//SuspendDownload requests a cooperative pause; the worker honors it at the
//next chunk boundary
func (dp *PackageDownloader) SuspendDownload(ctx context.Context) {
	dp.mutexDwl.Lock()
	defer dp.mutexDwl.Unlock()
	logger.Infow(ctx, "download suspend flagged", log.Fields{"instance-id": dp.instanceID})
	dp.suspendRequested = true
}

//AbortDownload requests a cooperative abort; when no worker is running a
//suspended transfer is cleaned up immediately. Outside a running or
//suspended transfer the abort has nothing to cancel and is ignored.
func (dp *PackageDownloader) AbortDownload(ctx context.Context) {
	dp.timers.TimerStop(ctx, swtimer.TimerDownloadRetry)
	dp.mutexDwl.Lock()
	dp.abortRequested = true
	active := dp.downloadActive
	dp.mutexDwl.Unlock()
	logger.Infow(ctx, "download abort flagged", log.Fields{
		"instance-id": dp.instanceID, "worker-active": active})
	if active {
		return
	}
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return
	}
	if ws.FwState != cmn.FwUpdateStateDownloading {
		dp.mutexDwl.Lock()
		dp.abortRequested = false
		dp.mutexDwl.Unlock()
		logger.Warnw(ctx, "abort ignored - no transfer to cancel", log.Fields{
			"instance-id": dp.instanceID, "state": ws.FwState.String()})
		return
	}
	dp.finishAborted(ctx)
}

//CheckDownloadToSuspend reports whether a suspend was requested
func (dp *PackageDownloader) CheckDownloadToSuspend(ctx context.Context) bool {
	dp.mutexDwl.RLock()
	defer dp.mutexDwl.RUnlock()
	return dp.suspendRequested
}

//CheckDownloadToAbort reports whether an abort was requested
func (dp *PackageDownloader) CheckDownloadToAbort(ctx context.Context) bool {
	dp.mutexDwl.RLock()
	defer dp.mutexDwl.RUnlock()
	return dp.abortRequested
}

//GetDownloadInfo returns the resume descriptor of a pending transfer;
//UpdateTypeNone when no resumable transfer exists
func (dp *PackageDownloader) GetDownloadInfo(ctx context.Context) (cmn.UpdateType, uint64, error) {
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return cmn.UpdateTypeNone, 0, err
	}
	if ws.PackageSize > 0 && ws.UpdateType != cmn.UpdateTypeNone &&
		ws.FwState == cmn.FwUpdateStateDownloading {
		return ws.UpdateType, ws.PackageSize, nil
	}
	return cmn.UpdateTypeNone, 0, nil
}

//RequestDownloadRetry relaunches the worker of a suspended transfer; the
//transport is asked to continue at the persisted offset
func (dp *PackageDownloader) RequestDownloadRetry(ctx context.Context) error {
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return err
	}
	if ws.URL == "" || ws.UpdateType == cmn.UpdateTypeNone ||
		ws.FwState != cmn.FwUpdateStateDownloading {
		logger.Warnw(ctx, "no suspended transfer to resume", log.Fields{
			"instance-id": dp.instanceID, "state": ws.FwState.String()})
		return cmn.ErrInvalidState
	}
	dp.mutexDwl.Lock()
	if dp.downloadActive {
		dp.mutexDwl.Unlock()
		return cmn.ErrInvalidState
	}
	dp.downloadActive = true
	dp.suspendRequested = false
	dp.abortRequested = false
	dp.mutexDwl.Unlock()
	logger.Infow(ctx, "resuming download", log.Fields{
		"instance-id": dp.instanceID, "offset": ws.Offset})
	if dp.PAdaptFsm.PFsm.Is(DwlStDisabled) {
		// fresh process, the transfer survived a restart
		_ = dp.PAdaptFsm.PFsm.Event(DwlEvStart)
	}
	go dp.HandlePackageDownloader(ctx)
	return nil
}

//GetLastHTTPError returns the status code of the last non-2xx response
func (dp *PackageDownloader) GetLastHTTPError(ctx context.Context) int {
	dp.mutexDwl.RLock()
	defer dp.mutexDwl.RUnlock()
	return dp.lastHTTPStatus
}

//GetLastErrorCode returns the downloader error category of the last failure
func (dp *PackageDownloader) GetLastErrorCode(ctx context.Context) cmn.DownloadErrorCode {
	dp.mutexDwl.RLock()
	defer dp.mutexDwl.RUnlock()
	return dp.lastErrorCode
}

///////////////////////////////////////////////////////////

func (dp *PackageDownloader) setLastError(aCode cmn.DownloadErrorCode) {
	dp.mutexDwl.Lock()
	defer dp.mutexDwl.Unlock()
	dp.lastErrorCode = aCode
}

//enterSuspended parks the transfer with its resume fields persisted and arms
//the retry timer
func (dp *PackageDownloader) enterSuspended(ctx context.Context, apWs *workspace.PkgDwlWorkspace,
	aCause error) {
	_ = dp.PAdaptFsm.PFsm.Event(DwlEvSuspend)
	dp.mutexDwl.Lock()
	dp.suspendRequested = false
	dp.mutexDwl.Unlock()
	logger.Infow(ctx, "download suspended", log.Fields{
		"instance-id": dp.instanceID, "offset": apWs.Offset, "cause": aCause})
	if aCause != nil && dp.retryWait > 0 {
		// transient network failure, re-arm the worker
		retryCtx := context.WithoutCancel(ctx)
		dp.timers.TimerSet(ctx, swtimer.TimerDownloadRetry, dp.retryWait, func() {
			_ = dp.RequestDownloadRetry(retryCtx)
		})
	}
}

//finishAborted discards the transfer progress and ends the cycle with the
//cancelled result persisted; only a brand-new download clears it again
func (dp *PackageDownloader) finishAborted(ctx context.Context) {
	if dp.PAdaptFsm.PFsm.Is(DwlStConnecting) || dp.PAdaptFsm.PFsm.Is(DwlStDownloading) ||
		dp.PAdaptFsm.PFsm.Is(DwlStSuspended) || dp.PAdaptFsm.PFsm.Is(DwlStStarting) ||
		dp.PAdaptFsm.PFsm.Is(DwlStProbing) {
		_ = dp.PAdaptFsm.PFsm.Event(DwlEvAbort)
	}
	dp.mutexDwl.Lock()
	dp.abortRequested = false
	dp.mutexDwl.Unlock()
	ws, err := dp.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		logger.Warnw(ctx, "could not read workspace on abort", log.Fields{
			"instance-id": dp.instanceID, "error": err})
		dp.fsmToDisabled()
		return
	}
	// all resume fields are erased, nothing of the transfer survives
	ws.Offset = 0
	ws.Section = 0
	ws.Subsection = 0
	ws.PackageCRC = 0
	ws.CommentSize = 0
	ws.BinarySize = 0
	ws.PaddingSize = 0
	ws.RemainingBinaryData = 0
	ws.SignatureSize = 0
	ws.ComputedCRC = 0
	ws.Sha1Ctx = nil
	ws.PackageSize = 0
	logger.Infow(ctx, "download aborted - progress discarded", log.Fields{
		"instance-id": dp.instanceID})
	dp.finishWithResult(ctx, ws, cmn.FwUpdateResultUpdateCancelled, cmn.DwlErrAborted)
}

//finishWithDownloadError maps the downloader error category onto the update
//result space and terminates the cycle
func (dp *PackageDownloader) finishWithDownloadError(ctx context.Context,
	apWs *workspace.PkgDwlWorkspace, aCode cmn.DownloadErrorCode) {
	dp.finishWithResult(ctx, apWs, cmn.UpdateResultForDownloadError(aCode), aCode)
}

//finishWithResult persists the terminal result with the URL erased and
//raises the failure event from the same code path
func (dp *PackageDownloader) finishWithResult(ctx context.Context,
	apWs *workspace.PkgDwlWorkspace, aResult cmn.FwUpdateResult, aCode cmn.DownloadErrorCode) {
	dp.setLastError(aCode)
	apWs.FwState = cmn.FwUpdateStateIdle
	apWs.FwResult = aResult
	apWs.URL = ""
	if err := dp.wsStore.WritePkgDwlWorkspace(ctx, apWs); err != nil {
		logger.Errorw(ctx, "could not persist terminal result", log.Fields{
			"instance-id": dp.instanceID, "result": aResult.String(), "error": err})
	}
	logger.Warnw(ctx, "download terminally failed", log.Fields{
		"instance-id": dp.instanceID, "result": aResult.String(), "code": aCode.String()})
	dp.propagator.Notify(ctx, cmn.EventInfo{
		Event: cmn.EventDownloadFailed, UpdateType: apWs.UpdateType,
		Result: aResult, ErrorCode: aCode})
	dp.fsmToDisabled()
}

//fsmToDisabled parks the FSM for the next cycle
func (dp *PackageDownloader) fsmToDisabled() {
	if !dp.PAdaptFsm.PFsm.Is(DwlStDisabled) {
		if !dp.PAdaptFsm.PFsm.Is(DwlStResetting) {
			_ = dp.PAdaptFsm.PFsm.Event(DwlEvReset)
		}
		_ = dp.PAdaptFsm.PFsm.Event(DwlEvDisable)
	}
}

//resultForEnvelopeError maps a parser failure onto the update result space
func resultForEnvelopeError(err error) cmn.FwUpdateResult {
	switch {
	case errors.Is(err, dwl.ErrBadMagic), errors.Is(err, dwl.ErrMalformed),
		errors.Is(err, dwl.ErrTrailingData):
		return cmn.FwUpdateResultUnsupportedPackageType
	case errors.Is(err, dwl.ErrCRCMismatch), errors.Is(err, dwl.ErrSignatureMismatch),
		errors.Is(err, dwl.ErrTruncated):
		return cmn.FwUpdateResultIntegrityCheckFailure
	default:
		return cmn.FwUpdateResultUpdateFailed
	}
}

//isEnvelopeError separates parser failures from storage sink failures
func isEnvelopeError(err error) bool {
	return errors.Is(err, dwl.ErrBadMagic) || errors.Is(err, dwl.ErrMalformed) ||
		errors.Is(err, dwl.ErrTrailingData) || errors.Is(err, dwl.ErrCRCMismatch) ||
		errors.Is(err, dwl.ErrSignatureMismatch)
}
