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

//Package ftrans provides the generic file transfer manager
package ftrans

import (
	"context"
	"sync"

	"github.com/boguslaw-wojcik/crc32a"
	"github.com/cevaris/ordered_map"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/swtimer"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/swupg"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/workspace"
)

// cMaxFileTransferCount is the default bound on stored files when the
// configuration does not override it.
const cMaxFileTransferCount = 10

// cReasonTooManyFiles is recorded when the stored-file registry is full.
const cReasonTooManyFiles = "too many files stored"

//preOpFailure is one row of the pre-operation failure mapping: a generic
//result code observed before any byte was transferred, translated into the
//server-visible transfer result and failure reason
type preOpFailure struct {
	result cmn.FileTransferResult
	reason string
}

//preOpFailureMap is the single place translating pre-operation result codes
var preOpFailureMap = map[cmn.GenericResultCode]preOpFailure{
	cmn.ResultCodeAlreadyProcessed: {cmn.FileTransferResultAlreadyExists, "file already processed"},
	cmn.ResultCodeInvalidArg:       {cmn.FileTransferResultFailure, "invalid transfer request"},
	cmn.ResultCodeIncorrectRange:   {cmn.FileTransferResultFailure, "requested range outside file bounds"},
	cmn.ResultCodeOverflow:         {cmn.FileTransferResultFailure, "value exceeds declared bound"},
	cmn.ResultCodeOther:            {cmn.FileTransferResultFailure, "transfer failed"},
}

//storedFileInfo describes one completed transfer kept in the registry
type storedFileInfo struct {
	size     uint64
	checksum uint32
}

//FileTransferManager drives the generic file transfer object: its persisted
//state/result record, the insertion-ordered registry of stored files with a
//bounded count, and the translation of pre-operation failures. Transfer
//progress is derived from the package downloader workspace since the file
//stream rides the same download pipeline.
type FileTransferManager struct {
	instanceID string
	mutexFt    sync.RWMutex
	wsStore    *workspace.Store
	timers     *swtimer.Service
	propagator *swupg.StatusPropagator
	registry   *ordered_map.OrderedMap
	maxFiles   int
}

//NewFileTransferManager constructor returns a new instance of a
//FileTransferManager
func NewFileTransferManager(ctx context.Context, aInstanceID string, aWsStore *workspace.Store,
	aTimers *swtimer.Service, aPropagator *swupg.StatusPropagator, aMaxFiles int) *FileTransferManager {
	if aMaxFiles <= 0 {
		aMaxFiles = cMaxFileTransferCount
	}
	logger.Debugw(ctx, "FileTransferManager created", log.Fields{
		"instance-id": aInstanceID, "max-files": aMaxFiles})
	return &FileTransferManager{
		instanceID: aInstanceID,
		wsStore:    aWsStore,
		timers:     aTimers,
		propagator: aPropagator,
		registry:   ordered_map.NewOrderedMap(),
		maxFiles:   aMaxFiles,
	}
}

//StartFileTransfer accepts a new download transfer request. A full registry
//aborts the request before any byte flows: the pending retry timer is
//stopped and the dedicated failure reason is recorded.
func (fm *FileTransferManager) StartFileTransfer(ctx context.Context, aName string,
	aDirection cmn.FileTransferDirection) error {
	if aName == "" || len(aName) > cmn.MaxFailureReasonLen {
		return cmn.ErrInvalidArg
	}
	if aDirection != cmn.FileTransferDirectionDownload {
		return cmn.ErrInvalidArg
	}
	ws, err := fm.wsStore.ReadFileTransferWorkspace(ctx)
	if err != nil {
		return err
	}
	if ws.TransferState != cmn.FileTransferStateIdle {
		logger.Warnw(ctx, "file transfer rejected - transfer in progress", log.Fields{
			"instance-id": fm.instanceID, "state": ws.TransferState.String()})
		return cmn.ErrInvalidState
	}

	fm.mutexFt.RLock()
	full := fm.registry.Len() >= fm.maxFiles
	fm.mutexFt.RUnlock()
	if full {
		logger.Warnw(ctx, "file transfer rejected - registry full", log.Fields{
			"instance-id": fm.instanceID, "max-files": fm.maxFiles})
		fm.timers.TimerStop(ctx, swtimer.TimerDownloadRetry)
		return fm.failTransfer(ctx, ws, cmn.FileTransferResultFailure, cReasonTooManyFiles)
	}

	ws.TransferState = cmn.FileTransferStateProcessing
	ws.TransferResult = cmn.FileTransferResultInitial
	ws.TransferDirection = aDirection
	ws.FailureReason = ""
	if err := fm.wsStore.WriteFileTransferWorkspace(ctx, ws); err != nil {
		return err
	}
	logger.Infow(ctx, "file transfer accepted", log.Fields{
		"instance-id": fm.instanceID, "name": aName})
	return nil
}

//SetTransferring marks the first transferred byte; only valid from
//Processing or Suspended
func (fm *FileTransferManager) SetTransferring(ctx context.Context) error {
	ws, err := fm.wsStore.ReadFileTransferWorkspace(ctx)
	if err != nil {
		return err
	}
	if ws.TransferState != cmn.FileTransferStateProcessing &&
		ws.TransferState != cmn.FileTransferStateSuspended {
		return cmn.ErrInvalidState
	}
	ws.TransferState = cmn.FileTransferStateTransferring
	return fm.wsStore.WriteFileTransferWorkspace(ctx, ws)
}

//SuspendFileTransfer pauses a running transfer, keeping the resume fields of
//the underlying download
func (fm *FileTransferManager) SuspendFileTransfer(ctx context.Context) error {
	ws, err := fm.wsStore.ReadFileTransferWorkspace(ctx)
	if err != nil {
		return err
	}
	if ws.TransferState != cmn.FileTransferStateTransferring {
		return cmn.ErrInvalidState
	}
	ws.TransferState = cmn.FileTransferStateSuspended
	return fm.wsStore.WriteFileTransferWorkspace(ctx, ws)
}

//CompleteFileTransfer records a finished transfer: the file enters the
//registry with its checksum and the cycle returns to idle with Success
func (fm *FileTransferManager) CompleteFileTransfer(ctx context.Context, aName string,
	aContent []byte) error {
	ws, err := fm.wsStore.ReadFileTransferWorkspace(ctx)
	if err != nil {
		return err
	}
	if ws.TransferState != cmn.FileTransferStateTransferring &&
		ws.TransferState != cmn.FileTransferStateProcessing {
		return cmn.ErrInvalidState
	}
	checksum := crc32a.Checksum(aContent)
	fm.mutexFt.Lock()
	fm.registry.Set(aName, &storedFileInfo{size: uint64(len(aContent)), checksum: checksum})
	fm.mutexFt.Unlock()

	ws.TransferState = cmn.FileTransferStateIdle
	ws.TransferResult = cmn.FileTransferResultSuccess
	ws.FailureReason = ""
	if err := fm.wsStore.WriteFileTransferWorkspace(ctx, ws); err != nil {
		return err
	}
	logger.Infow(ctx, "file transfer finished", log.Fields{
		"instance-id": fm.instanceID, "name": aName, "size": len(aContent), "crc": checksum})
	fm.propagator.Notify(ctx, cmn.EventInfo{Event: cmn.EventFileTransferFinished})
	return nil
}

//SetFileTransferFailure records a pre-operation failure through the mapping
//table; unknown codes fall back to the generic row
func (fm *FileTransferManager) SetFileTransferFailure(ctx context.Context,
	aCode cmn.GenericResultCode) error {
	ws, err := fm.wsStore.ReadFileTransferWorkspace(ctx)
	if err != nil {
		return err
	}
	row, known := preOpFailureMap[aCode]
	if !known {
		row = preOpFailureMap[cmn.ResultCodeOther]
	}
	return fm.failTransfer(ctx, ws, row.result, row.reason)
}

//GetFileTransferState returns the persisted transfer state
func (fm *FileTransferManager) GetFileTransferState(ctx context.Context) (cmn.FileTransferState, error) {
	ws, err := fm.wsStore.ReadFileTransferWorkspace(ctx)
	if err != nil {
		return cmn.FileTransferStateIdle, err
	}
	return ws.TransferState, nil
}

//GetFileTransferResult returns the persisted transfer result
func (fm *FileTransferManager) GetFileTransferResult(ctx context.Context) (cmn.FileTransferResult, error) {
	ws, err := fm.wsStore.ReadFileTransferWorkspace(ctx)
	if err != nil {
		return cmn.FileTransferResultInitial, err
	}
	return ws.TransferResult, nil
}

//GetFileTransferFailureReason returns the bounded failure reason string
func (fm *FileTransferManager) GetFileTransferFailureReason(ctx context.Context) (string, error) {
	ws, err := fm.wsStore.ReadFileTransferWorkspace(ctx)
	if err != nil {
		return "", err
	}
	return ws.FailureReason, nil
}

//GetFileTransferProgress derives the transfer progress from the package
//downloader workspace carrying the byte counters of the shared pipeline
func (fm *FileTransferManager) GetFileTransferProgress(ctx context.Context) (uint8, error) {
	ws, err := fm.wsStore.ReadPkgDwlWorkspace(ctx)
	if err != nil {
		return 0, err
	}
	return ws.GetDownloadProgress(), nil
}

//GetStoredFileChecksum returns the CRC-32/A checksum of a stored file
func (fm *FileTransferManager) GetStoredFileChecksum(ctx context.Context, aName string) (uint32, error) {
	fm.mutexFt.RLock()
	defer fm.mutexFt.RUnlock()
	value, exists := fm.registry.Get(aName)
	if !exists {
		return 0, cmn.ErrInvalidArg
	}
	return value.(*storedFileInfo).checksum, nil
}

//GetStoredFileNames returns the stored file names oldest first
func (fm *FileTransferManager) GetStoredFileNames(ctx context.Context) []string {
	fm.mutexFt.RLock()
	defer fm.mutexFt.RUnlock()
	names := make([]string, 0, fm.registry.Len())
	iter := fm.registry.IterFunc()
	for kv, ok := iter(); ok; kv, ok = iter() {
		names = append(names, (kv.Key).(string))
	}
	return names
}

//DeleteStoredFile removes a file from the registry, freeing one slot
func (fm *FileTransferManager) DeleteStoredFile(ctx context.Context, aName string) error {
	fm.mutexFt.Lock()
	defer fm.mutexFt.Unlock()
	if _, exists := fm.registry.Get(aName); !exists {
		return cmn.ErrInvalidArg
	}
	fm.registry.Delete(aName)
	logger.Debugw(ctx, "stored file deleted", log.Fields{
		"instance-id": fm.instanceID, "name": aName})
	return nil
}

///////////////////////////////////////////////////////////

//failTransfer persists the failure outcome and raises the matching event
func (fm *FileTransferManager) failTransfer(ctx context.Context,
	apWs *workspace.FileTransferWorkspace, aResult cmn.FileTransferResult, aReason string) error {
	if len(aReason) > cmn.MaxFailureReasonLen {
		aReason = aReason[:cmn.MaxFailureReasonLen]
	}
	apWs.TransferState = cmn.FileTransferStateIdle
	apWs.TransferResult = aResult
	apWs.FailureReason = aReason
	if err := fm.wsStore.WriteFileTransferWorkspace(ctx, apWs); err != nil {
		return err
	}
	logger.Warnw(ctx, "file transfer failed", log.Fields{
		"instance-id": fm.instanceID, "result": aResult.String(), "reason": aReason})
	fm.propagator.Notify(ctx, cmn.EventInfo{Event: cmn.EventFileTransferFailed})
	return nil
}
