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

//Package workspace provides the persisted download workspace records
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/opencord/voltha-lib-go/v7/pkg/log"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
)

// CPkgDwlWorkspaceVersion is the only supported package downloader workspace
// format; records carrying any other version are discarded and replaced by
// defaults (old-version data is distrusted, not migrated).
const CPkgDwlWorkspaceVersion uint8 = 2

// CFileTransferWorkspaceVersion is the only supported file transfer
// workspace format.
const CFileTransferWorkspaceVersion uint8 = 1

//PkgDwlWorkspace is the central persisted entity of the package downloader:
//one record tracking the single in-flight (or most recently finished)
//transfer; it is always read, mutated and written as a whole
type PkgDwlWorkspace struct {
	Version             uint8              `json:"version"`
	Offset              uint64             `json:"offset"`
	Section             uint8              `json:"section"`
	Subsection          uint32             `json:"subsection"`
	PackageCRC          uint32             `json:"package_crc"`
	CommentSize         uint32             `json:"comment_size"`
	BinarySize          uint32             `json:"binary_size"`
	PaddingSize         uint32             `json:"padding_size"`
	RemainingBinaryData uint32             `json:"remaining_binary_data"`
	SignatureSize       uint32             `json:"signature_size"`
	ComputedCRC         uint32             `json:"computed_crc"`
	Sha1Ctx             []byte             `json:"sha1_ctx"`
	URL                 string             `json:"url"`
	PackageSize         uint64             `json:"package_size"`
	UpdateType          cmn.UpdateType     `json:"update_type"`
	FwState             cmn.FwUpdateState  `json:"fw_state"`
	FwResult            cmn.FwUpdateResult `json:"fw_result"`
}

//NewPkgDwlWorkspace returns the compiled-in default package downloader
//workspace
func NewPkgDwlWorkspace() *PkgDwlWorkspace {
	return &PkgDwlWorkspace{
		Version:  CPkgDwlWorkspaceVersion,
		FwState:  cmn.FwUpdateStateIdle,
		FwResult: cmn.FwUpdateResultDefaultNormal,
	}
}

//GetDownloadProgress computes the download progress in percent from the
//byte-count fields; 0 until the package size is announced and the envelope
//prolog declared the binary size. Inconsistent counters (an envelope
//declaring more payload than the transfer carries) report 0 rather than a
//value outside the 0-100 range.
func (ws *PkgDwlWorkspace) GetDownloadProgress() uint8 {
	if ws.PackageSize == 0 || ws.BinarySize == 0 {
		return 0
	}
	remaining := uint64(ws.RemainingBinaryData)
	if remaining > ws.PackageSize {
		return 0
	}
	progress := ((ws.PackageSize - remaining) * 100) / ws.PackageSize
	if progress > 100 {
		return 100
	}
	return uint8(progress)
}

//FileTransferWorkspace is the persisted record of the generic file transfer
//object; same defaulting and version-mismatch policy as the package
//downloader workspace
type FileTransferWorkspace struct {
	Version           uint8                     `json:"version"`
	TransferState     cmn.FileTransferState     `json:"transfer_state"`
	TransferResult    cmn.FileTransferResult    `json:"transfer_result"`
	TransferDirection cmn.FileTransferDirection `json:"transfer_direction"`
	FailureReason     string                    `json:"failure_reason"`
}

//NewFileTransferWorkspace returns the compiled-in default file transfer
//workspace
func NewFileTransferWorkspace() *FileTransferWorkspace {
	return &FileTransferWorkspace{
		Version:           CFileTransferWorkspaceVersion,
		TransferState:     cmn.FileTransferStateIdle,
		TransferResult:    cmn.FileTransferResultInitial,
		TransferDirection: cmn.FileTransferDirectionDownload,
	}
}

///////////////////////////////////////////////////////////

//Store reads and writes the workspace records through the generic parameter
//storage; every mutation is a read-modify-write of the whole record
type Store struct {
	mutexStore sync.RWMutex
	storage    cmn.ParamStorage
}

//NewStore constructor returns a new instance of a workspace Store
func NewStore(ctx context.Context, aStorage cmn.ParamStorage) *Store {
	logger.Debug(ctx, "init-workspace-store")
	return &Store{storage: aStorage}
}

//ReadPkgDwlWorkspace fetches the package downloader workspace; an absent,
//undecodable or wrong-version record is deleted best-effort and replaced by
//the compiled-in defaults - the read itself still succeeds so callers always
//get a usable workspace
func (st *Store) ReadPkgDwlWorkspace(ctx context.Context) (*PkgDwlWorkspace, error) {
	st.mutexStore.Lock()
	defer st.mutexStore.Unlock()
	ws := NewPkgDwlWorkspace()
	raw, err := st.storage.GetParam(ctx, cmn.ParamIDPkgDwlWorkspace)
	if err != nil {
		logger.Errorw(ctx, "unable to read pkgdwl workspace from storage", log.Fields{"error": err})
		return nil, fmt.Errorf("%w: pkgdwl workspace read", cmn.ErrFault)
	}
	if len(raw) == 0 {
		// no record yet - defaults apply
		return ws, nil
	}
	if err := json.Unmarshal(raw, ws); err != nil || ws.Version != CPkgDwlWorkspaceVersion {
		logger.Warnw(ctx, "stale or corrupt pkgdwl workspace - using defaults", log.Fields{
			"error": err, "version": ws.Version, "supported": CPkgDwlWorkspaceVersion})
		if delErr := st.storage.DeleteParam(ctx, cmn.ParamIDPkgDwlWorkspace); delErr != nil {
			logger.Warnw(ctx, "could not delete stale pkgdwl workspace", log.Fields{"error": delErr})
		}
		return NewPkgDwlWorkspace(), nil
	}
	clampPkgDwlWorkspace(ctx, ws)
	return ws, nil
}

//WritePkgDwlWorkspace persists the full package downloader workspace record
func (st *Store) WritePkgDwlWorkspace(ctx context.Context, aWorkspace *PkgDwlWorkspace) error {
	if aWorkspace == nil {
		return cmn.ErrInvalidArg
	}
	st.mutexStore.Lock()
	defer st.mutexStore.Unlock()
	aWorkspace.Version = CPkgDwlWorkspaceVersion
	raw, err := json.Marshal(aWorkspace)
	if err != nil {
		logger.Errorw(ctx, "unable to marshal pkgdwl workspace", log.Fields{"error": err})
		return fmt.Errorf("%w: pkgdwl workspace marshal", cmn.ErrFault)
	}
	if err := st.storage.SetParam(ctx, cmn.ParamIDPkgDwlWorkspace, raw); err != nil {
		logger.Errorw(ctx, "unable to write pkgdwl workspace", log.Fields{"error": err})
		return err
	}
	return nil
}

//DeletePkgDwlWorkspace removes the package downloader workspace record so a
//subsequent read returns to defaults
func (st *Store) DeletePkgDwlWorkspace(ctx context.Context) error {
	st.mutexStore.Lock()
	defer st.mutexStore.Unlock()
	logger.Debug(ctx, "delete pkgdwl workspace")
	return st.storage.DeleteParam(ctx, cmn.ParamIDPkgDwlWorkspace)
}

//ReadFileTransferWorkspace fetches the file transfer workspace with the same
//defaulting and version-mismatch policy as the package downloader record
func (st *Store) ReadFileTransferWorkspace(ctx context.Context) (*FileTransferWorkspace, error) {
	st.mutexStore.Lock()
	defer st.mutexStore.Unlock()
	ws := NewFileTransferWorkspace()
	raw, err := st.storage.GetParam(ctx, cmn.ParamIDFileTransferWorkspace)
	if err != nil {
		logger.Errorw(ctx, "unable to read file transfer workspace from storage", log.Fields{"error": err})
		return nil, fmt.Errorf("%w: file transfer workspace read", cmn.ErrFault)
	}
	if len(raw) == 0 {
		return ws, nil
	}
	if err := json.Unmarshal(raw, ws); err != nil || ws.Version != CFileTransferWorkspaceVersion {
		logger.Warnw(ctx, "stale or corrupt file transfer workspace - using defaults", log.Fields{
			"error": err, "version": ws.Version, "supported": CFileTransferWorkspaceVersion})
		if delErr := st.storage.DeleteParam(ctx, cmn.ParamIDFileTransferWorkspace); delErr != nil {
			logger.Warnw(ctx, "could not delete stale file transfer workspace", log.Fields{"error": delErr})
		}
		return NewFileTransferWorkspace(), nil
	}
	clampFileTransferWorkspace(ctx, ws)
	return ws, nil
}

//WriteFileTransferWorkspace persists the full file transfer workspace record
func (st *Store) WriteFileTransferWorkspace(ctx context.Context, aWorkspace *FileTransferWorkspace) error {
	if aWorkspace == nil {
		return cmn.ErrInvalidArg
	}
	st.mutexStore.Lock()
	defer st.mutexStore.Unlock()
	aWorkspace.Version = CFileTransferWorkspaceVersion
	raw, err := json.Marshal(aWorkspace)
	if err != nil {
		logger.Errorw(ctx, "unable to marshal file transfer workspace", log.Fields{"error": err})
		return fmt.Errorf("%w: file transfer workspace marshal", cmn.ErrFault)
	}
	if err := st.storage.SetParam(ctx, cmn.ParamIDFileTransferWorkspace, raw); err != nil {
		logger.Errorw(ctx, "unable to write file transfer workspace", log.Fields{"error": err})
		return err
	}
	return nil
}

//DeleteFileTransferWorkspace removes the file transfer workspace record
func (st *Store) DeleteFileTransferWorkspace(ctx context.Context) error {
	st.mutexStore.Lock()
	defer st.mutexStore.Unlock()
	logger.Debug(ctx, "delete file transfer workspace")
	return st.storage.DeleteParam(ctx, cmn.ParamIDFileTransferWorkspace)
}

///////////////////////////////////////////////////////////

//clampPkgDwlWorkspace resets out-of-range persisted enums to their safe
//defaults; corruption here is healed, never propagated
func clampPkgDwlWorkspace(ctx context.Context, aWorkspace *PkgDwlWorkspace) {
	if aWorkspace.FwState > cmn.FwUpdateStateMax {
		logger.Warnw(ctx, "persisted fw state out of range - clamping to idle", log.Fields{
			"state": uint8(aWorkspace.FwState)})
		aWorkspace.FwState = cmn.FwUpdateStateIdle
	}
	if aWorkspace.FwResult > cmn.FwUpdateResultMax {
		logger.Warnw(ctx, "persisted fw result out of range - clamping to default", log.Fields{
			"result": uint8(aWorkspace.FwResult)})
		aWorkspace.FwResult = cmn.FwUpdateResultDefaultNormal
	}
	if aWorkspace.UpdateType > cmn.UpdateTypeSoftware {
		logger.Warnw(ctx, "persisted update type out of range - clamping to none", log.Fields{
			"type": uint8(aWorkspace.UpdateType)})
		aWorkspace.UpdateType = cmn.UpdateTypeNone
	}
	if aWorkspace.RemainingBinaryData > aWorkspace.BinarySize {
		logger.Warnw(ctx, "persisted remaining binary data exceeds binary size - clamping", log.Fields{
			"remaining": aWorkspace.RemainingBinaryData, "binary-size": aWorkspace.BinarySize})
		aWorkspace.RemainingBinaryData = aWorkspace.BinarySize
	}
	if len(aWorkspace.URL) > cmn.MaxPackageURILen {
		logger.Warn(ctx, "persisted url exceeds length bound - erasing")
		aWorkspace.URL = ""
	}
}

//clampFileTransferWorkspace resets out-of-range persisted enums of the file
//transfer record
func clampFileTransferWorkspace(ctx context.Context, aWorkspace *FileTransferWorkspace) {
	if aWorkspace.TransferState > cmn.FileTransferStateMax {
		logger.Warnw(ctx, "persisted transfer state out of range - clamping to idle", log.Fields{
			"state": uint8(aWorkspace.TransferState)})
		aWorkspace.TransferState = cmn.FileTransferStateIdle
	}
	if aWorkspace.TransferResult > cmn.FileTransferResultMax {
		logger.Warnw(ctx, "persisted transfer result out of range - clamping to initial", log.Fields{
			"result": uint8(aWorkspace.TransferResult)})
		aWorkspace.TransferResult = cmn.FileTransferResultInitial
	}
	if len(aWorkspace.FailureReason) > cmn.MaxFailureReasonLen {
		aWorkspace.FailureReason = aWorkspace.FailureReason[:cmn.MaxFailureReasonLen]
	}
}
