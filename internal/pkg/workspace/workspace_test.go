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

package workspace

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/pstore"
)

func newTestStore(t *testing.T) *Store {
	fs, err := pstore.NewFileParamStorage(context.Background(), t.TempDir())
	require.NoError(t, err)
	return NewStore(context.Background(), fs)
}

func TestPkgDwlWorkspaceDefaultsWhenAbsent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	ws, err := st.ReadPkgDwlWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateStateIdle, ws.FwState)
	assert.Equal(t, cmn.FwUpdateResultDefaultNormal, ws.FwResult)
	assert.Equal(t, cmn.UpdateTypeNone, ws.UpdateType)
	assert.Equal(t, uint64(0), ws.Offset)
}

func TestPkgDwlWorkspaceRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	ws := NewPkgDwlWorkspace()
	ws.Offset = 123456
	ws.Section = 2
	ws.Subsection = 42
	ws.PackageCRC = 0xDEADBEEF
	ws.BinarySize = 1000
	ws.RemainingBinaryData = 400
	ws.Sha1Ctx = []byte{1, 2, 3}
	ws.URL = "http://host/package.bin"
	ws.PackageSize = 2000
	ws.UpdateType = cmn.UpdateTypeFirmware
	ws.FwState = cmn.FwUpdateStateDownloading
	require.NoError(t, st.WritePkgDwlWorkspace(ctx, ws))

	got, err := st.ReadPkgDwlWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, ws, got)
}

func TestPkgDwlWorkspaceVersionMismatchYieldsDefaultsAndDeletesRecord(t *testing.T) {
	ctx := context.Background()
	fs, err := pstore.NewFileParamStorage(ctx, t.TempDir())
	require.NoError(t, err)
	st := NewStore(ctx, fs)

	stale := NewPkgDwlWorkspace()
	stale.Version = CPkgDwlWorkspaceVersion + 1
	stale.URL = "http://host/old.bin"
	stale.FwState = cmn.FwUpdateStateDownloading
	raw, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, fs.SetParam(ctx, cmn.ParamIDPkgDwlWorkspace, raw))

	got, err := st.ReadPkgDwlWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateStateIdle, got.FwState)
	assert.Empty(t, got.URL)

	// the stale record must be gone from storage
	value, err := fs.GetParam(ctx, cmn.ParamIDPkgDwlWorkspace)
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestPkgDwlWorkspaceUndecodableYieldsDefaults(t *testing.T) {
	ctx := context.Background()
	fs, err := pstore.NewFileParamStorage(ctx, t.TempDir())
	require.NoError(t, err)
	st := NewStore(ctx, fs)

	require.NoError(t, fs.SetParam(ctx, cmn.ParamIDPkgDwlWorkspace, []byte("{not json")))
	got, err := st.ReadPkgDwlWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateStateIdle, got.FwState)
	assert.Equal(t, cmn.FwUpdateResultDefaultNormal, got.FwResult)
}

func TestPkgDwlWorkspaceClampsCorruptEnums(t *testing.T) {
	ctx := context.Background()
	fs, err := pstore.NewFileParamStorage(ctx, t.TempDir())
	require.NoError(t, err)
	st := NewStore(ctx, fs)

	corrupt := NewPkgDwlWorkspace()
	corrupt.FwState = cmn.FwUpdateState(250)
	corrupt.FwResult = cmn.FwUpdateResult(251)
	corrupt.UpdateType = cmn.UpdateType(252)
	raw, err := json.Marshal(corrupt)
	require.NoError(t, err)
	require.NoError(t, fs.SetParam(ctx, cmn.ParamIDPkgDwlWorkspace, raw))

	got, err := st.ReadPkgDwlWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateStateIdle, got.FwState)
	assert.Equal(t, cmn.FwUpdateResultDefaultNormal, got.FwResult)
	assert.Equal(t, cmn.UpdateTypeNone, got.UpdateType)
}

func TestPkgDwlWorkspaceClampsRemainingBeyondBinarySize(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	ws := NewPkgDwlWorkspace()
	ws.BinarySize = 100
	ws.RemainingBinaryData = 100
	require.NoError(t, st.WritePkgDwlWorkspace(ctx, ws))

	// corrupt the counters through a direct write
	ws.RemainingBinaryData = 500
	require.NoError(t, st.WritePkgDwlWorkspace(ctx, ws))

	got, err := st.ReadPkgDwlWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), got.RemainingBinaryData)
}

func TestGetDownloadProgress(t *testing.T) {
	ws := NewPkgDwlWorkspace()
	assert.Equal(t, uint8(0), ws.GetDownloadProgress())

	ws.PackageSize = 1000
	ws.BinarySize = 1000
	ws.RemainingBinaryData = 1000
	assert.Equal(t, uint8(0), ws.GetDownloadProgress())

	ws.RemainingBinaryData = 500
	assert.Equal(t, uint8(50), ws.GetDownloadProgress())

	ws.RemainingBinaryData = 0
	assert.Equal(t, uint8(100), ws.GetDownloadProgress())
}

func TestGetDownloadProgressBeforePrologParsed(t *testing.T) {
	// PackageSize from the server is known but no binary byte was parsed
	// yet, progress must not jump to 100
	ws := NewPkgDwlWorkspace()
	ws.PackageSize = 1000
	ws.BinarySize = 0
	ws.RemainingBinaryData = 0
	assert.Equal(t, uint8(0), ws.GetDownloadProgress())
}

func TestGetDownloadProgressWithLyingPackageSize(t *testing.T) {
	// a server that announced fewer bytes than the envelope carries must
	// not drive the subtraction below zero
	ws := NewPkgDwlWorkspace()
	ws.PackageSize = 10
	ws.BinarySize = 100
	ws.RemainingBinaryData = 100
	assert.Equal(t, uint8(0), ws.GetDownloadProgress())
}

func TestDeletePkgDwlWorkspaceResetsToDefaults(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	ws := NewPkgDwlWorkspace()
	ws.URL = "http://host/package.bin"
	ws.FwState = cmn.FwUpdateStateDownloaded
	require.NoError(t, st.WritePkgDwlWorkspace(ctx, ws))
	require.NoError(t, st.DeletePkgDwlWorkspace(ctx))

	got, err := st.ReadPkgDwlWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FwUpdateStateIdle, got.FwState)
	assert.Empty(t, got.URL)
}

func TestFileTransferWorkspaceRoundTripAndClamp(t *testing.T) {
	ctx := context.Background()
	fs, err := pstore.NewFileParamStorage(ctx, t.TempDir())
	require.NoError(t, err)
	st := NewStore(ctx, fs)

	ws := NewFileTransferWorkspace()
	ws.TransferState = cmn.FileTransferStateTransferring
	ws.TransferResult = cmn.FileTransferResultInitial
	ws.FailureReason = "none"
	require.NoError(t, st.WriteFileTransferWorkspace(ctx, ws))

	got, err := st.ReadFileTransferWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, ws, got)

	corrupt := NewFileTransferWorkspace()
	corrupt.TransferState = cmn.FileTransferState(99)
	corrupt.TransferResult = cmn.FileTransferResult(98)
	raw, err := json.Marshal(corrupt)
	require.NoError(t, err)
	require.NoError(t, fs.SetParam(ctx, cmn.ParamIDFileTransferWorkspace, raw))

	got, err = st.ReadFileTransferWorkspace(ctx)
	require.NoError(t, err)
	assert.Equal(t, cmn.FileTransferStateIdle, got.TransferState)
	assert.Equal(t, cmn.FileTransferResultInitial, got.TransferResult)
}
