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

package pstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
)

func newTestFileStorage(t *testing.T) *FileParamStorage {
	fs, err := NewFileParamStorage(context.Background(), t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := newTestFileStorage(t)

	require.NoError(t, fs.SetParam(ctx, cmn.ParamIDPkgDwlWorkspace, []byte("record-v1")))
	value, err := fs.GetParam(ctx, cmn.ParamIDPkgDwlWorkspace)
	require.NoError(t, err)
	assert.Equal(t, []byte("record-v1"), value)
}

func TestFileStoreWritesPrimaryAndBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileParamStorage(ctx, dir)
	require.NoError(t, err)

	require.NoError(t, fs.SetParam(ctx, cmn.ParamIDPkgDwlWorkspace, []byte("duplicated")))
	primary, err := os.ReadFile(filepath.Join(dir, "param10.txt"))
	require.NoError(t, err)
	backup, err := os.ReadFile(filepath.Join(dir, "param10.bak"))
	require.NoError(t, err)
	assert.Equal(t, primary, backup)
}

func TestFileStoreFallsBackToBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileParamStorage(ctx, dir)
	require.NoError(t, err)

	require.NoError(t, fs.SetParam(ctx, cmn.ParamIDPkgDwlWorkspace, []byte("survivor")))
	// the primary file is lost, the backup must still serve the read
	require.NoError(t, os.Remove(filepath.Join(dir, "param10.txt")))

	value, err := fs.GetParam(ctx, cmn.ParamIDPkgDwlWorkspace)
	require.NoError(t, err)
	assert.Equal(t, []byte("survivor"), value)
}

func TestFileStoreAbsentRecordIsNilWithoutError(t *testing.T) {
	ctx := context.Background()
	fs := newTestFileStorage(t)

	value, err := fs.GetParam(ctx, cmn.ParamIDFileTransferWorkspace)
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestFileStoreDeleteRemovesBothFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileParamStorage(ctx, dir)
	require.NoError(t, err)

	require.NoError(t, fs.SetParam(ctx, cmn.ParamIDPkgDwlWorkspace, []byte("doomed")))
	require.NoError(t, fs.DeleteParam(ctx, cmn.ParamIDPkgDwlWorkspace))

	_, errPrimary := os.Stat(filepath.Join(dir, "param10.txt"))
	_, errBackup := os.Stat(filepath.Join(dir, "param10.bak"))
	assert.True(t, os.IsNotExist(errPrimary))
	assert.True(t, os.IsNotExist(errBackup))

	// deleting again is no error
	assert.NoError(t, fs.DeleteParam(ctx, cmn.ParamIDPkgDwlWorkspace))
}
