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
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/opencord/voltha-lib-go/v7/pkg/log"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
)

const (
	cFwPackageFile = "fw_package.bin"
	cSwPackageFile = "sw_package.bin"
	cPackageMode   = 0600
)

//FilePackageStorage stores the verified binary payload of a package as a
//plain file below the package directory, one file per update type
type FilePackageStorage struct {
	mutexFile sync.Mutex
	dir       string
	file      *os.File
}

//NewFilePackageStorage constructor returns a new instance of a
//FilePackageStorage
func NewFilePackageStorage(ctx context.Context, aDir string) (*FilePackageStorage, error) {
	logger.Debugw(ctx, "init-FilePackageStorage", log.Fields{"dir": aDir})
	if err := os.MkdirAll(aDir, 0700); err != nil {
		logger.Errorw(ctx, "could not create package directory", log.Fields{"dir": aDir, "error": err})
		return nil, fmt.Errorf("%w: %s", cmn.ErrFault, err)
	}
	return &FilePackageStorage{dir: aDir}, nil
}

//OpenForWrite starts (or with aResume continues) storing a package
func (ps *FilePackageStorage) OpenForWrite(ctx context.Context, aType cmn.UpdateType, aResume bool) error {
	ps.mutexFile.Lock()
	defer ps.mutexFile.Unlock()
	if ps.file != nil {
		return cmn.ErrInvalidState
	}
	flags := os.O_CREATE | os.O_WRONLY
	if aResume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	path := ps.packagePath(aType)
	file, err := os.OpenFile(filepath.Clean(path), flags, cPackageMode)
	if err != nil {
		logger.Errorw(ctx, "could not open package file", log.Fields{
			"path": path, "resume": aResume, "error": err})
		return fmt.Errorf("%w: %s", cmn.ErrFault, err)
	}
	ps.file = file
	logger.Debugw(ctx, "package file opened", log.Fields{"path": path, "resume": aResume})
	return nil
}

//WriteBinaryData appends payload bytes in stream order
func (ps *FilePackageStorage) WriteBinaryData(ctx context.Context, aData []byte) error {
	ps.mutexFile.Lock()
	defer ps.mutexFile.Unlock()
	if ps.file == nil {
		return cmn.ErrInvalidState
	}
	if _, err := ps.file.Write(aData); err != nil {
		logger.Errorw(ctx, "could not write package payload", log.Fields{"error": err})
		return fmt.Errorf("%w: %s", cmn.ErrFault, err)
	}
	return nil
}

//CloseWrite ends the store operation; with aComplete false the partial file
//is discarded
func (ps *FilePackageStorage) CloseWrite(ctx context.Context, aComplete bool) error {
	ps.mutexFile.Lock()
	defer ps.mutexFile.Unlock()
	if ps.file == nil {
		return nil
	}
	name := ps.file.Name()
	err := ps.file.Close()
	ps.file = nil
	if !aComplete {
		if rmErr := os.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warnw(ctx, "could not discard partial package file", log.Fields{
				"path": name, "error": rmErr})
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %s", cmn.ErrFault, err)
	}
	return nil
}

func (ps *FilePackageStorage) packagePath(aType cmn.UpdateType) string {
	name := cFwPackageFile
	if aType == cmn.UpdateTypeSoftware {
		name = cSwPackageFile
	}
	return filepath.Join(ps.dir, name)
}
