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

//Package pstore provides the parameter storage backends for the workspace records
package pstore

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
	cPrimarySuffix = ".txt"
	cBackupSuffix  = ".bak"
	cParamFileMode = 0600
)

//FileParamStorage persists each parameter as a primary file mirrored to a
//backup file under a fixed naming convention (<base><id>.txt / .bak). A
//record counts as durable only when both files are written; reads fall back
//to the backup when the primary is unreadable.
type FileParamStorage struct {
	mutexParams sync.Mutex
	basePath    string
}

//NewFileParamStorage constructor returns a new instance of a FileParamStorage
func NewFileParamStorage(ctx context.Context, aBasePath string) (*FileParamStorage, error) {
	logger.Debugw(ctx, "init-FileParamStorage", log.Fields{"base-path": aBasePath})
	if err := os.MkdirAll(aBasePath, 0700); err != nil {
		logger.Errorw(ctx, "could not create storage directory", log.Fields{"base-path": aBasePath, "error": err})
		return nil, fmt.Errorf("%w: %s", cmn.ErrFault, err)
	}
	return &FileParamStorage{basePath: aBasePath}, nil
}

//SetParam writes the value to the primary file and mirrors it to the backup
//file; both must succeed before the record is reported stored
func (fs *FileParamStorage) SetParam(ctx context.Context, aID cmn.ParamID, aValue []byte) error {
	fs.mutexParams.Lock()
	defer fs.mutexParams.Unlock()
	primary := fs.paramPath(aID, cPrimarySuffix)
	if err := os.WriteFile(primary, aValue, cParamFileMode); err != nil {
		logger.Errorw(ctx, "could not write primary parameter file", log.Fields{
			"param-id": aID, "path": primary, "error": err})
		return fmt.Errorf("%w: %s", cmn.ErrFault, err)
	}
	backup := fs.paramPath(aID, cBackupSuffix)
	if err := os.WriteFile(backup, aValue, cParamFileMode); err != nil {
		logger.Errorw(ctx, "could not mirror parameter to backup file", log.Fields{
			"param-id": aID, "path": backup, "error": err})
		return fmt.Errorf("%w: %s", cmn.ErrFault, err)
	}
	return nil
}

//GetParam reads the primary file, falling back to the backup file when the
//primary is unreadable; nil is returned when neither file exists
func (fs *FileParamStorage) GetParam(ctx context.Context, aID cmn.ParamID) ([]byte, error) {
	fs.mutexParams.Lock()
	defer fs.mutexParams.Unlock()
	primary := fs.paramPath(aID, cPrimarySuffix)
	value, err := os.ReadFile(filepath.Clean(primary))
	if err == nil {
		return value, nil
	}
	logger.Debugw(ctx, "primary parameter file unreadable - trying backup", log.Fields{
		"param-id": aID, "path": primary, "error": err})
	backup := fs.paramPath(aID, cBackupSuffix)
	value, errBak := os.ReadFile(filepath.Clean(backup))
	if errBak == nil {
		return value, nil
	}
	if os.IsNotExist(err) && os.IsNotExist(errBak) {
		// no record at all - not a fault
		return nil, nil
	}
	logger.Errorw(ctx, "backup parameter file unreadable", log.Fields{
		"param-id": aID, "path": backup, "error": errBak})
	return nil, fmt.Errorf("%w: %s", cmn.ErrFault, errBak)
}

//DeleteParam removes primary and backup file; an absent record is no error
func (fs *FileParamStorage) DeleteParam(ctx context.Context, aID cmn.ParamID) error {
	fs.mutexParams.Lock()
	defer fs.mutexParams.Unlock()
	var firstErr error
	for _, suffix := range []string{cPrimarySuffix, cBackupSuffix} {
		path := fs.paramPath(aID, suffix)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Errorw(ctx, "could not remove parameter file", log.Fields{
				"param-id": aID, "path": path, "error": err})
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s", cmn.ErrFault, err)
			}
		}
	}
	return firstErr
}

func (fs *FileParamStorage) paramPath(aID cmn.ParamID, aSuffix string) string {
	return filepath.Join(fs.basePath, fmt.Sprintf("param%d%s", aID, aSuffix))
}
