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
	"sync"
	"time"

	"github.com/opencord/voltha-lib-go/v7/pkg/db"
	"github.com/opencord/voltha-lib-go/v7/pkg/db/kvstore"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
)

// CBasePathWorkspaceKVStore - kv store path of the workspace records
const CBasePathWorkspaceKVStore = "service/lwm2m/workspaces"

//KVParamStorage persists parameters in a shared KV store (etcd) below a
//fixed path prefix; used when the device delegates its parameter storage to
//an external store instead of the local duplicated files
type KVParamStorage struct {
	mutexKVStore sync.RWMutex
	kvStore      *db.Backend
	instanceID   string
}

//NewKVParamStorage constructor returns a new instance of a KVParamStorage
func NewKVParamStorage(ctx context.Context, aKVClient kvstore.Client, aStoreType string, aAddress string,
	aTimeout time.Duration, aInstanceID string) *KVParamStorage {
	logger.Debugw(ctx, "init-KVParamStorage", log.Fields{
		"store-type": aStoreType, "address": aAddress, "instance-id": aInstanceID})
	kvbackend := &db.Backend{
		Client:     aKVClient,
		StoreType:  aStoreType,
		Address:    aAddress,
		Timeout:    aTimeout,
		PathPrefix: CBasePathWorkspaceKVStore}
	return &KVParamStorage{kvStore: kvbackend, instanceID: aInstanceID}
}

//SetParam writes the value below the instance specific KV path
func (ks *KVParamStorage) SetParam(ctx context.Context, aID cmn.ParamID, aValue []byte) error {
	ks.mutexKVStore.Lock()
	defer ks.mutexKVStore.Unlock()
	if err := ks.kvStore.Put(ctx, ks.paramKey(aID), aValue); err != nil {
		logger.Errorw(ctx, "unable to write parameter into KVstore", log.Fields{
			"param-id": aID, "instance-id": ks.instanceID, "error": err})
		return fmt.Errorf("%w: %s", cmn.ErrFault, err)
	}
	return nil
}

//GetParam reads the value below the instance specific KV path; nil without
//error when no record exists
func (ks *KVParamStorage) GetParam(ctx context.Context, aID cmn.ParamID) ([]byte, error) {
	ks.mutexKVStore.RLock()
	defer ks.mutexKVStore.RUnlock()
	value, err := ks.kvStore.Get(ctx, ks.paramKey(aID))
	if err != nil {
		logger.Errorw(ctx, "unable to read parameter from KVstore", log.Fields{
			"param-id": aID, "instance-id": ks.instanceID, "error": err})
		return nil, fmt.Errorf("%w: %s", cmn.ErrFault, err)
	}
	if value == nil {
		return nil, nil
	}
	tmpBytes, err := kvstore.ToByte(value.Value)
	if err != nil {
		logger.Errorw(ctx, "unable to convert parameter value", log.Fields{
			"param-id": aID, "instance-id": ks.instanceID, "error": err})
		return nil, fmt.Errorf("%w: %s", cmn.ErrFault, err)
	}
	return tmpBytes, nil
}

//DeleteParam removes the record below the instance specific KV path
func (ks *KVParamStorage) DeleteParam(ctx context.Context, aID cmn.ParamID) error {
	ks.mutexKVStore.Lock()
	defer ks.mutexKVStore.Unlock()
	if err := ks.kvStore.Delete(ctx, ks.paramKey(aID)); err != nil {
		logger.Errorw(ctx, "unable to delete parameter in KVstore", log.Fields{
			"param-id": aID, "instance-id": ks.instanceID, "error": err})
		return fmt.Errorf("%w: %s", cmn.ErrFault, err)
	}
	return nil
}

func (ks *KVParamStorage) paramKey(aID cmn.ParamID) string {
	return fmt.Sprintf("%s/param-%d", ks.instanceID, aID)
}
