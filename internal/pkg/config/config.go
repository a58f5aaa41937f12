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

//Package config provides the storage, log and download configuration
package config

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// LwM2M agent default constants
const (
	etcdStoreName            = "etcd"
	fileStoreName            = "file"
	defaultInstanceid        = "lwm2m-agent"
	defaultStoragetype       = fileStoreName
	defaultStoragepath       = "/data/le_fs/lwm2m"
	defaultKvstoretype       = etcdStoreName
	defaultKvstoretimeout    = 5 * time.Second
	defaultKvstoreaddress    = "127.0.0.1:2379"
	defaultPackagedir        = "/tmp"
	defaultLoglevel          = "WARN"
	defaultBanner            = false
	defaultDisplayVersion    = false
	defaultProbeHost         = ""
	defaultProbePort         = 8080
	defaultDownloadTimeout   = 60 * time.Second
	defaultDownloadRetryWait = 30 * time.Second
	defaultMaxFileTransfers  = 10
)

// AgentFlags represents the set of configurations used by the LwM2M client
// agent service
type AgentFlags struct {
	// Command line parameters
	InstanceID        string
	StorageType       string
	StoragePath       string
	KVStoreType       string
	KVStoreTimeout    time.Duration
	KVStoreAddress    string
	PackageDir        string
	LogLevel          string
	Banner            bool
	DisplayVersion    bool
	ProbeHost         string
	ProbePort         int
	DownloadTimeout   time.Duration
	DownloadRetryWait time.Duration
	MaxFileTransfers  int
}

// NewAgentFlags returns a new agent config
func NewAgentFlags() *AgentFlags {
	var agentFlags = AgentFlags{ // Default values
		InstanceID:        defaultInstanceid,
		StorageType:       defaultStoragetype,
		StoragePath:       defaultStoragepath,
		KVStoreType:       defaultKvstoretype,
		KVStoreTimeout:    defaultKvstoretimeout,
		KVStoreAddress:    defaultKvstoreaddress,
		PackageDir:        defaultPackagedir,
		LogLevel:          defaultLoglevel,
		Banner:            defaultBanner,
		DisplayVersion:    defaultDisplayVersion,
		ProbeHost:         defaultProbeHost,
		ProbePort:         defaultProbePort,
		DownloadTimeout:   defaultDownloadTimeout,
		DownloadRetryWait: defaultDownloadRetryWait,
		MaxFileTransfers:  defaultMaxFileTransfers,
	}
	return &agentFlags
}

// ParseCommandArguments parses the arguments when running the agent service
func (so *AgentFlags) ParseCommandArguments() {

	help := fmt.Sprintf("Workspace storage backend (file or etcd)")
	flag.StringVar(&(so.StorageType), "storage_type", defaultStoragetype, help)

	help = fmt.Sprintf("Base path for the duplicated parameter files of the file backend")
	flag.StringVar(&(so.StoragePath), "storage_path", defaultStoragepath, help)

	help = fmt.Sprintf("KV store type")
	flag.StringVar(&(so.KVStoreType), "kv_store_type", defaultKvstoretype, help)

	help = fmt.Sprintf("The default timeout when making a kv store request")
	flag.DurationVar(&(so.KVStoreTimeout), "kv_store_request_timeout", defaultKvstoretimeout, help)

	help = fmt.Sprintf("KV store address")
	flag.StringVar(&(so.KVStoreAddress), "kv_store_address", defaultKvstoreaddress, help)

	help = fmt.Sprintf("Local directory downloaded packages are stored to")
	flag.StringVar(&(so.PackageDir), "package_dir", defaultPackagedir, help)

	help = fmt.Sprintf("Log level")
	flag.StringVar(&(so.LogLevel), "log_level", defaultLoglevel, help)

	help = fmt.Sprintf("Show startup banner log lines")
	flag.BoolVar(&(so.Banner), "banner", defaultBanner, help)

	help = fmt.Sprintf("Show version information and exit")
	flag.BoolVar(&(so.DisplayVersion), "version", defaultDisplayVersion, help)

	help = fmt.Sprintf("The address on which to listen to answer liveness and readiness probe queries over HTTP.")
	flag.StringVar(&(so.ProbeHost), "probe_host", defaultProbeHost, help)

	help = fmt.Sprintf("The port on which to listen to answer liveness and readiness probe queries over HTTP.")
	flag.IntVar(&(so.ProbePort), "probe_port", defaultProbePort, help)

	help = fmt.Sprintf("Timeout supervising a single package download exchange")
	flag.DurationVar(&(so.DownloadTimeout), "download_timeout", defaultDownloadTimeout, help)

	help = fmt.Sprintf("Wait time before a suspended download is re-armed")
	flag.DurationVar(&(so.DownloadRetryWait), "download_retry_wait", defaultDownloadRetryWait, help)

	help = fmt.Sprintf("Maximum number of concurrently stored file transfers")
	flag.IntVar(&(so.MaxFileTransfers), "max_file_transfers", defaultMaxFileTransfers, help)

	flag.Parse()
	containerName := getContainerInfo()
	if len(containerName) > 0 {
		so.InstanceID = containerName
	}
}

func getContainerInfo() string {
	return os.Getenv("HOSTNAME")
}
