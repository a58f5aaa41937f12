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

//Package main -> this is the entry point of the LwM2M agent
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencord/voltha-lib-go/v7/pkg/db/kvstore"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/opencord/voltha-lib-go/v7/pkg/probe"

	"github.com/legatoproject/lwm2mcore-go/config/version"
	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/config"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/ftrans"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/pstore"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/swtimer"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/swupg"
	"github.com/legatoproject/lwm2mcore-go/internal/pkg/workspace"
)

var logger log.CLogger

func init() {
	// Setup this package so that it's log level can be modified at run time
	var err error
	logger, err = log.RegisterPackage(log.JSON, log.ErrorLevel, log.Fields{})
	if err != nil {
		panic(err)
	}
}

type agent struct {
	instanceID   string
	config       *config.AgentFlags
	kvClient     kvstore.Client
	wsStore      *workspace.Store
	timers       *swtimer.Service
	propagator   *swupg.StatusPropagator
	downloader   *swupg.PackageDownloader
	fileTransfer *ftrans.FileTransferManager
}

func newAgent(cf *config.AgentFlags) *agent {
	return &agent{
		instanceID: cf.InstanceID,
		config:     cf,
	}
}

func (ag *agent) start(ctx context.Context) error {
	logger.Info(ctx, "starting lwm2m agent components")

	var p *probe.Probe
	if value := ctx.Value(probe.ProbeContextKey); value != nil {
		if _, ok := value.(*probe.Probe); ok {
			p = value.(*probe.Probe)
			p.RegisterService(ctx,
				"workspace-storage",
				"package-downloader",
			)
		}
	}

	storage, err := ag.setupParamStorage(ctx)
	if err != nil {
		logger.Errorw(ctx, "error-setting-up-workspace-storage", log.Fields{"error": err})
		return err
	}
	if p != nil {
		p.UpdateStatus(ctx, "workspace-storage", probe.ServiceStatusRunning)
	}

	ag.wsStore = workspace.NewStore(ctx, storage)
	ag.timers = swtimer.NewService()
	ag.propagator = swupg.NewStatusPropagator()

	pkgStore, err := swupg.NewFilePackageStorage(ctx, ag.config.PackageDir)
	if err != nil {
		logger.Errorw(ctx, "error-setting-up-package-storage", log.Fields{"error": err})
		return err
	}
	transport := swupg.NewHTTPTransport(ag.config.DownloadTimeout)
	ag.downloader = swupg.NewPackageDownloader(ctx, ag.instanceID, transport, pkgStore,
		ag.wsStore, ag.timers, ag.propagator, ag.config.DownloadRetryWait)
	ag.fileTransfer = ftrans.NewFileTransferManager(ctx, ag.instanceID, ag.wsStore,
		ag.timers, ag.propagator, ag.config.MaxFileTransfers)
	if p != nil {
		p.UpdateStatus(ctx, "package-downloader", probe.ServiceStatusRunning)
	}

	ag.checkResumableDownload(ctx)
	return nil
}

//checkResumableDownload re-arms a transfer that survived a restart
func (ag *agent) checkResumableDownload(ctx context.Context) {
	updateType, packageSize, err := ag.downloader.GetDownloadInfo(ctx)
	if err != nil {
		logger.Warnw(ctx, "could not check for resumable download", log.Fields{"error": err})
		return
	}
	if updateType == cmn.UpdateTypeNone {
		logger.Debug(ctx, "no resumable download pending")
		return
	}
	logger.Infow(ctx, "resumable download found - re-arming", log.Fields{
		"type": updateType.String(), "size": packageSize})
	ag.propagator.Notify(ctx, cmn.EventInfo{
		Event: cmn.EventDownloadDetails, UpdateType: updateType, PackageSize: packageSize})
	if err := ag.downloader.RequestDownloadRetry(ctx); err != nil {
		logger.Warnw(ctx, "could not re-arm download", log.Fields{"error": err})
	}
}

func (ag *agent) setupParamStorage(ctx context.Context) (cmn.ParamStorage, error) {
	switch ag.config.StorageType {
	case "file":
		return pstore.NewFileParamStorage(ctx, ag.config.StoragePath)
	case "etcd":
		client, err := newKVClient(ctx, ag.config.KVStoreType, ag.config.KVStoreAddress,
			ag.config.KVStoreTimeout)
		if err != nil {
			return nil, err
		}
		ag.kvClient = client
		return pstore.NewKVParamStorage(ctx, client, ag.config.KVStoreType,
			ag.config.KVStoreAddress, ag.config.KVStoreTimeout, ag.instanceID), nil
	}
	return nil, errors.New("unsupported-storage-type")
}

func (ag *agent) stop(ctx context.Context) {
	if ag.kvClient != nil {
		ag.kvClient.Close(ctx)
	}
}

func newKVClient(ctx context.Context, storeType string, address string, timeout time.Duration) (kvstore.Client, error) {
	logger.Infow(ctx, "kv-store-type", log.Fields{"store": storeType})
	switch storeType {
	case "etcd":
		return kvstore.NewEtcdClient(ctx, address, timeout, log.FatalLevel)
	}
	return nil, errors.New("unsupported-kv-store")
}

func printVersion(appName string) {
	fmt.Println(appName)
	fmt.Println(version.VersionInfo.String("  "))
}

func printBanner() {
	fmt.Println("  _        __  __ ___  __  __ ")
	fmt.Println(" | |_ __ _|  \\/  |__ \\|  \\/  |")
	fmt.Println(" | | '_ ' | \\  / |  ) | \\  / |")
	fmt.Println(" | | |/\\| | |\\/| | / /| |\\/| |")
	fmt.Println(" | | /  \\ | |  | |/ /_| |  | |")
	fmt.Println(" |_|__/\\__|_|  |_|____|_|  |_|")
	fmt.Println("                              ")
}

func waitForExit(ctx context.Context) int {
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	exitChannel := make(chan int)

	go func() {
		select {
		case <-ctx.Done():
			logger.Infow(ctx, "agent run aborted due to internal errors", log.Fields{"context": "done"})
			exitChannel <- 2
		case s := <-signalChannel:
			switch s {
			case syscall.SIGHUP,
				syscall.SIGINT,
				syscall.SIGTERM,
				syscall.SIGQUIT:
				logger.Infow(ctx, "closing-signal-received", log.Fields{"signal": s})
				exitChannel <- 0
			default:
				logger.Infow(ctx, "unexpected-signal-received", log.Fields{"signal": s})
				exitChannel <- 1
			}
		}
	}()

	code := <-exitChannel
	return code
}

func main() {
	start := time.Now()

	cf := config.NewAgentFlags()
	defaultAppName := cf.InstanceID + "_" + version.GetCodeVersion()
	cf.ParseCommandArguments()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup logging

	logLevel, err := log.StringToLogLevel(cf.LogLevel)
	if err != nil {
		logger.Fatalf(ctx, "Cannot setup logging, %s", err)
	}

	// Setup default logger - applies for packages that do not have specific logger set
	if _, err := log.SetDefaultLogger(log.JSON, logLevel, log.Fields{"instanceId": cf.InstanceID}); err != nil {
		logger.With(log.Fields{"error": err}).Fatal(ctx, "Cannot setup logging")
	}

	// Update all loggers (provisioned via init) with a common field
	if err := log.UpdateAllLoggers(log.Fields{"instanceId": cf.InstanceID}); err != nil {
		logger.With(log.Fields{"error": err}).Fatal(ctx, "Cannot setup logging")
	}

	log.SetAllLogLevel(logLevel)

	defer func() {
		_ = log.CleanUp()
	}()

	// Print version / build information and exit
	if cf.DisplayVersion {
		printVersion(defaultAppName)
		return
	}
	logger.Infow(ctx, "config", log.Fields{"StartName": defaultAppName})
	logger.Infow(ctx, "config", log.Fields{"BuildVersion": version.VersionInfo.String("  ")})
	logger.Infow(ctx, "config", log.Fields{"Arguments": os.Args[1:]})

	// Print banner if specified
	if cf.Banner {
		printBanner()
	}

	logger.Infow(ctx, "config", log.Fields{"config": *cf})

	ag := newAgent(cf)

	p := &probe.Probe{}
	go p.ListenAndServe(ctx, fmt.Sprintf("%s:%d", cf.ProbeHost, cf.ProbePort))

	probeCtx := context.WithValue(ctx, probe.ProbeContextKey, p)

	go func() {
		err := ag.start(probeCtx)
		// If this operation returns an error
		// cancel all operations using this context
		if err != nil {
			cancel()
		}
	}()

	code := waitForExit(ctx)
	logger.Infow(ctx, "received-a-closing-signal", log.Fields{"code": code})

	// Cleanup before leaving
	ag.stop(ctx)

	elapsed := time.Since(start)
	logger.Infow(ctx, "run-time", log.Fields{"Name": "lwm2m-agent", "time": elapsed / time.Microsecond})
}
