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
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/opencord/voltha-lib-go/v7/pkg/log"

	cmn "github.com/legatoproject/lwm2mcore-go/internal/pkg/common"
)

//HTTPTransport is the default transport adaptor of the package downloader,
//carrying one request/response exchange at a time over HTTP or HTTPS. Resume
//is mapped onto a Range request. All failures are wrapped with the transport
//error sentinels.
type HTTPTransport struct {
	mutexHTTP sync.Mutex
	timeout   time.Duration
	client    *http.Client
	useTLS    bool
	response  *http.Response
}

//NewHTTPTransport constructor returns a new instance of an HTTPTransport
//with the given per-call deadline
func NewHTTPTransport(aTimeout time.Duration) *HTTPTransport {
	return &HTTPTransport{timeout: aTimeout}
}

//InitForDownload prepares the HTTP client for a plain or TLS exchange
func (ht *HTTPTransport) InitForDownload(ctx context.Context, aUseTLS bool) error {
	ht.mutexHTTP.Lock()
	defer ht.mutexHTTP.Unlock()
	transport := &http.Transport{}
	if aUseTLS {
		transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	ht.useTLS = aUseTLS
	ht.client = &http.Client{Transport: transport}
	logger.Debugw(ctx, "http transport prepared", log.Fields{"tls": aUseTLS})
	return nil
}

//ConnectForDownload checks reachability of the package server; the actual
//request connection is managed by the HTTP client
func (ht *HTTPTransport) ConnectForDownload(ctx context.Context, aHost string, aPort uint16) error {
	address := net.JoinHostPort(aHost, fmt.Sprintf("%d", aPort))
	conn, err := net.DialTimeout("tcp", address, ht.timeout)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return fmt.Errorf("%w: %s", cmn.ErrTransportTimeout, err)
		}
		return fmt.Errorf("%w: %s", cmn.ErrTransportConnect, err)
	}
	_ = conn.Close()
	logger.Debugw(ctx, "package server reachable", log.Fields{"address": address})
	return nil
}

//SendForDownload issues the probe or body request of the current exchange
func (ht *HTTPTransport) SendForDownload(ctx context.Context, apRequest *cmn.DownloadRequest) error {
	if apRequest == nil {
		return fmt.Errorf("%w: nil request", cmn.ErrTransportSend)
	}
	ht.mutexHTTP.Lock()
	defer ht.mutexHTTP.Unlock()
	if ht.client == nil {
		return fmt.Errorf("%w: transport not initialized", cmn.ErrTransportSend)
	}
	ht.closeResponseLocked()
	req, err := http.NewRequestWithContext(ctx, apRequest.Method, apRequest.URI, nil)
	if err != nil {
		return fmt.Errorf("%w: %s", cmn.ErrTransportSend, err)
	}
	if apRequest.RangeOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", apRequest.RangeOffset))
	}
	resp, err := ht.client.Do(req)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return fmt.Errorf("%w: %s", cmn.ErrTransportTimeout, err)
		}
		return fmt.Errorf("%w: %s", cmn.ErrTransportSend, err)
	}
	ht.response = resp
	logger.Debugw(ctx, "download request sent", log.Fields{
		"method": apRequest.Method, "range-offset": apRequest.RangeOffset, "status": resp.StatusCode})
	return nil
}

//ReadForDownload fills aBuf with response body bytes; io.EOF ends the stream
func (ht *HTTPTransport) ReadForDownload(ctx context.Context, aBuf []byte) (int, error) {
	ht.mutexHTTP.Lock()
	resp := ht.response
	ht.mutexHTTP.Unlock()
	if resp == nil || resp.Body == nil {
		return 0, fmt.Errorf("%w: no exchange in progress", cmn.ErrTransportRecv)
	}
	n, err := resp.Body.Read(aBuf)
	if err != nil && err != io.EOF {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return n, fmt.Errorf("%w: %s", cmn.ErrTransportTimeout, err)
		}
		return n, fmt.Errorf("%w: %s", cmn.ErrTransportRecv, err)
	}
	return n, err
}

//GetDownloadStatus reports the status code and the announced content length
//of the current exchange
func (ht *HTTPTransport) GetDownloadStatus(ctx context.Context) (int, int64) {
	ht.mutexHTTP.Lock()
	defer ht.mutexHTTP.Unlock()
	if ht.response == nil {
		return 0, 0
	}
	return ht.response.StatusCode, ht.response.ContentLength
}

//DisconnectForDownload closes the current exchange
func (ht *HTTPTransport) DisconnectForDownload(ctx context.Context) error {
	ht.mutexHTTP.Lock()
	defer ht.mutexHTTP.Unlock()
	ht.closeResponseLocked()
	return nil
}

//FreeForDownload releases the client and its idle connections
func (ht *HTTPTransport) FreeForDownload(ctx context.Context) {
	ht.mutexHTTP.Lock()
	defer ht.mutexHTTP.Unlock()
	ht.closeResponseLocked()
	if ht.client != nil {
		ht.client.CloseIdleConnections()
		ht.client = nil
	}
}

func (ht *HTTPTransport) closeResponseLocked() {
	if ht.response != nil && ht.response.Body != nil {
		_ = ht.response.Body.Close()
	}
	ht.response = nil
}
