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

//Package common provides global definitions
package common

import (
	"context"
)

// ParamStorage is the generic keyed blob store backing the persistent
// workspace records (and usable by the engine for credentials). Values are
// whole records; there is no partial update.
type ParamStorage interface {
	// SetParam persists the value under the given id. The record must be
	// durable when the call returns nil.
	SetParam(ctx context.Context, aID ParamID, aValue []byte) error
	// GetParam returns the stored value, or nil when no record exists.
	GetParam(ctx context.Context, aID ParamID) ([]byte, error)
	// DeleteParam removes the record; deleting an absent record is no error.
	DeleteParam(ctx context.Context, aID ParamID) error
}

// DownloadRequest describes the single in-flight request/response exchange
// carried by the transport primitives.
type DownloadRequest struct {
	// Method is "HEAD" for the size probe or "GET" for the body stream.
	Method string
	// URI is the full package URI.
	URI string
	// RangeOffset is the first byte requested; 0 requests the full body.
	RangeOffset uint64
}

// DownloadTransport is the pluggable byte-stream transport of the package
// downloader. Implementations wrap their failures with the transport error
// sentinels so the driver can translate them into its own vocabulary. All
// calls must return within a transport-enforced bounded timeout.
type DownloadTransport interface {
	// InitForDownload prepares a transport context for a plain or TLS exchange.
	InitForDownload(ctx context.Context, aUseTLS bool) error
	// ConnectForDownload opens the connection towards the package server.
	ConnectForDownload(ctx context.Context, aHost string, aPort uint16) error
	// SendForDownload issues the request of the current exchange.
	SendForDownload(ctx context.Context, apRequest *DownloadRequest) error
	// ReadForDownload fills aBuf with response body bytes; it returns io.EOF
	// at the end of the stream.
	ReadForDownload(ctx context.Context, aBuf []byte) (int, error)
	// GetDownloadStatus reports the response status code and the announced
	// content length of the current exchange (after SendForDownload).
	GetDownloadStatus(ctx context.Context) (int, int64)
	// DisconnectForDownload closes the current exchange.
	DisconnectForDownload(ctx context.Context) error
	// FreeForDownload releases the transport context.
	FreeForDownload(ctx context.Context)
}

// PackageStorage receives the verified binary payload of a package. Only the
// binary region of the envelope reaches this sink.
type PackageStorage interface {
	// OpenForWrite starts (or with aResume continues) storing a package.
	OpenForWrite(ctx context.Context, aType UpdateType, aResume bool) error
	// WriteBinaryData appends payload bytes in stream order.
	WriteBinaryData(ctx context.Context, aData []byte) error
	// CloseWrite ends the store operation; aComplete is false on abort.
	CloseWrite(ctx context.Context, aComplete bool) error
}

// EventHandler is the single callback the core engine registers to consume
// session-level status events.
type EventHandler func(ctx context.Context, aInfo EventInfo)
