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
	"errors"
)

// MaxPackageURILen is the maximum accepted length of a package URI as exposed
// on the firmware/software update objects.
const MaxPackageURILen = 255

// MaxFailureReasonLen bounds the human-readable failure reason string of the
// file transfer object.
const MaxFailureReasonLen = 255

// DwlRetries is the maximum number of connect attempts before a download
// operation is reported failed.
const DwlRetries = 5

// UpdateType discriminates the package kind of the single in-flight (or most
// recently finished) transfer. Exactly one transfer is tracked at a time.
type UpdateType uint8

const (
	// UpdateTypeNone - no transfer configured
	UpdateTypeNone UpdateType = iota
	// UpdateTypeFirmware - firmware package (object 5)
	UpdateTypeFirmware
	// UpdateTypeSoftware - software package (object 9)
	UpdateTypeSoftware
)

// String - text representation of the update type
func (u UpdateType) String() string {
	switch u {
	case UpdateTypeFirmware:
		return "firmware"
	case UpdateTypeSoftware:
		return "software"
	default:
		return "none"
	}
}

// FwUpdateState - values of the update state resource as observable by the
// management server
type FwUpdateState uint8

const (
	// FwUpdateStateIdle - no update in progress
	FwUpdateStateIdle FwUpdateState = iota
	// FwUpdateStateDownloading - package transfer ongoing
	FwUpdateStateDownloading
	// FwUpdateStateDownloaded - package received and verified
	FwUpdateStateDownloaded
	// FwUpdateStateUpdating - install accepted and running
	FwUpdateStateUpdating
	// FwUpdateStateWaitInstallResult - parked until the platform reports the
	// install outcome
	FwUpdateStateWaitInstallResult
)

// FwUpdateStateMax is the highest known state value; anything above it read
// from storage is treated as corruption and clamped to idle.
const FwUpdateStateMax = FwUpdateStateWaitInstallResult

// String - text representation of the update state
func (s FwUpdateState) String() string {
	names := [...]string{
		"idle",
		"downloading",
		"downloaded",
		"updating",
		"wait-install-result",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "invalid"
}

// FwUpdateResult - values of the update result resource, end states that are
// only cleared by starting a brand-new download
type FwUpdateResult uint8

const (
	// FwUpdateResultDefaultNormal - initial value, no terminal outcome yet
	FwUpdateResultDefaultNormal FwUpdateResult = iota
	// FwUpdateResultInstalledSuccessful - update installed
	FwUpdateResultInstalledSuccessful
	// FwUpdateResultNoStorageSpace - not enough storage for the package
	FwUpdateResultNoStorageSpace
	// FwUpdateResultOutOfMemory - out of RAM during download
	FwUpdateResultOutOfMemory
	// FwUpdateResultConnectionLost - connection lost during download
	FwUpdateResultConnectionLost
	// FwUpdateResultIntegrityCheckFailure - CRC or signature mismatch
	FwUpdateResultIntegrityCheckFailure
	// FwUpdateResultUnsupportedPackageType - package envelope not understood
	FwUpdateResultUnsupportedPackageType
	// FwUpdateResultInvalidURI - malformed or over-long package URI
	FwUpdateResultInvalidURI
	// FwUpdateResultUpdateFailed - install failed
	FwUpdateResultUpdateFailed
	// FwUpdateResultUnsupportedProtocol - URI scheme not supported
	FwUpdateResultUnsupportedProtocol
	// FwUpdateResultUpdateCancelled - transfer aborted on request
	FwUpdateResultUpdateCancelled
)

// FwUpdateResultMax is the highest known result value for clamping on read.
const FwUpdateResultMax = FwUpdateResultUpdateCancelled

// String - text representation of the update result
func (r FwUpdateResult) String() string {
	names := [...]string{
		"default-normal",
		"installed-successful",
		"no-storage-space",
		"out-of-memory",
		"connection-lost",
		"integrity-check-failure",
		"unsupported-package-type",
		"invalid-uri",
		"update-failed",
		"unsupported-protocol",
		"update-cancelled",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return "invalid"
}

///////////////////////////////////////////////////////////

// DownloadErrorCode is the closed set of downloader-error categories the
// protocol driver translates transport failures into.
type DownloadErrorCode uint8

const (
	// DwlErrNone - no error
	DwlErrNone DownloadErrorCode = iota
	// DwlErrInvalidArg - bad input, detected before any state mutation
	DwlErrInvalidArg
	// DwlErrMemory - memory allocation failure in the transport
	DwlErrMemory
	// DwlErrConnection - connect step failed
	DwlErrConnection
	// DwlErrSend - request could not be sent
	DwlErrSend
	// DwlErrRecv - response read failed mid-stream
	DwlErrRecv
	// DwlErrTimeout - transport-enforced timeout expired
	DwlErrTimeout
	// DwlErrNet - HTTP-level non-2xx response (status retrievable separately)
	DwlErrNet
	// DwlErrRetriesExhausted - connect retries exhausted without a definitive
	// error cause
	DwlErrRetriesExhausted
	// DwlErrAborted - transfer aborted on request
	DwlErrAborted
	// DwlErrFault - transport failure outside the classified set
	DwlErrFault
)

// String - text representation of the downloader error category
func (c DownloadErrorCode) String() string {
	names := [...]string{
		"none",
		"invalid-argument",
		"memory-error",
		"connection-error",
		"send-error",
		"receive-error",
		"timeout",
		"network-error",
		"retries-exhausted",
		"aborted",
		"fault",
	}
	if int(c) < len(names) {
		return names[c]
	}
	return "invalid"
}

// UpdateResultForDownloadError maps a downloader error category onto the
// server-visible update result space.
func UpdateResultForDownloadError(aCode DownloadErrorCode) FwUpdateResult {
	switch aCode {
	case DwlErrInvalidArg:
		return FwUpdateResultInvalidURI
	case DwlErrMemory:
		return FwUpdateResultOutOfMemory
	case DwlErrConnection, DwlErrSend, DwlErrRecv, DwlErrTimeout, DwlErrNet,
		DwlErrRetriesExhausted, DwlErrFault:
		return FwUpdateResultConnectionLost
	case DwlErrAborted:
		return FwUpdateResultUpdateCancelled
	default:
		return FwUpdateResultUpdateFailed
	}
}

///////////////////////////////////////////////////////////

// input and state-guard errors of the downloader and state machine operations
var (
	// ErrInvalidArg - bad argument, returned before any state mutation
	ErrInvalidArg = errors.New("invalid-argument")
	// ErrInvalidState - operation rejected by a (state, result) guard
	ErrInvalidState = errors.New("invalid-state")
	// ErrFault - underlying storage I/O error
	ErrFault = errors.New("storage-fault")
	// ErrOverflow - value exceeds a declared bound
	ErrOverflow = errors.New("overflow")
)

// transport error sentinels; transport adaptors wrap their failures with these
// so the protocol driver can translate them into DownloadErrorCode without
// knowing the transport specifics
var (
	// ErrTransportMemory - allocation failure
	ErrTransportMemory = errors.New("transport-memory")
	// ErrTransportConnect - connect failure
	ErrTransportConnect = errors.New("transport-connect")
	// ErrTransportSend - send failure
	ErrTransportSend = errors.New("transport-send")
	// ErrTransportRecv - receive failure
	ErrTransportRecv = errors.New("transport-receive")
	// ErrTransportTimeout - bounded timeout expired
	ErrTransportTimeout = errors.New("transport-timeout")
)

///////////////////////////////////////////////////////////

// FileTransferState - states of the generic file transfer object (33406)
type FileTransferState uint8

const (
	// FileTransferStateIdle - no transfer
	FileTransferStateIdle FileTransferState = iota
	// FileTransferStateProcessing - transfer request accepted, not yet streaming
	FileTransferStateProcessing
	// FileTransferStateTransferring - bytes are flowing
	FileTransferStateTransferring
	// FileTransferStateSuspended - transfer paused, resume fields preserved
	FileTransferStateSuspended
)

// FileTransferStateMax is the highest known transfer state for clamping.
const FileTransferStateMax = FileTransferStateSuspended

// String - text representation of the file transfer state
func (s FileTransferState) String() string {
	names := [...]string{
		"idle",
		"processing",
		"transferring",
		"suspended",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "invalid"
}

// FileTransferResult - terminal results of a file transfer
type FileTransferResult uint8

const (
	// FileTransferResultInitial - no outcome yet
	FileTransferResultInitial FileTransferResult = iota
	// FileTransferResultAlreadyExists - requested file is already stored
	FileTransferResultAlreadyExists
	// FileTransferResultSuccess - transfer completed
	FileTransferResultSuccess
	// FileTransferResultFailure - transfer failed, see failure reason
	FileTransferResultFailure
)

// FileTransferResultMax is the highest known transfer result for clamping.
const FileTransferResultMax = FileTransferResultFailure

// String - text representation of the file transfer result
func (r FileTransferResult) String() string {
	names := [...]string{
		"initial",
		"already-exists",
		"success",
		"failure",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return "invalid"
}

// FileTransferDirection - transfer direction of the file transfer object
type FileTransferDirection uint8

const (
	// FileTransferDirectionDownload - server to device
	FileTransferDirectionDownload FileTransferDirection = iota
)

// GenericResultCode - generic pre-operation result codes translated into
// transfer result and failure reason before any transfer begins
type GenericResultCode uint8

const (
	// ResultCodeOK - no failure
	ResultCodeOK GenericResultCode = iota
	// ResultCodeAlreadyProcessed - same request was already handled
	ResultCodeAlreadyProcessed
	// ResultCodeInvalidArg - bad request argument
	ResultCodeInvalidArg
	// ResultCodeIncorrectRange - requested range outside the file bounds
	ResultCodeIncorrectRange
	// ResultCodeOverflow - value exceeds a declared bound
	ResultCodeOverflow
	// ResultCodeOther - any other failure
	ResultCodeOther
)

///////////////////////////////////////////////////////////

// ClientEvent - the closed set of session-level events raised towards the
// core LwM2M engine's registered event handler
type ClientEvent uint8

const (
	// EventSessionStart - device management session established
	EventSessionStart ClientEvent = iota
	// EventSessionStop - device management session closed
	EventSessionStop
	// EventAuthenticationStarted - DTLS authentication started
	EventAuthenticationStarted
	// EventAuthenticationFailed - DTLS authentication failed
	EventAuthenticationFailed
	// EventDownloadDetails - package type and size known (also raised for the
	// resume descriptor after reboot)
	EventDownloadDetails
	// EventDownloadProgress - download progress changed
	EventDownloadProgress
	// EventDownloadFinished - package received and verified
	EventDownloadFinished
	// EventDownloadFailed - download terminally failed for this attempt
	EventDownloadFailed
	// EventUpdateStarted - install accepted
	EventUpdateStarted
	// EventUpdateFinished - install reported successful
	EventUpdateFinished
	// EventUpdateFailed - install reported failed
	EventUpdateFailed
	// EventFileTransferFinished - generic file transfer completed
	EventFileTransferFinished
	// EventFileTransferFailed - generic file transfer failed
	EventFileTransferFailed
)

// String - text representation of the client event
func (e ClientEvent) String() string {
	names := [...]string{
		"session-start",
		"session-stop",
		"authentication-started",
		"authentication-failed",
		"download-details",
		"download-progress",
		"download-finished",
		"download-failed",
		"update-started",
		"update-finished",
		"update-failed",
		"file-transfer-finished",
		"file-transfer-failed",
	}
	if int(e) < len(names) {
		return names[e]
	}
	return "invalid"
}

// EventInfo carries an event and the data observable with it.
type EventInfo struct {
	Event       ClientEvent
	UpdateType  UpdateType
	PackageSize uint64
	Progress    uint8
	Result      FwUpdateResult
	ErrorCode   DownloadErrorCode
}

///////////////////////////////////////////////////////////

// ParamID identifies a record in the generic key/value parameter storage.
type ParamID uint16

const (
	// ParamIDPkgDwlWorkspace - package downloader workspace record
	ParamIDPkgDwlWorkspace ParamID = 10
	// ParamIDFileTransferWorkspace - file transfer workspace record
	ParamIDFileTransferWorkspace ParamID = 11
)
