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
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/looplab/fsm"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

//AdapterFsm - FSM details including name, instance and the base FSM
type AdapterFsm struct {
	fsmName    string
	instanceID string
	PFsm       *fsm.FSM
}

//NewAdapterFsm - FSM details including name and owning instance
func NewAdapterFsm(aName string, aInstanceID string) *AdapterFsm {
	aFsm := &AdapterFsm{
		fsmName:    aName,
		instanceID: aInstanceID,
	}
	return aFsm
}

// LogFsmStateChange logs FSM state changes
func (oo *AdapterFsm) LogFsmStateChange(ctx context.Context, e *fsm.Event) {
	logger.Debugw(ctx, "FSM state change", log.Fields{"instance-id": oo.instanceID, "FSM name": oo.fsmName,
		"event name": string(e.Event), "src state": string(e.Src), "dst state": string(e.Dst)})
}

////////////////////////////////////////////////////////////////////////

// PackageURIInfo holds the elements of a validated package URI.
type PackageURIInfo struct {
	UseTLS bool
	Host   string
	Port   uint16
	URI    string
}

// ParsePackageURI validates the package URI against the declared length bound
// and the supported schemes and splits it into its transport elements.
// A violated length bound is reported as ErrInvalidArg, an unknown scheme as
// a dedicated unsupported-scheme error (see IsUnsupportedSchemeError).
func ParsePackageURI(aURI string) (*PackageURIInfo, error) {
	if len(aURI) == 0 || len(aURI) > MaxPackageURILen {
		return nil, fmt.Errorf("%w: uri length %d out of bounds", ErrInvalidArg, len(aURI))
	}
	parsed, err := url.Parse(aURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArg, err)
	}
	info := &PackageURIInfo{URI: aURI}
	switch strings.ToLower(parsed.Scheme) {
	case "http":
		info.UseTLS = false
		info.Port = 80
	case "https":
		info.UseTLS = true
		info.Port = 443
	default:
		return nil, fmt.Errorf("unsupported-scheme: %s", parsed.Scheme)
	}
	info.Host = parsed.Hostname()
	if info.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidArg)
	}
	if portStr := parsed.Port(); portStr != "" {
		port, portErr := strconv.ParseUint(portStr, 10, 16)
		if portErr != nil {
			return nil, fmt.Errorf("%w: bad port %s", ErrInvalidArg, portStr)
		}
		info.Port = uint16(port)
	}
	return info, nil
}

// IsUnsupportedSchemeError reports whether a ParsePackageURI failure was
// caused by an unknown URI scheme (mapped to the unsupported-protocol result
// rather than invalid-uri).
func IsUnsupportedSchemeError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "unsupported-scheme")
}
