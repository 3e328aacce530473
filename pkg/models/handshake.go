/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

// SupportType is the capability a device declares for foreground-process
// tracking.
type SupportType string

const (
	SupportUnknown      SupportType = "unknown"
	SupportSupported    SupportType = "supported"
	SupportNotSupported SupportType = "not_supported"
)

// ReasonNotSupported explains a SupportNotSupported answer.
type ReasonNotSupported string

const (
	ReasonUnspecified            ReasonNotSupported = ""
	ReasonDumpsysNotFound        ReasonNotSupported = "dumpsys_not_found"
	ReasonGrepNotFound           ReasonNotSupported = "grep_not_found"
	ReasonDumpsysNoFocusedWindow ReasonNotSupported = "dumpsys_no_focused_window"
)

// HandshakeResult is the raw answer to a capability query.
type HandshakeResult struct {
	SupportType SupportType        `json:"support_type"`
	Reason      ReasonNotSupported `json:"reason_not_supported,omitempty"`
}

// HandshakeConversion records how a handshake that passed through UNKNOWN
// finally ended.
type HandshakeConversion string

const (
	ConversionUnknownToSupported    HandshakeConversion = "unknown_to_supported"
	ConversionUnknownToNotSupported HandshakeConversion = "unknown_to_not_supported"
	ConversionUnknownToDisconnected HandshakeConversion = "unknown_to_disconnected"
)
