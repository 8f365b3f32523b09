/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrorKind is the closed set of failure kinds surfaced by this package.
// It mirrors PortAudio's PaErrorCode plus two sentinels that originate
// above the native layer: Undefined and NotAStream.
type ErrorKind int

const (
	NoError ErrorKind = iota
	NotInitialized
	UnanticipatedHostError
	InvalidChannelCount
	InvalidSampleRate
	InvalidDevice
	InvalidFlag
	SampleFormatNotSupported
	BadIODeviceCombination
	InsufficientMemory
	BufferTooBig
	BufferTooSmall
	NullCallback
	BadStreamPtr
	TimedOut
	InternalError
	DeviceUnavailable
	IncompatibleHostApiSpecificStreamInfo
	StreamIsStopped
	StreamIsNotStopped
	InputOverflowed
	OutputUnderflowed
	HostApiNotFound
	InvalidHostApi
	CanNotReadFromACallbackStream
	CanNotWriteToACallbackStream
	CanNotReadFromAnOutputOnlyStream
	CanNotWriteToAnInputOnlyStream
	IncompatibleStreamHostApi
	BadBufferPtr

	// Undefined is returned for native codes that have no mapping.
	Undefined
	// NotAStream is returned when a handle does not refer to a stream.
	NotAStream
)

// Native PortAudio error codes (PaErrorCode).
const (
	codeNoError                               = 0
	codeNotInitialized                        = -10000
	codeUnanticipatedHostError                = -9999
	codeInvalidChannelCount                   = -9998
	codeInvalidSampleRate                     = -9997
	codeInvalidDevice                         = -9996
	codeInvalidFlag                           = -9995
	codeSampleFormatNotSupported              = -9994
	codeBadIODeviceCombination                = -9993
	codeInsufficientMemory                    = -9992
	codeBufferTooBig                          = -9991
	codeBufferTooSmall                        = -9990
	codeNullCallback                          = -9989
	codeBadStreamPtr                          = -9988
	codeTimedOut                              = -9987
	codeInternalError                         = -9986
	codeDeviceUnavailable                     = -9985
	codeIncompatibleHostApiSpecificStreamInfo = -9984
	codeStreamIsStopped                       = -9983
	codeStreamIsNotStopped                    = -9982
	codeInputOverflowed                       = -9981
	codeOutputUnderflowed                     = -9980
	codeHostApiNotFound                       = -9979
	codeInvalidHostApi                        = -9978
	codeCanNotReadFromACallbackStream         = -9977
	codeCanNotWriteToACallbackStream          = -9976
	codeCanNotReadFromAnOutputOnlyStream      = -9975
	codeCanNotWriteToAnInputOnlyStream        = -9974
	codeIncompatibleStreamHostApi             = -9973
	codeBadBufferPtr                          = -9972
)

type kindInfo struct {
	name string
	text string
	code int
}

var kinds = map[ErrorKind]kindInfo{
	NoError:                               {"NoError", "Success", codeNoError},
	NotInitialized:                        {"NotInitialized", "PortAudio not initialized", codeNotInitialized},
	UnanticipatedHostError:                {"UnanticipatedHostError", "Unanticipated host error", codeUnanticipatedHostError},
	InvalidChannelCount:                   {"InvalidChannelCount", "Invalid number of channels", codeInvalidChannelCount},
	InvalidSampleRate:                     {"InvalidSampleRate", "Invalid sample rate", codeInvalidSampleRate},
	InvalidDevice:                         {"InvalidDevice", "Invalid device", codeInvalidDevice},
	InvalidFlag:                           {"InvalidFlag", "Invalid flag", codeInvalidFlag},
	SampleFormatNotSupported:              {"SampleFormatNotSupported", "Sample format not supported", codeSampleFormatNotSupported},
	BadIODeviceCombination:                {"BadIODeviceCombination", "Illegal combination of I/O devices", codeBadIODeviceCombination},
	InsufficientMemory:                    {"InsufficientMemory", "Insufficient memory", codeInsufficientMemory},
	BufferTooBig:                          {"BufferTooBig", "Buffer too big", codeBufferTooBig},
	BufferTooSmall:                        {"BufferTooSmall", "Buffer too small", codeBufferTooSmall},
	NullCallback:                          {"NullCallback", "No callback routine specified", codeNullCallback},
	BadStreamPtr:                          {"BadStreamPtr", "Invalid stream pointer", codeBadStreamPtr},
	TimedOut:                              {"TimedOut", "Wait timed out", codeTimedOut},
	InternalError:                         {"InternalError", "Internal PortAudio error", codeInternalError},
	DeviceUnavailable:                     {"DeviceUnavailable", "Device unavailable", codeDeviceUnavailable},
	IncompatibleHostApiSpecificStreamInfo: {"IncompatibleHostApiSpecificStreamInfo", "Incompatible host API specific stream info", codeIncompatibleHostApiSpecificStreamInfo},
	StreamIsStopped:                       {"StreamIsStopped", "Stream is stopped", codeStreamIsStopped},
	StreamIsNotStopped:                    {"StreamIsNotStopped", "Stream is not stopped", codeStreamIsNotStopped},
	InputOverflowed:                       {"InputOverflowed", "Input overflowed", codeInputOverflowed},
	OutputUnderflowed:                     {"OutputUnderflowed", "Output underflowed", codeOutputUnderflowed},
	HostApiNotFound:                       {"HostApiNotFound", "Host API not found", codeHostApiNotFound},
	InvalidHostApi:                        {"InvalidHostApi", "Invalid host API", codeInvalidHostApi},
	CanNotReadFromACallbackStream:         {"CanNotReadFromACallbackStream", "Can't read from a callback stream", codeCanNotReadFromACallbackStream},
	CanNotWriteToACallbackStream:          {"CanNotWriteToACallbackStream", "Can't write to a callback stream", codeCanNotWriteToACallbackStream},
	CanNotReadFromAnOutputOnlyStream:      {"CanNotReadFromAnOutputOnlyStream", "Can't read from an output only stream", codeCanNotReadFromAnOutputOnlyStream},
	CanNotWriteToAnInputOnlyStream:        {"CanNotWriteToAnInputOnlyStream", "Can't write to an input only stream", codeCanNotWriteToAnInputOnlyStream},
	IncompatibleStreamHostApi:             {"IncompatibleStreamHostApi", "Incompatible stream host API", codeIncompatibleStreamHostApi},
	BadBufferPtr:                          {"BadBufferPtr", "Bad buffer pointer", codeBadBufferPtr},
	Undefined:                             {"Undefined", "Undefined error code", 0},
	NotAStream:                            {"NotAStream", "Provided handle is not a stream", 0},
}

var codeToKind = func() map[int]ErrorKind {
	m := make(map[int]ErrorKind, len(kinds))
	for k, info := range kinds {
		if k == Undefined || k == NotAStream {
			continue
		}
		m[info.code] = k
	}
	return m
}()

// String returns the identifier of the kind, e.g. "StreamIsStopped".
func (k ErrorKind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error lets a kind be used directly as a sentinel with errors.Is.
func (k ErrorKind) Error() string {
	return ErrorText(k)
}

// Code returns the native code the kind translates from. The two
// sentinels have no native code and report 0 with ok false.
func (k ErrorKind) Code() (code int, ok bool) {
	if k == Undefined || k == NotAStream {
		return 0, false
	}
	info, found := kinds[k]
	return info.code, found
}

// ErrorText returns the human-readable message for a kind.
func ErrorText(k ErrorKind) string {
	if info, ok := kinds[k]; ok {
		return info.text
	}
	return kinds[Undefined].text
}

// AllErrorKinds lists every kind in declaration order, for glue layers
// that need to register the full enumeration.
func AllErrorKinds() []ErrorKind {
	out := make([]ErrorKind, 0, int(NotAStream)+1)
	for k := NoError; k <= NotAStream; k++ {
		out = append(out, k)
	}
	return out
}

// Translator maps native codes to kinds. Codes without a mapping are
// reported once per call through the logger.
type Translator struct {
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewTranslator returns a Translator logging to logger, or slog.Default
// when logger is nil.
func NewTranslator(logger *slog.Logger) *Translator {
	return &Translator{logger: logger}
}

// SetLogger replaces the diagnostic logger.
func (t *Translator) SetLogger(logger *slog.Logger) {
	t.mu.Lock()
	t.logger = logger
	t.mu.Unlock()
}

// Translate returns the kind for code. It is total: unknown codes yield
// Undefined after a single warning carrying the raw value.
func (t *Translator) Translate(code int) ErrorKind {
	if k, ok := codeToKind[code]; ok {
		return k
	}
	t.mu.RLock()
	logger := t.logger
	t.mu.RUnlock()
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("undefined native error code", "code", code)
	return Undefined
}

var defaultTranslator = NewTranslator(nil)

// Translate maps a native code using the package translator.
func Translate(code int) ErrorKind {
	return defaultTranslator.Translate(code)
}

// SetLogger sets the logger used by the package translator.
func SetLogger(logger *slog.Logger) {
	defaultTranslator.SetLogger(logger)
}

// Error is returned by every fallible operation in this package.
type Error struct {
	Op   string
	Kind ErrorKind
	// Code is the native code that produced Kind, zero when the failure
	// was detected before reaching the backend.
	Code int
	// HostText carries backend detail for UnanticipatedHostError.
	HostText string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, ErrorText(e.Kind))
	if e.Kind == Undefined && e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.HostText != "" {
		msg += ": " + e.HostText
	}
	return msg
}

// Unwrap exposes the kind so errors.Is(err, StreamIsStopped) works.
func (e *Error) Unwrap() error {
	return e.Kind
}

// KindOf extracts the kind from err. A nil error is NoError; an error
// that did not come from this package is Undefined.
func KindOf(err error) ErrorKind {
	if err == nil {
		return NoError
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k ErrorKind
	if errors.As(err, &k) {
		return k
	}
	return Undefined
}

// check converts a native result code into an error, nil on success.
func (t *Translator) check(op string, code int) error {
	if code >= 0 {
		return nil
	}
	return &Error{Op: op, Kind: t.Translate(code), Code: code}
}

func newError(op string, kind ErrorKind) error {
	return &Error{Op: op, Kind: kind}
}
