// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"encoding/json"
	"fmt"
)

// ErrorKind is the spreadsheet error code shown in a cell.
type ErrorKind int

const (
	// ErrorRef is a reference to a missing cell, or a cycle.
	ErrorRef ErrorKind = iota + 1

	// ErrorName is a reference to an unknown label or function.
	ErrorName

	// ErrorValueKind is an operand of the wrong type.
	ErrorValueKind

	// ErrorDivZero is a division by zero.
	ErrorDivZero

	// ErrorSyntax is formula text that failed to parse.
	ErrorSyntax
)

var errorKindText = map[ErrorKind]string{
	ErrorRef:       "#REF!",
	ErrorName:      "#NAME?",
	ErrorValueKind: "#VALUE!",
	ErrorDivZero:   "#DIV/0!",
	ErrorSyntax:    "#ERROR!",
}

// String returns the spreadsheet code, for example "#REF!".
func (k ErrorKind) String() string {
	if s, ok := errorKindText[k]; ok {
		return s
	}
	return "#UNKNOWN!"
}

// ParseErrorKind is the inverse of ErrorKind.String.
func ParseErrorKind(text string) (ErrorKind, error) {
	for k, s := range errorKindText {
		if s == text {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown error kind %q", text)
}

// ErrorValue is an evaluation failure attached to a single cell.
//
// It is a value, not a Go error: a cell holding an ErrorValue is a normal
// result and other cells referencing it see the same error.
type ErrorValue struct {
	Kind    ErrorKind
	Message string
}

// NewErrorValue builds an error value with a formatted message.
func NewErrorValue(kind ErrorKind, format string, args ...any) *ErrorValue {
	return &ErrorValue{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error lets an ErrorValue travel through error returns inside an evaluator.
func (e *ErrorValue) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + " " + e.Message
}

type errorValueJSON struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// MarshalJSON encodes {"kind":"#REF!","message":"..."}.
func (e *ErrorValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorValueJSON{Kind: e.Kind.String(), Message: e.Message})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (e *ErrorValue) UnmarshalJSON(data []byte) error {
	var dto errorValueJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	kind, err := ParseErrorKind(dto.Kind)
	if err != nil {
		return err
	}
	e.Kind, e.Message = kind, dto.Message
	return nil
}
