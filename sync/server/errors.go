// Copyright (C) 2025 oesp-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package server

import (
	"encoding/json"
	"net/http"

	"github.com/oesp-project/oesp"
)

// httpStatus maps an oesp.Error code to the HTTP status the surface
// contract expects.
func httpStatus(code string) int {
	switch code {
	case oesp.CodeUnauthorized:
		return http.StatusUnauthorized
	case oesp.CodeBadRequest, oesp.CodeInvalidFormat:
		return http.StatusBadRequest
	case oesp.CodeBadDeviceKey:
		return http.StatusConflict
	case oesp.CodeSessionNotFound:
		return http.StatusNotFound
	case oesp.CodeSessionClosed:
		return http.StatusConflict
	case oesp.CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case oesp.CodeInvalidHash:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError renders err (ideally an *oesp.Error) as the sync surface's
// {"error":{"code":...,"message":...}} body.
func writeError(w http.ResponseWriter, err error) {
	oe, ok := err.(*oesp.Error)
	if !ok {
		oe = oesp.WithDetail(oesp.ErrBadRequest, err.Error())
	}
	var body errorBody
	body.Error.Code = oe.Code
	body.Error.Message = oe.Error()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(oe.Code))
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
