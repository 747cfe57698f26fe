/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package api holds the interfaces of the handles and responses
// returned by frame operations.
package api

import "context"

// JSHandle is the interface of an in-page JS object.
type JSHandle interface {
	// AsElement returns the handle as an element handle, or nil
	// when the remote object is not a DOM node.
	AsElement() ElementHandle
	Dispose(ctx context.Context) error
	// JSONValue returns the JSON encoding of the remote object.
	JSONValue(ctx context.Context) (string, error)
}
