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

package api

import "context"

// ElementHandle is the interface of an in-page DOM element.
type ElementHandle interface {
	JSHandle

	Click(ctx context.Context) error
	// Evaluate calls pageFunc with the element as its first argument
	// and returns the result by value.
	Evaluate(ctx context.Context, pageFunc string, args ...any) (any, error)
	EvalOnSelector(ctx context.Context, selector string, pageFunc string, args ...any) (any, error)
	EvalOnSelectorAll(ctx context.Context, selector string, pageFunc string, args ...any) (any, error)
	Focus(ctx context.Context) error
	Hover(ctx context.Context) error
	Query(ctx context.Context, selector string) (ElementHandle, error)
	QueryAll(ctx context.Context, selector string) ([]ElementHandle, error)
	SelectOption(ctx context.Context, values []string) ([]string, error)
	Type(ctx context.Context, text string) error
	XPath(ctx context.Context, expression string) ([]ElementHandle, error)
}
