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

package common

import (
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
)

// Session is a CDP session attached to a page target.
//
// Events are delivered to subscribers one at a time, in the order the
// browser sent them. Subscribers must not block.
type Session interface {
	cdp.Executor
	ID() target.SessionID
	// Subscribe registers fn to receive every protocol event of the
	// session as a typed cdproto event. The returned func removes it.
	Subscribe(fn func(ev any)) (unsubscribe func())
}
