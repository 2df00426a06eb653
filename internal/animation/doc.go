// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animation provides animated image sources and decoding of
// those sources into complete sets of raster frames.
//
// A [Source] is decoded exactly once by [Decode] into an ordered list of
// [Frame] values. Frames are fully composited, so each frame is a complete
// image that can be presented without reference to earlier frames.
package animation
