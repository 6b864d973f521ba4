// Copyright (C) The Demux Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import "github.com/donordemux/demux"

func main() {
	demux.Main()
}
