// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package sampleconfig provides a single constant that contains the contents of
the sample configuration file for pkgrelayd.  pkgrelayd writes it to the default
configuration file path when no configuration file exists yet.
*/
package sampleconfig
