// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"reflect"
)

// txDescMemUsage estimates the memory held by a pool entry, including the
// transaction it wraps.
func txDescMemUsage(desc *TxDesc) uint64 {
	usage := reflect.TypeOf(*desc).Size() +
		reflect.TypeOf(*desc.Tx).Size() +
		dynamicMemUsage(reflect.ValueOf(desc.Tx.MsgTx()))
	return uint64(usage)
}

// dynamicMemUsage walks v and sums the sizes of everything reachable from it.
func dynamicMemUsage(v reflect.Value) uintptr {
	t := v.Type()
	bytes := t.Size()

	// For complex types, we need to peek inside slices/arrays/structs/maps
	// and chase pointers.
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			bytes += dynamicMemUsage(v.Elem())
		}

	case reflect.Array, reflect.Slice:
		for j := 0; j < v.Len(); j++ {
			vi := v.Index(j)
			k := vi.Type().Kind()
			elemB := uintptr(0)
			if t.Kind() == reflect.Array {
				if (k == reflect.Pointer || k == reflect.Interface) &&
					!vi.IsNil() {

					elemB += dynamicMemUsage(vi.Elem())
				}
			} else {
				elemB += dynamicMemUsage(vi)
			}

			// Short circuit for byte slices and arrays.
			if k == reflect.Uint8 {
				bytes += elemB * uintptr(v.Len())
				break
			}
			bytes += elemB
		}

	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			bytes += dynamicMemUsage(iter.Key())
			bytes += dynamicMemUsage(iter.Value())
		}

	case reflect.Struct:
		for _, f := range reflect.VisibleFields(t) {
			vf := v.FieldByIndex(f.Index)
			k := vf.Type().Kind()
			if (k == reflect.Pointer || k == reflect.Interface) &&
				!vf.IsNil() {

				bytes += dynamicMemUsage(vf.Elem())
			} else if k == reflect.Array || k == reflect.Slice {
				bytes -= vf.Type().Size()
				bytes += dynamicMemUsage(vf)
			}
		}
	}

	return bytes
}
