// Copyright (c) 2023 Seagate Technology LLC and/or its Affiliates

// This file implements the bitfield handling for binary structure. Fields are laid
// out LSB first, the way the hardware manuals number register bits, so a struct
// of bitfield_Nb members describes one register word from bit 0 upwards.

package priv

import (
	"bytes"
	"encoding/binary"
	"io"
	"reflect"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type bitfield_1b uint8
type bitfield_2b uint8
type bitfield_4b uint8
type bitfield_6b uint8
type bitfield_8b uint8
type bitfield_14b uint16
type bitfield_16b uint16
type bitfield_22b uint32
type bitfield_32b uint32

var bitfieldWidth = map[reflect.Type]int{
	reflect.TypeOf(bitfield_1b(0)):  1,
	reflect.TypeOf(bitfield_2b(0)):  2,
	reflect.TypeOf(bitfield_4b(0)):  4,
	reflect.TypeOf(bitfield_6b(0)):  6,
	reflect.TypeOf(bitfield_8b(0)):  8,
	reflect.TypeOf(bitfield_14b(0)): 14,
	reflect.TypeOf(bitfield_16b(0)): 16,
	reflect.TypeOf(bitfield_22b(0)): 22,
	reflect.TypeOf(bitfield_32b(0)): 32,
}

// bitWidths returns the bit width of every leaf field of v, in declaration order.
func bitWidths(t reflect.Type) ([]int, error) {
	if w, ok := bitfieldWidth[t]; ok {
		return []int{w}, nil
	}
	switch t.Kind() {
	case reflect.Array:
		elem, err := bitWidths(t.Elem())
		if err != nil {
			return nil, err
		}
		widths := []int{}
		for i := 0; i < t.Len(); i++ {
			widths = append(widths, elem...)
		}
		return widths, nil
	case reflect.Struct:
		widths := []int{}
		for i := 0; i < t.NumField(); i++ {
			w, err := bitWidths(t.Field(i).Type)
			if err != nil {
				return nil, err
			}
			widths = append(widths, w...)
		}
		return widths, nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return []int{int(t.Size()) * 8}, nil
	}
	return nil, errors.Errorf("bitfield: unsupported kind %s", t.Kind())
}

// BitFieldRead reads structured binary data from r into data, which must be a
// pointer to a struct of bitfield or unsigned integer members.
func BitFieldRead(r io.Reader, data any) error {
	v := reflect.ValueOf(data)
	if v.Kind() != reflect.Pointer {
		return errors.Errorf("bitfield.BitFieldRead: invalid type %s", v.Type())
	}
	v = v.Elem()
	widths, err := bitWidths(v.Type())
	if err != nil {
		return err
	}
	total := 0
	for _, w := range widths {
		total += w
	}
	buf := make([]byte, (total+7)/8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return errors.Wrap(err, "bitfield.BitFieldRead")
	}
	klog.V(DBG_LVL_DEEP_DETAIL).InfoS("bitfield.BitFieldRead", "type", v.Type().String(), "bits", total)

	vals := make([]uint64, 0, len(widths))
	bitOfs := 0
	for _, width := range widths {
		var val uint64
		for i := 0; i < width; i++ {
			bit := bitOfs + i
			if buf[bit>>3]&(1<<(bit&7)) != 0 {
				val |= 1 << i
			}
		}
		vals = append(vals, val)
		bitOfs += width
	}
	assign(v, &vals)
	return nil
}

func assign(v reflect.Value, vals *[]uint64) {
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			assign(v.Field(i), vals)
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			assign(v.Index(i), vals)
		}
	default:
		v.SetUint((*vals)[0])
		*vals = (*vals)[1:]
	}
}

// parse a register word into its field struct.
func parseWord[T any](word uint32, s T) (T, error) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], word)
	return parseStruct(b[:], s)
}

// parse binary array into struct.
func parseStruct[T any](b []byte, s T) (T, error) {
	newStruct := s
	err := BitFieldRead(bytes.NewReader(b), &newStruct)
	return newStruct, err
}
