package bytes

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
)

// BytesFromStruct serializes the fields of a struct to an array of bytes in the
// order in which the fields are declared and returns total number of bytes converted.
func BytesFromStruct(data interface{}) ([]byte, error) {
	val := reflect.ValueOf(data)
	valKind := val.Kind()

	if valKind == reflect.Ptr {
		val = val.Elem()
		valKind = val.Kind()
	}

	if valKind != reflect.Struct {
		return nil, fmt.Errorf("BytesFromStruct(): data must be of type struct or ptr to struct, got: %s", valKind)
	}

	convertedBytes := new(bytes.Buffer)
	// It's possible to use binary.Write on val.Interface itself, but doing
	// so prevents this function from working with dynamically sized types.
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		if !field.CanInterface() {
			continue
		}

		var err error
		switch field.Kind() {
		case reflect.Struct, reflect.Ptr:
			var b []byte
			if b, err = BytesFromStruct(field.Interface()); err == nil {
				_, err = convertedBytes.Write(b)
			}
		default:
			err = binary.Write(convertedBytes, binary.LittleEndian, field.Interface())
		}
		if err != nil {
			return nil, fmt.Errorf("writing field %s: %w", val.Type().Field(i).Name, err)
		}
	}
	return convertedBytes.Bytes(), nil
}

// StructFromBytes populates the struct pointed to by targetStruct by reading in a
// stream of bytes and filling the values in sequential order.
func StructFromBytes(data []byte, targetStruct interface{}) error {
	targetVal := reflect.ValueOf(targetStruct)

	if valKind := targetVal.Kind(); valKind != reflect.Ptr {
		return fmt.Errorf("StructFromBytes(): targetStruct must be a ptr to struct, got: %s", valKind)
	}

	reader := bytes.NewReader(data)
	val := targetVal.Elem()
	if val.Kind() != reflect.Struct {
		return fmt.Errorf("StructFromBytes(): targetStruct must be a ptr to struct, got ptr to: %s", val.Kind())
	}

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		if !field.CanSet() {
			continue
		}

		var err error
		switch field.Kind() {
		case reflect.Ptr:
			err = binary.Read(reader, binary.LittleEndian, field.Interface())
		default:
			err = binary.Read(reader, binary.LittleEndian, field.Addr().Interface())
		}
		if err != nil {
			return fmt.Errorf("reading field %s: %w", val.Type().Field(i).Name, err)
		}
	}
	return nil
}
