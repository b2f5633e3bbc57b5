package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

type BencodeType uint8

const (
	BencodeString BencodeType = iota
	BencodeInteger
	BencodeList
	BencodeDict
)

func (t BencodeType) String() string {
	switch t {
	case BencodeString:
		return "string"
	case BencodeInteger:
		return "integer"
	case BencodeList:
		return "list"
	case BencodeDict:
		return "dictionary"
	default:
		return fmt.Sprintf("BencodeType(%d)", uint8(t))
	}
}

var (
	ErrUnexpectedEOF = errors.New("parser: unexpected end of input")
	ErrUnknownToken  = errors.New("parser: unknown token")
	ErrTrailingData  = errors.New("parser: trailing data after root value")
	ErrWrongType     = errors.New("parser: value has a different type")
)

type BencodeDictEntry struct {
	Key   *BencodeValue
	Value *BencodeValue
}

// BencodeValue is one node of a decoded tree. Only the field matching
// ValueType is meaningful.
type BencodeValue struct {
	ValueType    BencodeType
	IntegerValue int64
	ListValue    []BencodeValue
	StringValue  []byte
	DictValue    []BencodeDictEntry
}

type ParserContext struct {
	input []byte
	size  uint64
	pos   uint64
	depth int
}

func NewString(s string) *BencodeValue {
	return &BencodeValue{ValueType: BencodeString, StringValue: []byte(s)}
}

func NewBytes(b []byte) *BencodeValue {
	return &BencodeValue{ValueType: BencodeString, StringValue: append([]byte(nil), b...)}
}

func NewInteger(i int64) *BencodeValue {
	return &BencodeValue{ValueType: BencodeInteger, IntegerValue: i}
}

func NewList(items ...*BencodeValue) *BencodeValue {
	list := make([]BencodeValue, 0, len(items))
	for _, item := range items {
		list = append(list, *item)
	}
	return &BencodeValue{ValueType: BencodeList, ListValue: list}
}

// NewDict builds a dictionary from alternating string keys and values.
func NewDict(kv ...any) *BencodeValue {
	entries := make([]BencodeDictEntry, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		value, ok := kv[i+1].(*BencodeValue)
		if !ok {
			continue
		}
		entries = append(entries, BencodeDictEntry{Key: NewString(key), Value: value})
	}
	return &BencodeValue{ValueType: BencodeDict, DictValue: entries}
}

func (bencodeValue *BencodeValue) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := bencodeValue.serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (bencodeValue *BencodeValue) serialize(w io.Writer) error {
	switch bencodeValue.ValueType {
	case BencodeString:
		if _, err := fmt.Fprintf(w, "%d:", len(bencodeValue.StringValue)); err != nil {
			return err
		}
		_, err := w.Write(bencodeValue.StringValue)
		return err
	case BencodeInteger:
		_, err := fmt.Fprintf(w, "i%de", bencodeValue.IntegerValue)
		return err
	case BencodeList:
		if _, err := w.Write([]byte{'l'}); err != nil {
			return err
		}
		for i := range bencodeValue.ListValue {
			if err := bencodeValue.ListValue[i].serialize(w); err != nil {
				return err
			}
		}
		_, err := w.Write([]byte{'e'})
		return err
	case BencodeDict:
		if _, err := w.Write([]byte{'d'}); err != nil {
			return err
		}
		for _, entry := range bencodeValue.DictValue {
			if err := entry.Key.serialize(w); err != nil {
				return err
			}
			if err := entry.Value.serialize(w); err != nil {
				return err
			}
		}
		_, err := w.Write([]byte{'e'})
		return err
	}
	return fmt.Errorf("serialize %v: %w", bencodeValue.ValueType, ErrUnknownToken)
}

func (bencodeValue *BencodeValue) IsDict() bool {
	return bencodeValue != nil && bencodeValue.ValueType == BencodeDict
}

// Lookup returns the value stored under key. It reports false for
// non-dictionary values and missing keys.
func (bencodeValue *BencodeValue) Lookup(key string) (*BencodeValue, bool) {
	if !bencodeValue.IsDict() {
		return nil, false
	}
	for _, entry := range bencodeValue.DictValue {
		if entry.Key != nil && entry.Key.ValueType == BencodeString && string(entry.Key.StringValue) == key {
			return entry.Value, entry.Value != nil
		}
	}
	return nil, false
}

func (bencodeValue *BencodeValue) GetStringValue() (string, error) {
	if bencodeValue == nil || bencodeValue.ValueType != BencodeString {
		return "", fmt.Errorf("want string: %w", ErrWrongType)
	}
	return string(bencodeValue.StringValue), nil
}

func (bencodeValue *BencodeValue) GetIntegerValue() (int64, error) {
	if bencodeValue == nil || bencodeValue.ValueType != BencodeInteger {
		return 0, fmt.Errorf("want integer: %w", ErrWrongType)
	}
	return bencodeValue.IntegerValue, nil
}

func (bencodeValue *BencodeValue) GetListValue() ([]BencodeValue, error) {
	if bencodeValue == nil || bencodeValue.ValueType != BencodeList {
		return nil, fmt.Errorf("want list: %w", ErrWrongType)
	}
	return bencodeValue.ListValue, nil
}

// LookupString is Lookup followed by GetStringValue.
func (bencodeValue *BencodeValue) LookupString(key string) (string, bool) {
	v, ok := bencodeValue.Lookup(key)
	if !ok {
		return "", false
	}
	s, err := v.GetStringValue()
	return s, err == nil
}

// LookupInteger is Lookup followed by GetIntegerValue.
func (bencodeValue *BencodeValue) LookupInteger(key string) (int64, bool) {
	v, ok := bencodeValue.Lookup(key)
	if !ok {
		return 0, false
	}
	i, err := v.GetIntegerValue()
	return i, err == nil
}
