package parser

import (
	"fmt"
	"strconv"
)

const maxDepth = 64

func NewParserContext(data []byte) *ParserContext {
	return &ParserContext{
		input: data,
		pos:   0,
		size:  uint64(len(data)),
	}
}

// Decode parses data as a single bencoded value.
func Decode(data []byte) (*BencodeValue, error) {
	return NewParserContext(data).Parse()
}

// Parse decodes the root value and rejects anything left after it.
func (ctx *ParserContext) Parse() (*BencodeValue, error) {
	val, err := ParseBencode(ctx)
	if err != nil {
		return nil, err
	}
	if ctx.pos != ctx.size {
		return nil, fmt.Errorf("%d bytes at offset %d: %w", ctx.size-ctx.pos, ctx.pos, ErrTrailingData)
	}
	return val, nil
}

func ParseBencode(ctx *ParserContext) (*BencodeValue, error) {

	if ctx.pos >= ctx.size {
		return nil, ErrUnexpectedEOF
	}

	switch char := ctx.input[ctx.pos]; {
	case char == 'd':
		return ParseDict(ctx)
	case char == 'l':
		return ParseList(ctx)
	case char == 'i':
		return ParseInteger(ctx)
	case char >= '0' && char <= '9':
		return ParseString(ctx)
	default:
		return nil, fmt.Errorf("%q at offset %d: %w", char, ctx.pos, ErrUnknownToken)
	}
}

func ParseInteger(ctx *ParserContext) (*BencodeValue, error) {

	ctx.pos++ // Get to the next token

	start := ctx.pos
	for ctx.pos < ctx.size && ctx.input[ctx.pos] != 'e' {
		ctx.pos++
	}
	if ctx.pos >= ctx.size {
		return nil, ErrUnexpectedEOF
	}

	digit, err := strconv.ParseInt(string(ctx.input[start:ctx.pos]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("integer at offset %d: %w", start, err)
	}

	ctx.pos++

	return NewInteger(digit), nil
}

func ParseString(ctx *ParserContext) (*BencodeValue, error) {

	start := ctx.pos
	for ctx.pos < ctx.size && ctx.input[ctx.pos] != ':' {
		ctx.pos++
	}
	if ctx.pos >= ctx.size {
		return nil, ErrUnexpectedEOF
	}

	strSize, err := strconv.ParseUint(string(ctx.input[start:ctx.pos]), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("string length at offset %d: %w", start, err)
	}
	ctx.pos++

	if ctx.size-ctx.pos < strSize {
		return nil, ErrUnexpectedEOF
	}

	val := BencodeValue{
		ValueType:   BencodeString,
		StringValue: make([]byte, strSize),
	}
	copy(val.StringValue, ctx.input[ctx.pos:ctx.pos+strSize])
	ctx.pos += strSize

	return &val, nil
}

func ParseList(ctx *ParserContext) (*BencodeValue, error) {

	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()

	ctx.pos++

	valList := make([]BencodeValue, 0)
	for {
		if ctx.pos >= ctx.size {
			return nil, ErrUnexpectedEOF
		}
		if ctx.input[ctx.pos] == 'e' {
			break
		}

		value, err := ParseBencode(ctx)
		if err != nil {
			return nil, err
		}
		valList = append(valList, *value)
	}

	ctx.pos++

	return &BencodeValue{
		ValueType: BencodeList,
		ListValue: valList,
	}, nil
}

func ParseDict(ctx *ParserContext) (*BencodeValue, error) {

	if err := ctx.enter(); err != nil {
		return nil, err
	}
	defer ctx.leave()

	ctx.pos++

	entries := make([]BencodeDictEntry, 0)
	for {
		if ctx.pos >= ctx.size {
			return nil, ErrUnexpectedEOF
		}
		if ctx.input[ctx.pos] == 'e' {
			break
		}

		key, err := ParseBencode(ctx)
		if err != nil {
			return nil, err
		}
		if key.ValueType != BencodeString {
			return nil, fmt.Errorf("dictionary key is %v: %w", key.ValueType, ErrWrongType)
		}

		value, err := ParseBencode(ctx)
		if err != nil {
			return nil, err
		}

		entries = append(entries, BencodeDictEntry{
			Key:   key,
			Value: value,
		})
	}

	ctx.pos++

	return &BencodeValue{
		ValueType: BencodeDict,
		DictValue: entries,
	}, nil
}

func (ctx *ParserContext) enter() error {
	ctx.depth++
	if ctx.depth > maxDepth {
		return fmt.Errorf("nesting deeper than %d at offset %d: %w", maxDepth, ctx.pos, ErrUnknownToken)
	}
	return nil
}

func (ctx *ParserContext) leave() {
	ctx.depth--
}
