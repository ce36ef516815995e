package emberplus

import (
	"fmt"
)

// Glow application tags.
const (
	glowRootTag                  = 0  // Root
	glowParameterTag             = 1  // Parameter
	glowCommandTag               = 2  // Command
	glowNodeTag                  = 3  // Node
	glowElementCollectionTag     = 4  // ElementCollection
	glowQualifiedParameterTag    = 9  // QualifiedParameter
	glowQualifiedNodeTag         = 10 // QualifiedNode
	glowRootElementCollectionTag = 11 // RootElementCollection
)

// Glow command numbers.
const (
	CommandSubscribe    = 30
	CommandUnsubscribe  = 31
	CommandGetDirectory = 32
	CommandInvoke       = 33
)

// Parameter content field context tags.
const (
	fieldIdentifier  = 0
	fieldDescription = 1
	fieldValue       = 2
	fieldAccess      = 5
	fieldEnumeration = 7
	fieldType        = 13
)

// Parameter access values.
const AccessRead = 1

// Parameter types.
const (
	TypeInteger = 1
	TypeReal    = 2
	TypeString  = 3
	TypeBoolean = 4
	TypeTrigger = 5
	TypeEnum    = 6
)

// All Glow fields are explicitly tagged: a context-constructed tag
// wraps the universal value.

func field(number int, inner []byte) []byte {
	return tlv(contextTag(number), inner)
}

func intField(number int, v int64) []byte {
	return field(number, tlv(berInteger, berEncodeInt(v)))
}

func stringField(number int, s string) []byte {
	return field(number, tlv(berUTF8String, []byte(s)))
}

func pathField(number int, path []int) []byte {
	return field(number, tlv(berRelativeOID, berEncodeOID(path)))
}

// encodeGlowValue renders a parameter value as its universal TLV.
// Supported kinds: integers, strings, booleans.
func encodeGlowValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case int:
		return tlv(berInteger, berEncodeInt(int64(val))), nil
	case int64:
		return tlv(berInteger, berEncodeInt(val)), nil
	case string:
		return tlv(berUTF8String, []byte(val)), nil
	case bool:
		return tlv(berBoolean, berEncodeBool(val)), nil
	default:
		return nil, fmt.Errorf("emberplus: unsupported parameter value type %T", v)
	}
}

func decodeGlowValue(tag byte, content []byte) (any, error) {
	switch tag {
	case berInteger:
		return berDecodeInt(content)
	case berUTF8String:
		return string(content), nil
	case berBoolean:
		return berDecodeBool(content)
	default:
		return nil, fmt.Errorf("emberplus: unsupported value tag %#x", tag)
	}
}

// encodeRoot wraps already-encoded elements in
// Root > RootElementCollection > [0] element.
func encodeRoot(elements ...[]byte) []byte {
	var collection []byte
	for _, elem := range elements {
		collection = append(collection, tlv(contextTag(0), elem)...)
	}
	return tlv(applicationTag(glowRootTag), tlv(applicationTag(glowRootElementCollectionTag), collection))
}

// encodeQualifiedNode renders a node addressed by absolute path.
func encodeQualifiedNode(path []int, identifier, description string) []byte {
	contents := append(stringField(fieldIdentifier, identifier), stringField(fieldDescription, description)...)
	body := append(pathField(0, path), field(1, tlv(berSet, contents))...)
	return tlv(applicationTag(glowQualifiedNodeTag), body)
}

// encodeQualifiedParameter renders a parameter addressed by absolute
// path. Metadata (identifier, type, access, enumeration) is included
// when full is set; value-only updates omit it.
func encodeQualifiedParameter(path []int, p *Parameter, full bool) ([]byte, error) {
	valueTLV, err := encodeGlowValue(p.Value)
	if err != nil {
		return nil, err
	}

	var contents []byte
	if full {
		contents = append(contents, stringField(fieldIdentifier, p.Identifier)...)
		if p.Description != "" {
			contents = append(contents, stringField(fieldDescription, p.Description)...)
		}
		contents = append(contents, intField(fieldType, int64(p.Type))...)
		contents = append(contents, intField(fieldAccess, AccessRead)...)
		if p.Enumeration != "" {
			contents = append(contents, stringField(fieldEnumeration, p.Enumeration)...)
		}
	}
	contents = append(contents, field(fieldValue, valueTLV)...)

	body := append(pathField(0, path), field(1, tlv(berSet, contents))...)
	return tlv(applicationTag(glowQualifiedParameterTag), body), nil
}

// Consumer request kinds.
type requestKind int

const (
	requestGetDirectory requestKind = iota
	requestSetValue
	requestKeepalive
	requestOther
)

// request is one decoded consumer element.
type request struct {
	kind    requestKind
	path    []int // absolute path; empty means root
	command int
	value   any
}

// decodeRequests parses the Glow payload of a consumer message into
// requests the provider understands: GetDirectory (root, node-relative
// or parameter-relative) and parameter value writes. Anything else is
// reported as requestOther so the provider can log it.
func decodeRequests(payload []byte) ([]request, error) {
	r := &berReader{data: payload}
	tag, content, err := r.next()
	if err != nil {
		return nil, err
	}
	if tag != applicationTag(glowRootTag) {
		return nil, fmt.Errorf("emberplus: expected glow root, got tag %#x", tag)
	}

	inner := &berReader{data: content}
	tag, collection, err := inner.next()
	if err != nil {
		return nil, err
	}
	if tag != applicationTag(glowRootElementCollectionTag) {
		return nil, fmt.Errorf("emberplus: expected root element collection, got tag %#x", tag)
	}

	var requests []request
	elems := &berReader{data: collection}
	for elems.more() {
		tag, wrapped, err := elems.next()
		if err != nil {
			return nil, err
		}
		if tag != contextTag(0) {
			continue
		}
		req, err := decodeElement(wrapped)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

func decodeElement(data []byte) (request, error) {
	r := &berReader{data: data}
	tag, content, err := r.next()
	if err != nil {
		return request{}, err
	}

	switch tag {
	case applicationTag(glowCommandTag):
		// A bare command addresses the root.
		number, err := decodeCommandNumber(content)
		if err != nil {
			return request{}, err
		}
		if number == CommandGetDirectory {
			return request{kind: requestGetDirectory, command: number}, nil
		}
		return request{kind: requestOther, command: number}, nil

	case applicationTag(glowQualifiedNodeTag), applicationTag(glowQualifiedParameterTag):
		return decodeQualified(content)

	default:
		return request{kind: requestOther}, nil
	}
}

// decodeQualified handles QualifiedNode and QualifiedParameter
// elements: path, optional contents (value writes), optional child
// commands.
func decodeQualified(content []byte) (request, error) {
	req := request{kind: requestOther}

	r := &berReader{data: content}
	for r.more() {
		tag, inner, err := r.next()
		if err != nil {
			return request{}, err
		}
		switch tag {
		case contextTag(0): // path
			oidTag, oid, err := (&berReader{data: inner}).next()
			if err != nil {
				return request{}, err
			}
			if oidTag != berRelativeOID {
				return request{}, fmt.Errorf("emberplus: path tag %#x", oidTag)
			}
			req.path, err = berDecodeOID(oid)
			if err != nil {
				return request{}, err
			}

		case contextTag(1): // contents SET: a write attempt
			setTag, set, err := (&berReader{data: inner}).next()
			if err != nil {
				return request{}, err
			}
			if setTag != berSet {
				return request{}, fmt.Errorf("emberplus: contents tag %#x", setTag)
			}
			fields := &berReader{data: set}
			for fields.more() {
				fieldTag, fieldContent, err := fields.next()
				if err != nil {
					return request{}, err
				}
				if fieldTag != contextTag(fieldValue) {
					continue
				}
				valueTag, valueContent, err := (&berReader{data: fieldContent}).next()
				if err != nil {
					return request{}, err
				}
				req.value, err = decodeGlowValue(valueTag, valueContent)
				if err != nil {
					return request{}, err
				}
				req.kind = requestSetValue
			}

		case contextTag(2): // children: nested command means GetDirectory on path
			number, err := decodeChildCommand(inner)
			if err != nil {
				return request{}, err
			}
			if number == CommandGetDirectory {
				req.kind = requestGetDirectory
				req.command = number
			}
		}
	}
	return req, nil
}

func decodeCommandNumber(content []byte) (int, error) {
	r := &berReader{data: content}
	for r.more() {
		tag, inner, err := r.next()
		if err != nil {
			return 0, err
		}
		if tag != contextTag(0) {
			continue
		}
		intTag, intContent, err := (&berReader{data: inner}).next()
		if err != nil {
			return 0, err
		}
		if intTag != berInteger {
			return 0, fmt.Errorf("emberplus: command number tag %#x", intTag)
		}
		n, err := berDecodeInt(intContent)
		return int(n), err
	}
	return 0, fmt.Errorf("emberplus: command without number")
}

// decodeChildCommand digs an ElementCollection for a command element.
func decodeChildCommand(data []byte) (int, error) {
	r := &berReader{data: data}
	tag, collection, err := r.next()
	if err != nil {
		return 0, err
	}
	if tag != applicationTag(glowElementCollectionTag) {
		return 0, nil
	}
	elems := &berReader{data: collection}
	for elems.more() {
		tag, wrapped, err := elems.next()
		if err != nil {
			return 0, err
		}
		if tag != contextTag(0) {
			continue
		}
		inner := &berReader{data: wrapped}
		tag, content, err := inner.next()
		if err != nil {
			return 0, err
		}
		if tag == applicationTag(glowCommandTag) {
			return decodeCommandNumber(content)
		}
	}
	return 0, nil
}
