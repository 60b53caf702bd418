/*
Package facet – cursor serialization.

Pagination cursors are opaque by default: the last evaluated key is marshaled
to wire types, gob-encoded and base64'd. Callers needing a different token
format plug their own CursorSerializer into TableParams; raw-pager mode
bypasses serialization entirely.
*/
package facet

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func init() {
	gob.Register(map[string]types.AttributeValue{})
	gob.Register(&types.AttributeValueMemberS{})
	gob.Register(&types.AttributeValueMemberN{})
	gob.Register(&types.AttributeValueMemberB{})
	gob.Register(&types.AttributeValueMemberSS{})
	gob.Register(&types.AttributeValueMemberNS{})
	gob.Register(&types.AttributeValueMemberBS{})
	gob.Register(&types.AttributeValueMemberM{})
	gob.Register(&types.AttributeValueMemberL{})
	gob.Register(&types.AttributeValueMemberNULL{})
	gob.Register(&types.AttributeValueMemberBOOL{})
}

// CursorSerializer converts the last evaluated key of a page to and from an
// opaque string token.
type CursorSerializer interface {
	Serialize(key Item) (string, error)
	Deserialize(cursor string) (Item, error)
}

// gobCursors is the default serializer.
type gobCursors struct{}

func (gobCursors) Serialize(key Item) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	av, err := attributevalue.MarshalMap(key)
	if err != nil {
		return "", NewError("cannot marshal cursor", WithCode(ErrRuntime), WithCause(err))
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(av); err != nil {
		return "", NewError("cannot encode cursor", WithCode(ErrRuntime), WithCause(err))
	}
	return base64.URLEncoding.EncodeToString(buf.Bytes()), nil
}

func (gobCursors) Deserialize(cursor string) (Item, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, err
	}
	var av map[string]types.AttributeValue
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&av); err != nil {
		return nil, err
	}
	var out Item
	if err := attributevalue.UnmarshalMap(av, &out); err != nil {
		return nil, err
	}
	return out, nil
}
