package serializers

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"gorm.io/gorm/schema"

	"github.com/WJX2001/header-hasher/header"
)

// RLPSerializer 把 *header.Header 以共识编码的十六进制形式存储，读取时重新解码并校验形状
type RLPSerializer struct{}

var headerType = reflect.TypeOf((*header.Header)(nil))

func init() {
	schema.RegisterSerializer("rlp", RLPSerializer{})
}

func (RLPSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	if dbValue == nil {
		return nil
	} else if field.FieldType != headerType {
		return fmt.Errorf("can only deserialize into a *header.Header: %s", field.FieldType)
	}

	hexStr, ok := dbValue.(string)
	if !ok {
		return fmt.Errorf("expected hex string as the database value: %T", dbValue)
	}

	b, err := hexutil.Decode(hexStr)
	if err != nil {
		return fmt.Errorf("failed to decode database value: %w", err)
	}

	h, err := header.Decode(b)
	if err != nil {
		return fmt.Errorf("failed to decode rlp bytes: %w", err)
	}

	field.ReflectValueOf(ctx, dst).Set(reflect.ValueOf(h))
	return nil
}

func (RLPSerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	if fieldValue == nil || (field.FieldType.Kind() == reflect.Pointer && reflect.ValueOf(fieldValue).IsNil()) {
		return nil, nil
	}

	h, ok := fieldValue.(*header.Header)
	if !ok {
		return nil, fmt.Errorf("can only serialize a *header.Header: %T", fieldValue)
	}
	return hexutil.Encode(h.EncodeRLP()), nil
}
