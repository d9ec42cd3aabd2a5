package serializers

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"gorm.io/gorm/schema"
)

/*
	common.Hash、common.Address 这类字段本质是二进制数据，数据库里用 0x 开头的十六进制字符串保存，方便查看：
		- 写入数据库时（Value）：调用字段的 Bytes() 转成十六进制字符串
		- 读取数据库时（Scan）：解析十六进制字符串，调用字段的 SetBytes 赋值
*/

type BytesSerializer struct{}
type BytesInterface interface{ Bytes() []byte }
type SetBytesInterface interface{ SetBytes([]byte) }

func init() {
	schema.RegisterSerializer("bytes", BytesSerializer{})
}

func (BytesSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	if dbValue == nil {
		return nil
	}

	hexStr, ok := dbValue.(string)
	if !ok {
		return fmt.Errorf("expected hex string as the database value: %T", dbValue)
	}

	b, err := hexutil.Decode(hexStr)
	if err != nil {
		return fmt.Errorf("failed to decode database value: %w", err)
	}

	// fieldValue 是 *T，SetBytes 定义在指针上
	fieldValue := reflect.New(field.FieldType)
	fieldInterface := fieldValue.Interface()

	// 字段本身是指针时，先分配 T 再对 *T 调用 SetBytes
	if field.FieldType.Kind() == reflect.Pointer {
		nested := fieldValue.Elem()
		if field.FieldType.Elem().Kind() == reflect.Pointer {
			return fmt.Errorf("double pointers are the max depth supported: %s", field.FieldType)
		}
		nested.Set(reflect.New(field.FieldType.Elem()))
		fieldInterface = nested.Interface()
	}

	setter, ok := fieldInterface.(SetBytesInterface)
	if !ok {
		return fmt.Errorf("field does not satisfy the `SetBytes([]byte)` interface: %T", fieldInterface)
	}
	setter.SetBytes(b)
	field.ReflectValueOf(ctx, dst).Set(fieldValue.Elem())
	return nil
}

func (BytesSerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	if fieldValue == nil || (field.FieldType.Kind() == reflect.Pointer && reflect.ValueOf(fieldValue).IsNil()) {
		return nil, nil
	}

	fieldBytes, ok := fieldValue.(BytesInterface)
	if !ok {
		return nil, fmt.Errorf("field does not satisfy the `Bytes() []byte` interface: %T", fieldValue)
	}
	return hexutil.Encode(fieldBytes.Bytes()), nil
}
