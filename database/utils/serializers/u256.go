package serializers

import (
	"context"
	"fmt"
	"math/big"
	"reflect"

	"github.com/holiman/uint256"
	"github.com/jackc/pgtype"
	"gorm.io/gorm/schema"
)

/*
	Postgres 的 NUMERIC 和 Go 的大整数并不天然兼容，U256Serializer 负责两者之间的转换：
		- Scan：把 NUMERIC 读成 *big.Int 或 *uint256.Int
		- Value：把 *big.Int 或 *uint256.Int 写成 NUMERIC
	区块号用 *big.Int，难度和 base fee 用 *uint256.Int
*/

var (
	big10              = big.NewInt(10)
	u256BigIntOverflow = new(big.Int).Exp(big.NewInt(2), big.NewInt(256), nil)

	bigIntType  = reflect.TypeOf((*big.Int)(nil))
	uint256Type = reflect.TypeOf((*uint256.Int)(nil))
)

type U256Serializer struct{}

func init() {
	schema.RegisterSerializer("u256", U256Serializer{})
}

func (U256Serializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	if dbValue == nil {
		return nil
	} else if field.FieldType != bigIntType && field.FieldType != uint256Type {
		return fmt.Errorf("can only deserialize into a *big.Int or *uint256.Int: %s", field.FieldType)
	}

	numeric := new(pgtype.Numeric)
	if err := numeric.Scan(dbValue); err != nil {
		return err
	}
	if numeric.Status != pgtype.Present {
		return nil
	}

	// NUMERIC 的值是 Int * 10^Exp
	bigInt := new(big.Int).Set(numeric.Int)
	if numeric.Exp > 0 {
		factor := new(big.Int).Exp(big10, big.NewInt(int64(numeric.Exp)), nil)
		bigInt.Mul(bigInt, factor)
	} else if numeric.Exp < 0 {
		return fmt.Errorf("deserialized number is not an integer: %v", dbValue)
	}

	if bigInt.Sign() < 0 || bigInt.Cmp(u256BigIntOverflow) >= 0 {
		return fmt.Errorf("deserialized number out of u256 range: %s", bigInt)
	}

	value := reflect.ValueOf(bigInt)
	if field.FieldType == uint256Type {
		value = reflect.ValueOf(uint256.MustFromBig(bigInt))
	}
	field.ReflectValueOf(ctx, dst).Set(value)
	return nil
}

func (U256Serializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	if fieldValue == nil || (field.FieldType.Kind() == reflect.Pointer && reflect.ValueOf(fieldValue).IsNil()) {
		return nil, nil
	}

	var bigInt *big.Int
	switch v := fieldValue.(type) {
	case *big.Int:
		bigInt = v
	case *uint256.Int:
		bigInt = v.ToBig()
	default:
		return nil, fmt.Errorf("can only serialize a *big.Int or *uint256.Int: %T", fieldValue)
	}

	numeric := pgtype.Numeric{Int: bigInt, Status: pgtype.Present}
	return numeric.Value()
}
