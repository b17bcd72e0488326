package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Get returns the shared validator with the relay-specific tags registered:
//
//	uint256  decimal or 0x-hex unsigned integer that fits in 256 bits
//	uint64   decimal or 0x-hex unsigned integer that fits in 64 bits
//	hexbytes 0x-prefixed, even-length hex byte string ("0x" is empty data, "0x1" is rejected)
func Get() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// 使用 json tag 作为字段名, 便于错误信息与请求字段对应
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		mustRegister(v, "uint256", func(fl validator.FieldLevel) bool {
			n, ok := math.ParseBig256(fl.Field().String())
			return ok && n.Sign() >= 0
		})
		mustRegister(v, "uint64", func(fl validator.FieldLevel) bool {
			_, ok := math.ParseUint64(fl.Field().String())
			return ok
		})
		mustRegister(v, "hexbytes", func(fl validator.FieldLevel) bool {
			_, err := hexutil.Decode(fl.Field().String())
			return err == nil
		})
		validate = v
	})
	return validate
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %s: %v", tag, err))
	}
}

// Struct validates s with the shared validator
func Struct(s interface{}) error {
	return Get().Struct(s)
}

// GetErrorMsg translates validation errors into messages suitable for logs
func GetErrorMsg(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return "invalid request parameters"
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "eth_addr":
			msgs = append(msgs, fmt.Sprintf("%s must be a 20-byte hex address", field))
		case "uint256", "uint64":
			msgs = append(msgs, fmt.Sprintf("%s must be a decimal or hex %s", field, e.Tag()))
		case "hexbytes":
			msgs = append(msgs, fmt.Sprintf("%s must be 0x-prefixed hex bytes", field))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
