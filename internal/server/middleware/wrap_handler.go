package middleware

import (
	"fmt"
	"net/http"
	"reflect"
	"runtime"

	"github.com/labstack/echo/v4"
)

var (
	echoContextType = reflect.TypeOf((*echo.Context)(nil)).Elem()
	errorType       = reflect.TypeOf((*error)(nil)).Elem()
)

// WrapHandler adapts a typed handler to echo. Accepted shapes are
//
//	func(echo.Context, Req) error
//	func(echo.Context, Req) (Resp, error)
//
// Req is bound and validated with BindAndValidate. Resp is sent in the
// Response envelope unless it already is a *Response. A handler with no
// result that wrote nothing replies 204.
func WrapHandler(f any) echo.HandlerFunc {
	handler, err := wrapHandler(f)
	if err != nil {
		panic(err)
	}
	return handler
}

func wrapHandler(f any) (echo.HandlerFunc, error) {
	fVal := reflect.ValueOf(f)
	if fVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("invalid function passed to wrap handler: %v", fVal)
	}
	fTyp := fVal.Type()
	fName := runtime.FuncForPC(fVal.Pointer()).Name()

	if fTyp.NumIn() != 2 {
		return nil, fmt.Errorf("[%s] invalid function arguments length: %d", fName, fTyp.NumIn())
	}
	if !fTyp.In(0).Implements(echoContextType) {
		return nil, fmt.Errorf("[%s] first argument must have type echo.Context", fName)
	}
	reqType := fTyp.In(1)
	if reqType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("[%s] second argument must be a struct: %v", fName, reqType.Kind())
	}

	numOut := fTyp.NumOut()
	if numOut < 1 || numOut > 2 {
		return nil, fmt.Errorf("[%s] invalid function returns length: %d", fName, numOut)
	}
	if !fTyp.Out(numOut - 1).Implements(errorType) {
		return nil, fmt.Errorf("[%s] last return value must be an error: %v", fName, fTyp.Out(numOut-1))
	}

	return func(c echo.Context) error {
		req := reflect.New(reqType)
		if err := BindAndValidate(c, req.Interface()); err != nil {
			return err
		}

		out := fVal.Call([]reflect.Value{reflect.ValueOf(c), req.Elem()})
		if errVal := out[numOut-1]; !errVal.IsNil() {
			return errVal.Interface().(error)
		}
		if c.Response().Committed {
			return nil
		}
		if numOut == 1 {
			return c.NoContent(http.StatusNoContent)
		}

		data := out[0].Interface()
		resp, ok := data.(*Response)
		if !ok || resp == nil {
			resp = OK(data)
		}
		if resp.Status == 0 {
			resp.Status = http.StatusOK
		}
		return c.JSON(resp.Status, resp)
	}, nil
}
