package middleware

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/cstockton/go-conv"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// BindAndValidate bind request context and validate request struct.
// Bind includes request body, params, query, headers and jwt claims.
// Validate request struct, response bad request with error message if the request is invalid.
func BindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return err
	}

	if err := bindHeader(c.Request().Header, req); err != nil {
		return err
	}

	if err := bindJwt(c, req); err != nil {
		return err
	}

	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return nil
}

func extractJwtToken(c echo.Context) (*jwt.Token, error) {
	data := c.Get("user")
	if data == nil {
		return nil, nil
	}

	token, ok := data.(*jwt.Token)
	if !ok {
		return nil, fmt.Errorf("cannot cast jwt token: %#v", data)
	}

	return token, nil
}

func extractClaims(token *jwt.Token) (*Claims, error) {
	switch v := token.Claims.(type) {
	case *Claims:
		return v, nil
	case *jwt.RegisteredClaims:
		return &Claims{RegisteredClaims: *v}, nil
	}
	return nil, fmt.Errorf("cannot cast jwt claims: %+v", token.Claims)
}

func GetClaims(c echo.Context) *Claims {
	token, _ := extractJwtToken(c)
	if token == nil {
		return nil
	}
	claims, _ := extractClaims(token)
	return claims
}

func GetUserID(c echo.Context) string {
	if claims := GetClaims(c); claims != nil {
		return claims.Subject
	}
	return ""
}

func unixOrZero(d *jwt.NumericDate) int64 {
	if d == nil {
		return 0
	}
	return d.Unix()
}

// bindJwt decodes jwt claims to struct by tag `jwt:"payloadField"`
func bindJwt(c echo.Context, dst any) error {
	claims := GetClaims(c)
	if claims == nil {
		return nil
	}

	getValueFn := func(tagValue string) (any, error) {
		var value any
		switch tagValue {
		case "sub":
			value = claims.Subject
		case "name":
			value = claims.Name
		case "iss":
			value = claims.Issuer
		case "aud":
			value = strings.Join(claims.Audience, ";")
		case "jti":
			value = claims.ID
		case "exp":
			value = unixOrZero(claims.ExpiresAt)
		case "iat":
			value = unixOrZero(claims.IssuedAt)
		case "nbf":
			value = unixOrZero(claims.NotBefore)
		default:
			return nil, fmt.Errorf("binding jwt field %s is not supported", tagValue)
		}
		return value, nil
	}

	return bindStruct(dst, "jwt", getValueFn)
}

// bindHeader decode http header to struct by tag `header:"<header_name>"`
// out must be a pointer to a struct
func bindHeader(header http.Header, dst any) error {
	getValueFn := func(tagValue string) (any, error) {
		return header.Get(tagValue), nil
	}

	return bindStruct(dst, "header", getValueFn)
}

// bindStruct decode to struct by custom tag `tagName:"tagValue"`
// dst must be a pointer to a struct
func bindStruct(dst any, tagName string, getValueFn func(tagValue string) (any, error)) error {
	ptr := reflect.ValueOf(dst)
	if ptr.Kind() != reflect.Ptr {
		return fmt.Errorf("non-pointer passed to Unmarshal")
	}

	indirect := reflect.Indirect(ptr)
	structType := indirect.Type()

	for i := 0; i < structType.NumField(); i++ {
		structField := structType.Field(i)
		tagValue := structField.Tag.Get(tagName)
		if tagValue == "-" || tagValue == "" {
			continue
		}

		field := indirect.Field(i)
		value, err := getValueFn(tagValue)
		if err != nil {
			return err
		}
		if err := conv.Infer(field, value); err != nil {
			return fmt.Errorf("cannot parse %s.%s as %s from: %#v / %s",
				structType.Name(), structField.Name, field.Type(), value, err)
		}
	}

	return nil
}
